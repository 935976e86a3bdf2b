// ABOUTME: Compressed file sources: looping MP3 and FLAC files and HTTP MP3 streams
// ABOUTME: Decode with go-mp3 and mewkiz/flac into 24-bit range samples
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// MP3 reads from an MP3 file and loops at the end
type MP3 struct {
	file    *os.File
	decoder *mp3.Decoder
	buf     []byte
	title   string
}

// NewMP3 opens an MP3 file
func NewMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	s := &MP3{file: f, decoder: decoder, title: titleFromPath(path)}
	log.Info("Loaded MP3", "title", s.title, "rate", decoder.SampleRate())
	return s, nil
}

func (s *MP3) Read(samples []int32) (int, error) {
	n, err := readS16(s.decoder, samples, &s.buf)
	if errors.Is(err, io.EOF) {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return n, fmt.Errorf("failed to seek to start: %w", err)
		}
		decoder, err := mp3.NewDecoder(s.file)
		if err != nil {
			return n, fmt.Errorf("failed to restart decoder: %w", err)
		}
		s.decoder = decoder
		return n, nil
	}
	return n, err
}

func (s *MP3) SampleRate() int { return s.decoder.SampleRate() }

// Channels is always 2: go-mp3 decodes to stereo
func (s *MP3) Channels() int { return 2 }

func (s *MP3) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

func (s *MP3) Close() error {
	return s.file.Close()
}

// HTTPMP3 streams MP3 from an HTTP URL. It does not loop.
type HTTPMP3 struct {
	body    io.ReadCloser
	decoder *mp3.Decoder
	buf     []byte
	url     string
}

// NewHTTPMP3 starts fetching url
func NewHTTPMP3(url string) (*HTTPMP3, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch HTTP stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	decoder, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	log.Info("Streaming MP3 from HTTP", "url", url, "rate", decoder.SampleRate())
	return &HTTPMP3{body: resp.Body, decoder: decoder, url: url}, nil
}

func (s *HTTPMP3) Read(samples []int32) (int, error) {
	return readS16(s.decoder, samples, &s.buf)
}

func (s *HTTPMP3) SampleRate() int { return s.decoder.SampleRate() }
func (s *HTTPMP3) Channels() int   { return 2 }
func (s *HTTPMP3) Metadata() (string, string, string) {
	return "HTTP Stream", s.url, ""
}
func (s *HTTPMP3) Close() error {
	return s.body.Close()
}

// readS16 reads little-endian 16-bit samples from r and widens them to the
// 24-bit range. buf is reused between calls.
func readS16(r io.Reader, samples []int32, buf *[]byte) (int, error) {
	need := len(samples) * 2
	if cap(*buf) < need {
		*buf = make([]byte, need)
	}
	b := (*buf)[:need]

	n, err := io.ReadFull(r, b)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	count := n / 2
	for i := 0; i < count; i++ {
		samples[i] = int32(int16(binary.LittleEndian.Uint16(b[i*2:]))) << 8
	}
	return count, err
}

// FLAC reads from a FLAC file and loops at the end
type FLAC struct {
	file     *os.File
	stream   *flac.Stream
	channels int
	bitDepth int
	rate     int
	title    string
	artist   string
	album    string

	// samples decoded from the current frame but not yet returned
	pending []int32
}

// NewFLAC opens a FLAC file
func NewFLAC(path string) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	s := &FLAC{
		file:     f,
		stream:   stream,
		channels: int(info.NChannels),
		bitDepth: int(info.BitsPerSample),
		rate:     int(info.SampleRate),
		title:    titleFromPath(path),
		artist:   "Unknown Artist",
		album:    "Unknown Album",
	}
	log.Info("Loaded FLAC", "title", s.title, "rate", s.rate, "channels", s.channels, "bits", s.bitDepth)
	return s, nil
}

func (s *FLAC) Read(samples []int32) (int, error) {
	read := 0
	restarted := false
	for read < len(samples) {
		if len(s.pending) > 0 {
			c := copy(samples[read:], s.pending)
			s.pending = s.pending[c:]
			read += c
			continue
		}

		frame, err := s.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			if restarted {
				// an empty stream would loop forever
				return read, io.EOF
			}
			if err := s.restart(); err != nil {
				return read, err
			}
			restarted = true
			continue
		}
		if err != nil {
			return read, err
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < s.channels; ch++ {
				s.pending = append(s.pending, scaleTo24(frame.Subframes[ch].Samples[i], s.bitDepth))
			}
		}
	}
	return read, nil
}

func (s *FLAC) restart() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.file)
	if err != nil {
		return fmt.Errorf("failed to restart stream: %w", err)
	}
	s.stream = stream
	return nil
}

// scaleTo24 shifts a sample of the given bit depth into the 24-bit range
func scaleTo24(sample int32, bitDepth int) int32 {
	shift := bitDepth - 24
	if shift > 0 {
		return sample >> shift
	}
	return sample << -shift
}

func (s *FLAC) SampleRate() int { return s.rate }
func (s *FLAC) Channels() int   { return s.channels }
func (s *FLAC) Metadata() (string, string, string) {
	return s.title, s.artist, s.album
}
func (s *FLAC) Close() error {
	return s.file.Close()
}
