// ABOUTME: Bridges between beep streamers and sources
// ABOUTME: Plays any beep.Streamer or WAV file and resamples sources with beep
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// resampleQuality is the beep resampler interpolation window
const resampleQuality = 4

// Streamer turns a stereo beep.Streamer into a Source
type Streamer struct {
	s      beep.Streamer
	rate   beep.SampleRate
	buf    [][2]float64
	title  string
	closer io.Closer
}

// FromStreamer wraps s, which streams at rate. If s is a beep.StreamSeeker it
// loops; otherwise Read returns io.EOF once s is drained.
func FromStreamer(s beep.Streamer, rate beep.SampleRate, title string) *Streamer {
	return &Streamer{s: s, rate: rate, title: title}
}

func (s *Streamer) Read(samples []int32) (int, error) {
	frames := len(samples) / 2
	if cap(s.buf) < frames {
		s.buf = make([][2]float64, frames)
	}
	buf := s.buf[:frames]

	filled := 0
	for filled < frames {
		n, ok := s.s.Stream(buf[filled:])
		filled += n
		if ok && n > 0 {
			continue
		}
		if err := s.s.Err(); err != nil {
			return s.convert(buf[:filled], samples), err
		}
		seeker, canSeek := s.s.(beep.StreamSeeker)
		if !canSeek || seeker.Len() == 0 {
			return s.convert(buf[:filled], samples), io.EOF
		}
		if err := seeker.Seek(0); err != nil {
			return s.convert(buf[:filled], samples), fmt.Errorf("failed to loop: %w", err)
		}
	}
	return s.convert(buf, samples), nil
}

func (s *Streamer) convert(frames [][2]float64, samples []int32) int {
	for i, f := range frames {
		samples[i*2] = audio.SampleFromFloat64(f[0])
		samples[i*2+1] = audio.SampleFromFloat64(f[1])
	}
	return len(frames) * 2
}

func (s *Streamer) SampleRate() int { return int(s.rate) }

// Channels is always 2: beep streams stereo frames
func (s *Streamer) Channels() int { return 2 }

func (s *Streamer) Metadata() (string, string, string) {
	return s.title, "", ""
}

func (s *Streamer) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// NewWAV opens a WAV file through beep's decoder and loops it
func NewWAV(path string) (*Streamer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	streamer, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode WAV: %w", err)
	}

	s := FromStreamer(streamer, format.SampleRate, titleFromPath(path))
	s.closer = streamer
	log.Info("Loaded WAV", "title", s.title, "rate", int(format.SampleRate),
		"channels", format.NumChannels, "bits", format.Precision*8)
	return s, nil
}

// toStreamer presents src as a stereo beep.Streamer. Mono is duplicated to
// both sides and channels beyond the second are dropped.
type toStreamer struct {
	src     Source
	samples []int32
	err     error
}

func (t *toStreamer) Stream(out [][2]float64) (int, bool) {
	if t.err != nil {
		return 0, false
	}
	ch := t.src.Channels()
	need := len(out) * ch
	if cap(t.samples) < need {
		t.samples = make([]int32, need)
	}

	n, err := t.src.Read(t.samples[:need])
	frames := n / ch
	for i := 0; i < frames; i++ {
		l := float64(audio.SampleToFloat32(t.samples[i*ch]))
		r := l
		if ch > 1 {
			r = float64(audio.SampleToFloat32(t.samples[i*ch+1]))
		}
		out[i] = [2]float64{l, r}
	}
	if err != nil {
		if err != io.EOF {
			t.err = err
		}
		return frames, frames > 0
	}
	return frames, true
}

func (t *toStreamer) Err() error { return t.err }

// resampled converts src to rate with beep's resampler
type resampled struct {
	*Streamer
	inner Source
}

func newResampled(src Source, rate int) *resampled {
	r := beep.Resample(resampleQuality, beep.SampleRate(src.SampleRate()), beep.SampleRate(rate), &toStreamer{src: src})
	title, _, _ := src.Metadata()
	return &resampled{Streamer: FromStreamer(r, beep.SampleRate(rate), title), inner: src}
}

func (r *resampled) Metadata() (string, string, string) {
	return r.inner.Metadata()
}

// Close leaves the inner source open; the producer owns it
func (r *resampled) Close() error { return nil }
