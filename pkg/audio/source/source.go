// ABOUTME: Audio source abstraction feeding the output engine
// ABOUTME: Defines the Source interface and opens sources from a file path or URL
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source provides PCM audio samples
type Source interface {
	// Read reads interleaved samples in the 24-bit range into samples.
	// It returns the number of samples read. io.EOF means the source has ended.
	Read(samples []int32) (int, error)

	// SampleRate returns the sample rate of the audio
	SampleRate() int

	// Channels returns the number of channels
	Channels() int

	// Metadata returns title, artist, album
	Metadata() (title, artist, album string)

	// Close closes the audio source
	Close() error
}

// Adaptive is implemented by synthetic sources that can render at any
// rate and channel count, so they never need resampling.
type Adaptive interface {
	Source
	Configure(sampleRate, channels int)
}

// Kind names accepted by Open
const (
	KindTone    = "tone"
	KindSilence = "silence"
	KindFile    = "file"
)

// Open creates a source by kind. For KindFile, path is a local .mp3, .flac
// or .wav file, or an http(s) URL to an MP3 stream.
func Open(kind, path string, frequency float64) (Source, error) {
	switch strings.ToLower(kind) {
	case KindTone, "":
		tone := NewTestTone(0, 0)
		if frequency > 0 {
			tone.SetFrequency(frequency)
		}
		return tone, nil
	case KindSilence:
		return NewSilence(0, 0), nil
	case KindFile:
		return OpenFile(path)
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

// OpenFile creates a source from a file path or HTTP URL, chosen by extension
func OpenFile(pathOrURL string) (Source, error) {
	if pathOrURL == "" {
		return nil, fmt.Errorf("no file given")
	}
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return NewHTTPMP3(pathOrURL)
	}

	if _, err := os.Stat(pathOrURL); err != nil {
		return nil, fmt.Errorf("audio file not found: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(pathOrURL)); ext {
	case ".mp3":
		return NewMP3(pathOrURL)
	case ".flac":
		return NewFLAC(pathOrURL)
	case ".wav":
		return NewWAV(pathOrURL)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac, .wav)", ext)
	}
}

// titleFromPath uses the file name without extension as a title
func titleFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
