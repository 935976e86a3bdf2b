// ABOUTME: Synthetic sources: a sine test tone and silence
// ABOUTME: Both adapt to whatever rate and channel count the output asks for
package source

import (
	"math"
	"sync"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
)

const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
	DefaultFrequency  = 440.0 // A4
)

// TestTone generates a sine wave at half scale
type TestTone struct {
	mu         sync.Mutex
	phase      float64 // radians, kept in [0, 2π)
	frequency  float64
	sampleRate int
	channels   int
}

// NewTestTone creates a 440Hz tone. Zero values select the defaults.
func NewTestTone(sampleRate, channels int) *TestTone {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if channels == 0 {
		channels = DefaultChannels
	}
	return &TestTone{
		frequency:  DefaultFrequency,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// SetFrequency changes the tone pitch without a phase jump
func (s *TestTone) SetFrequency(hz float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frequency = hz
}

// Configure implements Adaptive
func (s *TestTone) Configure(sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleRate = sampleRate
	s.channels = channels
}

func (s *TestTone) Read(samples []int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := len(samples) / s.channels
	step := 2 * math.Pi * s.frequency / float64(s.sampleRate)

	for i := 0; i < frames; i++ {
		v := int32(math.Sin(s.phase) * audio.Max24Bit * 0.5)
		for ch := 0; ch < s.channels; ch++ {
			samples[i*s.channels+ch] = v
		}
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
	return frames * s.channels, nil
}

func (s *TestTone) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

func (s *TestTone) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

func (s *TestTone) Metadata() (string, string, string) {
	return "Test Tone", "pcmstream", "Test Signal"
}

func (s *TestTone) Close() error { return nil }

// Silence produces digital silence forever
type Silence struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
}

// NewSilence creates a silent source. Zero values select the defaults.
func NewSilence(sampleRate, channels int) *Silence {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if channels == 0 {
		channels = DefaultChannels
	}
	return &Silence{sampleRate: sampleRate, channels: channels}
}

// Configure implements Adaptive
func (s *Silence) Configure(sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleRate = sampleRate
	s.channels = channels
}

func (s *Silence) Read(samples []int32) (int, error) {
	s.mu.Lock()
	n := len(samples) / s.channels * s.channels
	s.mu.Unlock()
	clear(samples[:n])
	return n, nil
}

func (s *Silence) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

func (s *Silence) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

func (s *Silence) Metadata() (string, string, string) {
	return "Silence", "pcmstream", ""
}

func (s *Silence) Close() error { return nil }
