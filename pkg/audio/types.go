// ABOUTME: Audio type definitions
// ABOUTME: Defines the output format descriptor, sample encodings and sample conversions
package audio

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// MaxChannels is the largest channel count any output accepts
	MaxChannels = 8

	// MaxSampleRate is the highest sample rate any output accepts (Hz)
	MaxSampleRate = 384000
)

// ErrInvalidFormat is returned when a Format fails validation
var ErrInvalidFormat = errors.New("invalid format")

// Encoding identifies how a single sample is stored
type Encoding int

const (
	EncodingUnknown Encoding = iota
	PCM8                     // unsigned 8-bit
	PCM16                    // signed 16-bit little-endian
	PCM32                    // signed 32-bit little-endian
	Float32                  // 32-bit IEEE float little-endian, [-1, 1]
)

var encodingNames = map[Encoding]string{
	PCM8:    "pcm8",
	PCM16:   "pcm16",
	PCM32:   "pcm32",
	Float32: "float32",
}

func (e Encoding) String() string {
	if name, ok := encodingNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Valid reports whether e is a recognized encoding
func (e Encoding) Valid() bool {
	_, ok := encodingNames[e]
	return ok
}

// BytesPerSample returns the storage size of one sample, or 0 for unknown encodings
func (e Encoding) BytesPerSample() int {
	switch e {
	case PCM8:
		return 1
	case PCM16:
		return 2
	case PCM32, Float32:
		return 4
	default:
		return 0
	}
}

// ParseEncoding converts a name such as "pcm16" or "float" into an Encoding
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pcm8", "u8", "8":
		return PCM8, nil
	case "pcm16", "s16", "16", "":
		return PCM16, nil
	case "pcm32", "s32", "32":
		return PCM32, nil
	case "float", "float32", "f32":
		return Float32, nil
	default:
		return EncodingUnknown, fmt.Errorf("%w: unknown encoding %q", ErrInvalidFormat, name)
	}
}

// Format describes the PCM stream handed to an output device.
// It is a value type: changing the format means replacing the whole value.
type Format struct {
	Channels   int
	SampleRate int
	Encoding   Encoding
}

// Unset is the zero Format, reported before any format has been configured
var Unset = Format{}

// IsSet reports whether f differs from Unset
func (f Format) IsSet() bool {
	return f != Unset
}

// Validate checks channel count, sample rate and encoding
func (f Format) Validate() error {
	if f.Channels <= 0 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: channels must be within 1..%d, got %d", ErrInvalidFormat, MaxChannels, f.Channels)
	}
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be within 1..%d, got %d", ErrInvalidFormat, MaxSampleRate, f.SampleRate)
	}
	if !f.Encoding.Valid() {
		return fmt.Errorf("%w: unrecognized encoding %v", ErrInvalidFormat, f.Encoding)
	}
	return nil
}

// FrameSize returns the number of bytes in one interleaved frame
func (f Format) FrameSize() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

// BytesForFrames returns the byte length of n frames
func (f Format) BytesForFrames(n int) int {
	return n * f.FrameSize()
}

func (f Format) String() string {
	if !f.IsSet() {
		return "unset"
	}
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleToUint8 converts a 24-bit range sample to unsigned 8-bit
func SampleToUint8(sample int32) uint8 {
	return uint8((sample >> 16) + 128)
}

// SampleToInt32 left-justifies a 24-bit range sample in 32 bits
func SampleToInt32(sample int32) int32 {
	return sample << 8
}

// SampleToFloat32 converts a 24-bit range sample to [-1, 1]
func SampleToFloat32(sample int32) float32 {
	return float32(sample) / float32(Max24Bit+1)
}

// SampleFromFloat64 converts a [-1, 1] sample to the 24-bit range with clipping
func SampleFromFloat64(v float64) int32 {
	scaled := int64(v * Max24Bit)
	if scaled > Max24Bit {
		scaled = Max24Bit
	} else if scaled < Min24Bit {
		scaled = Min24Bit
	}
	return int32(scaled)
}
