// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the Format descriptor, encodings and sample conversion functions
// Package audio provides the fundamental types shared by the output engine,
// its devices and its sources.
//
// This package defines:
//   - Format: channel count, sample rate and sample Encoding of an output stream
//   - Encoding: PCM8, PCM16, PCM32 or Float32 sample storage
//
// Samples travel through the module as int32 values in the 24-bit range and
// are packed into an Encoding only at the edge, with AppendSamples.
//
// Example:
//
//	format := audio.Format{
//	    Channels:   2,
//	    SampleRate: 44100,
//	    Encoding:   audio.PCM16,
//	}
//	if err := format.Validate(); err != nil {
//	    return err
//	}
//	buf := audio.AppendSamples(nil, samples, format.Encoding)
package audio
