// ABOUTME: PCM sample encoding for output devices
// ABOUTME: Packs int32 (24-bit range) samples into the bytes of a given Encoding
package audio

import (
	"encoding/binary"
	"math"
)

// AppendSamples encodes samples with enc and appends them to dst.
// Samples are interpreted in the 24-bit range used throughout this module.
func AppendSamples(dst []byte, samples []int32, enc Encoding) []byte {
	switch enc {
	case PCM8:
		for _, s := range samples {
			dst = append(dst, SampleToUint8(s))
		}
	case PCM16:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(SampleToInt16(s)))
		}
	case PCM32:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(SampleToInt32(s)))
		}
	case Float32:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(SampleToFloat32(s)))
		}
	}
	return dst
}

// DecodeSamples is the inverse of AppendSamples. Trailing partial samples are ignored.
func DecodeSamples(data []byte, enc Encoding) []int32 {
	size := enc.BytesPerSample()
	if size == 0 {
		return nil
	}
	samples := make([]int32, len(data)/size)
	for i := range samples {
		b := data[i*size:]
		switch enc {
		case PCM8:
			samples[i] = (int32(b[0]) - 128) << 16
		case PCM16:
			samples[i] = SampleFromInt16(int16(binary.LittleEndian.Uint16(b)))
		case PCM32:
			samples[i] = int32(binary.LittleEndian.Uint32(b)) >> 8
		case Float32:
			samples[i] = SampleFromFloat64(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
		}
	}
	return samples
}

// SilenceByte returns the byte value that encodes silence for enc.
// Unsigned 8-bit audio is centered on 0x80; every other encoding uses zero.
func SilenceByte(enc Encoding) byte {
	if enc == PCM8 {
		return 0x80
	}
	return 0
}

// FillSilence overwrites buf with silence for enc
func FillSilence(buf []byte, enc Encoding) {
	b := SilenceByte(enc)
	for i := range buf {
		buf[i] = b
	}
}
