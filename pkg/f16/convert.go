// Package f16 converts between float32 samples and IEEE 754 half-precision
// values, the compact sample encoding of impulse response libraries.
package f16

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned by Decode for input that is not a whole number
// of 16-bit values.
var ErrOddLength = errors.New("f16: odd number of bytes")

// FromFloat32 converts v to half precision, rounding to nearest even.
// Values below the smallest normal half become subnormals; values beyond
// the half range become infinity.
func FromFloat32(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exponent := int(bits>>23) & 0xFF
	mantissa := bits & 0x7FFFFF

	if exponent == 0xFF {
		if mantissa == 0 {
			return sign | 0x7C00
		}

		// Keep NaN a quiet NaN with the top payload bits.
		return sign | 0x7E00 | uint16(mantissa>>13)
	}

	e := exponent - 127 + 15

	switch {
	case e >= 0x1F:
		return sign | 0x7C00

	case e <= 0:
		if e < -10 {
			return sign
		}

		// Subnormal half: shift the mantissa including its implicit bit.
		m := mantissa | 0x800000
		shift := uint32(14 - e)
		half := m >> shift
		rem := m & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)

		if rem > halfway || (rem == halfway && half&1 == 1) {
			half++
		}

		return sign | uint16(half)
	}

	half := uint32(e)<<10 | mantissa>>13
	rem := mantissa & 0x1FFF

	// A carry out of the mantissa correctly bumps the exponent, up to
	// infinity.
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}

	return sign | uint16(half)
}

// ToFloat32 converts a half-precision value to float32. The conversion is
// exact.
func ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exponent := uint32(h>>10) & 0x1F
	mantissa := uint32(h & 0x3FF)

	switch exponent {
	case 0:
		if mantissa == 0 {
			return math.Float32frombits(sign)
		}

		// Subnormal: normalise into the float32 range.
		e := uint32(127 - 15 + 1)
		for mantissa&0x400 == 0 {
			mantissa <<= 1
			e--
		}

		return math.Float32frombits(sign | e<<23 | (mantissa&0x3FF)<<13)

	case 0x1F:
		return math.Float32frombits(sign | 0x7F800000 | mantissa<<13)
	}

	return math.Float32frombits(sign | (exponent+127-15)<<23 | mantissa<<13)
}

// Encode appends the little-endian half-precision encoding of values to dst.
func Encode(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint16(dst, FromFloat32(v))
	}

	return dst
}

// Decode converts little-endian half-precision bytes to float32 samples.
func Decode(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}

	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = ToFloat32(binary.LittleEndian.Uint16(data[2*i:]))
	}

	return out, nil
}

// Stats describes the error introduced by a float32 -> f16 -> float32 round
// trip.
type Stats struct {
	MaxAbsError float64
	SNR         float64 // dB; +Inf for a lossless round trip
}

// Analyze measures the round-trip error of values.
func Analyze(values []float32) Stats {
	var (
		stats       Stats
		signalPower float64
		noisePower  float64
	)

	for _, v := range values {
		diff := float64(ToFloat32(FromFloat32(v))) - float64(v)
		stats.MaxAbsError = math.Max(stats.MaxAbsError, math.Abs(diff))

		signalPower += float64(v) * float64(v)
		noisePower += diff * diff
	}

	switch {
	case noisePower == 0:
		stats.SNR = math.Inf(1)
	case signalPower == 0:
		stats.SNR = math.Inf(-1)
	default:
		stats.SNR = 10 * math.Log10(signalPower/noisePower)
	}

	return stats
}

// RoundTripSNR returns the signal-to-noise ratio of storing values as f16.
func RoundTripSNR(values []float32) float64 {
	return Analyze(values).SNR
}
