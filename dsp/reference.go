package dsp

import (
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// DirectConvolve returns the full linear convolution of signal and kernel
// (length len(signal)+len(kernel)-1) computed in the time domain. It is the
// reference the partitioned convolvers are checked against.
func DirectConvolve(signal, kernel []float64) []float64 {
	if len(signal) == 0 || len(kernel) == 0 {
		return nil
	}

	m := len(kernel)
	out := make([]float64, len(signal)+m-1)
	scaled := make([]float64, m)

	for i, s := range signal {
		if s == 0 {
			continue
		}

		// out[i:i+m] += s * kernel
		vecmath.ScaleBlock(scaled, kernel, s)
		vecmath.AddBlockInPlace(out[i:i+m], scaled)
	}

	return out
}

// MagnitudeResponse returns the magnitude response of spec in dB at the
// BlockLength+1 bins of a 2*BlockLength-point DFT, floored at -120 dB.
//
// Partition p starts p*BlockLength samples into the filter, i.e. a delay of
// half the transform length per partition, so on this grid it contributes
// with the factor (-1)^(k*p).
func MagnitudeResponse(spec FilterSpectrum) []float64 {
	bins := spec.BinsPerPartition()
	re := make([]float64, bins)
	im := make([]float64, bins)

	for p := range spec.Partitions {
		part := spec.Partition(p)

		for k, v := range part {
			c := complex128(v)
			if (k*p)%2 == 1 {
				c = -c
			}

			re[k] += real(c)
			im[k] += imag(c)
		}
	}

	mag := make([]float64, bins)
	vecmath.Magnitude(mag, re, im)

	for k, m := range mag {
		if m < 1e-6 {
			mag[k] = -120
			continue
		}

		mag[k] = 20 * math.Log10(m)
	}

	return mag
}
