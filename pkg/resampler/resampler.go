// Package resampler converts impulse responses between sample rates with
// windowed-sinc interpolation.
package resampler

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRate is returned for sample rates that are not positive.
var ErrInvalidRate = errors.New("resampler: invalid sample rate")

const (
	// DefaultLobes is the number of sinc lobes on each side of the kernel.
	DefaultLobes = 16

	minLobes = 4
	maxLobes = 64
)

// Resampler performs sample rate conversion using windowed sinc
// interpolation. A Resampler holds no buffers and may be shared.
type Resampler struct {
	lobes int
}

// New creates a Resampler with the given number of sinc lobes per side,
// clamped to [4, 64]. Zero selects DefaultLobes.
func New(lobes int) *Resampler {
	if lobes == 0 {
		lobes = DefaultLobes
	}

	return &Resampler{lobes: min(max(lobes, minLobes), maxLobes)}
}

// Lobes returns the kernel half-width in lobes.
func (r *Resampler) Lobes() int {
	return r.lobes
}

// sinc computes sin(pi*x)/(pi*x).
func sinc(x float64) float64 {
	if math.Abs(x) < 1e-10 {
		return 1
	}

	pix := math.Pi * x

	return math.Sin(pix) / pix
}

// blackman evaluates the Blackman window on [-1, 1] and is zero outside.
func blackman(x float64) float64 {
	if x < -1 || x > 1 {
		return 0
	}

	t := (x + 1) / 2

	return 0.42 - 0.5*math.Cos(2*math.Pi*t) + 0.08*math.Cos(4*math.Pi*t)
}

// OutputLength returns the number of samples Resample produces for n input
// samples.
func OutputLength(n, srcRate, dstRate int) int {
	if n == 0 || srcRate <= 0 || dstRate <= 0 {
		return 0
	}

	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}

// Resample converts data from srcRate to dstRate. Matching rates return a
// copy. When downsampling the kernel is widened so it also acts as the
// anti-aliasing low-pass.
func (r *Resampler) Resample(data []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("%w: %d Hz -> %d Hz", ErrInvalidRate, srcRate, dstRate)
	}

	if srcRate == dstRate {
		return append([]float32(nil), data...), nil
	}

	n := OutputLength(len(data), srcRate, dstRate)
	out := make([]float32, n)

	ratio := float64(dstRate) / float64(srcRate)
	cutoff := min(ratio, 1)
	radius := float64(r.lobes) / cutoff

	for i := range out {
		pos := float64(i) / ratio
		start := max(int(math.Floor(pos-radius)), 0)
		end := min(int(math.Ceil(pos+radius)), len(data)-1)

		var sum, weightSum float64

		for j := start; j <= end; j++ {
			d := pos - float64(j)
			w := sinc(d*cutoff) * blackman(d/radius)

			sum += float64(data[j]) * w
			weightSum += w
		}

		if weightSum > 0 {
			out[i] = float32(sum / weightSum)
		}
	}

	return out, nil
}

// ResampleRows resamples every row of a [channel][sample] matrix.
func (r *Resampler) ResampleRows(rows [][]float32, srcRate, dstRate int) ([][]float32, error) {
	out := make([][]float32, len(rows))

	for i, row := range rows {
		resampled, err := r.Resample(row, srcRate, dstRate)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		out[i] = resampled
	}

	return out, nil
}
