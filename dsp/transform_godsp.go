package dsp

import (
	"github.com/mjibson/go-dsp/fft"
)

func init() {
	RegisterTransform("godsp", newGoDSPTransform)
}

// goDSPTransform runs the go-dsp complex128 FFT. go-dsp returns freshly
// allocated slices, so this implementation is meant for offline rendering
// and for cross-checking the default transform, not for a real-time
// callback.
type goDSPTransform struct {
	size     int
	timeBuf  []complex128
	spectrum []complex128
}

func newGoDSPTransform(size int) (Transform, error) {
	return &goDSPTransform{
		size:     size,
		timeBuf:  make([]complex128, size),
		spectrum: make([]complex128, size),
	}, nil
}

func (t *goDSPTransform) Size() int {
	return t.size
}

func (t *goDSPTransform) Forward(dst []complex64, src []float32) {
	for i, v := range src[:t.size] {
		t.timeBuf[i] = complex(float64(v), 0)
	}

	out := fft.FFT(t.timeBuf)
	for k := range t.size/2 + 1 {
		dst[k] = complex64(out[k])
	}
}

func (t *goDSPTransform) Inverse(dst []float32, src []complex64) {
	half := t.size / 2

	// Rebuild the Hermitian-symmetric full spectrum.
	for k := 0; k <= half; k++ {
		t.spectrum[k] = complex128(src[k])
	}

	for k := half + 1; k < t.size; k++ {
		c := complex128(src[t.size-k])
		t.spectrum[k] = complex(real(c), -imag(c))
	}

	out := fft.IFFT(t.spectrum)
	for i := range t.size {
		dst[i] = float32(real(out[i]))
	}
}
