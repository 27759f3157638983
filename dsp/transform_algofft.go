package dsp

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

func init() {
	RegisterTransform("algofft", newAlgoFFTTransform)
}

// algoFFTTransform wraps a precomputed real FFT plan. It performs no
// allocation per call.
type algoFFTTransform struct {
	size int
	plan *algofft.PlanRealT[float32, complex64]
}

func newAlgoFFTTransform(size int) (Transform, error) {
	plan, err := algofft.NewPlanReal32(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create FFT plan for size %d: %w", size, err)
	}

	return &algoFFTTransform{size: size, plan: plan}, nil
}

func (t *algoFFTTransform) Size() int {
	return t.size
}

func (t *algoFFTTransform) Forward(dst []complex64, src []float32) {
	if err := t.plan.Forward(dst, src); err != nil {
		panic(fmt.Sprintf("forward FFT failed: %v", err))
	}
}

func (t *algoFFTTransform) Inverse(dst []float32, src []complex64) {
	if err := t.plan.Inverse(dst, src); err != nil {
		panic(fmt.Sprintf("inverse FFT failed: %v", err))
	}
}
