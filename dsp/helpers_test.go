package dsp

import (
	"math"
	"math/rand/v2"
	"testing"
)

const tolerance = 1e-4

// randomSignal returns n deterministic samples in [-1, 1).
func randomSignal(seed uint64, n int) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float32, n)

	for i := range out {
		out[i] = float32(rng.Float64()*2 - 1)
	}

	return out
}

// decaying returns a random impulse response with an exponential envelope.
func decaying(seed uint64, n int) []float32 {
	ir := randomSignal(seed, n)
	for i := range ir {
		ir[i] *= float32(math.Exp(-float64(i) / float64(n)))
	}

	return ir
}

// render runs p over whole blocks of inputs (one slice per input channel)
// and returns one slice per output channel.
func render(p Processor, inputs [][]float32) [][]float32 {
	b := p.BlockLength()
	frames := len(inputs[0])
	blocks := frames / b

	in := make([]float32, p.NumberOfInputs()*b)
	out := make([]float32, p.NumberOfOutputs()*b)

	result := make([][]float32, p.NumberOfOutputs())
	for ch := range result {
		result[ch] = make([]float32, blocks*b)
	}

	for blk := range blocks {
		for ch := range inputs {
			copy(in[ch*b:(ch+1)*b], inputs[ch][blk*b:(blk+1)*b])
		}

		p.Process(in, b, out, b)

		for ch := range result {
			copy(result[ch][blk*b:], out[ch*b:(ch+1)*b])
		}
	}

	return result
}

// direct convolves signal with ir in the time domain and truncates the
// result to len(signal).
func direct(signal, ir []float32, gain float32) []float64 {
	s := make([]float64, len(signal))
	for i, v := range signal {
		s[i] = float64(v)
	}

	k := make([]float64, len(ir))
	for i, v := range ir {
		k[i] = float64(v) * float64(gain)
	}

	return DirectConvolve(s, k)[:len(signal)]
}

func assertClose(t *testing.T, name string, got []float32, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}

	for i := range got {
		if diff := math.Abs(float64(got[i]) - want[i]); diff > tol {
			t.Fatalf("%s[%d] = %g, want %g (diff %g)", name, i, got[i], want[i], diff)
		}
	}
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}

	return out
}
