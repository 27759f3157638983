package resampler

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestResampleIdentityCopies(t *testing.T) {
	t.Parallel()

	r := New(0)
	input := []float32{1, 2, 3, 4}

	result, err := r.Resample(input, 48000, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(result, input) {
		t.Errorf("result = %v, want %v", result, input)
	}

	result[0] = 42
	if input[0] != 1 {
		t.Error("result aliases the input")
	}
}

func TestResampleInvalidRates(t *testing.T) {
	t.Parallel()

	r := New(0)

	for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 44100}} {
		if _, err := r.Resample([]float32{1}, rates[0], rates[1]); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("%v: err = %v", rates, err)
		}
	}

	if _, err := r.ResampleRows([][]float32{{1}, {2}}, 44100, -5); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("ResampleRows: err = %v", err)
	}
}

func TestResampleLengths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, src, dst int
		want        int
	}{
		{1024, 96000, 48000, 512},
		{512, 44100, 88200, 1024},
		{44100, 44100, 48000, 48000},
		{0, 44100, 48000, 0},
	}

	r := New(8)

	for _, tt := range tests {
		if got := OutputLength(tt.n, tt.src, tt.dst); got != tt.want {
			t.Errorf("OutputLength(%d, %d, %d) = %d, want %d", tt.n, tt.src, tt.dst, got, tt.want)
		}

		out, err := r.Resample(make([]float32, tt.n), tt.src, tt.dst)
		if err != nil {
			t.Fatal(err)
		}

		if len(out) != tt.want {
			t.Errorf("Resample length = %d, want %d", len(out), tt.want)
		}
	}
}

func TestResamplePreservesLowFrequencySine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src, dst int
	}{
		{"upsample", 44100, 48000},
		{"downsample", 96000, 48000},
		{"double", 24000, 48000},
	}

	const freq = 440.0

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			input := make([]float32, tt.src/10)
			for i := range input {
				input[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(tt.src)))
			}

			out, err := New(16).Resample(input, tt.src, tt.dst)
			if err != nil {
				t.Fatal(err)
			}

			// Skip the edges where the kernel is truncated.
			margin := len(out) / 8
			for i := margin; i < len(out)-margin; i++ {
				want := math.Sin(2 * math.Pi * freq * float64(i) / float64(tt.dst))
				if d := math.Abs(float64(out[i]) - want); d > 0.01 {
					t.Fatalf("sample %d = %g, want %g", i, out[i], want)
				}
			}
		})
	}
}

func TestResampleDCGain(t *testing.T) {
	t.Parallel()

	input := make([]float32, 2000)
	for i := range input {
		input[i] = 0.5
	}

	out, err := New(0).Resample(input, 48000, 32000)
	if err != nil {
		t.Fatal(err)
	}

	for i, v := range out {
		if math.Abs(float64(v)-0.5) > 1e-4 {
			t.Fatalf("sample %d = %g, want 0.5", i, v)
		}
	}
}

func TestNewClampsLobes(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{{0, DefaultLobes}, {1, 4}, {12, 12}, {500, 64}}
	for _, tt := range tests {
		if got := New(tt.in).Lobes(); got != tt.want {
			t.Errorf("New(%d).Lobes() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func BenchmarkResample(b *testing.B) {
	input := make([]float32, 44100)
	for i := range input {
		input[i] = float32(math.Sin(float64(i) * 0.01))
	}

	r := New(0)

	b.ReportAllocs()

	for b.Loop() {
		_, _ = r.Resample(input, 44100, 48000)
	}
}
