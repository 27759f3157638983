package f16

import (
	"errors"
	"math"
	"testing"
)

func TestFromFloat32KnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input float32
		want  uint16
	}{
		{"zero", 0, 0x0000},
		{"negative zero", float32(math.Copysign(0, -1)), 0x8000},
		{"one", 1, 0x3C00},
		{"minus two", -2, 0xC000},
		{"one third", 1.0 / 3, 0x3555},
		{"largest normal", 65504, 0x7BFF},
		{"rounds to infinity", 65520, 0x7C00},
		{"smallest normal", float32(math.Ldexp(1, -14)), 0x0400},
		{"smallest subnormal", float32(math.Ldexp(1, -24)), 0x0001},
		{"half of smallest subnormal ties to even", float32(math.Ldexp(1, -25)), 0x0000},
		{"three halves of smallest subnormal", float32(math.Ldexp(3, -25)), 0x0002},
		{"below subnormal range", 1e-10, 0x0000},
		{"infinity", float32(math.Inf(1)), 0x7C00},
		{"negative infinity", float32(math.Inf(-1)), 0xFC00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := FromFloat32(tt.input); got != tt.want {
				t.Errorf("FromFloat32(%g) = %#04x, want %#04x", tt.input, got, tt.want)
			}
		})
	}
}

func TestNaN(t *testing.T) {
	t.Parallel()

	h := FromFloat32(float32(math.NaN()))
	if h&0x7C00 != 0x7C00 || h&0x3FF == 0 {
		t.Fatalf("NaN encoded as %#04x", h)
	}

	if !math.IsNaN(float64(ToFloat32(h))) {
		t.Error("decoded NaN is not NaN")
	}
}

func TestEveryHalfRoundTrips(t *testing.T) {
	t.Parallel()

	for i := range 1 << 16 {
		h := uint16(i)
		if h&0x7C00 == 0x7C00 && h&0x3FF != 0 {
			continue // NaN payloads are not preserved bit for bit
		}

		if got := FromFloat32(ToFloat32(h)); got != h {
			t.Fatalf("%#04x -> %g -> %#04x", h, ToFloat32(h), got)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	values := []float32{0, 0.5, -0.25, 1, -1, 0.001}
	data := Encode([]byte{0xAA}, values)

	if len(data) != 1+2*len(values) || data[0] != 0xAA {
		t.Fatalf("Encode did not append: % x", data)
	}

	got, err := Decode(data[1:])
	if err != nil {
		t.Fatal(err)
	}

	for i, v := range values {
		if d := math.Abs(float64(got[i] - v)); d > 1e-3*math.Max(1, math.Abs(float64(v))) {
			t.Errorf("value %d: %g, want %g", i, got[i], v)
		}
	}

	if _, err := Decode(data); !errors.Is(err, ErrOddLength) {
		t.Errorf("odd length: err = %v", err)
	}
}

func TestRoundTripSNR(t *testing.T) {
	t.Parallel()

	signal := make([]float32, 4800)
	for i := range signal {
		signal[i] = float32(0.5 * math.Exp(-float64(i)/1000) * math.Sin(float64(i)*0.05))
	}

	if snr := RoundTripSNR(signal); snr < 60 {
		t.Errorf("SNR = %.1f dB, expected at least 60 dB", snr)
	}

	exact := []float32{0, 1, -0.5, 0.25}
	if stats := Analyze(exact); !math.IsInf(stats.SNR, 1) || stats.MaxAbsError != 0 {
		t.Errorf("lossless values: %+v", stats)
	}
}

func BenchmarkEncode(b *testing.B) {
	values := make([]float32, 48000)
	for i := range values {
		values[i] = float32(math.Sin(float64(i) * 0.01))
	}

	buf := make([]byte, 0, 2*len(values))

	b.ReportAllocs()

	for b.Loop() {
		buf = Encode(buf[:0], values)
	}
}
