package audiofile

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
)

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want Format
		err  error
	}{
		{"room.wav", WAV, nil},
		{"ROOM.WAV", WAV, nil},
		{"hall.aif", AIFF, nil},
		{"dir/hall.aiff", AIFF, nil},
		{"notes.txt", "", ErrUnsupportedFormat},
		{"noext", "", ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Errorf("FormatFromPath(%q) = %q, %v; want %q, %v", tt.path, got, err, tt.want, tt.err)
		}
	}
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()

	for _, bitDepth := range []int{16, 24} {
		channels := [][]float32{
			make([]float32, 1000),
			make([]float32, 1000),
		}
		for i := range channels[0] {
			channels[0][i] = float32(0.8 * math.Sin(float64(i)*0.05))
			channels[1][i] = float32(0.5 * math.Exp(-float64(i)/200))
		}

		path := filepath.Join(t.TempDir(), "ir.wav")
		if err := WriteWAV(path, 44100, bitDepth, channels); err != nil {
			t.Fatalf("WriteWAV(%d bit): %v", bitDepth, err)
		}

		a, err := Read(path)
		if err != nil {
			t.Fatalf("Read(%d bit): %v", bitDepth, err)
		}

		if a.SampleRate != 44100 || a.BitDepth != bitDepth || len(a.Channels) != 2 || a.NumFrames() != 1000 {
			t.Fatalf("%d bit: got rate %d depth %d channels %d frames %d",
				bitDepth, a.SampleRate, a.BitDepth, len(a.Channels), a.NumFrames())
		}

		tol := 2 / math.Ldexp(1, bitDepth-1)
		for ch := range channels {
			for i, want := range channels[ch] {
				if d := math.Abs(float64(a.Channels[ch][i] - want)); d > tol {
					t.Fatalf("%d bit ch %d sample %d = %g, want %g", bitDepth, ch, i, a.Channels[ch][i], want)
				}
			}
		}
	}
}

func TestWriteWAVClips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := WriteWAV(path, 48000, 16, [][]float32{{2, -3, 0.5}}); err != nil {
		t.Fatal(err)
	}

	a, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	got := a.Channels[0]
	if got[0] < 0.999 || got[0] > 1 || got[1] != -1 || math.Abs(float64(got[2])-0.5) > 1e-4 {
		t.Errorf("clipped samples = %v", got)
	}
}

func TestWriteWAVRejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name     string
		bitDepth int
		channels [][]float32
		target   error
	}{
		{"no channels", 16, nil, ErrNoChannels},
		{"ragged", 16, [][]float32{{1, 2}, {1}}, ErrInvalidFile},
		{"8 bit", 8, [][]float32{{0}}, ErrUnsupportedBitDepth},
	}

	for _, tt := range tests {
		err := WriteWAV(filepath.Join(dir, tt.name+".wav"), 48000, tt.bitDepth, tt.channels)
		if !errors.Is(err, tt.target) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.target)
		}
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for _, name := range []string{"junk.wav", "junk.aiff"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("definitely not audio data"), 0o644); err != nil {
			t.Fatal(err)
		}

		if _, err := Read(path); !errors.Is(err, ErrInvalidFile) {
			t.Errorf("%s: err = %v", name, err)
		}
	}

	if _, err := Read(filepath.Join(dir, "missing.txt")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("unsupported extension: err = %v", err)
	}
}

// chunkedDecoder hands out interleaved samples in fixed-size pieces that do
// not align with frame boundaries.
type chunkedDecoder struct {
	format *goaudio.Format
	data   []int
	chunk  int
}

func (d *chunkedDecoder) Format() *goaudio.Format { return d.format }

func (d *chunkedDecoder) PCMBuffer(buf *goaudio.IntBuffer) (int, error) {
	if len(d.data) == 0 {
		return 0, io.EOF
	}

	n := copy(buf.Data[:min(d.chunk, len(buf.Data))], d.data)
	d.data = d.data[n:]

	return n, nil
}

func TestDecodePCMCarriesPartialFrames(t *testing.T) {
	t.Parallel()

	const frames = 10

	data := make([]int, 0, 3*frames)
	for i := range frames {
		data = append(data, i*100, -i*100, i)
	}

	dec := &chunkedDecoder{
		format: &goaudio.Format{NumChannels: 3, SampleRate: 8000},
		data:   data,
		chunk:  4,
	}

	a, err := decodePCM(dec, 16)
	if err != nil {
		t.Fatal(err)
	}

	if a.NumFrames() != frames {
		t.Fatalf("frames = %d, want %d", a.NumFrames(), frames)
	}

	for i := range frames {
		want := []float32{float32(i*100) / 32768, float32(-i*100) / 32768, float32(i) / 32768}
		for ch := range 3 {
			if a.Channels[ch][i] != want[ch] {
				t.Fatalf("ch %d frame %d = %g, want %g", ch, i, a.Channels[ch][i], want[ch])
			}
		}
	}

	if d := a.Duration(); d != frames*time.Second/8000 {
		t.Errorf("Duration = %v", d)
	}
}
