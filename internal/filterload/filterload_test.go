package filterload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"matrixconv/dsp"
	"matrixconv/internal/audiofile"
	"matrixconv/internal/config"
	"matrixconv/pkg/irlib"
	"matrixconv/pkg/resampler"
)

const (
	blockLength = 16
	maxLength   = 64
)

func testLoader(dir string) *Loader {
	return &Loader{
		BlockLength:     blockLength,
		MaxFilterLength: maxLength,
		SampleRate:      48000,
		BaseDir:         dir,
		Concurrency:     2,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func ramp(n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = scale * float32(n-i) / float32(n)
	}

	return out
}

func writeLibrary(t *testing.T, path string, filters ...*irlib.Filter) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lib := irlib.NewLibrary(irlib.EncodingF32)
	for _, filter := range filters {
		lib.AddFilter(filter)
	}

	if err := irlib.WriteLibrary(f, lib); err != nil {
		t.Fatal(err)
	}
}

// assertSpectrum compares a loaded spectrum with the transform of want.
func assertSpectrum(t *testing.T, name string, got dsp.FilterSpectrum, want []float32, tol float64) {
	t.Helper()

	ft, err := dsp.NewFilterTransformer(blockLength, maxLength, "")
	if err != nil {
		t.Fatal(err)
	}

	ref, err := ft.Transform(want)
	if err != nil {
		t.Fatal(err)
	}

	if got.Partitions != ref.Partitions {
		t.Fatalf("%s: %d partitions, want %d", name, got.Partitions, ref.Partitions)
	}

	for i := range ref.Bins {
		if d := cmplx.Abs(complex128(got.Bins[i] - ref.Bins[i])); d > tol {
			t.Fatalf("%s: bin %d = %v, want %v", name, i, got.Bins[i], ref.Bins[i])
		}
	}
}

func TestLoadSets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// WAV channels share one length, so the shorter response is zero padded.
	left, right := ramp(40, 0.5), append(ramp(20, -0.25), make([]float32, 20)...)
	if err := audiofile.WriteWAV(filepath.Join(dir, "pair.wav"), 48000, 24, [][]float32{left, right}); err != nil {
		t.Fatal(err)
	}

	hall := irlib.NewFilter("hall", 48000, [][]float32{ramp(30, 1)})
	plate := irlib.NewFilter("plate", 48000, [][]float32{ramp(10, 1), ramp(12, 0.5)})
	writeLibrary(t, filepath.Join(dir, "lib.irlib"), hall, plate)

	gain := 2.0
	sets := []config.FilterSetConfig{
		{Name: "wav", Sources: []config.SourceConfig{
			{File: "pair.wav", Channels: config.IndexSequence{1, 0}, Slots: config.IndexSequence{2, 0}},
		}},
		{Name: "lib", Sources: []config.SourceConfig{
			{File: "lib.irlib", IR: "plate", Channels: config.IndexSequence{1}, Slots: config.IndexSequence{1}, Gain: &gain},
			{File: filepath.Join(dir, "lib.irlib"), IR: "hall", Slots: config.IndexSequence{0}, Normalize: true},
		}},
	}

	got, err := testLoader(dir).LoadSets(context.Background(), sets)
	if err != nil {
		t.Fatalf("LoadSets: %v", err)
	}

	if len(got) != 2 || got[0].Name != "wav" || got[1].Name != "lib" {
		t.Fatalf("sets = %+v", got)
	}

	if slots := got[0].Slots(); !slices.Equal(slots, []int{0, 2}) {
		t.Errorf("wav slots = %v", slots)
	}

	// Slot 0 holds channel 0, slot 2 holds channel 1.
	assertSpectrum(t, "wav slot 0", got[0].Filters[0].Spectrum, left, 1e-4)
	assertSpectrum(t, "wav slot 2", got[0].Filters[1].Spectrum, right, 1e-4)

	if got[0].Filters[1].Source != "pair.wav#1" {
		t.Errorf("source = %q", got[0].Filters[1].Source)
	}

	doubled := ramp(12, 1)
	assertSpectrum(t, "plate with gain", got[1].Filters[1].Spectrum, doubled, 1e-5)

	normalized := ramp(30, float32(normalizePeak))
	assertSpectrum(t, "normalized hall", got[1].Filters[0].Spectrum, normalized, 1e-5)

	if got[1].Filters[0].Source != "lib.irlib:hall#0" {
		t.Errorf("source = %q", got[1].Filters[0].Source)
	}
}

func TestLoadSetsResamplesAndTruncates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// 24 samples at 24 kHz become 48 at 48 kHz.
	short := irlib.NewFilter("short", 24000, [][]float32{ramp(24, 1)})
	// 100 samples exceed the maximum of 64.
	long := irlib.NewFilter("long", 48000, [][]float32{ramp(100, 1)})
	writeLibrary(t, filepath.Join(dir, "short.irlib"), short)
	writeLibrary(t, filepath.Join(dir, "long.irlib"), long)

	l := testLoader(dir)
	l.Resampler = resampler.New(8)

	got, err := l.LoadSets(context.Background(), []config.FilterSetConfig{{
		Name: "s",
		Sources: []config.SourceConfig{
			{File: "short.irlib", Slots: config.IndexSequence{0}},
			{File: "long.irlib", Slots: config.IndexSequence{1}},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if p := got[0].Filters[0].Spectrum.Partitions; p != 3 {
		t.Errorf("resampled partitions = %d, want 3", p)
	}

	assertSpectrum(t, "truncated", got[0].Filters[1].Spectrum, ramp(100, 1)[:maxLength], 1e-5)
}

func TestLoadSetsErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if err := audiofile.WriteWAV(filepath.Join(dir, "mono.wav"), 48000, 16, [][]float32{ramp(8, 1)}); err != nil {
		t.Fatal(err)
	}

	writeLibrary(t, filepath.Join(dir, "two.irlib"),
		irlib.NewFilter("a", 48000, [][]float32{ramp(4, 1)}),
		irlib.NewFilter("b", 48000, [][]float32{ramp(4, 1)}))

	tests := []struct {
		name   string
		src    []config.SourceConfig
		target error
	}{
		{"slot collision", []config.SourceConfig{
			{File: "mono.wav", Slots: config.IndexSequence{0}},
			{File: "mono.wav", Slots: config.IndexSequence{0}},
		}, ErrSlotCollision},
		{"channel out of range", []config.SourceConfig{
			{File: "mono.wav", Channels: config.IndexSequence{1}, Slots: config.IndexSequence{0}},
		}, ErrChannelOutOfRange},
		{"channel count mismatch", []config.SourceConfig{
			{File: "mono.wav", Channels: config.IndexSequence{0, 0}, Slots: config.IndexSequence{0}},
		}, config.ErrSequenceMismatch},
		{"missing file", []config.SourceConfig{
			{File: "missing.wav", Slots: config.IndexSequence{0}},
		}, os.ErrNotExist},
		{"unsupported format", []config.SourceConfig{
			{File: "notes.txt", Slots: config.IndexSequence{0}},
		}, audiofile.ErrUnsupportedFormat},
		{"ambiguous library", []config.SourceConfig{
			{File: "two.irlib", Slots: config.IndexSequence{0}},
		}, ErrAmbiguousLibraryEntry},
		{"unknown entry", []config.SourceConfig{
			{File: "two.irlib", IR: "c", Slots: config.IndexSequence{0}},
		}, irlib.ErrFilterNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := testLoader(dir).LoadSets(context.Background(), []config.FilterSetConfig{{Name: "x", Sources: tt.src}})
			if !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestLoadSetsCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := audiofile.WriteWAV(filepath.Join(dir, "a.wav"), 48000, 16, [][]float32{ramp(8, 1)}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testLoader(dir).LoadSets(ctx, []config.FilterSetConfig{{
		Name:    "x",
		Sources: []config.SourceConfig{{File: "a.wav", Slots: config.IndexSequence{0}}},
	}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestLoadMatrix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "matrix.wav")

	rows := [][]float32{ramp(16, 0.5), ramp(16, -0.5), ramp(16, 0.25)}
	if err := audiofile.WriteWAV(path, 48000, 24, rows); err != nil {
		t.Fatal(err)
	}

	set, err := testLoader("").LoadMatrix(path)
	if err != nil {
		t.Fatal(err)
	}

	if set.Name != "matrix" || !slices.Equal(set.Slots(), []int{0, 1, 2}) {
		t.Fatalf("set = %s %v", set.Name, set.Slots())
	}

	for i, row := range rows {
		assertSpectrum(t, set.Filters[i].Source, set.Filters[i].Spectrum, row, 1e-4)
	}

	if _, err := testLoader("").LoadMatrix(filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestNewLoaderFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{SampleRate: 44100, BlockLength: 128, MaxFilterLength: 1024, FFTImplementation: "godsp", BaseDir: "/irs"}

	l := NewLoader(cfg, nil)
	if l.SampleRate != 44100 || l.BlockLength != 128 || l.MaxFilterLength != 1024 || l.Transform != "godsp" || l.BaseDir != "/irs" {
		t.Errorf("loader = %+v", l)
	}

	if l.logger() != slog.Default() {
		t.Error("nil logger should fall back to slog.Default")
	}

	if math.Abs(normalizePeak-0.891) > 1e-3 {
		t.Errorf("normalizePeak = %g", normalizePeak)
	}
}
