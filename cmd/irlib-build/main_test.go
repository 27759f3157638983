package main

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"matrixconv/internal/audiofile"
	"matrixconv/pkg/irlib"
)

// writeIR writes a decaying stereo impulse response.
func writeIR(t *testing.T, path string, bitDepth, frames int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	channels := [][]float32{make([]float32, frames), make([]float32, frames)}
	for i := range frames {
		env := math.Exp(-float64(i) / 400)
		channels[0][i] = float32(0.7 * env * math.Cos(float64(i)*0.11))
		channels[1][i] = float32(0.4 * env * math.Sin(float64(i)*0.07))
	}

	if err := audiofile.WriteWAV(path, 48000, bitDepth, channels); err != nil {
		t.Fatal(err)
	}
}

func testOptions(enc irlib.Encoding) options {
	return options{encoding: enc, stdout: io.Discard, stderr: io.Discard}
}

func TestRunBuildsLibrary(t *testing.T) {
	t.Parallel()

	in := t.TempDir()
	writeIR(t, filepath.Join(in, "Large_Hall.wav"), 24, 2000)
	writeIR(t, filepath.Join(in, "Speakers", "near_left.wav"), 16, 500)

	if err := os.WriteFile(filepath.Join(in, "readme.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	routings := filepath.Join(t.TempDir(), "routings.json")
	if err := os.WriteFile(routings, []byte(`[{"input": "0:1", "output": 0, "filter": "0:1", "gain": 0.5}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "lib.irlib")

	var stdout bytes.Buffer

	opts := testOptions(irlib.EncodingF16)
	opts.recursive = true
	opts.verbose = true
	opts.routings = routings
	opts.stdout = &stdout

	if err := run(opts, in, out); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !strings.Contains(stdout.String(), "f16 SNR") {
		t.Errorf("verbose output lacks SNR report:\n%s", stdout.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lib, err := irlib.ReadLibrary(f)
	if err != nil {
		t.Fatalf("ReadLibrary: %v", err)
	}

	if lib.Encoding != irlib.EncodingF16 || len(lib.Filters) != 2 {
		t.Fatalf("encoding %v, %d filters", lib.Encoding, len(lib.Filters))
	}

	wantRoutings := []irlib.Routing{
		{Input: 0, Output: 0, Filter: 0, Gain: 0.5},
		{Input: 1, Output: 0, Filter: 1, Gain: 0.5},
	}
	if !slices.Equal(lib.Routings, wantRoutings) {
		t.Errorf("routings = %+v, want %+v", lib.Routings, wantRoutings)
	}

	hall := lib.Filters[0].Metadata
	if hall.Name != "Large Hall" || hall.Category != "Default" || hall.Length != 2000 || hall.Channels != 2 ||
		hall.SampleRate != 48000 || !slices.Contains(hall.Tags, "hall") {
		t.Errorf("hall metadata = %+v", hall)
	}

	near := lib.Filters[1].Metadata
	if near.Name != "near left" || near.Category != "Speakers" || near.Length != 500 {
		t.Errorf("speaker metadata = %+v", near)
	}
}

func TestRunNonRecursiveAndCategory(t *testing.T) {
	t.Parallel()

	in := t.TempDir()
	writeIR(t, filepath.Join(in, "plate.wav"), 16, 100)
	writeIR(t, filepath.Join(in, "sub", "hidden.wav"), 16, 100)

	out := filepath.Join(t.TempDir(), "lib.irlib")

	opts := testOptions(irlib.EncodingF32)
	opts.category = "Plates"

	if err := run(opts, in, out); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r, err := irlib.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 1 || list[0].Name != "plate" || list[0].Category != "Plates" || r.HasRoutings() {
		t.Errorf("index = %+v, routings %v", list, r.HasRoutings())
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	if err := run(testOptions(irlib.EncodingF16), empty, filepath.Join(empty, "x.irlib")); err == nil {
		t.Error("empty directory: expected error")
	}

	broken := t.TempDir()
	if err := os.WriteFile(filepath.Join(broken, "bad.wav"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := run(testOptions(irlib.EncodingF16), broken, filepath.Join(broken, "x.irlib")); err == nil {
		t.Error("only unreadable files: expected error")
	}

	in := t.TempDir()
	writeIR(t, filepath.Join(in, "a.wav"), 16, 10)

	bad := filepath.Join(t.TempDir(), "routings.json")
	if err := os.WriteFile(bad, []byte(`[{"input": [0, 1], "output": [0, 1, 2], "filter": 0}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := testOptions(irlib.EncodingF16)
	opts.routings = bad

	if err := run(opts, in, filepath.Join(in, "x.irlib")); err == nil {
		t.Error("mismatched routing sequences: expected error")
	}
}

// TestFileSizeReduction checks that f16 storage is smaller than 24-bit WAV.
func TestFileSizeReduction(t *testing.T) {
	t.Parallel()

	in := t.TempDir()

	var sourceSize int64

	for _, name := range []string{"a.wav", "b.wav"} {
		path := filepath.Join(in, name)
		writeIR(t, path, 24, 4000)

		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}

		sourceSize += info.Size()
	}

	out := filepath.Join(t.TempDir(), "size.irlib")
	if err := run(testOptions(irlib.EncodingF16), in, out); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}

	reduction := 1 - float64(info.Size())/float64(sourceSize)
	if reduction < 0.25 {
		t.Errorf("expected at least 25%% size reduction, got %.1f%%", reduction*100)
	}
}

func TestInferName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/Large Hall.wav", "Large Hall"},
		{"/path/to/Small_Church.aif", "Small Church"},
		{"file.aiff", "file"},
		{"/some/dir/My_Great_IR.wav", "My Great IR"},
	}

	for _, tc := range tests {
		if result := inferName(tc.input); result != tc.expected {
			t.Errorf("inferName(%q): got %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestInferCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filePath string
		baseDir  string
		expected string
	}{
		{"/base/file.wav", "/base", "Default"},
		{"/base/Hall/file.wav", "/base", "Hall"},
		{"/base/Plates/Large/file.aif", "/base", "Plates"},
	}

	for _, tc := range tests {
		if result := inferCategory(tc.filePath, tc.baseDir); result != tc.expected {
			t.Errorf("inferCategory(%q, %q): got %q, want %q", tc.filePath, tc.baseDir, result, tc.expected)
		}
	}
}

func TestInferTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected []string
	}{
		{"Large Hall", []string{"hall", "large"}},
		{"Near Left Speaker", []string{"speaker", "left", "near"}},
		{"KEMAR BRIR 30", []string{"brir"}},
		{"Unknown IR", nil},
	}

	for _, tc := range tests {
		result := inferTags(tc.name)

		for _, exp := range tc.expected {
			if !slices.Contains(result, exp) {
				t.Errorf("inferTags(%q): missing expected tag %q", tc.name, exp)
			}
		}

		if tc.expected == nil && result != nil {
			t.Errorf("inferTags(%q) = %v, want none", tc.name, result)
		}
	}
}

func TestNormalizeAudio(t *testing.T) {
	t.Parallel()

	input := [][]float32{
		{0.5, -0.8, 0.3, 0.8},
		{0.2, 0.6, -0.4, 0.1},
	}

	result := normalizeAudio(input)

	var peak float32

	for _, ch := range result {
		for _, sample := range ch {
			peak = max(peak, float32(math.Abs(float64(sample))))
		}
	}

	// -1.0dB ≈ 0.891
	if peak < 0.881 || peak > 0.901 {
		t.Errorf("normalized peak: got %v, want ~0.891", peak)
	}

	if input[1][1] != 0.6 {
		t.Error("normalizeAudio modified its input")
	}

	silent := [][]float32{{0, 0}}
	if got := normalizeAudio(silent); got[0][0] != 0 {
		t.Errorf("silence = %v", got)
	}
}
