// Command irlib-build packs WAV and AIFF impulse responses into an impulse
// response library (.irlib).
//
// Usage:
//
//	irlib-build [options] <input-directory> <output-file>
//
// Options:
//
//	-recursive     Scan input directory recursively
//	-category      Set category for all filters (default: infer from directory)
//	-normalize     Normalize peak amplitude to -1.0dB
//	-encoding      Sample encoding: f16 or f32
//	-routings      JSON routing file stored in the library
//	-verbose       Show progress and details
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"matrixconv/internal/audiofile"
	"matrixconv/internal/config"
	"matrixconv/pkg/f16"
	"matrixconv/pkg/irlib"
)

type options struct {
	recursive bool
	category  string
	normalize bool
	encoding  irlib.Encoding
	routings  string
	verbose   bool
	stdout    io.Writer
	stderr    io.Writer
}

func main() {
	var (
		opts     = options{stdout: os.Stdout, stderr: os.Stderr}
		encoding string
	)

	flag.BoolVar(&opts.recursive, "recursive", false, "Scan input directory recursively")
	flag.StringVar(&opts.category, "category", "", "Set category for all filters (default: infer from directory)")
	flag.BoolVar(&opts.normalize, "normalize", false, "Normalize peak amplitude to -1.0dB")
	flag.StringVar(&encoding, "encoding", "f16", "Sample encoding: f16 or f32")
	flag.StringVar(&opts.routings, "routings", "", "JSON routing file stored in the library")
	flag.BoolVar(&opts.verbose, "verbose", false, "Show progress and details")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <input-directory> <output-file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Packs WAV and AIFF impulse responses into an IR library (.irlib).\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s ./irs ./rooms.irlib\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -encoding f32 -routings stereo.json ./speakers ./speakers.irlib\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}

	enc, err := irlib.ParseEncoding(encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts.encoding = enc

	if err := run(opts, flag.Arg(0), flag.Arg(1)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, inputDir, outputFile string) error {
	files, err := findAudioFiles(inputDir, opts.recursive)
	if err != nil {
		return fmt.Errorf("failed to scan directory: %w", err)
	}

	if len(files) == 0 {
		return fmt.Errorf("no .wav or .aif files found in %s", inputDir)
	}

	if opts.verbose {
		fmt.Fprintf(opts.stdout, "Found %d audio files\n", len(files))
	}

	lib := irlib.NewLibrary(opts.encoding)

	if opts.routings != "" {
		lib.Routings, err = loadRoutings(opts.routings)
		if err != nil {
			return err
		}
	}

	for i, filePath := range files {
		if opts.verbose {
			fmt.Fprintf(opts.stdout, "[%d/%d] Processing: %s\n", i+1, len(files), filepath.Base(filePath))
		}

		f, err := convertFile(opts, filePath, inputDir)
		if err != nil {
			fmt.Fprintf(opts.stderr, "Warning: skipping %s: %v\n", filePath, err)
			continue
		}

		lib.AddFilter(f)
	}

	if len(lib.Filters) == 0 {
		return errors.New("no files were successfully converted")
	}

	outFile, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	if err := irlib.WriteLibrary(outFile, lib); err != nil {
		return fmt.Errorf("failed to write library: %w", err)
	}

	info, err := outFile.Stat()
	if err == nil && opts.verbose {
		fmt.Fprintf(opts.stdout, "\nLibrary written: %s\n", outputFile)
		fmt.Fprintf(opts.stdout, "  Filters: %d\n", len(lib.Filters))
		fmt.Fprintf(opts.stdout, "  Routings: %d\n", len(lib.Routings))
		fmt.Fprintf(opts.stdout, "  Encoding: %s\n", lib.Encoding)
		fmt.Fprintf(opts.stdout, "  Size: %.2f MB\n", float64(info.Size())/(1024*1024))
	} else {
		fmt.Fprintf(opts.stdout, "Created %s with %d filters\n", outputFile, len(lib.Filters))
	}

	return nil
}

// loadRoutings reads a routing array in the session file notation.
func loadRoutings(path string) ([]irlib.Routing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routings: %w", err)
	}

	entries, err := config.ParseRoutings(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse routings %s: %w", path, err)
	}

	routings := make([]irlib.Routing, len(entries))
	for i, e := range entries {
		routings[i] = irlib.Routing{Input: e.Input, Output: e.Output, Filter: e.Filter, Gain: e.Gain}
	}

	return routings, nil
}

func findAudioFiles(dir string, recursive bool) ([]string, error) {
	var files []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() && path != dir && !recursive {
			return fs.SkipDir
		}

		if !d.IsDir() {
			if _, err := audiofile.FormatFromPath(path); err == nil {
				files = append(files, path)
			}
		}

		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, err
	}

	return files, nil
}

func convertFile(opts options, filePath, baseDir string) (*irlib.Filter, error) {
	a, err := audiofile.Read(filePath)
	if err != nil {
		return nil, err
	}

	if a.NumFrames() == 0 {
		return nil, errors.New("file contains no samples")
	}

	data := a.Channels
	if opts.normalize {
		data = normalizeAudio(data)
	}

	name := inferName(filePath)

	f := irlib.NewFilter(name, float64(a.SampleRate), data)
	f.Metadata.Category = inferCategory(filePath, baseDir)
	if opts.category != "" {
		f.Metadata.Category = opts.category
	}

	f.Metadata.Tags = inferTags(name)
	f.Metadata.Description = fmt.Sprintf("%s, %d-bit", filepath.Base(filePath), a.BitDepth)

	if opts.verbose {
		fmt.Fprintf(opts.stdout, "    %s: %d ch, %d Hz, %d samples (%.2fs)",
			name, len(data), a.SampleRate, a.NumFrames(), a.Duration().Seconds())

		if opts.encoding == irlib.EncodingF16 {
			fmt.Fprintf(opts.stdout, ", f16 SNR %s", formatSNR(data))
		}

		fmt.Fprintln(opts.stdout)
	}

	return f, nil
}

// formatSNR reports the worst channel SNR after half-precision storage.
func formatSNR(data [][]float32) string {
	worst := math.Inf(1)
	for _, ch := range data {
		worst = min(worst, f16.RoundTripSNR(ch))
	}

	if math.IsInf(worst, 1) {
		return "lossless"
	}

	return fmt.Sprintf("%.1f dB", worst)
}

// inferName extracts a clean name from the file path.
func inferName(filePath string) string {
	name := filepath.Base(filePath)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return strings.ReplaceAll(name, "_", " ")
}

// inferCategory uses the first directory below baseDir as category.
func inferCategory(filePath, baseDir string) string {
	rel, err := filepath.Rel(baseDir, filePath)
	if err != nil {
		return "Default"
	}

	dir := filepath.Dir(rel)
	if dir == "." || dir == "" {
		return "Default"
	}

	parts := strings.Split(dir, string(filepath.Separator))
	if parts[0] != "" {
		return parts[0]
	}

	return "Default"
}

// inferTags extracts tags from the filename.
func inferTags(name string) []string {
	keywords := []string{
		"hall", "room", "plate", "spring", "chamber",
		"speaker", "cabinet", "headphone", "hrtf", "brir",
		"left", "right", "center", "surround", "sub",
		"near", "far", "large", "small", "short", "long",
	}

	nameLower := strings.ToLower(name)

	var tags []string

	for _, kw := range keywords {
		if strings.Contains(nameLower, kw) {
			tags = append(tags, kw)
		}
	}

	return tags
}

// normalizeAudio scales all channels so the common peak sits at -1.0dB.
func normalizeAudio(data [][]float32) [][]float32 {
	var peak float32

	for _, ch := range data {
		for _, sample := range ch {
			peak = max(peak, float32(math.Abs(float64(sample))))
		}
	}

	if peak == 0 {
		return data
	}

	gain := float32(math.Pow(10, -1.0/20.0)) / peak

	result := make([][]float32, len(data))
	for ch := range data {
		result[ch] = make([]float32, len(data[ch]))
		for i, sample := range data[ch] {
			result[ch][i] = sample * gain
		}
	}

	return result
}
