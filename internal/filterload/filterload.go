// Package filterload turns the filter sets of a session file into
// partitioned filter spectra ready for the convolver.
package filterload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	vecmath "github.com/cwbudde/algo-vecmath"
	"golang.org/x/sync/errgroup"

	"matrixconv/dsp"
	"matrixconv/internal/audiofile"
	"matrixconv/internal/config"
	"matrixconv/pkg/irlib"
	"matrixconv/pkg/resampler"
)

// Errors.
var (
	ErrSlotCollision         = errors.New("filterload: slot assigned twice")
	ErrChannelOutOfRange     = errors.New("filterload: channel out of range")
	ErrAmbiguousLibraryEntry = errors.New("filterload: library entry not specified")
)

// normalizePeak is the target peak of normalised filters (-1 dBFS).
var normalizePeak = math.Pow(10, -1.0/20.0)

// Set is a loaded filter set.
type Set struct {
	Name string
	// Filters is sorted by slot.
	Filters []SlotFilter
}

// Slots returns the slot numbers used by the set.
func (s Set) Slots() []int {
	slots := make([]int, len(s.Filters))
	for i, f := range s.Filters {
		slots[i] = f.Slot
	}

	return slots
}

// SlotFilter is one transformed filter and the slot it is loaded into.
type SlotFilter struct {
	Slot int
	// Source describes where the filter came from, e.g. "room.wav#1".
	Source   string
	Spectrum dsp.FilterSpectrum
}

// Loader decodes, conditions and transforms filters.
type Loader struct {
	BlockLength     int
	MaxFilterLength int
	SampleRate      int
	Transform       string

	// BaseDir resolves relative file names.
	BaseDir string

	// Resampler defaults to resampler.New(resampler.DefaultLobes).
	Resampler *resampler.Resampler

	// Concurrency bounds parallel sources. Zero means runtime.NumCPU().
	Concurrency int

	Logger *slog.Logger
}

// NewLoader creates a loader matching a session configuration.
func NewLoader(cfg *config.Config, logger *slog.Logger) *Loader {
	return &Loader{
		BlockLength:     cfg.BlockLength,
		MaxFilterLength: cfg.MaxFilterLength,
		SampleRate:      cfg.SampleRate,
		Transform:       cfg.FFTImplementation,
		BaseDir:         cfg.BaseDir,
		Logger:          logger,
	}
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}

	return l.Logger
}

func (l *Loader) resampler() *resampler.Resampler {
	if l.Resampler == nil {
		return resampler.New(resampler.DefaultLobes)
	}

	return l.Resampler
}

func (l *Loader) resolve(path string) string {
	if filepath.IsAbs(path) || l.BaseDir == "" {
		return path
	}

	return filepath.Join(l.BaseDir, path)
}

// LoadSets loads every source of every set concurrently. Each source is
// decoded once and transformed with its own FilterTransformer.
func (l *Loader) LoadSets(ctx context.Context, sets []config.FilterSetConfig) ([]Set, error) {
	for _, set := range sets {
		if err := checkSlots(set); err != nil {
			return nil, err
		}
	}

	results := make([][][]SlotFilter, len(sets))
	for i, set := range sets {
		results[i] = make([][]SlotFilter, len(set.Sources))
	}

	limit := l.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, set := range sets {
		for j, src := range set.Sources {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				filters, err := l.loadSource(src)
				if err != nil {
					return fmt.Errorf("filter set %q: %s: %w", set.Name, src.File, err)
				}

				results[i][j] = filters

				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Set, len(sets))
	for i, set := range sets {
		out[i] = Set{Name: set.Name}
		for _, filters := range results[i] {
			out[i].Filters = append(out[i].Filters, filters...)
		}

		slices.SortFunc(out[i].Filters, func(a, b SlotFilter) int { return a.Slot - b.Slot })

		l.logger().Info("filter set loaded", "set", set.Name, "filters", len(out[i].Filters))
	}

	return out, nil
}

func checkSlots(set config.FilterSetConfig) error {
	used := make(map[int]string)

	for _, src := range set.Sources {
		if len(src.Channels) > 0 && len(src.Channels) != len(src.Slots) {
			return fmt.Errorf("%w: set %q: %s maps %d channels to %d slots",
				config.ErrSequenceMismatch, set.Name, src.File, len(src.Channels), len(src.Slots))
		}

		for _, slot := range src.Slots {
			if prev, ok := used[slot]; ok {
				return fmt.Errorf("%w: set %q slot %d used by %s and %s", ErrSlotCollision, set.Name, slot, prev, src.File)
			}

			used[slot] = src.File
		}
	}

	return nil
}

// loadSource decodes one source and returns one filter per slot.
func (l *Loader) loadSource(src config.SourceConfig) ([]SlotFilter, error) {
	data, rate, err := l.decode(src.File, src.IR)
	if err != nil {
		return nil, err
	}

	channels := src.ChannelList()
	rows := make([][]float32, len(channels))

	for i, ch := range channels {
		if ch < 0 || ch >= len(data) {
			return nil, fmt.Errorf("%w: channel %d of %d", ErrChannelOutOfRange, ch, len(data))
		}

		rows[i] = data[ch]
	}

	rows, err = l.condition(src.File, rows, rate)
	if err != nil {
		return nil, err
	}

	scale := src.GainValue()
	if src.Normalize {
		if peak := peakOf(rows); peak > 0 {
			scale *= normalizePeak / peak
		}
	}

	if scale != 1 {
		for i, row := range rows {
			rows[i] = scaleRow(row, scale)
		}
	}

	ft, err := dsp.NewFilterTransformer(l.BlockLength, l.MaxFilterLength, l.Transform)
	if err != nil {
		return nil, err
	}

	filters := make([]SlotFilter, len(rows))
	for i, row := range rows {
		spec, err := ft.Transform(row)
		if err != nil {
			return nil, err
		}

		filters[i] = SlotFilter{
			Slot:     src.Slots[i],
			Source:   sourceName(src, channels[i]),
			Spectrum: spec,
		}
	}

	return filters, nil
}

func sourceName(src config.SourceConfig, ch int) string {
	name := filepath.Base(src.File)
	if src.IR != "" {
		name += ":" + src.IR
	}

	return fmt.Sprintf("%s#%d", name, ch)
}

// decode reads a file as [channel][sample] with its sample rate.
func (l *Loader) decode(file, entry string) ([][]float32, int, error) {
	path := l.resolve(file)

	if !strings.EqualFold(filepath.Ext(path), ".irlib") {
		a, err := audiofile.Read(path)
		if err != nil {
			return nil, 0, err
		}

		return a.Channels, a.SampleRate, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r, err := irlib.NewReader(f)
	if err != nil {
		return nil, 0, err
	}

	var filter *irlib.Filter

	switch {
	case entry != "":
		filter, err = r.LoadByName(entry)
	case r.Len() == 1:
		filter, err = r.Load(0)
	default:
		return nil, 0, fmt.Errorf("%w: %s holds %d filters", ErrAmbiguousLibraryEntry, file, r.Len())
	}

	if err != nil {
		return nil, 0, err
	}

	return filter.Data, int(math.Round(filter.Metadata.SampleRate)), nil
}

// condition resamples rows to the loader rate and truncates them to the
// maximum filter length.
func (l *Loader) condition(file string, rows [][]float32, rate int) ([][]float32, error) {
	if rate != l.SampleRate {
		resampled, err := l.resampler().ResampleRows(rows, rate, l.SampleRate)
		if err != nil {
			return nil, err
		}

		l.logger().Info("resampled impulse response", "file", file, "from", rate, "to", l.SampleRate)

		rows = resampled
	}

	for i, row := range rows {
		if len(row) > l.MaxFilterLength {
			l.logger().Warn("impulse response truncated",
				"file", file, "row", i, "length", len(row), "max", l.MaxFilterLength)

			rows[i] = row[:l.MaxFilterLength]
		}
	}

	return rows, nil
}

// ReadMatrix decodes a multichannel audio file or single-entry library and
// returns its channels resampled and truncated as LoadMatrix uses them.
func (l *Loader) ReadMatrix(path string) ([][]float32, error) {
	data, rate, err := l.decode(path, "")
	if err != nil {
		return nil, err
	}

	return l.condition(path, data, rate)
}

// LoadMatrix loads a multichannel audio file or single-entry library in
// which channel i is the filter for slot i.
func (l *Loader) LoadMatrix(path string) (Set, error) {
	rows, err := l.ReadMatrix(path)
	if err != nil {
		return Set{}, err
	}

	return l.MatrixSet(path, rows)
}

// MatrixSet transforms rows read by ReadMatrix into a set named after path.
func (l *Loader) MatrixSet(path string, rows [][]float32) (Set, error) {

	ft, err := dsp.NewFilterTransformer(l.BlockLength, l.MaxFilterLength, l.Transform)
	if err != nil {
		return Set{}, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	set := Set{Name: name, Filters: make([]SlotFilter, len(rows))}

	for i, row := range rows {
		spec, err := ft.Transform(row)
		if err != nil {
			return Set{}, err
		}

		set.Filters[i] = SlotFilter{
			Slot:     i,
			Source:   fmt.Sprintf("%s#%d", filepath.Base(path), i),
			Spectrum: spec,
		}
	}

	return set, nil
}

func peakOf(rows [][]float32) float64 {
	var peak float64

	for _, row := range rows {
		for _, v := range row {
			peak = max(peak, math.Abs(float64(v)))
		}
	}

	return peak
}

func scaleRow(row []float32, scale float64) []float32 {
	src := make([]float64, len(row))
	for i, v := range row {
		src[i] = float64(v)
	}

	dst := make([]float64, len(row))
	vecmath.ScaleBlock(dst, src, scale)

	out := make([]float32, len(row))
	for i, v := range dst {
		out[i] = float32(v)
	}

	return out
}
