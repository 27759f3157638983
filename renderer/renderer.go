// Package renderer runs a crossfading matrix convolver under control from
// other goroutines.
//
// The Renderer owns the convolver. Control calls validate their arguments,
// queue a command and return at once; Process drains the queue between
// blocks, so configuration changes never race with convolution. Meters and
// state snapshots flow back through atomics.
package renderer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"matrixconv/dsp"
	"matrixconv/internal/filterload"
)

// Errors.
var (
	ErrQueueFull        = errors.New("renderer: command queue full")
	ErrUnknownFilterSet = errors.New("renderer: unknown filter set")
	ErrInvalidFilterSet = errors.New("renderer: filter set does not fit the convolver")
)

// DefaultQueueSize is the command queue capacity used when Options.QueueSize
// is zero.
const DefaultQueueSize = 64

// Options configures a Renderer.
type Options struct {
	Convolver  dsp.Config
	FilterSets []filterload.Set
	// InitialSet is loaded without a crossfade. Empty selects the first set.
	InitialSet string
	Routings   []dsp.RoutingEntry

	// SampleRate and MeterRelease set the meter decay.
	SampleRate   int
	MeterRelease time.Duration

	QueueSize int
	Logger    *slog.Logger
}

// Renderer processes blocks and applies queued control commands.
type Renderer struct {
	cfg    dsp.Config
	conv   *dsp.CrossfadingConvolver
	logger *slog.Logger

	sets     []filterload.Set
	setIndex map[string]int
	// setSlots[i][slot] reports whether set i loads slot.
	setSlots [][]bool
	empty    dsp.FilterSpectrum

	commands chan command

	// Audio goroutine state.
	current         int
	dirty           bool
	lastTransitions int
	lastResult      *CommandResult
	version         uint64

	inMeters  *meterBank
	outMeters *meterBank

	state   atomic.Pointer[State]
	updates chan State
}

// New creates a renderer and loads the initial filter set.
func New(opts Options) (*Renderer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conv, err := dsp.NewCrossfadingConvolver(opts.Convolver, opts.Routings, nil)
	if err != nil {
		return nil, err
	}

	empty, err := conv.TransformImpulseResponse(nil)
	if err != nil {
		return nil, err
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	release := opts.MeterRelease
	if release == 0 {
		release = DefaultMeterRelease
	}

	decay := releaseFactor(release, opts.Convolver.BlockLength, opts.SampleRate)

	r := &Renderer{
		cfg:       opts.Convolver,
		conv:      conv,
		logger:    logger,
		sets:      opts.FilterSets,
		setIndex:  make(map[string]int, len(opts.FilterSets)),
		setSlots:  make([][]bool, len(opts.FilterSets)),
		empty:     empty,
		commands:  make(chan command, queueSize),
		current:   -1,
		inMeters:  newMeterBank(opts.Convolver.NumberOfInputs, decay),
		outMeters: newMeterBank(opts.Convolver.NumberOfOutputs, decay),
		updates:   make(chan State, 1),
	}

	for i, set := range opts.FilterSets {
		if _, dup := r.setIndex[set.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidFilterSet, set.Name)
		}

		if err := r.checkSet(set); err != nil {
			return nil, err
		}

		r.setIndex[set.Name] = i
		r.setSlots[i] = make([]bool, opts.Convolver.MaxFilterEntries)

		for _, f := range set.Filters {
			r.setSlots[i][f.Slot] = true
		}
	}

	if len(r.sets) > 0 {
		initial := 0

		if opts.InitialSet != "" {
			idx, ok := r.setIndex[opts.InitialSet]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownFilterSet, opts.InitialSet)
			}

			initial = idx
		}

		r.loadSet(initial, false)
	}

	r.publish()

	return r, nil
}

// checkSet validates every filter of set against the convolver layout, so
// selecting it later cannot fail halfway.
func (r *Renderer) checkSet(set filterload.Set) error {
	seen := make(map[int]bool, len(set.Filters))

	for _, f := range set.Filters {
		switch {
		case f.Slot < 0 || f.Slot >= r.cfg.MaxFilterEntries:
			return fmt.Errorf("%w: set %q slot %d outside %d slots", ErrInvalidFilterSet, set.Name, f.Slot, r.cfg.MaxFilterEntries)
		case seen[f.Slot]:
			return fmt.Errorf("%w: set %q loads slot %d twice", ErrInvalidFilterSet, set.Name, f.Slot)
		}

		if err := r.cfg.CheckSpectrum(f.Spectrum); err != nil {
			return fmt.Errorf("%w: set %q slot %d: %w", ErrInvalidFilterSet, set.Name, f.Slot, err)
		}

		seen[f.Slot] = true
	}

	return nil
}

// NumberOfInputs returns the input channel count.
func (r *Renderer) NumberOfInputs() int { return r.cfg.NumberOfInputs }

// NumberOfOutputs returns the output channel count.
func (r *Renderer) NumberOfOutputs() int { return r.cfg.NumberOfOutputs }

// BlockLength returns the samples per Process call.
func (r *Renderer) BlockLength() int { return r.cfg.BlockLength }

// Config returns the convolver configuration.
func (r *Renderer) Config() dsp.Config { return r.cfg }

// Process applies pending commands, then convolves one block. It
// implements dsp.Processor and must be called from one goroutine at a time.
func (r *Renderer) Process(input []float32, inputStride int, output []float32, outputStride int) {
	r.drain()

	r.inMeters.update(input, inputStride, r.cfg.BlockLength)
	r.conv.Process(input, inputStride, output, outputStride)
	r.outMeters.update(output, outputStride, r.cfg.BlockLength)

	if n := r.conv.ActiveTransitions(); n != r.lastTransitions {
		r.lastTransitions = n
		r.dirty = true
	}

	if r.dirty {
		r.publish()
	}
}

// Reset clears the signal history and the meters. It must not run
// concurrently with Process.
func (r *Renderer) Reset() {
	r.conv.Reset()
	r.inMeters.reset()
	r.outMeters.reset()
}

// Levels returns the held input and output peaks in dBFS.
func (r *Renderer) Levels() Levels {
	return Levels{Input: r.inMeters.read(), Output: r.outMeters.read()}
}

// FilterSets describes the loaded filter sets.
func (r *Renderer) FilterSets() []FilterSetInfo {
	out := make([]FilterSetInfo, len(r.sets))

	for i, set := range r.sets {
		info := FilterSetInfo{Name: set.Name, Slots: set.Slots(), Sources: make([]string, len(set.Filters))}
		for j, f := range set.Filters {
			info.Sources[j] = f.Source
		}

		out[i] = info
	}

	return out
}

// Spectrum returns the magnitude response in dB of the filter that set
// loads into slot.
func (r *Renderer) Spectrum(set string, slot int) ([]float64, error) {
	idx, ok := r.setIndex[set]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilterSet, set)
	}

	for _, f := range r.sets[idx].Filters {
		if f.Slot == slot {
			return dsp.MagnitudeResponse(f.Spectrum), nil
		}
	}

	return nil, fmt.Errorf("%w: set %q has no filter in slot %d", dsp.ErrOutOfRange, set, slot)
}

// loadSet stores set idx in the convolver. Slots loaded by the previous set
// but not by the new one fade to silence.
func (r *Renderer) loadSet(idx int, crossfade bool) {
	if r.current >= 0 {
		for _, f := range r.sets[r.current].Filters {
			if !r.setSlots[idx][f.Slot] {
				r.storeFilter(r.empty, f.Slot, crossfade)
			}
		}
	}

	for _, f := range r.sets[idx].Filters {
		r.storeFilter(f.Spectrum, f.Slot, crossfade)
	}

	r.current = idx
	r.dirty = true
}

func (r *Renderer) storeFilter(spec dsp.FilterSpectrum, slot int, crossfade bool) {
	if err := r.conv.SetTransformedFilter(spec, slot, crossfade); err != nil {
		// checkSet rules this out.
		panic(fmt.Sprintf("renderer: storing validated filter in slot %d: %v", slot, err))
	}
}
