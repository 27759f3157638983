package dsp

import (
	"fmt"
)

// Convolver is a uniformly partitioned multichannel FIR convolver. Every
// routing entry convolves one input with one filter slot, scales it by the
// entry's gain and adds it to one output. Filter updates take effect on
// the next block without a transition.
//
// A Convolver performs no locking. Configuration calls must not overlap
// with Process; Process itself does not allocate.
type Convolver struct {
	*engine

	filters *filterStore
}

// NewConvolver creates a convolver with the given initial routings and
// filters. filters[i] is loaded into slot i; see InitFilters.
func NewConvolver(cfg Config, routings []RoutingEntry, filters [][]float32) (*Convolver, error) {
	e, err := newEngine(cfg, cfg.MaxFilterEntries, routings)
	if err != nil {
		return nil, err
	}

	c := &Convolver{
		engine:  e,
		filters: newFilterStore(1, cfg.MaxFilterEntries, e.maxPartitions, e.bins, e.stride),
	}

	if err := c.InitFilters(filters); err != nil {
		return nil, err
	}

	return c, nil
}

// SetImpulseResponse transforms ir and stores it in slot filterIndex.
func (c *Convolver) SetImpulseResponse(ir []float32, filterIndex int) error {
	if err := checkSlot(filterIndex, c.cfg.MaxFilterEntries); err != nil {
		return err
	}

	if err := c.transformer.TransformInto(&c.scratch, ir); err != nil {
		return err
	}

	c.filters.store(0, filterIndex, c.scratch)

	return nil
}

// SetTransformedFilter stores a spectrum produced by TransformImpulseResponse
// (or an identically configured FilterTransformer) in slot filterIndex.
func (c *Convolver) SetTransformedFilter(spec FilterSpectrum, filterIndex int) error {
	if err := checkSlot(filterIndex, c.cfg.MaxFilterEntries); err != nil {
		return err
	}

	if err := c.transformer.checkFormat(spec); err != nil {
		return err
	}

	c.filters.store(0, filterIndex, spec)

	return nil
}

// InitFilters loads filters[i] into slot i and zeroes all remaining slots.
// It checks every row before changing anything.
func (c *Convolver) InitFilters(filters [][]float32) error {
	specs, err := transformRows(c.transformer, filters, c.cfg.MaxFilterEntries)
	if err != nil {
		return err
	}

	c.filters.clearAll()
	for i, spec := range specs {
		c.filters.store(0, i, spec)
	}

	return nil
}

// ClearFilters zeroes every filter slot.
func (c *Convolver) ClearFilters() {
	c.filters.clearAll()
}

// Filter returns a copy of the spectrum stored in slot filterIndex.
func (c *Convolver) Filter(filterIndex int) (FilterSpectrum, error) {
	if err := checkSlot(filterIndex, c.cfg.MaxFilterEntries); err != nil {
		return FilterSpectrum{}, err
	}

	spec := c.transformer.NewSpectrum()
	c.filters.load(0, filterIndex, &spec)

	return spec, nil
}

// Process convolves one block of every input and writes one block of every
// output. Outputs without routings are zero.
func (c *Convolver) Process(input []float32, inputStride int, output []float32, outputStride int) {
	e := c.engine
	b := e.cfg.BlockLength

	e.pushInputs(input, inputStride)

	entries := e.routing.entries
	next := 0

	for out := range e.cfg.NumberOfOutputs {
		dst := output[out*outputStride : out*outputStride+b]

		if next >= len(entries) || entries[next].Output != out {
			clear(dst)
			continue
		}

		clear(e.acc)

		for ; next < len(entries) && entries[next].Output == out; next++ {
			r := entries[next]
			e.accumulate(e.acc, c.filters.filter(0, r.Filter), c.filters.active(0, r.Filter), r.Input, r.Gain)
		}

		e.inverse(dst, e.acc)
	}
}

// ProcessInterleaved is Process for interleaved buffers of BlockLength
// frames.
func (c *Convolver) ProcessInterleaved(input, output []float32) {
	c.deinterleave(input)
	c.Process(c.planarIn, c.cfg.BlockLength, c.planarOut, c.cfg.BlockLength)
	c.interleave(output)
}

func checkSlot(index, count int) error {
	if index < 0 || index >= count {
		return fmt.Errorf("%w: filter index %d not in [0, %d)", ErrOutOfRange, index, count)
	}

	return nil
}

// transformRows transforms a filter matrix for InitFilters. All rows are
// checked and transformed before the caller commits anything.
func transformRows(ft *FilterTransformer, rows [][]float32, slots int) ([]FilterSpectrum, error) {
	if len(rows) > slots {
		return nil, fmt.Errorf("%w: %d filters given, only %d slots", ErrOutOfRange, len(rows), slots)
	}

	specs := make([]FilterSpectrum, len(rows))

	for i, row := range rows {
		spec, err := ft.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}

		specs[i] = spec
	}

	return specs, nil
}
