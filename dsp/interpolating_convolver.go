package dsp

import (
	"fmt"
)

// Interpolant defines the content of one interpolated filter slot as a
// weighted sum of stored filters.
type Interpolant struct {
	Slot    int       `json:"slot"`
	Filters []int     `json:"filters"`
	Weights []float32 `json:"weights"`
}

// InterpolatingConvolver renders each routing through an interpolated filter
// slot whose spectrum is a weighted sum of up to NumberOfInterpolants stored
// filters. Changing an interpolant crossfades the slot like
// CrossfadingConvolver does.
//
// There are cfg.MaxFilterEntries stored filters and cfg.MaxRoutingPoints
// interpolated slots; the Filter field of a routing entry addresses an
// interpolated slot.
type InterpolatingConvolver struct {
	*CrossfadingConvolver

	numberOfInterpolants int
	stored               *filterStore
	storedCount          int
	mix                  FilterSpectrum
}

// NewInterpolatingConvolver creates an interpolating convolver. filters are
// loaded into the stored filter slots, then every interpolant is applied
// without a transition.
func NewInterpolatingConvolver(cfg Config, numberOfInterpolants int, routings []RoutingEntry,
	interpolants []Interpolant, filters [][]float32,
) (*InterpolatingConvolver, error) {
	if numberOfInterpolants <= 0 {
		return nil, fmt.Errorf("%w: number of interpolants %d", ErrInvalidArgument, numberOfInterpolants)
	}

	slots := max(cfg.MaxRoutingPoints, 1)

	cf, err := newCrossfadingConvolver(cfg, slots, routings)
	if err != nil {
		return nil, err
	}

	ic := &InterpolatingConvolver{
		CrossfadingConvolver: cf,
		numberOfInterpolants: numberOfInterpolants,
		stored:               newFilterStore(1, cfg.MaxFilterEntries, cf.maxPartitions, cf.bins, cf.stride),
		storedCount:          cfg.MaxFilterEntries,
		mix:                  cf.transformer.NewSpectrum(),
	}

	specs, err := transformRows(cf.transformer, filters, cfg.MaxFilterEntries)
	if err != nil {
		return nil, err
	}

	for i, spec := range specs {
		ic.stored.store(0, i, spec)
	}

	for _, ip := range interpolants {
		if err := ic.SetInterpolant(ip, false); err != nil {
			return nil, fmt.Errorf("initial interpolant for slot %d: %w", ip.Slot, err)
		}
	}

	return ic, nil
}

// NumberOfInterpolants returns the maximum number of terms per interpolant.
func (ic *InterpolatingConvolver) NumberOfInterpolants() int {
	return ic.numberOfInterpolants
}

// SetImpulseResponse transforms ir into stored filter filterIndex.
// Interpolated slots that use it pick up the change on their next
// SetInterpolant.
func (ic *InterpolatingConvolver) SetImpulseResponse(ir []float32, filterIndex int) error {
	if err := checkSlot(filterIndex, ic.storedCount); err != nil {
		return err
	}

	if err := ic.transformer.TransformInto(&ic.scratch, ir); err != nil {
		return err
	}

	ic.stored.store(0, filterIndex, ic.scratch)

	return nil
}

// SetTransformedFilter stores spec as stored filter filterIndex.
func (ic *InterpolatingConvolver) SetTransformedFilter(spec FilterSpectrum, filterIndex int) error {
	if err := checkSlot(filterIndex, ic.storedCount); err != nil {
		return err
	}

	if err := ic.transformer.checkFormat(spec); err != nil {
		return err
	}

	ic.stored.store(0, filterIndex, spec)

	return nil
}

// InitFilters loads filters[i] into stored filter i and zeroes the rest.
// Interpolated slots are not recomputed.
func (ic *InterpolatingConvolver) InitFilters(filters [][]float32) error {
	specs, err := transformRows(ic.transformer, filters, ic.storedCount)
	if err != nil {
		return err
	}

	ic.stored.clearAll()

	for i, spec := range specs {
		ic.stored.store(0, i, spec)
	}

	return nil
}

// ClearFilters zeroes the stored filters and every interpolated slot.
func (ic *InterpolatingConvolver) ClearFilters() {
	ic.stored.clearAll()
	ic.CrossfadingConvolver.ClearFilters()
}

// SetInterpolant recomputes interpolated slot ip.Slot as
// sum(ip.Weights[k] * stored[ip.Filters[k]]) and, with startTransition,
// fades to it.
func (ic *InterpolatingConvolver) SetInterpolant(ip Interpolant, startTransition bool) error {
	if err := checkSlot(ip.Slot, ic.slots); err != nil {
		return err
	}

	if len(ip.Filters) != len(ip.Weights) {
		return fmt.Errorf("%w: %d filter indices but %d weights", ErrInvalidArgument, len(ip.Filters), len(ip.Weights))
	}

	if len(ip.Filters) > ic.numberOfInterpolants {
		return fmt.Errorf("%w: %d interpolation terms, at most %d", ErrInvalidArgument, len(ip.Filters), ic.numberOfInterpolants)
	}

	for _, f := range ip.Filters {
		if f < 0 || f >= ic.storedCount {
			return fmt.Errorf("%w: stored filter %d not in [0, %d)", ErrInvalidArgument, f, ic.storedCount)
		}
	}

	clear(ic.mix.Bins)
	ic.mix.Partitions = 0

	for k, f := range ip.Filters {
		w := complex(ip.Weights[k], 0)
		src := ic.stored.filter(0, f)
		n := ic.stored.active(0, f)

		for p := range n {
			dst := ic.mix.Partition(p)
			h := src[p*ic.stride : p*ic.stride+ic.bins]

			for i := range dst {
				dst[i] += w * h[i]
			}
		}

		ic.mix.Partitions = max(ic.mix.Partitions, n)
	}

	ic.setSpectrum(ip.Slot, ic.mix, startTransition)

	return nil
}
