package dsp

// CrossfadingConvolver is a Convolver whose filter updates can be faded in.
//
// Each filter slot has two banks. A transition writes the new filter into
// the bank that is not playing and blends the two convolution results
// sample by sample over TransitionSamples:
//
//	y[n] = (1-w[n]) * (x * h_old)[n] + w[n] * (x * h_new)[n],  w[n] = n / TransitionSamples
//
// When w reaches 1 the new bank becomes the only active one. A new
// transition requested while one is running first freezes the current
// blend into the old bank, so the output stays continuous.
type CrossfadingConvolver struct {
	*engine

	slots   int
	filters *filterStore
	states  []crossfadeState

	ramp              []float32
	transitionSamples int

	accFrom []complex64
	accTo   []complex64
	outFrom []float32
	outTo   []float32
	fadeOut []float32
}

// NewCrossfadingConvolver creates a crossfading convolver with
// cfg.MaxFilterEntries slots. filters[i] is loaded into slot i without a
// transition.
func NewCrossfadingConvolver(cfg Config, routings []RoutingEntry, filters [][]float32) (*CrossfadingConvolver, error) {
	c, err := newCrossfadingConvolver(cfg, cfg.MaxFilterEntries, routings)
	if err != nil {
		return nil, err
	}

	if err := c.InitFilters(filters); err != nil {
		return nil, err
	}

	return c, nil
}

// newCrossfadingConvolver creates a crossfading convolver with an explicit
// number of slots.
func newCrossfadingConvolver(cfg Config, slots int, routings []RoutingEntry) (*CrossfadingConvolver, error) {
	e, err := newEngine(cfg, slots, routings)
	if err != nil {
		return nil, err
	}

	b := cfg.BlockLength

	c := &CrossfadingConvolver{
		engine:            e,
		slots:             slots,
		filters:           newFilterStore(2, slots, e.maxPartitions, e.bins, e.stride),
		states:            make([]crossfadeState, slots),
		ramp:              linearRamp(cfg.TransitionSamples),
		transitionSamples: cfg.TransitionSamples,
		accFrom:           make([]complex64, e.bins),
		accTo:             make([]complex64, e.bins),
		outFrom:           make([]float32, b),
		outTo:             make([]float32, b),
		fadeOut:           make([]float32, b),
	}

	for i := range c.states {
		c.states[i] = idleState(0)
	}

	return c, nil
}

// TransitionSamples returns the crossfade length.
func (c *CrossfadingConvolver) TransitionSamples() int {
	return c.transitionSamples
}

// SetImpulseResponse transforms ir and stores it in slot filterIndex. With
// startTransition the slot fades to the new filter; otherwise the filter
// currently faded toward (or playing, if idle) is replaced at once.
func (c *CrossfadingConvolver) SetImpulseResponse(ir []float32, filterIndex int, startTransition bool) error {
	if err := checkSlot(filterIndex, c.slots); err != nil {
		return err
	}

	if err := c.transformer.TransformInto(&c.scratch, ir); err != nil {
		return err
	}

	c.setSpectrum(filterIndex, c.scratch, startTransition)

	return nil
}

// SetTransformedFilter is SetImpulseResponse for a spectrum produced by
// TransformImpulseResponse.
func (c *CrossfadingConvolver) SetTransformedFilter(spec FilterSpectrum, filterIndex int, startTransition bool) error {
	if err := checkSlot(filterIndex, c.slots); err != nil {
		return err
	}

	if err := c.transformer.checkFormat(spec); err != nil {
		return err
	}

	c.setSpectrum(filterIndex, spec, startTransition)

	return nil
}

// setSpectrum commits an already validated spectrum.
func (c *CrossfadingConvolver) setSpectrum(slot int, spec FilterSpectrum, startTransition bool) {
	st := &c.states[slot]

	switch {
	case !startTransition || c.transitionSamples == 0:
		c.filters.store(st.writeBank(), slot, spec)

	case st.phase == fadeIdle:
		st.begin()
		c.filters.store(int(st.to), slot, spec)

	default:
		// Restart: the blend at the current position becomes the new
		// starting point.
		w := c.ramp[min(st.pos, c.transitionSamples)]
		c.filters.blend(int(st.from), int(st.to), slot, w)
		c.filters.store(int(st.to), slot, spec)
		st.pos = 0
	}
}

// InitFilters loads filters[i] into slot i, zeroes the other slots and
// cancels all transitions. Nothing changes if any row is invalid.
func (c *CrossfadingConvolver) InitFilters(filters [][]float32) error {
	specs, err := transformRows(c.transformer, filters, c.slots)
	if err != nil {
		return err
	}

	c.ClearFilters()

	for i, spec := range specs {
		c.filters.store(0, i, spec)
	}

	return nil
}

// ClearFilters zeroes both banks of every slot and cancels all transitions.
func (c *CrossfadingConvolver) ClearFilters() {
	c.filters.clearAll()

	for i := range c.states {
		c.states[i] = idleState(0)
	}
}

// Filter returns a copy of the spectrum slot filterIndex plays (or fades
// toward).
func (c *CrossfadingConvolver) Filter(filterIndex int) (FilterSpectrum, error) {
	if err := checkSlot(filterIndex, c.slots); err != nil {
		return FilterSpectrum{}, err
	}

	spec := c.transformer.NewSpectrum()
	c.filters.load(c.states[filterIndex].writeBank(), filterIndex, &spec)

	return spec, nil
}

// SlotStatus reports the crossfade state of slot filterIndex.
func (c *CrossfadingConvolver) SlotStatus(filterIndex int) (SlotStatus, error) {
	if err := checkSlot(filterIndex, c.slots); err != nil {
		return SlotStatus{}, err
	}

	st := c.states[filterIndex]
	status := SlotStatus{
		Slot:       filterIndex,
		ActiveBank: int(st.from),
		Partitions: c.filters.active(st.writeBank(), filterIndex),
	}

	if st.phase == fadeTransitioning {
		status.Transitioning = true
		status.Progress = float64(st.pos) / float64(c.transitionSamples)
	}

	return status, nil
}

// ActiveTransitions returns the number of slots currently fading.
func (c *CrossfadingConvolver) ActiveTransitions() int {
	n := 0

	for i := range c.states {
		if c.states[i].phase == fadeTransitioning {
			n++
		}
	}

	return n
}

// Process convolves one block of every input and writes one block of every
// output, advancing all running transitions by BlockLength samples.
func (c *CrossfadingConvolver) Process(input []float32, inputStride int, output []float32, outputStride int) {
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

		faded := false

		for ; next < len(entries) && entries[next].Output == out; next++ {
			r := entries[next]
			st := c.states[r.Filter]

			if st.phase == fadeIdle {
				bank := int(st.from)
				e.accumulate(e.acc, c.filters.filter(bank, r.Filter), c.filters.active(bank, r.Filter), r.Input, r.Gain)

				continue
			}

			if !faded {
				clear(c.fadeOut)
				faded = true
			}

			c.blendEntry(r, st)
		}

		e.inverse(dst, e.acc)

		if faded {
			for n := range dst {
				dst[n] += c.fadeOut[n]
			}
		}
	}

	for i := range c.states {
		c.states[i].advance(b, c.transitionSamples)
	}
}

// blendEntry adds the crossfaded contribution of one routing entry whose
// slot is transitioning to fadeOut.
func (c *CrossfadingConvolver) blendEntry(r RoutingEntry, st crossfadeState) {
	e := c.engine
	from, to := int(st.from), int(st.to)

	clear(c.accFrom)
	clear(c.accTo)
	e.accumulate(c.accFrom, c.filters.filter(from, r.Filter), c.filters.active(from, r.Filter), r.Input, r.Gain)
	e.accumulate(c.accTo, c.filters.filter(to, r.Filter), c.filters.active(to, r.Filter), r.Input, r.Gain)
	e.inverse(c.outFrom, c.accFrom)
	e.inverse(c.outTo, c.accTo)

	for n := range c.fadeOut {
		w := c.ramp[min(st.pos+n, c.transitionSamples)]
		c.fadeOut[n] += (1-w)*c.outFrom[n] + w*c.outTo[n]
	}
}

// ProcessInterleaved is Process for interleaved buffers of BlockLength
// frames.
func (c *CrossfadingConvolver) ProcessInterleaved(input, output []float32) {
	c.deinterleave(input)
	c.Process(c.planarIn, c.cfg.BlockLength, c.planarOut, c.cfg.BlockLength)
	c.interleave(output)
}
