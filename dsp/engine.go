package dsp

import (
	"fmt"
)

// Processor is a block-synchronous multichannel processor.
//
// Process reads BlockLength samples per input channel and writes
// BlockLength samples per output channel. Channel c of a buffer occupies
// buf[c*stride : c*stride+BlockLength].
type Processor interface {
	NumberOfInputs() int
	NumberOfOutputs() int
	BlockLength() int
	Process(input []float32, inputStride int, output []float32, outputStride int)
}

// engine is the state shared by all convolver variants: the routing table,
// the input history, the frequency-domain delay line and the scratch
// buffers. It implements the overlap-save scheme: each input frame is
// [previous block | current block], and the second half of the inverse
// transform is the valid output.
type engine struct {
	cfg           Config
	bins          int
	stride        int
	maxPartitions int

	transformer *FilterTransformer
	transform   Transform
	routing     *RoutingTable

	// history holds one 2*BlockLength frame per input.
	history []float32

	// fdl is the frequency-domain delay line arena: for each input,
	// maxPartitions spectra of stride bins. cursor indexes the newest.
	fdl    []complex64
	cursor int

	acc     []complex64
	timeBuf []float32

	// scratch receives transformed impulse responses, so filter updates
	// do not allocate.
	scratch FilterSpectrum

	// Planar scratch for ProcessInterleaved.
	planarIn  []float32
	planarOut []float32
}

// newEngine validates cfg and allocates all storage. numFilters is the
// range of valid routing filter indices.
func newEngine(cfg Config, numFilters int, routings []RoutingEntry) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transformer, err := NewFilterTransformer(cfg.BlockLength, cfg.MaxFilterLength, cfg.Transform)
	if err != nil {
		return nil, err
	}

	maxPartitions := cfg.PartitionCount()
	stride := cfg.stride()
	b := cfg.BlockLength

	e := &engine{
		cfg:           cfg,
		bins:          cfg.BinsPerPartition(),
		stride:        stride,
		maxPartitions: maxPartitions,
		transformer:   transformer,
		transform:     transformer.transform,
		routing:       NewRoutingTable(cfg.NumberOfInputs, cfg.NumberOfOutputs, numFilters, cfg.MaxRoutingPoints),
		history:       make([]float32, cfg.NumberOfInputs*2*b),
		fdl:           make([]complex64, cfg.NumberOfInputs*maxPartitions*stride),
		acc:           make([]complex64, cfg.BinsPerPartition()),
		timeBuf:       make([]float32, 2*b),
		planarIn:      make([]float32, cfg.NumberOfInputs*b),
		planarOut:     make([]float32, cfg.NumberOfOutputs*b),
		scratch:       transformer.NewSpectrum(),
	}

	if err := e.routing.Init(routings); err != nil {
		return nil, fmt.Errorf("initial routing: %w", err)
	}

	return e, nil
}

// NumberOfInputs returns the number of input channels.
func (e *engine) NumberOfInputs() int { return e.cfg.NumberOfInputs }

// NumberOfOutputs returns the number of output channels.
func (e *engine) NumberOfOutputs() int { return e.cfg.NumberOfOutputs }

// BlockLength returns the number of samples per block.
func (e *engine) BlockLength() int { return e.cfg.BlockLength }

// Config returns the construction parameters.
func (e *engine) Config() Config { return e.cfg }

// PartitionCount returns the number of partitions of a full-length filter.
func (e *engine) PartitionCount() int { return e.maxPartitions }

// BinsPerPartition returns the number of complex bins per partition.
func (e *engine) BinsPerPartition() int { return e.bins }

// NumberOfRoutingPoints returns the number of active routing entries.
func (e *engine) NumberOfRoutingPoints() int { return e.routing.Len() }

// MaxNumberOfRoutingPoints returns the routing table capacity.
func (e *engine) MaxNumberOfRoutingPoints() int { return e.routing.Capacity() }

// Routings returns a copy of the routing table in (Output, Input) order.
func (e *engine) Routings() []RoutingEntry { return e.routing.Entries() }

// InitRoutingTable replaces the routing table. On error the table is
// unchanged.
func (e *engine) InitRoutingTable(entries []RoutingEntry) error {
	return e.routing.Init(entries)
}

// SetRouting inserts or overwrites the routing for (input, output).
func (e *engine) SetRouting(input, output, filter int, gain float32) error {
	return e.routing.Set(RoutingEntry{Input: input, Output: output, Filter: filter, Gain: gain})
}

// RemoveRouting removes the routing for (input, output) and reports whether
// it existed.
func (e *engine) RemoveRouting(input, output int) bool {
	return e.routing.Remove(input, output)
}

// ClearRoutingTable removes all routings.
func (e *engine) ClearRoutingTable() {
	e.routing.Clear()
}

// TransformImpulseResponse returns the partitioned spectrum of ir in this
// engine's format. The result can be passed to SetTransformedFilter.
func (e *engine) TransformImpulseResponse(ir []float32) (FilterSpectrum, error) {
	return e.transformer.Transform(ir)
}

// Reset clears the input history and the delay line. Filters and routings
// are kept.
func (e *engine) Reset() {
	clear(e.history)
	clear(e.fdl)
	e.cursor = 0
}

// pushInputs transforms one block per input and makes it the newest entry
// of the delay line.
func (e *engine) pushInputs(input []float32, stride int) {
	b := e.cfg.BlockLength
	e.cursor++
	if e.cursor == e.maxPartitions {
		e.cursor = 0
	}

	for in := range e.cfg.NumberOfInputs {
		frame := e.history[in*2*b : (in+1)*2*b]
		copy(frame[:b], frame[b:])
		copy(frame[b:], input[in*stride:in*stride+b])

		// The transform may use its source as scratch, so feed it a copy.
		copy(e.timeBuf, frame)
		e.transform.Forward(e.delayed(in, 0), e.timeBuf)
	}
}

// delayed returns the spectrum of input in that is p blocks old.
func (e *engine) delayed(in, p int) []complex64 {
	slot := e.cursor - p
	if slot < 0 {
		slot += e.maxPartitions
	}

	offset := (in*e.maxPartitions + slot) * e.stride

	return e.fdl[offset : offset+e.bins]
}

// accumulate adds gain * H_p * X_{n-p} over the first partitions of filter
// into acc.
func (e *engine) accumulate(acc, filter []complex64, partitions, input int, gain float32) {
	g := complex(gain, 0)

	for p := range partitions {
		h := filter[p*e.stride : p*e.stride+e.bins]
		x := e.delayed(input, p)
		x = x[:len(h)]
		a := acc[:len(h)]

		for k := range h {
			a[k] += g * (h[k] * x[k])
		}
	}
}

// inverse writes the valid half of the inverse transform of spectrum to dst.
// spectrum may be overwritten.
func (e *engine) inverse(dst []float32, spectrum []complex64) {
	e.transform.Inverse(e.timeBuf, spectrum)
	copy(dst, e.timeBuf[e.cfg.BlockLength:])
}

// deinterleave copies interleaved frames into the planar input scratch.
func (e *engine) deinterleave(input []float32) {
	b := e.cfg.BlockLength
	n := e.cfg.NumberOfInputs

	for i := range b {
		for ch := range n {
			e.planarIn[ch*b+i] = input[i*n+ch]
		}
	}
}

// interleave copies the planar output scratch into interleaved frames.
func (e *engine) interleave(output []float32) {
	b := e.cfg.BlockLength
	n := e.cfg.NumberOfOutputs

	for i := range b {
		for ch := range n {
			output[i*n+ch] = e.planarOut[ch*b+i]
		}
	}
}
