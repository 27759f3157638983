package dsp

import "fmt"

// Config holds the construction parameters shared by all convolvers. All
// storage is sized from these values once; nothing grows afterwards.
type Config struct {
	NumberOfInputs  int
	NumberOfOutputs int

	// BlockLength is the number of samples per Process call. It must be a
	// power of two.
	BlockLength int

	// MaxFilterLength bounds every impulse response in samples.
	MaxFilterLength int

	// MaxRoutingPoints is the routing table capacity.
	MaxRoutingPoints int

	// MaxFilterEntries is the number of filter slots.
	MaxFilterEntries int

	// TransitionSamples is the crossfade length used by the crossfading
	// and interpolating convolvers. Zero makes every filter update
	// immediate. Ignored by Convolver.
	TransitionSamples int

	// Alignment, in elements, rounds the per-partition stride of the
	// spectrum arenas. Zero means no rounding. Must be a power of two.
	Alignment int

	// Transform names the transform implementation (see TransformNames).
	Transform string
}

// Validate checks the configuration for values no engine can be built from.
func (c Config) Validate() error {
	switch {
	case c.NumberOfInputs <= 0:
		return fmt.Errorf("%w: number of inputs %d", ErrInvalidArgument, c.NumberOfInputs)
	case c.NumberOfOutputs <= 0:
		return fmt.Errorf("%w: number of outputs %d", ErrInvalidArgument, c.NumberOfOutputs)
	case c.BlockLength <= 0 || c.BlockLength&(c.BlockLength-1) != 0:
		return fmt.Errorf("%w: block length %d is not a power of two", ErrInvalidArgument, c.BlockLength)
	case c.MaxFilterLength <= 0:
		return fmt.Errorf("%w: maximum filter length %d", ErrInvalidArgument, c.MaxFilterLength)
	case c.MaxRoutingPoints < 0:
		return fmt.Errorf("%w: maximum routing points %d", ErrInvalidArgument, c.MaxRoutingPoints)
	case c.MaxFilterEntries <= 0:
		return fmt.Errorf("%w: maximum filter entries %d", ErrInvalidArgument, c.MaxFilterEntries)
	case c.TransitionSamples < 0:
		return fmt.Errorf("%w: transition samples %d", ErrInvalidArgument, c.TransitionSamples)
	case c.Alignment < 0 || (c.Alignment > 0 && c.Alignment&(c.Alignment-1) != 0):
		return fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidArgument, c.Alignment)
	}

	return nil
}

// PartitionCount returns the number of partitions of a full-length filter.
func (c Config) PartitionCount() int {
	return partitionsFor(c.MaxFilterLength, c.BlockLength)
}

// CheckSpectrum reports whether spec can be stored by a convolver built
// from c. It applies the checks of SetTransformedFilter.
func (c Config) CheckSpectrum(spec FilterSpectrum) error {
	return checkSpectrum(spec, c.BlockLength, c.PartitionCount())
}

// BinsPerPartition returns the number of complex bins per partition.
func (c Config) BinsPerPartition() int {
	return c.BlockLength + 1
}

// stride returns BinsPerPartition rounded up to the alignment.
func (c Config) stride() int {
	bins := c.BinsPerPartition()
	if c.Alignment <= 1 {
		return bins
	}

	return (bins + c.Alignment - 1) &^ (c.Alignment - 1)
}
