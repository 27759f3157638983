package dsp

import (
	"fmt"
	"slices"
	"sync"
)

// DefaultTransform is the implementation used when no name is given.
const DefaultTransform = "algofft"

// Transform is a real-to-complex DFT of a fixed time-domain length.
//
// Forward writes Size()/2+1 bins. Inverse is normalised, so that
// Inverse(Forward(x)) reproduces x. Both methods may use src as scratch
// space. Buffer sizes are checked when the transform is created, not on
// every call.
type Transform interface {
	Size() int
	Forward(dst []complex64, src []float32)
	Inverse(dst []float32, src []complex64)
}

// TransformFactory creates a transform for the given time-domain size.
type TransformFactory func(size int) (Transform, error)

//nolint:gochecknoglobals // implementation registry, filled from init functions
var (
	transformsMu sync.RWMutex
	transforms   = map[string]TransformFactory{}
)

// RegisterTransform makes a transform implementation available under name.
// Registering the same name twice replaces the earlier factory.
func RegisterTransform(name string, factory TransformFactory) {
	transformsMu.Lock()
	defer transformsMu.Unlock()
	transforms[name] = factory
}

// NewTransform creates a transform of the given size from the named
// implementation. An empty name or "default" selects DefaultTransform.
func NewTransform(name string, size int) (Transform, error) {
	if name == "" || name == "default" {
		name = DefaultTransform
	}

	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: transform size %d is not a power of two", ErrInvalidArgument, size)
	}

	transformsMu.RLock()
	factory, ok := transforms[name]
	transformsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %w: %q (available: %v)", ErrInvalidArgument, ErrUnknownTransform, name, TransformNames())
	}

	t, err := factory(size)
	if err != nil {
		return nil, fmt.Errorf("create %s transform of size %d: %w", name, size, err)
	}

	return t, nil
}

// TransformNames lists the registered implementations in sorted order.
func TransformNames() []string {
	transformsMu.RLock()
	defer transformsMu.RUnlock()

	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
