package dsp

import "errors"

// Error kinds reported by the configuration calls of the convolvers.
// A single error may carry more than one kind, e.g. a routing table that is
// full reports both ErrInvalidArgument and ErrCapacityExceeded.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOutOfRange       = errors.New("index out of range")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrFormatMismatch   = errors.New("filter spectrum format mismatch")
	ErrUnknownTransform = errors.New("unknown transform implementation")
)
