package dsp

import (
	"fmt"
)

// BlockAdapter lets a fixed-block Processor run on host buffers of any
// length. Input is collected into full blocks; output is served from the
// previously processed block, which adds exactly BlockLength samples of
// latency.
type BlockAdapter struct {
	proc        Processor
	blockLength int

	inputBuffer  []float32 // planar, one block per input
	outputBuffer []float32 // planar, one block per output
	position     int       // position within the current block
}

// NewBlockAdapter wraps proc.
func NewBlockAdapter(proc Processor) *BlockAdapter {
	b := proc.BlockLength()

	return &BlockAdapter{
		proc:         proc,
		blockLength:  b,
		inputBuffer:  make([]float32, proc.NumberOfInputs()*b),
		outputBuffer: make([]float32, proc.NumberOfOutputs()*b),
	}
}

// Latency returns the delay added by the adapter in samples.
func (a *BlockAdapter) Latency() int {
	return a.blockLength
}

// Process consumes len(input[c]) samples per input channel and produces the
// same number per output channel. All channel buffers must have equal
// length.
func (a *BlockAdapter) Process(input, output [][]float32) error {
	if len(input) != a.proc.NumberOfInputs() || len(output) != a.proc.NumberOfOutputs() {
		return fmt.Errorf("%w: got %d inputs and %d outputs, want %d and %d", ErrInvalidArgument,
			len(input), len(output), a.proc.NumberOfInputs(), a.proc.NumberOfOutputs())
	}

	frames := -1

	for _, group := range [2][][]float32{input, output} {
		for _, ch := range group {
			if frames >= 0 && len(ch) != frames {
				return fmt.Errorf("%w: channel buffers differ in length (%d != %d)", ErrInvalidArgument, len(ch), frames)
			}

			frames = len(ch)
		}
	}

	b := a.blockLength
	current := 0

	for current < frames {
		n := min(b-a.position, frames-current)

		for ch, buf := range input {
			copy(a.inputBuffer[ch*b+a.position:], buf[current:current+n])
		}

		for ch, buf := range output {
			copy(buf[current:current+n], a.outputBuffer[ch*b+a.position:ch*b+a.position+n])
		}

		a.position += n
		current += n

		if a.position == b {
			a.proc.Process(a.inputBuffer, b, a.outputBuffer, b)
			a.position = 0
		}
	}

	return nil
}

// Reset discards buffered samples. It does not reset the wrapped processor.
func (a *BlockAdapter) Reset() {
	clear(a.inputBuffer)
	clear(a.outputBuffer)
	a.position = 0
}
