package dsp

import (
	"fmt"
)

// FilterSpectrum is the partitioned frequency-domain form of an impulse
// response. The response is split into partitions of BlockLength samples.
// Each partition is zero-padded to 2*BlockLength and transformed, which
// gives BlockLength+1 bins per partition.
//
// Bins always holds the full capacity of the producing engine
// (maxPartitions * (BlockLength+1)); partitions at or after Partitions are
// zero.
type FilterSpectrum struct {
	BlockLength int
	Partitions  int
	Bins        []complex64
}

// BinsPerPartition returns the number of complex bins of one partition.
func (s FilterSpectrum) BinsPerPartition() int {
	return s.BlockLength + 1
}

// Capacity returns the number of partitions Bins has room for.
func (s FilterSpectrum) Capacity() int {
	if s.BlockLength <= 0 {
		return 0
	}

	return len(s.Bins) / s.BinsPerPartition()
}

// Partition returns the bins of partition p.
func (s FilterSpectrum) Partition(p int) []complex64 {
	n := s.BinsPerPartition()
	return s.Bins[p*n : (p+1)*n]
}

// FilterTransformer converts time-domain impulse responses into
// FilterSpectrum values for one block length and maximum filter length.
// It owns its transform and scratch buffers, so a FilterTransformer must not
// be shared between goroutines; create one per goroutine instead.
type FilterTransformer struct {
	blockLength     int
	maxFilterLength int
	maxPartitions   int
	bins            int

	transform Transform
	frame     []float32
}

// NewFilterTransformer creates a transformer using the named transform
// implementation (see NewTransform).
func NewFilterTransformer(blockLength, maxFilterLength int, transform string) (*FilterTransformer, error) {
	if blockLength <= 0 {
		return nil, fmt.Errorf("%w: block length %d", ErrInvalidArgument, blockLength)
	}

	if maxFilterLength <= 0 {
		return nil, fmt.Errorf("%w: maximum filter length %d", ErrInvalidArgument, maxFilterLength)
	}

	t, err := NewTransform(transform, 2*blockLength)
	if err != nil {
		return nil, err
	}

	return &FilterTransformer{
		blockLength:     blockLength,
		maxFilterLength: maxFilterLength,
		maxPartitions:   partitionsFor(maxFilterLength, blockLength),
		bins:            blockLength + 1,
		transform:       t,
		frame:           make([]float32, 2*blockLength),
	}, nil
}

// BlockLength returns the partition length in samples.
func (ft *FilterTransformer) BlockLength() int {
	return ft.blockLength
}

// MaxFilterLength returns the longest accepted impulse response.
func (ft *FilterTransformer) MaxFilterLength() int {
	return ft.maxFilterLength
}

// PartitionCount returns the number of partitions of a full-length filter.
func (ft *FilterTransformer) PartitionCount() int {
	return ft.maxPartitions
}

// NewSpectrum allocates an empty spectrum with the full partition capacity.
func (ft *FilterTransformer) NewSpectrum() FilterSpectrum {
	return FilterSpectrum{
		BlockLength: ft.blockLength,
		Bins:        make([]complex64, ft.maxPartitions*ft.bins),
	}
}

// Transform returns the partitioned spectrum of ir.
func (ft *FilterTransformer) Transform(ir []float32) (FilterSpectrum, error) {
	spec := ft.NewSpectrum()
	if err := ft.TransformInto(&spec, ir); err != nil {
		return FilterSpectrum{}, err
	}

	return spec, nil
}

// TransformInto writes the partitioned spectrum of ir into dst, which must
// have been created by NewSpectrum (or have the same format). It does not
// allocate.
func (ft *FilterTransformer) TransformInto(dst *FilterSpectrum, ir []float32) error {
	if len(ir) > ft.maxFilterLength {
		return fmt.Errorf("%w: %w: impulse response has %d samples, maximum is %d",
			ErrInvalidArgument, ErrCapacityExceeded, len(ir), ft.maxFilterLength)
	}

	if err := ft.checkFormat(*dst); err != nil {
		return err
	}

	b := ft.blockLength
	used := partitionsFor(len(ir), b)

	for p := range used {
		start := p * b
		end := min(start+b, len(ir))

		n := copy(ft.frame, ir[start:end])
		clear(ft.frame[n:])

		ft.transform.Forward(dst.Partition(p), ft.frame)
	}

	clear(dst.Bins[used*ft.bins:])
	dst.Partitions = used

	return nil
}

// checkFormat reports whether spec matches this transformer's layout.
func (ft *FilterTransformer) checkFormat(spec FilterSpectrum) error {
	return checkSpectrum(spec, ft.blockLength, ft.maxPartitions)
}

func checkSpectrum(spec FilterSpectrum, blockLength, maxPartitions int) error {
	switch {
	case spec.BlockLength != blockLength:
		return fmt.Errorf("%w: %w: spectrum block length %d, engine uses %d",
			ErrInvalidArgument, ErrFormatMismatch, spec.BlockLength, blockLength)
	case len(spec.Bins) != maxPartitions*(blockLength+1):
		return fmt.Errorf("%w: %w: spectrum has %d bins, engine expects %d",
			ErrInvalidArgument, ErrFormatMismatch, len(spec.Bins), maxPartitions*(blockLength+1))
	case spec.Partitions < 0 || spec.Partitions > maxPartitions:
		return fmt.Errorf("%w: %w: spectrum uses %d partitions, engine supports %d",
			ErrInvalidArgument, ErrFormatMismatch, spec.Partitions, maxPartitions)
	}

	return nil
}

// partitionsFor returns ceil(length / blockLength).
func partitionsFor(length, blockLength int) int {
	return (length + blockLength - 1) / blockLength
}

// filterStore is the fixed arena holding the spectra of every filter slot,
// optionally in several banks. Partition p of (bank, slot) starts at
// ((bank*slots+slot)*maxPartitions + p) * stride; stride is bins rounded up
// to the configured alignment.
type filterStore struct {
	slots         int
	banks         int
	maxPartitions int
	bins          int
	stride        int

	data       []complex64
	partitions []int // active partitions per (bank, slot)
}

func newFilterStore(banks, slots, maxPartitions, bins, stride int) *filterStore {
	return &filterStore{
		slots:         slots,
		banks:         banks,
		maxPartitions: maxPartitions,
		bins:          bins,
		stride:        stride,
		data:          make([]complex64, banks*slots*maxPartitions*stride),
		partitions:    make([]int, banks*slots),
	}
}

// filter returns the arena region of one (bank, slot).
func (s *filterStore) filter(bank, slot int) []complex64 {
	size := s.maxPartitions * s.stride
	offset := (bank*s.slots + slot) * size

	return s.data[offset : offset+size]
}

func (s *filterStore) active(bank, slot int) int {
	return s.partitions[bank*s.slots+slot]
}

// store copies spec into (bank, slot). The format must have been checked.
func (s *filterStore) store(bank, slot int, spec FilterSpectrum) {
	dst := s.filter(bank, slot)
	clear(dst)

	for p := range spec.Partitions {
		copy(dst[p*s.stride:p*s.stride+s.bins], spec.Partition(p))
	}

	s.partitions[bank*s.slots+slot] = spec.Partitions
}

// load copies (bank, slot) into spec, which must have the full capacity.
func (s *filterStore) load(bank, slot int, spec *FilterSpectrum) {
	src := s.filter(bank, slot)
	clear(spec.Bins)

	n := s.active(bank, slot)
	for p := range n {
		copy(spec.Partition(p), src[p*s.stride:p*s.stride+s.bins])
	}

	spec.Partitions = n
}

// blend replaces (dst, slot) with (1-w)*(dst, slot) + w*(src, slot).
func (s *filterStore) blend(dstBank, srcBank, slot int, w float32) {
	dst := s.filter(dstBank, slot)
	src := s.filter(srcBank, slot)
	n := max(s.active(dstBank, slot), s.active(srcBank, slot))

	a := complex(1-w, 0)
	b := complex(w, 0)

	for i := range n * s.stride {
		dst[i] = a*dst[i] + b*src[i]
	}

	s.partitions[dstBank*s.slots+slot] = n
}

func (s *filterStore) clearSlot(bank, slot int) {
	clear(s.filter(bank, slot))
	s.partitions[bank*s.slots+slot] = 0
}

func (s *filterStore) clearAll() {
	clear(s.data)
	clear(s.partitions)
}
