package irlib

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"matrixconv/pkg/f16"
)

// Reader reads a library from an io.ReadSeeker. The index and the routing
// chunk are read when the reader is created; samples are read on demand.
type Reader struct {
	r             io.ReadSeeker
	version       uint16
	encoding      Encoding
	count         uint32
	indexOffset   uint64
	routingOffset uint64
	index         []IndexEntry
}

// NewReader parses the header and the index. It returns an error if r does
// not hold a valid library.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	reader := &Reader{r: r}

	if err := reader.readHeader(); err != nil {
		return nil, err
	}

	if err := reader.readIndex(); err != nil {
		return nil, err
	}

	return reader, nil
}

func corrupted(err error) error {
	return fmt.Errorf("%w: %w", ErrCorruptedData, err)
}

func (r *Reader) readHeader() error {
	var header [FileHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return corrupted(err)
	}

	if string(header[:4]) != MagicNumber {
		return ErrInvalidMagic
	}

	r.version = binary.LittleEndian.Uint16(header[4:])
	if r.version != CurrentVersion {
		return fmt.Errorf("%w: got version %d, expected %d", ErrUnsupportedVersion, r.version, CurrentVersion)
	}

	r.encoding = Encoding(binary.LittleEndian.Uint16(header[6:]))
	if r.encoding.BytesPerSample() == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownEncoding, uint16(r.encoding))
	}

	r.count = binary.LittleEndian.Uint32(header[countField:])
	r.indexOffset = binary.LittleEndian.Uint64(header[offsetsField:])
	r.routingOffset = binary.LittleEndian.Uint64(header[offsetsField+8:])

	return nil
}

// expectChunk seeks to offset and reads a chunk header of the given type.
func (r *Reader) expectChunk(offset uint64, id string) (uint64, error) {
	if _, err := r.r.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, corrupted(err)
	}

	var header [ChunkHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return 0, corrupted(err)
	}

	if string(header[:4]) != id {
		return 0, fmt.Errorf("%w: expected %s chunk, got %q", ErrInvalidChunk, id, string(header[:4]))
	}

	return binary.LittleEndian.Uint64(header[4:]), nil
}

// expectSubChunk reads a sub-chunk header of the given type.
func (r *Reader) expectSubChunk(id string) (uint32, error) {
	var header [SubChunkHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return 0, corrupted(err)
	}

	if string(header[:4]) != id {
		return 0, fmt.Errorf("%w: expected %s sub-chunk, got %q", ErrInvalidChunk, id, string(header[:4]))
	}

	return binary.LittleEndian.Uint32(header[4:]), nil
}

func (r *Reader) readIndex() error {
	if _, err := r.expectChunk(r.indexOffset, ChunkTypeIndex); err != nil {
		return err
	}

	r.index = make([]IndexEntry, 0, min(r.count, 1<<16))

	for range r.count {
		var entry IndexEntry

		var fixed [24]byte
		if _, err := io.ReadFull(r.r, fixed[:]); err != nil {
			return corrupted(err)
		}

		entry.Offset = binary.LittleEndian.Uint64(fixed[0:])
		entry.SampleRate = math.Float64frombits(binary.LittleEndian.Uint64(fixed[8:]))
		entry.Channels = int(binary.LittleEndian.Uint32(fixed[16:]))
		entry.Length = int(binary.LittleEndian.Uint32(fixed[20:]))

		var err error
		if entry.Name, err = r.readString(); err != nil {
			return err
		}

		if entry.Category, err = r.readString(); err != nil {
			return err
		}

		r.index = append(r.index, entry)
	}

	return nil
}

// readString reads a length-prefixed UTF-8 string.
func (r *Reader) readString() (string, error) {
	var n uint16
	if err := binary.Read(r.r, binary.LittleEndian, &n); err != nil {
		return "", corrupted(err)
	}

	if n == 0 {
		return "", nil
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return "", corrupted(err)
	}

	return string(data), nil
}

// Version returns the format version of the library.
func (r *Reader) Version() uint16 { return r.version }

// Encoding returns the sample encoding of the library.
func (r *Reader) Encoding() Encoding { return r.encoding }

// Len returns the number of filters.
func (r *Reader) Len() int { return int(r.count) }

// HasRoutings reports whether the library carries a routing chunk.
func (r *Reader) HasRoutings() bool { return r.routingOffset != 0 }

// List returns the index entries of all filters without reading samples.
func (r *Reader) List() []IndexEntry {
	return append([]IndexEntry(nil), r.index...)
}

// Load reads filter i.
func (r *Reader) Load(i int) (*Filter, error) {
	if i < 0 || i >= len(r.index) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidIndex, i, len(r.index))
	}

	if _, err := r.expectChunk(r.index[i].Offset, ChunkTypeFilter); err != nil {
		return nil, err
	}

	f := &Filter{}
	if err := r.readMetadataSubChunk(&f.Metadata); err != nil {
		return nil, err
	}

	data, err := r.readSamplesSubChunk(f.Metadata.Channels, f.Metadata.Length)
	if err != nil {
		return nil, err
	}

	f.Data = data

	return f, nil
}

// LoadByName reads the first filter with the given name.
func (r *Reader) LoadByName(name string) (*Filter, error) {
	for i, entry := range r.index {
		if entry.Name == name {
			return r.Load(i)
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrFilterNotFound, name)
}

// Routings reads the routing chunk. It returns nil if the library has none.
func (r *Reader) Routings() ([]Routing, error) {
	if r.routingOffset == 0 {
		return nil, nil
	}

	size, err := r.expectChunk(r.routingOffset, ChunkTypeRouting)
	if err != nil {
		return nil, err
	}

	var count uint32
	if err := binary.Read(r.r, binary.LittleEndian, &count); err != nil {
		return nil, corrupted(err)
	}

	if uint64(count)*routingEntrySize+4 != size {
		return nil, fmt.Errorf("%w: routing chunk of %d bytes cannot hold %d entries", ErrCorruptedData, size, count)
	}

	body := make([]byte, int(count)*routingEntrySize)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, corrupted(err)
	}

	routings := make([]Routing, count)
	for i := range routings {
		e := body[i*routingEntrySize:]
		routings[i] = Routing{
			Input:  int(binary.LittleEndian.Uint32(e[0:])),
			Output: int(binary.LittleEndian.Uint32(e[4:])),
			Filter: int(binary.LittleEndian.Uint32(e[8:])),
			Gain:   math.Float32frombits(binary.LittleEndian.Uint32(e[12:])),
		}
	}

	return routings, nil
}

func (r *Reader) readMetadataSubChunk(meta *Metadata) error {
	if _, err := r.expectSubChunk(ChunkTypeMeta); err != nil {
		return err
	}

	var fixed [16]byte
	if _, err := io.ReadFull(r.r, fixed[:]); err != nil {
		return corrupted(err)
	}

	meta.SampleRate = math.Float64frombits(binary.LittleEndian.Uint64(fixed[0:]))
	meta.Channels = int(binary.LittleEndian.Uint32(fixed[8:]))
	meta.Length = int(binary.LittleEndian.Uint32(fixed[12:]))

	for _, s := range []*string{&meta.Name, &meta.Description, &meta.Category} {
		v, err := r.readString()
		if err != nil {
			return err
		}

		*s = v
	}

	var tagCount uint16
	if err := binary.Read(r.r, binary.LittleEndian, &tagCount); err != nil {
		return corrupted(err)
	}

	meta.Tags = make([]string, tagCount)
	for i := range meta.Tags {
		tag, err := r.readString()
		if err != nil {
			return err
		}

		meta.Tags[i] = tag
	}

	return nil
}

// readSamplesSubChunk reads and de-interleaves the SAMP sub-chunk.
func (r *Reader) readSamplesSubChunk(channels, length int) ([][]float32, error) {
	size, err := r.expectSubChunk(ChunkTypeSamples)
	if err != nil {
		return nil, err
	}

	bps := r.encoding.BytesPerSample()
	if channels <= 0 || uint64(size) != uint64(channels)*uint64(length)*uint64(bps) {
		return nil, fmt.Errorf("%w: %d sample bytes for %d channels of %d samples", ErrCorruptedData, size, channels, length)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(r.r, raw); err != nil {
		return nil, corrupted(err)
	}

	var interleaved []float32

	switch r.encoding {
	case EncodingF16:
		interleaved, err = f16.Decode(raw)
		if err != nil {
			return nil, corrupted(err)
		}
	case EncodingF32:
		interleaved = make([]float32, len(raw)/4)
		for i := range interleaved {
			interleaved[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}

	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, length)
		for i := range length {
			data[ch][i] = interleaved[i*channels+ch]
		}
	}

	return data, nil
}

// ReadLibrary reads a complete library.
func ReadLibrary(r io.ReadSeeker) (*Library, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}

	lib := &Library{
		Version:  reader.version,
		Encoding: reader.encoding,
		Filters:  make([]*Filter, 0, len(reader.index)),
	}

	for i := range reader.index {
		f, err := reader.Load(i)
		if err != nil {
			return nil, fmt.Errorf("failed to load filter %d: %w", i, err)
		}

		lib.Filters = append(lib.Filters, f)
	}

	if lib.Routings, err = reader.Routings(); err != nil {
		return nil, err
	}

	return lib, nil
}
