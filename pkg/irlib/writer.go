package irlib

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"matrixconv/pkg/f16"
)

// Writer writes a library to an io.WriteSeeker. Call WriteHeader, then
// WriteFilter for each filter, optionally WriteRoutings, and finally Close.
type Writer struct {
	w        io.WriteSeeker
	encoding Encoding

	count         uint32
	offsets       []uint64
	metas         []Metadata
	routingOffset uint64
	pos           uint64
}

// NewWriter creates a writer storing samples with enc.
func NewWriter(w io.WriteSeeker, enc Encoding) (*Writer, error) {
	if enc.BytesPerSample() == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEncoding, enc)
	}

	return &Writer{w: w, encoding: enc}, nil
}

// WriteHeader writes the file header. filterCount is informational and is
// corrected by Close.
func (w *Writer) WriteHeader(filterCount int) error {
	w.count = uint32(filterCount)

	buf := make([]byte, 0, FileHeaderSize)
	buf = append(buf, MagicNumber...)
	buf = binary.LittleEndian.AppendUint16(buf, CurrentVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(w.encoding))
	buf = binary.LittleEndian.AppendUint32(buf, w.count)
	buf = binary.LittleEndian.AppendUint64(buf, 0) // index offset, patched by Close
	buf = binary.LittleEndian.AppendUint64(buf, 0) // routing offset, patched by Close

	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	w.pos = FileHeaderSize

	return nil
}

// WriteFilter writes one filter chunk.
func (w *Writer) WriteFilter(f *Filter) error {
	if err := f.validate(); err != nil {
		return err
	}

	meta := buildMetadataSubChunk(&f.Metadata)
	samples := w.buildSamplesSubChunk(f.Data)
	size := uint64(len(meta) + len(samples))

	if err := w.writeChunk(ChunkTypeFilter, size, meta, samples); err != nil {
		return fmt.Errorf("failed to write filter %q: %w", f.Metadata.Name, err)
	}

	w.offsets = append(w.offsets, w.pos)
	w.metas = append(w.metas, f.Metadata)
	w.pos += ChunkHeaderSize + size

	return nil
}

// WriteRoutings writes the routing chunk. At most one routing chunk may be
// written.
func (w *Writer) WriteRoutings(routings []Routing) error {
	if w.routingOffset != 0 {
		return fmt.Errorf("%w: routing chunk already written", ErrInvalidChunk)
	}

	body := make([]byte, 0, 4+routingEntrySize*len(routings))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(routings)))

	for _, r := range routings {
		if r.Input < 0 || r.Output < 0 || r.Filter < 0 {
			return fmt.Errorf("%w: negative index in routing %+v", ErrInvalidChunk, r)
		}

		body = binary.LittleEndian.AppendUint32(body, uint32(r.Input))
		body = binary.LittleEndian.AppendUint32(body, uint32(r.Output))
		body = binary.LittleEndian.AppendUint32(body, uint32(r.Filter))
		body = binary.LittleEndian.AppendUint32(body, math.Float32bits(r.Gain))
	}

	if err := w.writeChunk(ChunkTypeRouting, uint64(len(body)), body); err != nil {
		return fmt.Errorf("failed to write routings: %w", err)
	}

	w.routingOffset = w.pos
	w.pos += ChunkHeaderSize + uint64(len(body))

	return nil
}

// Close writes the index chunk and patches the header offsets.
func (w *Writer) Close() error {
	indexOffset := w.pos
	index := w.buildIndexChunk()

	if err := w.writeChunk(ChunkTypeIndex, uint64(len(index)), index); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	w.pos += ChunkHeaderSize + uint64(len(index))

	patch := binary.LittleEndian.AppendUint32(nil, uint32(len(w.offsets)))
	if err := w.patch(countField, patch); err != nil {
		return err
	}

	offsets := binary.LittleEndian.AppendUint64(nil, indexOffset)
	offsets = binary.LittleEndian.AppendUint64(offsets, w.routingOffset)

	if err := w.patch(offsetsField, offsets); err != nil {
		return err
	}

	if _, err := w.w.Seek(int64(w.pos), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	return nil
}

func (w *Writer) patch(offset int64, data []byte) error {
	if _, err := w.w.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to header field %d: %w", offset, err)
	}

	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("failed to patch header field %d: %w", offset, err)
	}

	return nil
}

func (w *Writer) writeChunk(id string, size uint64, parts ...[]byte) error {
	header := make([]byte, 0, ChunkHeaderSize)
	header = append(header, id...)
	header = binary.LittleEndian.AppendUint64(header, size)

	if _, err := w.w.Write(header); err != nil {
		return err
	}

	for _, p := range parts {
		if _, err := w.w.Write(p); err != nil {
			return err
		}
	}

	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// buildMetadataSubChunk encodes the META sub-chunk.
func buildMetadataSubChunk(meta *Metadata) []byte {
	body := make([]byte, 0, 64)
	body = binary.LittleEndian.AppendUint64(body, math.Float64bits(meta.SampleRate))
	body = binary.LittleEndian.AppendUint32(body, uint32(meta.Channels))
	body = binary.LittleEndian.AppendUint32(body, uint32(meta.Length))
	body = appendString(body, meta.Name)
	body = appendString(body, meta.Description)
	body = appendString(body, meta.Category)
	body = binary.LittleEndian.AppendUint16(body, uint16(len(meta.Tags)))

	for _, tag := range meta.Tags {
		body = appendString(body, tag)
	}

	buf := make([]byte, 0, SubChunkHeaderSize+len(body))
	buf = append(buf, ChunkTypeMeta...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))

	return append(buf, body...)
}

// buildSamplesSubChunk encodes the SAMP sub-chunk with interleaved samples.
func (w *Writer) buildSamplesSubChunk(data [][]float32) []byte {
	channels := len(data)
	length := 0

	if channels > 0 {
		length = len(data[0])
	}

	size := channels * length * w.encoding.BytesPerSample()

	buf := make([]byte, 0, SubChunkHeaderSize+size)
	buf = append(buf, ChunkTypeSamples...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))

	frame := make([]float32, channels)

	for i := range length {
		for ch := range channels {
			frame[ch] = data[ch][i]
		}

		switch w.encoding {
		case EncodingF16:
			buf = f16.Encode(buf, frame)
		case EncodingF32:
			for _, v := range frame {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
			}
		}
	}

	return buf
}

// buildIndexChunk encodes the INDX body.
func (w *Writer) buildIndexChunk() []byte {
	buf := make([]byte, 0, 64*len(w.metas))

	for i, meta := range w.metas {
		buf = binary.LittleEndian.AppendUint64(buf, w.offsets[i])
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(meta.SampleRate))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(meta.Channels))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(meta.Length))
		buf = appendString(buf, meta.Name)
		buf = appendString(buf, meta.Category)
	}

	return buf
}

// WriteLibrary writes lib in one call.
func WriteLibrary(w io.WriteSeeker, lib *Library) error {
	writer, err := NewWriter(w, lib.Encoding)
	if err != nil {
		return err
	}

	if err := writer.WriteHeader(len(lib.Filters)); err != nil {
		return err
	}

	for _, f := range lib.Filters {
		if err := writer.WriteFilter(f); err != nil {
			return err
		}
	}

	if lib.Routings != nil {
		if err := writer.WriteRoutings(lib.Routings); err != nil {
			return err
		}
	}

	return writer.Close()
}
