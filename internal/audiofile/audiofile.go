// Package audiofile decodes WAV and AIFF files into planar float32 channels
// and writes planar channels back to WAV.
package audiofile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Errors.
var (
	ErrUnsupportedFormat   = errors.New("audiofile: unsupported file format")
	ErrInvalidFile         = errors.New("audiofile: invalid audio file")
	ErrUnsupportedBitDepth = errors.New("audiofile: unsupported bit depth")
	ErrNoChannels          = errors.New("audiofile: no channels")
)

// Format identifies a container format.
type Format string

// Supported formats.
const (
	WAV  Format = "wav"
	AIFF Format = "aiff"
)

// FormatFromPath infers the container format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return WAV, nil
	case ".aif", ".aiff", ".aifc":
		return AIFF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Audio is a decoded file.
type Audio struct {
	SampleRate int
	BitDepth   int
	// Channels is organised as [channel][sample].
	Channels [][]float32
}

// NumFrames returns the number of samples per channel.
func (a *Audio) NumFrames() int {
	if len(a.Channels) == 0 {
		return 0
	}

	return len(a.Channels[0])
}

// Duration returns the playing time.
func (a *Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(a.NumFrames()) / float64(a.SampleRate) * float64(time.Second))
}

// pcmDecoder is the part of the go-audio decoders used here.
type pcmDecoder interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// Read decodes the file at path, choosing the decoder by extension.
func Read(path string) (*Audio, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return a, nil
}

// Decode reads a complete file of the given format from r.
func Decode(r io.ReadSeeker, format Format) (*Audio, error) {
	var (
		dec      pcmDecoder
		bitDepth int
	)

	switch format {
	case WAV:
		d := wav.NewDecoder(r)
		if !d.IsValidFile() {
			return nil, fmt.Errorf("%w: not a WAV file", ErrInvalidFile)
		}

		d.ReadInfo()
		dec, bitDepth = d, int(d.BitDepth)

	case AIFF:
		d := aiff.NewDecoder(r)
		if !d.IsValidFile() {
			return nil, fmt.Errorf("%w: not an AIFF file", ErrInvalidFile)
		}

		d.ReadInfo()
		dec, bitDepth = d, int(d.BitDepth)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	return decodePCM(dec, bitDepth)
}

// fullScale returns the integer value that maps to 1.0.
func fullScale(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16, 24, 32:
		return float32(math.Ldexp(1, bitDepth-1)), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
}

// decodePCM drains dec and de-interleaves the samples.
func decodePCM(dec pcmDecoder, bitDepth int) (*Audio, error) {
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 {
		return nil, ErrNoChannels
	}

	scale, err := fullScale(bitDepth)
	if err != nil {
		return nil, err
	}

	numChannels := format.NumChannels
	a := &Audio{
		SampleRate: format.SampleRate,
		BitDepth:   bitDepth,
		Channels:   make([][]float32, numChannels),
	}

	buf := &goaudio.IntBuffer{
		Data:   make([]int, 4096*numChannels),
		Format: format,
	}

	// A partial frame at the end of a chunk is carried over.
	var pending []int

	for {
		n, err := dec.PCMBuffer(buf)
		if n > 0 {
			samples := append(pending, buf.Data[:n]...)
			frames := len(samples) / numChannels

			for ch := range numChannels {
				for i := range frames {
					a.Channels[ch] = append(a.Channels[ch], float32(samples[i*numChannels+ch])/scale)
				}
			}

			pending = append(pending[:0], samples[frames*numChannels:]...)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}

		if n == 0 {
			break
		}
	}

	return a, nil
}

// WriteWAV writes planar channels to a PCM WAV file. Samples are clipped
// to [-1, 1].
func WriteWAV(path string, sampleRate, bitDepth int, channels [][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := EncodeWAV(f, sampleRate, bitDepth, channels); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	return f.Close()
}

// EncodeWAV writes planar channels as PCM WAV to w.
func EncodeWAV(w io.WriteSeeker, sampleRate, bitDepth int, channels [][]float32) error {
	if len(channels) == 0 {
		return ErrNoChannels
	}

	scale, err := fullScale(bitDepth)
	if err != nil {
		return err
	}

	numChannels := len(channels)
	frames := len(channels[0])

	for ch, samples := range channels {
		if len(samples) != frames {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrInvalidFile, ch, len(samples), frames)
		}
	}

	maxInt := float64(scale) - 1
	minInt := -float64(scale)

	buf := &goaudio.IntBuffer{
		Data:           make([]int, frames*numChannels),
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}

	for i := range frames {
		for ch := range numChannels {
			v := math.Round(float64(channels[ch][i]) * float64(scale))
			buf.Data[i*numChannels+ch] = int(math.Max(minInt, math.Min(maxInt, v)))
		}
	}

	enc := wav.NewEncoder(w, sampleRate, bitDepth, numChannels, 1)

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalise WAV: %w", err)
	}

	return nil
}
