package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"matrixconv/dsp"
	"matrixconv/internal/audiofile"
	"matrixconv/pkg/resampler"
)

// ErrVerify is returned when the rendered output does not match direct
// convolution.
var ErrVerify = errors.New("verification failed")

// verifyTolerance is the largest accepted difference from direct
// convolution in linear full scale.
const verifyTolerance = 1e-3

func runOffline(ctx context.Context, opts options, logger *slog.Logger) error {
	s, err := loadSession(ctx, opts, logger)
	if err != nil {
		return err
	}

	r, err := s.newRenderer(logger)
	if err != nil {
		return err
	}

	input, err := readInput(opts.input, s, logger)
	if err != nil {
		return err
	}

	hostBuffer := opts.hostBuffer
	if hostBuffer <= 0 {
		hostBuffer = s.convolver.BlockLength
	}

	frames := 0
	if len(input) > 0 {
		frames = len(input[0]) + s.convolver.MaxFilterLength - 1
	}

	logger.Info("rendering", "input", opts.input, "frames", frames, "hostBuffer", hostBuffer)

	output, err := renderOffline(r, input, frames, hostBuffer)
	if err != nil {
		return err
	}

	if opts.verify {
		maxErr := maxDeviation(input, s.matrix, r.Snapshot().Routings, output[0])

		logger.Info("verified output 0 against direct convolution", "maxError", maxErr)
		//nolint:forbidigo // CLI output
		fmt.Printf("verify: output 0 maximum error %.3g\n", maxErr)

		if maxErr > verifyTolerance {
			return fmt.Errorf("%w: maximum error %.3g exceeds %.3g", ErrVerify, maxErr, verifyTolerance)
		}
	}

	if err := audiofile.WriteWAV(opts.output, s.sampleRate, opts.bitDepth, output); err != nil {
		return err
	}

	logger.Info("output written", "file", opts.output, "channels", len(output), "bitDepth", opts.bitDepth)

	return nil
}

// readInput decodes path and matches it to the session sample rate and
// input count. Missing inputs are silent.
func readInput(path string, s *session, logger *slog.Logger) ([][]float32, error) {
	audio, err := audiofile.Read(path)
	if err != nil {
		return nil, err
	}

	rows := audio.Channels

	if audio.SampleRate != s.sampleRate {
		logger.Info("resampling input", "file", path, "from", audio.SampleRate, "to", s.sampleRate)

		rows, err = resampler.New(resampler.DefaultLobes).ResampleRows(rows, audio.SampleRate, s.sampleRate)
		if err != nil {
			return nil, err
		}
	}

	inputs := s.convolver.NumberOfInputs
	if len(rows) > inputs {
		logger.Warn("ignoring extra input channels", "file", path, "channels", len(rows), "inputs", inputs)
		rows = rows[:inputs]
	}

	frames := 0
	if len(rows) > 0 {
		frames = len(rows[0])
	}

	for len(rows) < inputs {
		rows = append(rows, make([]float32, frames))
	}

	return rows, nil
}

// renderOffline streams input through p in hostBuffer chunks and returns
// frames samples per output, with the block adapter latency removed.
func renderOffline(p dsp.Processor, input [][]float32, frames, hostBuffer int) ([][]float32, error) {
	if hostBuffer <= 0 {
		return nil, fmt.Errorf("%w: host buffer %d", dsp.ErrInvalidArgument, hostBuffer)
	}

	adapter := dsp.NewBlockAdapter(p)
	latency := adapter.Latency()
	total := frames + latency

	output := make([][]float32, p.NumberOfOutputs())
	for c := range output {
		output[c] = make([]float32, total)
	}

	in := make([][]float32, p.NumberOfInputs())
	for c := range in {
		in[c] = make([]float32, hostBuffer)
	}

	chunkIn := make([][]float32, len(in))
	chunkOut := make([][]float32, len(output))

	for pos := 0; pos < total; pos += hostBuffer {
		n := min(hostBuffer, total-pos)

		for c := range in {
			chunkIn[c] = in[c][:n]
			clear(chunkIn[c])

			if c < len(input) && pos < len(input[c]) {
				copy(chunkIn[c], input[c][pos:])
			}
		}

		for c := range output {
			chunkOut[c] = output[c][pos : pos+n]
		}

		if err := adapter.Process(chunkIn, chunkOut); err != nil {
			return nil, err
		}
	}

	for c := range output {
		output[c] = output[c][latency:]
	}

	return output, nil
}

// maxDeviation compares output against the direct convolution of every
// routing into output 0. Routings must be the collapsed table the renderer
// runs, with one entry per input and output.
func maxDeviation(input, filters [][]float32, routings []dsp.RoutingEntry, output []float32) float64 {
	ref := make([]float64, len(output))

	for _, e := range routings {
		if e.Output != 0 || e.Input >= len(input) || e.Filter >= len(filters) {
			continue
		}

		conv := dsp.DirectConvolve(toFloat64(input[e.Input]), toFloat64(filters[e.Filter]))
		for n := range min(len(ref), len(conv)) {
			ref[n] += float64(e.Gain) * conv[n]
		}
	}

	var maxErr float64
	for n, v := range output {
		maxErr = max(maxErr, math.Abs(float64(v)-ref[n]))
	}

	return maxErr
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}

	return out
}
