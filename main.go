// Command matrixconv renders audio through a multichannel partitioned
// convolution matrix.
//
// Offline it reads an audio file, convolves every routed input with its
// filter and writes the mixed outputs to a WAV file. With -live it runs
// the renderer on a real-time clock and controls it from a terminal UI,
// a web UI and an optional watched session file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"matrixconv/dsp"
	"matrixconv/internal/config"
)

// ErrUsage marks command line errors.
var ErrUsage = errors.New("usage")

type options struct {
	configPath string

	inputs          int
	outputs         int
	routings        string
	maxRoutings     int
	maxFilterLength int
	maxFilters      int
	filters         string
	period          int
	sampleRate      int
	fftLibrary      string
	listFFT         bool
	transition      int

	input      string
	output     string
	bitDepth   int
	hostBuffer int
	verify     bool

	live      bool
	noTUI     bool
	noWeb     bool
	port      int
	noBrowser bool
	watch     bool
	logFile   string
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options

	fs.StringVar(&opts.configPath, "config", "", "JSON session file (filter sets, routings, dimensions)")
	fs.IntVar(&opts.inputs, "input-channels", 0, "Number of input channels")
	fs.IntVar(&opts.outputs, "output-channels", 0, "Number of output channels")
	fs.StringVar(&opts.routings, "routings", "", "Routing list as a JSON string or file")
	fs.IntVar(&opts.maxRoutings, "max-routings", 0, "Routing capacity (default: inputs*outputs)")
	fs.IntVar(&opts.maxFilterLength, "max-filter-length", config.DefaultMaxFilterLength, "Maximum filter length in samples")
	fs.IntVar(&opts.maxFilters, "max-filters", 0, "Number of filter slots (default: channels of -filters)")
	fs.StringVar(&opts.filters, "filters", "", "Multichannel audio file or .irlib, channel i fills slot i")
	fs.IntVar(&opts.period, "period", config.DefaultBlockLength, "Block length in samples (power of two)")
	fs.IntVar(&opts.sampleRate, "sampling-frequency", config.DefaultSampleRate, "Sample rate in Hz")
	fs.StringVar(&opts.fftLibrary, "fft-library", dsp.DefaultTransform, "FFT implementation")
	fs.BoolVar(&opts.listFFT, "list-fft-libraries", false, "List FFT implementations and exit")
	fs.IntVar(&opts.transition, "transition-samples", 0, "Crossfade length when switching filter sets")

	fs.StringVar(&opts.input, "input", "", "Input audio file (WAV or AIFF)")
	fs.StringVar(&opts.output, "output", "", "Output WAV file")
	fs.IntVar(&opts.bitDepth, "bit-depth", 24, "Output bit depth (16, 24 or 32)")
	fs.IntVar(&opts.hostBuffer, "host-buffer", 0, "Host buffer size in samples (default: period)")
	fs.BoolVar(&opts.verify, "verify", false, "Compare output 0 against direct time-domain convolution")

	fs.BoolVar(&opts.live, "live", false, "Run in real time with the control UIs")
	fs.BoolVar(&opts.noTUI, "no-tui", false, "Disable interactive TUI")
	fs.BoolVar(&opts.noWeb, "no-web", false, "Disable web server")
	fs.IntVar(&opts.port, "port", 8080, "Web server port")
	fs.BoolVar(&opts.noBrowser, "no-browser", false, "Don't auto-open browser")
	fs.BoolVar(&opts.watch, "watch", false, "Reload routings when the -config file changes")
	fs.StringVar(&opts.logFile, "log", "matrixconv.log", "Log file path")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch {
	case opts.listFFT:
	case opts.configPath != "" && (opts.filters != "" || opts.routings != ""):
		return opts, fmt.Errorf("%w: -config cannot be combined with -filters or -routings", ErrUsage)
	case opts.watch && opts.configPath == "":
		return opts, fmt.Errorf("%w: -watch needs -config", ErrUsage)
	case !opts.live && (opts.input == "" || opts.output == ""):
		return opts, fmt.Errorf("%w: offline rendering needs -input and -output (or use -live)", ErrUsage)
	case opts.verify && opts.filters == "":
		return opts, fmt.Errorf("%w: -verify needs -filters", ErrUsage)
	}

	return opts, nil
}

func main() {
	fs := flag.NewFlagSet("matrixconv", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: matrixconv [options]\n\n")
		fmt.Fprintf(fs.Output(), "Examples:\n")
		fmt.Fprintf(fs.Output(), "  matrixconv -config session.json -input in.wav -output out.wav\n")
		fmt.Fprintf(fs.Output(), "  matrixconv -input-channels 2 -output-channels 2 -filters brir.wav \\\n")
		fmt.Fprintf(fs.Output(), "      -routings '[{\"input\":\"0:1\",\"output\":\"0:1\",\"filter\":\"0:1\"}]' -input in.wav -output out.wav\n")
		fmt.Fprintf(fs.Output(), "  matrixconv -config session.json -live -watch\n\n")
		fmt.Fprintf(fs.Output(), "Options:\n")
		fs.PrintDefaults()
	}

	opts, err := parseFlags(fs, os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}

	if err != nil {
		// FlagSet.Parse has already reported its own errors.
		if errors.Is(err, ErrUsage) {
			fmt.Fprintln(os.Stderr, "ERROR:", err)
			fs.Usage()
		}

		os.Exit(2)
	}

	if opts.listFFT {
		for _, name := range dsp.TransformNames() {
			//nolint:forbidigo // CLI output
			fmt.Println(name)
		}

		return
	}

	file, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)
	logger.Info("starting matrixconv", "args", os.Args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.live {
		err = runLive(ctx, opts, logger)
	} else {
		err = runOffline(ctx, opts, logger)
	}

	if err != nil {
		logger.Error("matrixconv failed", "error", err)
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
