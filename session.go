package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"matrixconv/dsp"
	"matrixconv/internal/config"
	"matrixconv/internal/filterload"
	"matrixconv/renderer"
)

// session is everything needed to build a renderer.
type session struct {
	convolver  dsp.Config
	sampleRate int
	sets       []filterload.Set
	initialSet string
	routings   []dsp.RoutingEntry

	// matrix holds the time-domain filters of -filters, slot by slot.
	matrix [][]float32
}

// loadSession builds the session from -config or from the individual flags.
func loadSession(ctx context.Context, opts options, logger *slog.Logger) (*session, error) {
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}

		return sessionFromConfig(ctx, cfg, logger)
	}

	return sessionFromFlags(opts, logger)
}

func sessionFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	routings, err := cfg.RoutingEntries()
	if err != nil {
		return nil, err
	}

	sets, err := filterload.NewLoader(cfg, logger).LoadSets(ctx, cfg.FilterSets)
	if err != nil {
		return nil, err
	}

	logger.Info("session loaded", "filterSets", len(sets), "routings", len(routings),
		"inputs", cfg.Inputs, "outputs", cfg.Outputs, "blockLength", cfg.BlockLength)

	return &session{
		convolver:  cfg.ConvolverConfig(),
		sampleRate: cfg.SampleRate,
		sets:       sets,
		initialSet: cfg.InitialFilterSet,
		routings:   routings,
	}, nil
}

func sessionFromFlags(opts options, logger *slog.Logger) (*session, error) {
	if opts.inputs <= 0 || opts.outputs <= 0 {
		return nil, fmt.Errorf("%w: -input-channels and -output-channels are required without -config", ErrUsage)
	}

	s := &session{
		sampleRate: opts.sampleRate,
		convolver: dsp.Config{
			NumberOfInputs:    opts.inputs,
			NumberOfOutputs:   opts.outputs,
			BlockLength:       opts.period,
			MaxFilterLength:   opts.maxFilterLength,
			MaxRoutingPoints:  opts.maxRoutings,
			MaxFilterEntries:  opts.maxFilters,
			TransitionSamples: opts.transition,
			Transform:         opts.fftLibrary,
		},
	}

	if opts.routings != "" {
		data, err := routingSource(opts.routings)
		if err != nil {
			return nil, err
		}

		s.routings, err = config.ParseRoutings(data)
		if err != nil {
			return nil, err
		}
	}

	if opts.filters != "" {
		loader := &filterload.Loader{
			BlockLength:     opts.period,
			MaxFilterLength: opts.maxFilterLength,
			SampleRate:      opts.sampleRate,
			Transform:       opts.fftLibrary,
			Logger:          logger,
		}

		rows, err := loader.ReadMatrix(opts.filters)
		if err != nil {
			return nil, err
		}

		set, err := loader.MatrixSet(opts.filters, rows)
		if err != nil {
			return nil, err
		}

		s.matrix = rows

		s.sets = []filterload.Set{set}
		s.initialSet = set.Name
	}

	cfg := &s.convolver
	if cfg.MaxRoutingPoints == 0 {
		cfg.MaxRoutingPoints = max(cfg.NumberOfInputs*cfg.NumberOfOutputs, len(s.routings))
	}

	if cfg.MaxFilterEntries == 0 {
		cfg.MaxFilterEntries = 1

		if len(s.sets) > 0 {
			cfg.MaxFilterEntries = max(cfg.MaxFilterEntries, len(s.sets[0].Filters))
		}

		for _, e := range s.routings {
			cfg.MaxFilterEntries = max(cfg.MaxFilterEntries, e.Filter+1)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// routingSource returns inline JSON as is and reads anything else as a file.
func routingSource(arg string) ([]byte, error) {
	trimmed := strings.TrimSpace(arg)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}

	return os.ReadFile(arg)
}

func (s *session) newRenderer(logger *slog.Logger) (*renderer.Renderer, error) {
	return renderer.New(renderer.Options{
		Convolver:  s.convolver,
		FilterSets: s.sets,
		InitialSet: s.initialSet,
		Routings:   s.routings,
		SampleRate: s.sampleRate,
		Logger:     logger,
	})
}
