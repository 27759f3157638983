package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"matrixconv/internal/config"
	"matrixconv/renderer"
	"matrixconv/web"
)

func runLive(ctx context.Context, opts options, logger *slog.Logger) error {
	s, err := loadSession(ctx, opts, logger)
	if err != nil {
		return err
	}

	r, err := s.newRenderer(logger)
	if err != nil {
		return err
	}

	var input [][]float32
	if opts.input != "" {
		input, err = readInput(opts.input, s, logger)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return renderLoop(ctx, r, input, s.sampleRate)
	})

	if opts.watch {
		watcher := config.NewWatcher(opts.configPath, func(cfg *config.Config) {
			applyReload(r, cfg, logger)
		}, logger)

		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if !opts.noWeb {
		startWeb(ctx, g, r, opts, logger)
	}

	if opts.noTUI {
		//nolint:forbidigo // headless mode startup message
		fmt.Println("matrixconv running headless. Log file:", opts.logFile)
		//nolint:forbidigo // headless mode startup message
		fmt.Println("Press Ctrl+C to exit.")
	} else {
		g.Go(func() error {
			defer cancel()
			return runTUI(ctx, r)
		})
	}

	return g.Wait()
}

func startWeb(ctx context.Context, g *errgroup.Group, r *renderer.Renderer, opts options, logger *slog.Logger) {
	server := web.NewServer(r, opts.port, logger)

	g.Go(func() error {
		return server.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	url := fmt.Sprintf("http://localhost:%d", opts.port)

	if !opts.noBrowser {
		go func() {
			// Give the server time to listen.
			time.Sleep(200 * time.Millisecond)

			if err := web.OpenBrowser(ctx, url); err != nil {
				logger.Error("failed to open browser", "error", err)
			}
		}()
	}

	if opts.noTUI {
		//nolint:forbidigo // startup message
		fmt.Printf("Web UI available at %s\n", url)
	}
}

// renderLoop processes one block per period, looping input. Without a
// sound device the output is only metered.
func renderLoop(ctx context.Context, r *renderer.Renderer, input [][]float32, sampleRate int) error {
	b := r.BlockLength()
	period := time.Duration(float64(b) / float64(sampleRate) * float64(time.Second))

	in := make([]float32, r.NumberOfInputs()*b)
	out := make([]float32, r.NumberOfOutputs()*b)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	pos := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pos = fillLooped(in, b, input, pos)
			r.Process(in, b, out, b)
		}
	}
}

// fillLooped copies the next block of input into the planar buffer dst,
// wrapping at the end, and returns the new read position.
func fillLooped(dst []float32, blockLength int, input [][]float32, pos int) int {
	clear(dst)

	if len(input) == 0 || len(input[0]) == 0 {
		return 0
	}

	frames := len(input[0])

	for c, row := range input {
		if (c+1)*blockLength > len(dst) {
			break
		}

		block := dst[c*blockLength : (c+1)*blockLength]
		for i := range block {
			block[i] = row[(pos+i)%frames]
		}
	}

	return (pos + blockLength) % frames
}

// applyReload queues the routings of a changed session file. Dimension
// changes need a restart.
func applyReload(r *renderer.Renderer, cfg *config.Config, logger *slog.Logger) {
	if cfg.ConvolverConfig() != r.Config() {
		logger.Warn("session layout changed, restart to apply", "file", cfg.BaseDir)
	}

	entries, err := cfg.RoutingEntries()
	if err != nil {
		logger.Warn("ignoring reloaded routings", "error", err)
		return
	}

	id, err := r.ReplaceRoutings(entries)
	if err != nil {
		logger.Warn("ignoring reloaded routings", "error", err)
		return
	}

	logger.Info("reloaded routings", "routings", len(entries), "command", id)
}
