package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last change event before
// the file is re-read.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a session file when it changes on disk.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
}

// NewWatcher creates a watcher that calls onChange with every successfully
// parsed version of the file at path. A nil logger uses slog.Default().
func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		Debounce: DefaultDebounce,
	}
}

// Run watches until ctx is cancelled. The directory is watched rather than
// the file so that editors replacing the file are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	target, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				timer.Reset(w.Debounce)
			}

			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}

	w.logger.Info("config reloaded", "path", w.path, "routings", len(cfg.Routings))
	w.onChange(cfg)
}
