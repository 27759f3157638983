package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSession(t *testing.T, path, body string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	writeSession(t, path, `{"inputs": 1, "outputs": 1}`)

	changes := make(chan *Config, 4)

	w := NewWatcher(path, func(c *Config) { changes <- c }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is ignored.
	writeSession(t, path, `{"inputs": `)

	select {
	case c := <-changes:
		t.Fatalf("invalid file delivered %+v", c)
	case <-time.After(200 * time.Millisecond):
	}

	// Unrelated files in the directory are ignored.
	writeSession(t, filepath.Join(dir, "other.json"), `{}`)
	writeSession(t, path, `{"inputs": 2, "outputs": 2, "routings": [{"input": 1, "output": 0, "filter": 0}]}`)

	select {
	case c := <-changes:
		if c.Inputs != 2 || len(c.Routings) != 1 {
			t.Errorf("reloaded config = %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after valid write")
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	t.Parallel()

	w := NewWatcher(filepath.Join(t.TempDir(), "missing", "session.json"), func(*Config) {}, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error for missing directory")
	}
}
