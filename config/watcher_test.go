package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "id_format: w3c\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg },
		WithDebounce(10*time.Millisecond),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("id_format: hierarchical\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, FormatHierarchical, cfg.IDFormat)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected reload after write")
	}

	require.NoError(t, w.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Expected Watch to return after Stop")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "id_format: w3c\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg }, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("id_format: uuid\n"), 0o600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("Expected invalid config to be skipped, got %+v", cfg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRejectsSecondWatch(t *testing.T) {
	path := writeConfig(t, "id_format: w3c\n")
	w, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, w.Watch(ctx), ErrWatcherRunning)

	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "stop is idempotent")
}
