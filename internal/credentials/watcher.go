// Package credentials feeds credential headers from a local file to the
// replay session. The file is re-read whenever it changes, so an external
// token refresher can answer a reauthentication prompt by rewriting it.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var ErrEmptyHeaders = errors.New("credentials: no headers in file")

// LoadHeaders reads a headers file. Both {"headers": {...}} and a bare
// object of string values are accepted.
func LoadHeaders(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers file: %w", err)
	}

	var wrapped struct {
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Headers) > 0 {
		return wrapped.Headers, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("failed to parse headers file: %w", err)
	}
	if len(flat) == 0 {
		return nil, ErrEmptyHeaders
	}
	return flat, nil
}

// SubmitFunc receives freshly loaded headers.
type SubmitFunc func(ctx context.Context, headers map[string]string) error

// Watcher watches one headers file.
type Watcher struct {
	path     string
	debounce time.Duration
	submit   SubmitFunc
	log      *zap.Logger

	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	running bool
	pending time.Time
	latest  map[string]string
	loads   int
}

// NewWatcher creates a watcher for path. submit is called after each
// change settles for debounce.
func NewWatcher(path string, debounce time.Duration, submit SubmitFunc, logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve headers path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		submit:   submit,
		log:      logger,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start loads the file once and begins watching its directory.
// This method is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Editors replace files by rename, so the directory is watched.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	if headers, err := LoadHeaders(w.path); err == nil {
		w.store(headers)
	} else if !errors.Is(err, os.ErrNotExist) {
		w.log.Warn("initial headers load failed", zap.String("path", w.path), zap.Error(err))
	}

	go w.run(ctx)
	w.log.Info("watching credentials file", zap.String("path", w.path))
	return nil
}

// Stop stops the watcher and waits for cleanup. It is safe to call on a
// watcher that was never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}

	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			w.log.Error("error closing credentials watcher", zap.Error(err))
		}
	})
}

// Latest returns the most recently loaded headers.
func (w *Watcher) Latest() (map[string]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return nil, false
	}
	out := make(map[string]string, len(w.latest))
	for k, v := range w.latest {
		out[k] = v
	}
	return out, true
}

// Loads reports how many times the file was loaded successfully.
func (w *Watcher) Loads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loads
}

func (w *Watcher) store(headers map[string]string) {
	w.mu.Lock()
	w.latest = headers
	w.loads++
	w.mu.Unlock()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("credentials watcher error", zap.Error(err))

		case <-debounceTicker.C:
			w.processPending(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processPending(ctx context.Context) {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	headers, err := LoadHeaders(w.path)
	if err != nil {
		w.log.Debug("headers file not loadable yet", zap.Error(err))
		return
	}
	w.store(headers)

	if w.submit == nil {
		return
	}
	if err := w.submit(ctx, headers); err != nil {
		w.log.Debug("headers not submitted", zap.Error(err))
		return
	}
	w.log.Info("submitted refreshed credentials", zap.Int("headers", len(headers)))
}
