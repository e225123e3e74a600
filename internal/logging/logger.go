// Package logging builds the zap loggers used by replayctl.
// Every subsystem logs through a named child logger for its Category, and
// categories can be switched off individually from the config file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot        Category = "boot"        // CLI startup and shutdown
	CategoryReplay      Category = "replay"      // Session controller, router, reauth
	CategoryBrowser     Category = "browser"     // Chrome launch, frame driver, CDP bridge
	CategoryArchive     Category = "archive"     // Backend listing, delete, updateAuth
	CategoryBroadcast   Category = "broadcast"   // Backend broadcast websocket
	CategoryCredentials Category = "credentials" // Credential file watcher
	CategoryHistory     Category = "history"     // Navigation history store
	CategoryUI          Category = "ui"          // Replay bar
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string
	Format     string // json, console
	File       string
	Categories map[string]bool
}

// New builds the base logger. Verbose forces debug level.
func New(opts Options, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	switch opts.Format {
	case "", "json":
	case "console", "text":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q (valid: json, console)", opts.Format)
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	}

	return cfg.Build()
}

// Registry hands out per-category loggers derived from one base logger.
type Registry struct {
	base       *zap.Logger
	categories map[string]bool

	mu      sync.Mutex
	loggers map[Category]*zap.Logger
}

// NewRegistry wraps base. A nil base logs nothing.
func NewRegistry(base *zap.Logger, categories map[string]bool) *Registry {
	if base == nil {
		base = zap.NewNop()
	}
	return &Registry{
		base:       base,
		categories: categories,
		loggers:    make(map[Category]*zap.Logger),
	}
}

// Enabled reports whether category is on. Unlisted categories are on.
func (r *Registry) Enabled(category Category) bool {
	enabled, ok := r.categories[string(category)]
	return !ok || enabled
}

// Get returns the logger for category, or a no-op logger when disabled.
func (r *Registry) Get(category Category) *zap.Logger {
	if !r.Enabled(category) {
		return zap.NewNop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loggers[category]; ok {
		return l
	}
	l := r.base.Named(string(category))
	r.loggers[category] = l
	return l
}

// Base returns the uncategorized logger.
func (r *Registry) Base() *zap.Logger {
	return r.base
}

// Sync flushes the base logger.
func (r *Registry) Sync() error {
	return r.base.Sync()
}
