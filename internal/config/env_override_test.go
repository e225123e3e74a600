package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("backend url", func(t *testing.T) {
		t.Setenv("REPLAYCTL_BACKEND_URL", "https://archive.test")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://archive.test", cfg.Backend.BaseURL)
	})

	t.Run("chrome debugger url", func(t *testing.T) {
		t.Setenv("REPLAYCTL_CHROME_URL", "ws://127.0.0.1:9222/devtools/browser/x")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", cfg.Browser.DebuggerURL)
	})

	t.Run("collection and log level", func(t *testing.T) {
		t.Setenv("REPLAYCTL_COLLECTION", "env-coll")
		t.Setenv("REPLAYCTL_LOG_LEVEL", "debug")

		cfg := DefaultConfig()
		cfg.Replay.Collection = "file-coll"
		cfg.applyEnvOverrides()

		assert.Equal(t, "env-coll", cfg.Replay.Collection)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("history database", func(t *testing.T) {
		t.Setenv("REPLAYCTL_HISTORY_DB", "/tmp/h.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/h.db", cfg.History.DatabasePath)
	})

	t.Run("empty values leave config alone", func(t *testing.T) {
		t.Setenv("REPLAYCTL_BACKEND_URL", "")
		t.Setenv("REPLAYCTL_COLLECTION", "")

		cfg := DefaultConfig()
		cfg.Replay.Collection = "kept"
		cfg.applyEnvOverrides()

		assert.Equal(t, DefaultConfig().Backend.BaseURL, cfg.Backend.BaseURL)
		assert.Equal(t, "kept", cfg.Replay.Collection)
	})
}
