package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where replayctl looks for its config file.
const DefaultConfigPath = ".replayctl/config.yaml"

// Config holds all replayctl configuration.
type Config struct {
	// Archive backend (listing, delete, credential updates, replay pages)
	Backend BackendConfig `yaml:"backend"`

	// Chrome used to host the replay frame
	Browser BrowserConfig `yaml:"browser"`

	// Replay session defaults
	Replay ReplayConfig `yaml:"replay"`

	// Backend broadcast channel
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// Credential headers file
	Credentials CredentialsConfig `yaml:"credentials"`

	// Navigation history store
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures the archive backend.
type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIPrefix string `yaml:"api_prefix"`
	Timeout   string `yaml:"timeout"`
}

// BrowserConfig configures the Chrome instance.
type BrowserConfig struct {
	// DebuggerURL attaches to a running Chrome instead of launching one.
	DebuggerURL       string   `yaml:"debugger_url"`
	Headless          bool     `yaml:"headless"`
	LaunchArgs        []string `yaml:"launch_args"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
}

// ReplayConfig configures replay sessions.
type ReplayConfig struct {
	Collection string `yaml:"collection"`
	SourceURL  string `yaml:"source_url"`
	OnDemand   bool   `yaml:"on_demand"`

	// PrefixTemplate builds the replay prefix; {coll} is the collection id.
	PrefixTemplate string `yaml:"prefix_template"`

	PollInterval string `yaml:"poll_interval"`
	LoadTimeout  string `yaml:"load_timeout"`

	// Embed is "", "default" or "replayonly".
	Embed string `yaml:"embed"`
}

// BroadcastConfig configures the backend broadcast websocket.
type BroadcastConfig struct {
	Enabled           bool   `yaml:"enabled"`
	URL               string `yaml:"url"`
	ReconnectAttempts uint   `yaml:"reconnect_attempts"`
	ReconnectDelay    string `yaml:"reconnect_delay"`
}

// CredentialsConfig configures the credential headers file.
type CredentialsConfig struct {
	HeadersFile string `yaml:"headers_file"`
	Debounce    string `yaml:"debounce"`
}

// HistoryConfig configures the navigation history store.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// ValidEmbedModes lists the accepted replay.embed values.
var ValidEmbedModes = []string{"", "default", "replayonly"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:9990",
			APIPrefix: "/wabac/api",
			Timeout:   "30s",
		},

		Browser: BrowserConfig{
			Headless:          false,
			ViewportWidth:     1280,
			ViewportHeight:    800,
			NavigationTimeout: "30s",
		},

		Replay: ReplayConfig{
			PrefixTemplate: "/w/{coll}",
			PollInterval:   "5s",
			LoadTimeout:    "5s",
		},

		Broadcast: BroadcastConfig{
			Enabled:           true,
			URL:               "ws://localhost:9990/wabac/api/broadcast",
			ReconnectAttempts: 10,
			ReconnectDelay:    "2s",
		},

		Credentials: CredentialsConfig{
			Debounce: "500ms",
		},

		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: ".replayctl/history.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("REPLAYCTL_BACKEND_URL"); u != "" {
		c.Backend.BaseURL = u
	}
	if u := os.Getenv("REPLAYCTL_CHROME_URL"); u != "" {
		c.Browser.DebuggerURL = u
	}
	if coll := os.Getenv("REPLAYCTL_COLLECTION"); coll != "" {
		c.Replay.Collection = coll
	}
	if level := os.Getenv("REPLAYCTL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("REPLAYCTL_HISTORY_DB"); path != "" {
		c.History.DatabasePath = path
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetBackendTimeout returns the backend request timeout.
func (c *Config) GetBackendTimeout() time.Duration {
	return parseDuration(c.Backend.Timeout, 30*time.Second)
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 30*time.Second)
}

// GetPollInterval returns the frame inspection interval.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Replay.PollInterval, 5*time.Second)
}

// GetLoadTimeout returns the bound on the loading flag.
func (c *Config) GetLoadTimeout() time.Duration {
	return parseDuration(c.Replay.LoadTimeout, 5*time.Second)
}

// GetReconnectDelay returns the pause between broadcast reconnects.
func (c *Config) GetReconnectDelay() time.Duration {
	return parseDuration(c.Broadcast.ReconnectDelay, 2*time.Second)
}

// GetCredentialsDebounce returns the debounce for credential file events.
func (c *Config) GetCredentialsDebounce() time.Duration {
	return parseDuration(c.Credentials.Debounce, 500*time.Millisecond)
}

// ReplayPrefix returns the replay prefix for a collection.
func (c *Config) ReplayPrefix(collectionID string) string {
	tmpl := c.Replay.PrefixTemplate
	if tmpl == "" {
		tmpl = "/w/{coll}"
	}
	return strings.TrimRight(strings.ReplaceAll(tmpl, "{coll}", collectionID), "/")
}

// APIURL joins the backend base url and api prefix.
func (c *Config) APIURL() string {
	prefix := c.Backend.APIPrefix
	if prefix == "" {
		prefix = "/wabac/api"
	}
	return strings.TrimRight(c.Backend.BaseURL, "/") + "/" + strings.Trim(prefix, "/")
}

// IsEmbedded reports whether replay titles are forwarded to a parent.
func (c *Config) IsEmbedded() bool {
	return c.Replay.Embed != ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend base_url: %q", c.Backend.BaseURL)
	}

	if c.Broadcast.Enabled && c.Broadcast.URL != "" {
		bu, err := url.Parse(c.Broadcast.URL)
		if err != nil || (bu.Scheme != "ws" && bu.Scheme != "wss") {
			return fmt.Errorf("invalid broadcast url: %q", c.Broadcast.URL)
		}
	}

	validEmbed := false
	for _, m := range ValidEmbedModes {
		if c.Replay.Embed == m {
			validEmbed = true
			break
		}
	}
	if !validEmbed {
		return fmt.Errorf("invalid embed mode: %s (valid: %v)", c.Replay.Embed, ValidEmbedModes)
	}

	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}

	if c.GetLoadTimeout() > c.GetPollInterval() {
		return fmt.Errorf("load_timeout %s exceeds poll_interval %s", c.GetLoadTimeout(), c.GetPollInterval())
	}

	return c.Logging.Validate()
}
