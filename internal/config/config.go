// Package config loads and validates the daemon configuration from the TOML
// file at $XDG_CONFIG_HOME/prismis/config.toml. String values may be
// indirected through the environment with the "env:VARNAME" form.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// SupportedProviders is the set of accepted llm.provider values.
var SupportedProviders = map[string]bool{
	"openai":     true,
	"anthropic":  true,
	"ollama":     true,
	"groq":       true,
	"openrouter": true,
}

// Config is the validated daemon configuration.
type Config struct {
	Daemon        Daemon        `toml:"daemon"`
	LLM           LLM           `toml:"llm"`
	Reddit        Reddit        `toml:"reddit"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
	Archival      Archival      `toml:"archival"`
}

// Daemon holds pipeline pacing and limits.
type Daemon struct {
	FetchIntervalMinutes int `toml:"fetch_interval"`
	MaxItemsRSS          int `toml:"max_items_rss"`
	MaxItemsReddit       int `toml:"max_items_reddit"`
	MaxItemsYouTube      int `toml:"max_items_youtube"`
	MaxDaysLookback      int `toml:"max_days_lookback"`
	MaxComments          int `toml:"max_comments"` // 0 = unlimited
}

// FetchInterval returns the tick cadence as a duration.
func (d Daemon) FetchInterval() time.Duration {
	return time.Duration(d.FetchIntervalMinutes) * time.Minute
}

// LLM selects and authenticates the language-model provider.
type LLM struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	APIBase  string `toml:"api_base"`

	// Embedding settings; EmbeddingModel defaults to a 384-dim sentence model.
	EmbeddingModel string `toml:"embedding_model"`
	EmbeddingDims  int    `toml:"embedding_dims"`
}

// Reddit holds optional API credentials for the forum fetcher. Without
// credentials the public JSON listing is used.
type Reddit struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	UserAgent    string `toml:"user_agent"`
}

// Notifications configures the external notifier command.
type Notifications struct {
	HighPriorityOnly bool   `toml:"high_priority_only"`
	Command          string `toml:"command"`
}

// API configures the HTTP server. Host defaults to loopback; binding to a
// LAN address is an explicit opt-in.
type API struct {
	Key  string `toml:"key"`
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Archival configures the priority-aware aging policy.
type Archival struct {
	Enabled      bool `toml:"enabled"`
	HighRead     *int `toml:"high_read"` // nil = never archive read high-priority items
	MediumUnread int  `toml:"medium_unread"`
	MediumRead   int  `toml:"medium_read"`
	LowUnread    int  `toml:"low_unread"`
	LowRead      int  `toml:"low_read"`
}

// Windows converts the archival section to the storage policy value.
func (a Archival) Windows() model.ArchiveWindows {
	return model.ArchiveWindows{
		HighRead:     a.HighRead,
		MediumUnread: a.MediumUnread,
		MediumRead:   a.MediumRead,
		LowUnread:    a.LowUnread,
		LowRead:      a.LowRead,
	}
}

// ConfigPath returns the canonical config file location.
func ConfigPath() string {
	return filepath.Join(configHome(), "prismis", "config.toml")
}

// ContextPath returns the user-context document location.
func ContextPath() string {
	return filepath.Join(configHome(), "prismis", "context.md")
}

// DataDir returns the directory holding the database, audio artifacts, and
// the observability log.
func DataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "prismis")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "prismis")
	}
	return filepath.Join(home, ".local", "share", "prismis")
}

func configHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

// Load reads and validates the config file at path (ConfigPath() when empty).
func Load(path string) (Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, model.Wrap(model.KindConfig, err, "read config file %s", path)
	}
	return Parse(string(data))
}

// Parse decodes, applies defaults, resolves env indirection, and validates.
func Parse(data string) (Config, error) {
	cfg := Config{
		Daemon: Daemon{
			FetchIntervalMinutes: 30,
			MaxItemsRSS:          25,
			MaxItemsReddit:       25,
			MaxItemsYouTube:      5,
			MaxDaysLookback:      30,
			MaxComments:          20,
		},
		LLM: LLM{
			EmbeddingModel: "all-MiniLM-L6-v2",
			EmbeddingDims:  384,
		},
		API: API{
			Host: "127.0.0.1",
			Port: 8989,
		},
		Archival: Archival{
			MediumUnread: 14,
			MediumRead:   14,
			LowUnread:    7,
			LowRead:      3,
		},
	}

	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, model.Wrap(model.KindConfig, err, "malformed TOML")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		// Unknown keys are tolerated (forward compatibility) but worth noting
		// during validation failures; they are not an error by themselves.
		_ = undecoded
	}

	if err := cfg.resolveEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveEnv replaces every "env:VARNAME" string value with the variable's
// contents. An unset variable is a config error, not an empty value.
func (c *Config) resolveEnv() error {
	fields := []*string{
		&c.LLM.APIKey, &c.LLM.APIBase,
		&c.Reddit.ClientID, &c.Reddit.ClientSecret, &c.Reddit.UserAgent,
		&c.API.Key,
		&c.Notifications.Command,
	}
	for _, f := range fields {
		v, err := resolveEnvValue(*f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

func resolveEnvValue(v string) (string, error) {
	name, ok := strings.CutPrefix(v, "env:")
	if !ok {
		return v, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.E(model.KindConfig, "empty env indirection %q", v)
	}
	resolved, found := os.LookupEnv(name)
	if !found {
		return "", model.E(model.KindConfig, "environment variable %s referenced by config is not set", name)
	}
	return resolved, nil
}

// Validate checks every section and aborts startup with a specific message
// on the first failure.
func (c Config) Validate() error {
	if c.Daemon.FetchIntervalMinutes < 1 {
		return model.E(model.KindConfig, "daemon.fetch_interval must be >= 1 minute (got %d)", c.Daemon.FetchIntervalMinutes)
	}
	if c.Daemon.MaxDaysLookback < 1 || c.Daemon.MaxDaysLookback > 365 {
		return model.E(model.KindConfig, "daemon.max_days_lookback must be within 1-365 (got %d)", c.Daemon.MaxDaysLookback)
	}
	if c.LLM.Provider == "" {
		return model.E(model.KindConfig, "llm.provider is required")
	}
	if !SupportedProviders[c.LLM.Provider] {
		return model.E(model.KindConfig, "llm.provider %q is not supported (one of: openai, anthropic, ollama, groq, openrouter)", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return model.E(model.KindConfig, "llm.model is required")
	}
	if c.LLM.Provider == "ollama" && c.LLM.APIBase == "" {
		return model.E(model.KindConfig, "llm.api_base is required when llm.provider is ollama")
	}
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return model.E(model.KindConfig, "llm.api_key is required for provider %q", c.LLM.Provider)
	}
	if c.LLM.EmbeddingDims <= 0 {
		return model.E(model.KindConfig, "llm.embedding_dims must be positive")
	}
	if c.API.Key == "" {
		return model.E(model.KindConfig, "api.key is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return model.E(model.KindConfig, "api.port %d is out of range", c.API.Port)
	}
	if c.Archival.Enabled {
		for name, v := range map[string]int{
			"medium_unread": c.Archival.MediumUnread,
			"medium_read":   c.Archival.MediumRead,
			"low_unread":    c.Archival.LowUnread,
			"low_read":      c.Archival.LowRead,
		} {
			if v < 1 {
				return model.E(model.KindConfig, "archival.%s must be >= 1 day when archival is enabled", name)
			}
		}
		if c.Archival.HighRead != nil && *c.Archival.HighRead < 1 {
			return model.E(model.KindConfig, "archival.high_read must be >= 1 day or omitted")
		}
	}
	return nil
}

// DatabasePath returns the SQLite file location under the data dir.
func DatabasePath() string {
	return filepath.Join(DataDir(), "prismis.db")
}

// AudioDir returns the directory for generated briefing artifacts.
func AudioDir() string {
	return filepath.Join(DataDir(), "audio")
}

// ObservabilityDir returns the JSONL event log directory.
func ObservabilityDir() string {
	return filepath.Join(DataDir(), "observability")
}

// String renders a redacted one-line summary for startup logging.
func (c Config) String() string {
	return fmt.Sprintf("provider=%s model=%s interval=%s host=%s port=%d archival=%v",
		c.LLM.Provider, c.LLM.Model, c.Daemon.FetchInterval(), c.API.Host, c.API.Port, c.Archival.Enabled)
}
