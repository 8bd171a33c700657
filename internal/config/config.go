package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process-level configuration. It is loaded once at startup
// and treated as immutable afterwards; only per-plugin config (in PluginDir)
// is hot-reloadable.
type Config struct {
	// Filter settings. Mode is one of "none", "whitelist", "blacklist".
	FilterMode string   `env:"FILTER_MODE" envDefault:"none"`
	Whitelist  []string `env:"FILTER_WHITELIST" envSeparator:","`
	Blacklist  []string `env:"FILTER_BLACKLIST" envSeparator:","`

	// Admins are sender identifiers allowed to issue reload commands and
	// eligible for admin_ignore credit bypass.
	Admins []string `env:"ADMINS" envSeparator:","`

	// PluginDir holds one <name>.yaml per plugin.
	PluginDir string `env:"PLUGIN_DIR" envDefault:"plugins"`
	// DisabledPlugins are loaded but start disabled.
	DisabledPlugins []string `env:"DISABLED_PLUGINS" envSeparator:","`
	// WatchPlugins enables automatic reload when a plugin config file changes.
	WatchPlugins bool `env:"WATCH_PLUGINS" envDefault:"false"`

	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" envDefault:"60s"`

	// SenderRate/SenderBurst throttle messages per sender (msgs per second).
	SenderRate  float64 `env:"SENDER_RATE" envDefault:"1"`
	SenderBurst int     `env:"SENDER_BURST" envDefault:"3"`

	// Ledger backend: "json" (file datastore) or "sqlite".
	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"json"`
	StoragePath   string `env:"STORAGE_PATH" envDefault:"data/ledger.json"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/ledger.db"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// New loads .env if present, then parses the environment. Missing .env is
// not an error; containers usually inject variables directly.
func New() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.FilterMode {
	case "none", "whitelist", "blacklist":
	default:
		return nil, fmt.Errorf("invalid FILTER_MODE %q", cfg.FilterMode)
	}
	switch cfg.LedgerBackend {
	case "json", "sqlite":
	default:
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q", cfg.LedgerBackend)
	}

	return &cfg, nil
}

// IsAdmin reports whether id is in the admin set.
func (c *Config) IsAdmin(id string) bool {
	for _, a := range c.Admins {
		if a == id {
			return true
		}
	}
	return false
}
