package platform

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env is the process configuration read from PLACARD_* variables.
// Command-line flags override it.
type Env struct {
	Adapter     string `env:"PLACARD_ADAPTER" envDefault:"fs"`
	Path        string `env:"PLACARD_PATH" envDefault:"."`
	Key         string `env:"PLACARD_KEY" envDefault:"place"`
	Format      string `env:"PLACARD_FORMAT" envDefault:"yaml"`
	Versioning  bool   `env:"PLACARD_VERSIONING" envDefault:"true"`
	ReadOnly    bool   `env:"PLACARD_READ_ONLY"`
	DevSafety   bool   `env:"PLACARD_DEV_SAFETY" envDefault:"true"`
	EventBuffer int    `env:"PLACARD_EVENT_BUFFER" envDefault:"64"`
	MetricsAddr string `env:"PLACARD_METRICS_ADDR"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv() (Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Adapter = strings.ToLower(strings.TrimSpace(cfg.Adapter))
	switch cfg.Adapter {
	case AdapterFS, AdapterSQLite, AdapterMemory:
	default:
		return Env{}, fmt.Errorf("parse env: unknown adapter %q", cfg.Adapter)
	}
	return cfg, nil
}

// Options converts the configuration to service options.
func (e Env) Options() []Option {
	opts := []Option{
		WithAdapter(e.Adapter),
		WithFormat(e.Format),
		WithReadOnly(e.ReadOnly),
		WithDevSafety(e.DevSafety),
		WithEventBuffer(e.EventBuffer),
		WithAutoInit(true),
	}
	// Enabled versioning is left to detection so hosts without git still work.
	if !e.Versioning {
		opts = append(opts, WithVersioning(false))
	}
	return opts
}
