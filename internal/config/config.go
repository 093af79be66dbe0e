// Package config reads hub settings from MCPHUB_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

type Config struct {
	Port         int           `env:"MCPHUB_PORT,default=8080"`
	PollInterval time.Duration `env:"MCPHUB_POLL_INTERVAL,default=5s"`
	CallTimeout  time.Duration `env:"MCPHUB_CALL_TIMEOUT,default=30s"`
	ReapTimeout  time.Duration `env:"MCPHUB_REAP_TIMEOUT,default=5s"`
	PackagesFile string        `env:"MCPHUB_PACKAGES_FILE"`
	LogLevel     string        `env:"MCPHUB_LOG_LEVEL,default=info"`
	LogFile      string        `env:"MCPHUB_LOG_FILE"`
	// Servers lists name[:mode] entries started by serve, separated by ';'.
	Servers []string `env:"MCPHUB_SERVERS"`
}

// Load decodes the environment. Malformed values are errors, not silently
// replaced by their defaults.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("MCPHUB_PORT out of range: %d", c.Port)
	}
	for name, d := range map[string]time.Duration{
		"MCPHUB_POLL_INTERVAL": c.PollInterval,
		"MCPHUB_CALL_TIMEOUT":  c.CallTimeout,
		"MCPHUB_REAP_TIMEOUT":  c.ReapTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
