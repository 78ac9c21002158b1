// Package config loads vhdctl's YAML configuration file: pool sizing,
// metrics and logging options, read by the serve subcommand.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pool mirrors volume.Config's tunables in YAML form.
type Pool struct {
	DataRequestSlots int    `yaml:"data_request_slots"`
	BitmapCacheSize  int    `yaml:"bitmap_cache_size"`
	RingEntries      uint32 `yaml:"ring_entries"`
}

// Metrics controls the Prometheus HTTP endpoint serve exposes.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Logging controls vhdctl's own log verbosity.
type Logging struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Config is vhdctl's top-level YAML document.
type Config struct {
	Pool    Pool    `yaml:"pool"`
	Metrics Metrics `yaml:"metrics"`
	Logging Logging `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Pool: Pool{
			DataRequestSlots: 64,
			BitmapCacheSize:  32,
			RingEntries:      128,
		},
		Metrics: Metrics{
			Enabled: false,
			Addr:    ":9090",
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads and parses a YAML config file, filling in defaults for any
// field the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
