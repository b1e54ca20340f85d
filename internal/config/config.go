// Package config loads the server's streaming configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`

	// Store selects the durable backend: "sqlite" or "memory".
	Store  string `yaml:"store"`
	DBPath string `yaml:"db_path,omitempty"`

	Workers         int     `yaml:"workers"`
	ViewDistance    float64 `yaml:"view_distance"`
	VerticalBand    int     `yaml:"vertical_band"`
	MaxCachedChunks int     `yaml:"max_cached_chunks"`

	TickRateHz       int     `yaml:"tick_rate_hz"`
	DiffEveryTicks   int     `yaml:"diff_every_ticks"`
	EvictEveryTicks  int     `yaml:"evict_every_ticks"`
	AutoSaveSeconds  float64 `yaml:"auto_save_seconds"`
	EventBufferSize  int     `yaml:"event_buffer_size"`
}

func Defaults() Config {
	return Config{
		Addr:            ":8080",
		DataDir:         "./data",
		Store:           "sqlite",
		Workers:         4,
		ViewDistance:    8,
		VerticalBand:    2,
		MaxCachedChunks: 4096,
		TickRateHz:      20,
		DiffEveryTicks:  4,
		EvictEveryTicks: 20,
		AutoSaveSeconds: 30,
		EventBufferSize: 4096,
	}
}

// Load reads the config at path, falling back to defaults when path is
// empty. Unset fields take their default values.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("stream.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("stream.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = "sqlite"
	}
	if c.Workers <= 0 {
		c.Workers = Defaults().Workers
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = Defaults().TickRateHz
	}
	if c.DiffEveryTicks <= 0 {
		c.DiffEveryTicks = Defaults().DiffEveryTicks
	}
	if c.EvictEveryTicks <= 0 {
		c.EvictEveryTicks = Defaults().EvictEveryTicks
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = Defaults().EventBufferSize
	}
}

func (c Config) Validate() error {
	switch c.Store {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store %q (want sqlite or memory)", c.Store)
	}
	if c.ViewDistance <= 0 {
		return fmt.Errorf("view_distance must be positive, got %v", c.ViewDistance)
	}
	if c.VerticalBand < 0 {
		return fmt.Errorf("vertical_band must be non-negative, got %d", c.VerticalBand)
	}
	if c.MaxCachedChunks < 0 {
		return fmt.Errorf("max_cached_chunks must be non-negative, got %d", c.MaxCachedChunks)
	}
	if c.AutoSaveSeconds < 0 {
		return fmt.Errorf("auto_save_seconds must be non-negative, got %v", c.AutoSaveSeconds)
	}
	return nil
}
