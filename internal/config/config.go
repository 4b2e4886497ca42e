package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lazypower/persona/internal/archive"
	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/lifecycle"
)

// Config holds all persona runtime configuration. Every job knob is
// caller-supplied with a documented default and a clamped range; no
// hidden global diverges from what the reports echo back.
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	Decay    engine.DecayOptions    `yaml:"decay"`
	Compress engine.CompressOptions `yaml:"compress"`
	Archive  archive.Options        `yaml:"archive"`
	Weights  lifecycle.Weights      `yaml:"weights"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	// Root is the persona data directory. Empty means the default
	// (~/.persona), resolved at runtime.
	Root string `yaml:"root"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38888,
		},
		Decay: engine.DecayOptions{
			Rate:        0.01,
			MinIdleDays: 14,
			Floor:       0.05,
		},
		Compress: engine.CompressOptions{
			SalienceCeiling: 0.25,
			MinAgeDays:      30,
			MaxBatch:        50,
			GroupByType:     true,
		},
		Archive: archive.Options{
			MinItems:     10,
			MinColdRatio: 0.3,
			MaxItems:     200,
			MinIdleDays:  45,
		},
		Weights: lifecycle.DefaultWeights(),
	}
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Clamp()
	return cfg, nil
}

// Clamp pulls every tunable back into its legal range.
func (c *Config) Clamp() {
	clampFloat(&c.Decay.Rate, 0.0001, 1.0)
	clampInt(&c.Decay.MinIdleDays, 1, 3650)
	clampFloat(&c.Decay.Floor, 0.0, 1.0)
	clampFloat(&c.Compress.SalienceCeiling, 0.01, 1.0)
	clampInt(&c.Compress.MinAgeDays, 1, 3650)
	clampInt(&c.Compress.MaxBatch, 1, 10000)
	clampInt(&c.Archive.MinItems, 1, 100000)
	clampFloat(&c.Archive.MinColdRatio, 0.0, 1.0)
	clampInt(&c.Archive.MaxItems, 1, 100000)
	clampInt(&c.Archive.MinIdleDays, 1, 3650)
	c.Weights = c.Weights.Normalize()
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

func clampFloat(v *float64, lo, hi float64) {
	if *v < lo {
		*v = lo
	}
	if *v > hi {
		*v = hi
	}
}

func clampInt(v *int, lo, hi int) {
	if *v < lo {
		*v = lo
	}
	if *v > hi {
		*v = hi
	}
}
