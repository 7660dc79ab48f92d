// Package config loads server configuration from an optional YAML file
// with environment-variable overrides for the external tool paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from "30s" style YAML
// strings as well as plain nanosecond integers.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds every tunable of the server. Zero values are filled in by
// Default before a file or the environment is applied.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Store struct {
		ParsedCacheSize int      `yaml:"parsed_cache_size"`
		HTTPTimeout     Duration `yaml:"http_timeout"`
	} `yaml:"store"`

	Render struct {
		Binary         string   `yaml:"binary"`
		Args           []string `yaml:"args"`
		MaxSessions    int      `yaml:"max_sessions"`
		StartTimeout   Duration `yaml:"start_timeout"`
		CommandTimeout Duration `yaml:"command_timeout"`
		IdleTimeout    Duration `yaml:"idle_timeout"`
		GracePeriod    Duration `yaml:"grace_period"`
	} `yaml:"render"`

	Docking struct {
		VinaBinary   string   `yaml:"vina_binary"`
		ObabelBinary string   `yaml:"obabel_binary"`
		MaxJobs      int      `yaml:"max_jobs"`
		PrepTimeout  Duration `yaml:"prep_timeout"`
		RunTimeout   Duration `yaml:"run_timeout"`
	} `yaml:"docking"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{DataDir: "./data"}

	cfg.Store.ParsedCacheSize = 64
	cfg.Store.HTTPTimeout = Duration(30 * time.Second)

	cfg.Render.Binary = "chimerax"
	cfg.Render.Args = []string{"--nogui", "--offscreen", "--silent"}
	cfg.Render.MaxSessions = 4
	cfg.Render.StartTimeout = Duration(20 * time.Second)
	cfg.Render.CommandTimeout = Duration(30 * time.Second)
	cfg.Render.IdleTimeout = Duration(15 * time.Minute)
	cfg.Render.GracePeriod = Duration(5 * time.Second)

	cfg.Docking.VinaBinary = "vina"
	cfg.Docking.ObabelBinary = "obabel"
	cfg.Docking.MaxJobs = 2
	cfg.Docking.PrepTimeout = Duration(60 * time.Second)
	cfg.Docking.RunTimeout = Duration(5 * time.Minute)

	return cfg
}

// Load reads the YAML file at path over the defaults. An empty path keeps
// the defaults. Environment variables CHIMERAX_BIN, VINA_BIN and
// OBABEL_BIN override the corresponding tool paths last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if v := os.Getenv("CHIMERAX_BIN"); v != "" {
		cfg.Render.Binary = v
	}
	if v := os.Getenv("VINA_BIN"); v != "" {
		cfg.Docking.VinaBinary = v
	}
	if v := os.Getenv("OBABEL_BIN"); v != "" {
		cfg.Docking.ObabelBinary = v
	}
	return cfg, nil
}
