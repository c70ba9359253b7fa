package config

import (
	"fmt"
	"os"

	"github.com/enigma-engine/enigma-go/engine/detector"
	"github.com/enigma-engine/enigma-go/engine/logging"
	"github.com/enigma-engine/enigma-go/engine/queue"
	"gopkg.in/yaml.v3"
)

// Config is the engine's full configuration surface, composed from the
// per-component sections. Unknown keys in the file are ignored; missing
// sections keep their defaults.
type Config struct {
	Logging  logging.Config  `yaml:"logging"`
	Queue    queue.Config    `yaml:"queue"`
	Detector detector.Config `yaml:"detector"`
	Window   WindowConfig    `yaml:"window"`
	Profiler ProfilerConfig  `yaml:"profiler"`
}

// WindowConfig sizes and titles the engine window.
type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// ProfilerConfig controls the frame/queue profiler.
type ProfilerConfig struct {
	Enabled bool `yaml:"enabled"`
	// IntervalMs is how often the profiler reports, in milliseconds.
	IntervalMs int `yaml:"interval_ms"`
}

func defaults() *Config {
	return &Config{
		Logging:  logging.DefaultConfig(),
		Queue:    queue.DefaultConfig(),
		Detector: detector.DefaultConfig(),
		Window: WindowConfig{
			Title:  "Enigma Engine",
			Width:  1280,
			Height: 720,
		},
		Profiler: ProfilerConfig{
			Enabled:    false,
			IntervalMs: 1000,
		},
	}
}

// Default returns the built-in configuration without touching the filesystem.
//
// Returns:
//   - *Config: the default configuration
func Default() *Config {
	return defaults()
}

// Load reads a YAML configuration file over the defaults.
//
// Parameters:
//   - path: the configuration file path
//
// Returns:
//   - *Config: the merged configuration
//   - error: an error if the file cannot be read, parsed or validated
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Detector.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
