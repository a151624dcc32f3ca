// Package config provides unified configuration loading for simdcis.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/simdcis/internal/logging"
)

// SimdcisConfig contains the tool settings. Model parameters are not
// configured here; they come from the run's parameter files.
type SimdcisConfig struct {
	// Output contains settings for the result files of a run.
	Output OutputConfig `json:"output" yaml:"output"`

	// Store contains settings for the results database.
	Store StoreConfig `json:"store" yaml:"store"`

	// Workers bounds how many iterations run at once. 0 means one per CPU.
	Workers int `json:"workers" yaml:"workers"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// OutputConfig configures the files written by a run.
type OutputConfig struct {
	// Dir is the directory result files are written to.
	Dir string `json:"dir" yaml:"dir"`

	// Trajectories enables the per-iteration trajectory files.
	Trajectories bool `json:"trajectories" yaml:"trajectories"`

	// Compress gzips the trajectory files.
	Compress bool `json:"compress" yaml:"compress"`

	// Arrow also writes the summaries as an Arrow IPC file.
	Arrow bool `json:"arrow" yaml:"arrow"`
}

// StoreConfig configures the results database.
type StoreConfig struct {
	// Enabled records every run in the database.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the database file. Empty means ~/.simdcis/results.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables event logging to events.jsonl in the output directory.
	// "trace" additionally logs every state transition.
	Level string `json:"level" yaml:"level"`
}

// Default returns a SimdcisConfig with sensible defaults.
func Default() *SimdcisConfig {
	return &SimdcisConfig{
		Output: OutputConfig{
			Dir:          ".",
			Trajectories: true,
			Compress:     false,
			Arrow:        false,
		},
		Store: StoreConfig{
			Enabled: false,
		},
		Workers: 0,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns ~/.simdcis/config.yaml.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".simdcis", "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.simdcis/config.yaml -> environment variables
func Load() (*SimdcisConfig, error) {
	config := Default()

	if configPath, err := Path(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*SimdcisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Output.Dir = expandEnvVars(config.Output.Dir)
	config.Store.Path = expandEnvVars(config.Store.Path)

	return config, nil
}

// Save writes the configuration to path, creating its directory.
func (c *SimdcisConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *SimdcisConfig) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}

	if c.Output.Compress && !c.Output.Trajectories {
		return fmt.Errorf("output.compress requires output.trajectories")
	}

	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *SimdcisConfig) error {
	if v := os.Getenv("SIMDCIS_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}

	if v := os.Getenv("SIMDCIS_TRAJECTORIES"); v != "" {
		config.Output.Trajectories = parseBool(v)
	}

	if v := os.Getenv("SIMDCIS_COMPRESS"); v != "" {
		config.Output.Compress = parseBool(v)
	}

	if v := os.Getenv("SIMDCIS_ARROW"); v != "" {
		config.Output.Arrow = parseBool(v)
	}

	if v := os.Getenv("SIMDCIS_STORE_PATH"); v != "" {
		config.Store.Path = v
		config.Store.Enabled = true
	}

	if v := os.Getenv("SIMDCIS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIMDCIS_WORKERS: invalid number %q", v)
		}
		config.Workers = n
	}

	if v := os.Getenv("SIMDCIS_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	return nil
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

// setting binds a dot-notation key to a field.
type setting struct {
	get func(c *SimdcisConfig) any
	set func(c *SimdcisConfig, v string) error
}

func boolSetting(field func(c *SimdcisConfig) *bool) setting {
	return setting{
		get: func(c *SimdcisConfig) any { return *field(c) },
		set: func(c *SimdcisConfig, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean: %s", v)
			}
			*field(c) = b
			return nil
		},
	}
}

func stringSetting(field func(c *SimdcisConfig) *string) setting {
	return setting{
		get: func(c *SimdcisConfig) any { return *field(c) },
		set: func(c *SimdcisConfig, v string) error {
			*field(c) = v
			return nil
		},
	}
}

var settings = map[string]setting{
	"output.dir":          stringSetting(func(c *SimdcisConfig) *string { return &c.Output.Dir }),
	"output.trajectories": boolSetting(func(c *SimdcisConfig) *bool { return &c.Output.Trajectories }),
	"output.compress":     boolSetting(func(c *SimdcisConfig) *bool { return &c.Output.Compress }),
	"output.arrow":        boolSetting(func(c *SimdcisConfig) *bool { return &c.Output.Arrow }),
	"store.enabled":       boolSetting(func(c *SimdcisConfig) *bool { return &c.Store.Enabled }),
	"store.path":          stringSetting(func(c *SimdcisConfig) *string { return &c.Store.Path }),
	"workers": {
		get: func(c *SimdcisConfig) any { return c.Workers },
		set: func(c *SimdcisConfig, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid worker count: %s (must be a non-negative integer)", v)
			}
			c.Workers = n
			return nil
		},
	},
	"logging.level": {
		get: func(c *SimdcisConfig) any { return c.Logging.Level },
		set: func(c *SimdcisConfig, v string) error {
			if !logging.ValidLevel(v) {
				return fmt.Errorf("invalid log level: %s (valid: info, debug, trace)", v)
			}
			c.Logging.Level = v
			return nil
		},
	},
}

// Keys returns the supported dot-notation keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a dot-notation key such as "output.dir".
func (c *SimdcisConfig) Get(key string) (any, bool) {
	s, ok := settings[key]
	if !ok {
		return nil, false
	}
	return s.get(c), true
}

// Set parses value and assigns it to a dot-notation key.
func (c *SimdcisConfig) Set(key, value string) error {
	s, ok := settings[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return s.set(c, value)
}
