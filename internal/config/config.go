// Package config loads gilprobe settings from an optional YAML file with
// environment overrides. Precedence, lowest to highest: built-in defaults,
// config file, GILPROBE_* environment variables, CLI flags (applied by the
// caller).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no
// explicit path is given.
const DefaultConfigFile = ".gilprobe.yaml"

// Requirement values accepted by enforce.require.
const (
	RequireNone          = ""
	RequireFreeThreading = "free-threading"
	RequireGIL           = "gil"
)

// Config holds all gilprobe configuration.
type Config struct {
	Python  PythonConfig  `yaml:"python"`
	Enforce EnforceConfig `yaml:"enforce"`
	Logging LoggingConfig `yaml:"logging"`
}

// PythonConfig selects and bounds the interpreter to inspect.
type PythonConfig struct {
	// Path is the interpreter binary, resolved on PATH when not absolute.
	Path string `yaml:"path"`
	// Timeout bounds one interpreter invocation ("5s", "500ms").
	Timeout string `yaml:"timeout"`
}

// EnforceConfig sets a default requirement applied when no flag is given.
type EnforceConfig struct {
	// Require is "", "free-threading", or "gil".
	Require string `yaml:"require"`
	// AllowUnknown treats an undetermined mode as a soft success.
	AllowUnknown bool `yaml:"allow_unknown"`
}

// LoggingConfig controls zap verbosity.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the built-in defaults: python3 from PATH, a 5s
// collection timeout, no enforcement.
func DefaultConfig() *Config {
	return &Config{
		Python: PythonConfig{
			Path:    "python3",
			Timeout: "5s",
		},
	}
}

// Load reads path (or DefaultConfigFile when path is empty), applies
// environment overrides, and validates. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file; defaults apply.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets GILPROBE_* variables override file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GILPROBE_PYTHON"); v != "" {
		c.Python.Path = v
	}
	if v := os.Getenv("GILPROBE_TIMEOUT"); v != "" {
		c.Python.Timeout = v
	}
	if v := os.Getenv("GILPROBE_REQUIRE"); v != "" {
		c.Enforce.Require = v
	}
}

func (c *Config) validate() error {
	if _, err := c.CollectTimeout(); err != nil {
		return err
	}
	switch c.Enforce.Require {
	case RequireNone, RequireFreeThreading, RequireGIL:
	default:
		return fmt.Errorf("enforce.require must be %q or %q, got %q",
			RequireFreeThreading, RequireGIL, c.Enforce.Require)
	}
	return nil
}

// CollectTimeout parses the configured interpreter timeout.
func (c *Config) CollectTimeout() (time.Duration, error) {
	if c.Python.Timeout == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Python.Timeout)
	if err != nil {
		return 0, fmt.Errorf("python.timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("python.timeout must be positive, got %s", d)
	}
	return d, nil
}
