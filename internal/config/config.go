// Package config loads the controller configuration: a YAML file, then
// LIGHTPATH_* environment overrides, then defaults for anything left unset.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/signalsfoundry/lightpath-controller/model"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIGHTPATH_"

// Defaults.
const (
	DefaultListenAddress     = ":8181"
	DefaultMetricsAddress    = ":9090"
	DefaultSBITimeout        = 10 * time.Second
	DefaultSBIMaxRetries     = 3
	DefaultTargetOutputPower = -3.0
	DefaultRollbackTimeout   = 30 * time.Second
	DefaultAwaitTimeout      = 30 * time.Second
	DefaultHashVersion       = 1
)

// Config is the controller configuration.
type Config struct {
	ListenAddress  string         `yaml:"listen"`
	MetricsAddress string         `yaml:"metrics_addr"`
	Log            LogConfig      `yaml:"log"`
	Grid           GridConfig     `yaml:"grid"`
	SBI            SBIConfig      `yaml:"sbi"`
	Renderer       RendererConfig `yaml:"renderer"`
	Services       ServicesConfig `yaml:"services"`
	Hash           HashConfig     `yaml:"hash"`

	// Mount lists the devices mounted at start-up, in order.
	Mount []string `yaml:"mount"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type GridConfig struct {
	Channels int `yaml:"channels"`
}

// SBIConfig selects the device transport. An empty Target runs the device
// simulator in-process.
type SBIConfig struct {
	Target     string        `yaml:"target"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type RendererConfig struct {
	// TargetOutputPower is nil when unset; 0 dBm is a valid setting.
	TargetOutputPower *float64           `yaml:"target_output_power"`
	NodeOutputPower   map[string]float64 `yaml:"node_target_output_power"`
	RollbackTimeout   time.Duration      `yaml:"rollback_timeout"`
}

type ServicesConfig struct {
	AwaitTimeout           time.Duration `yaml:"await_timeout"`
	DeleteFailedIsNotFound *bool         `yaml:"delete_failed_is_not_found"`
}

type HashConfig struct {
	Version int `yaml:"version"`
}

// Default returns the configuration used for every unset key.
func Default() Config {
	power := DefaultTargetOutputPower
	deleteFailedIsNotFound := true
	return Config{
		ListenAddress:  DefaultListenAddress,
		MetricsAddress: DefaultMetricsAddress,
		Log:            LogConfig{Level: "info", Format: "text"},
		Grid:           GridConfig{Channels: model.DefaultChannels},
		SBI:            SBIConfig{Timeout: DefaultSBITimeout, MaxRetries: DefaultSBIMaxRetries},
		Renderer: RendererConfig{
			TargetOutputPower: &power,
			RollbackTimeout:   DefaultRollbackTimeout,
		},
		Services: ServicesConfig{
			AwaitTimeout:           DefaultAwaitTimeout,
			DeleteFailedIsNotFound: &deleteFailedIsNotFound,
		},
		Hash: HashConfig{Version: DefaultHashVersion},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// fills the remaining keys with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are rejected.
func Parse(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return nil
}

// fillDefaults sets every zero-valued key from Default. Pointer keys are
// filled only when nil.
func (c *Config) fillDefaults() error {
	d := Default()
	if c.Renderer.TargetOutputPower == nil {
		c.Renderer.TargetOutputPower = d.Renderer.TargetOutputPower
	}
	if c.Services.DeleteFailedIsNotFound == nil {
		c.Services.DeleteFailedIsNotFound = d.Services.DeleteFailedIsNotFound
	}
	d.Renderer.TargetOutputPower = nil
	d.Services.DeleteFailedIsNotFound = nil
	if err := mergo.Merge(c, d); err != nil {
		return fmt.Errorf("merge defaults: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Grid.Channels <= 0:
		return fmt.Errorf("%w: grid.channels must be positive", model.ErrValidation)
	case c.SBI.Timeout <= 0:
		return fmt.Errorf("%w: sbi.timeout must be positive", model.ErrValidation)
	case c.SBI.MaxRetries <= 0:
		return fmt.Errorf("%w: sbi.max_retries must be positive", model.ErrValidation)
	case c.Hash.Version != 1 && c.Hash.Version != 2:
		return fmt.Errorf("%w: hash.version %d is not 1 or 2", model.ErrValidation, c.Hash.Version)
	}
	seen := make(map[string]bool, len(c.Mount))
	for _, id := range c.Mount {
		if id == "" || seen[id] {
			return fmt.Errorf("%w: mount list has an empty or repeated entry %q", model.ErrValidation, id)
		}
		seen[id] = true
	}
	return nil
}

// TargetPower returns the configured default target output power.
func (c *Config) TargetPower() float64 {
	if c.Renderer.TargetOutputPower == nil {
		return DefaultTargetOutputPower
	}
	return *c.Renderer.TargetOutputPower
}

// DeleteFailedIsNotFound reports whether deleting a FAILED service answers
// not found.
func (c *Config) DeleteFailedIsNotFound() bool {
	return c.Services.DeleteFailedIsNotFound == nil || *c.Services.DeleteFailedIsNotFound
}

//
// ---------- Environment ----------
//

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg from LIGHTPATH_* variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &cfg.ListenAddress)
	str("METRICS_ADDR", &cfg.MetricsAddress)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("SBI_TARGET", &cfg.SBI.Target)

	ints := []struct {
		key string
		dst *int
	}{
		{"GRID_CHANNELS", &cfg.Grid.Channels},
		{"SBI_MAX_RETRIES", &cfg.SBI.MaxRetries},
		{"HASH_VERSION", &cfg.Hash.Version},
	}
	for _, e := range ints {
		v, ok := lookup(EnvPrefix + e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", model.ErrValidation, EnvPrefix, e.key, v)
		}
		*e.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SBI_TIMEOUT", &cfg.SBI.Timeout},
		{"AWAIT_TIMEOUT", &cfg.Services.AwaitTimeout},
		{"ROLLBACK_TIMEOUT", &cfg.Renderer.RollbackTimeout},
	}
	for _, e := range durations {
		v, ok := lookup(EnvPrefix + e.key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not a duration", model.ErrValidation, EnvPrefix, e.key, v)
		}
		*e.dst = d
	}

	if v, ok := lookup(EnvPrefix + "TARGET_OUTPUT_POWER"); ok && v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %sTARGET_OUTPUT_POWER=%q is not a number", model.ErrValidation, EnvPrefix, v)
		}
		cfg.Renderer.TargetOutputPower = &p
	}
	if v, ok := lookup(EnvPrefix + "DELETE_FAILED_IS_NOT_FOUND"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sDELETE_FAILED_IS_NOT_FOUND=%q is not a boolean", model.ErrValidation, EnvPrefix, v)
		}
		cfg.Services.DeleteFailedIsNotFound = &b
	}
	if v, ok := lookup(EnvPrefix + "MOUNT"); ok && v != "" {
		cfg.Mount = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Mount = append(cfg.Mount, id)
			}
		}
	}
	return nil
}
