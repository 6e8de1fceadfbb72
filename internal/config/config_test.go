package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/lightpath-controller/model"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LIGHTPATH_LISTEN_ADDR", "LIGHTPATH_SBI_TARGET", "LIGHTPATH_MOUNT", "LIGHTPATH_GRID_CHANNELS"} {
		t.Setenv(key, "")
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != DefaultListenAddress || cfg.MetricsAddress != DefaultMetricsAddress {
		t.Fatalf("addresses = %q/%q", cfg.ListenAddress, cfg.MetricsAddress)
	}
	if cfg.Grid.Channels != model.DefaultChannels || cfg.SBI.Timeout != DefaultSBITimeout || cfg.SBI.MaxRetries != DefaultSBIMaxRetries {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.TargetPower() != DefaultTargetOutputPower || !cfg.DeleteFailedIsNotFound() || cfg.Hash.Version != DefaultHashVersion {
		t.Fatalf("power %v, delete-failed %v, hash %d", cfg.TargetPower(), cfg.DeleteFailedIsNotFound(), cfg.Hash.Version)
	}
	if cfg.SBI.Target != "" || len(cfg.Mount) != 0 {
		t.Fatalf("sbi target %q, mount %v", cfg.SBI.Target, cfg.Mount)
	}
}

func TestLoadFileKeepsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lightpath.yaml")
	doc := `
listen: ":18181"
grid:
  channels: 40
sbi:
  target: devsim:50061
  timeout: 2s
renderer:
  target_output_power: 0
  node_target_output_power:
    ROADMC01: -5
services:
  await_timeout: 1m
  delete_failed_is_not_found: false
hash:
  version: 2
mount: [ROADMA01, ROADMC01]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("LIGHTPATH_LISTEN_ADDR", "")
	t.Setenv("LIGHTPATH_SBI_TARGET", "")
	t.Setenv("LIGHTPATH_MOUNT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":18181" || cfg.MetricsAddress != DefaultMetricsAddress {
		t.Fatalf("addresses = %q/%q", cfg.ListenAddress, cfg.MetricsAddress)
	}
	if cfg.Grid.Channels != 40 || cfg.SBI.Target != "devsim:50061" || cfg.SBI.Timeout != 2*time.Second ||
		cfg.SBI.MaxRetries != DefaultSBIMaxRetries {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.TargetPower() != 0 || cfg.Renderer.NodeOutputPower["ROADMC01"] != -5 {
		t.Fatalf("renderer = %+v", cfg.Renderer)
	}
	if cfg.Services.AwaitTimeout != time.Minute || cfg.DeleteFailedIsNotFound() {
		t.Fatalf("services = %+v", cfg.Services)
	}
	if cfg.Hash.Version != 2 || len(cfg.Mount) != 2 || cfg.Mount[1] != "ROADMC01" {
		t.Fatalf("hash %d, mount %v", cfg.Hash.Version, cfg.Mount)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	var cfg Config
	if err := Parse([]byte("grid:\n  slots: 96\n"), &cfg); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Parse error = %v, want ErrValidation", err)
	}
	if err := Parse(nil, &cfg); err != nil {
		t.Fatalf("Parse(empty) = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, env(map[string]string{
		"LIGHTPATH_LISTEN_ADDR":                ":9999",
		"LIGHTPATH_SBI_TARGET":                 "127.0.0.1:50061",
		"LIGHTPATH_SBI_TIMEOUT":                "250ms",
		"LIGHTPATH_GRID_CHANNELS":              "8",
		"LIGHTPATH_TARGET_OUTPUT_POWER":        "-1.5",
		"LIGHTPATH_DELETE_FAILED_IS_NOT_FOUND": "false",
		"LIGHTPATH_MOUNT":                      "ROADMA01, XPDRA01,,",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.ListenAddress != ":9999" || cfg.SBI.Target != "127.0.0.1:50061" || cfg.SBI.Timeout != 250*time.Millisecond {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.Grid.Channels != 8 || cfg.TargetPower() != -1.5 || cfg.DeleteFailedIsNotFound() {
		t.Fatalf("channels %d, power %v, delete-failed %v", cfg.Grid.Channels, cfg.TargetPower(), cfg.DeleteFailedIsNotFound())
	}
	if len(cfg.Mount) != 2 || cfg.Mount[0] != "ROADMA01" || cfg.Mount[1] != "XPDRA01" {
		t.Fatalf("mount = %v", cfg.Mount)
	}

	bad := []map[string]string{
		{"LIGHTPATH_GRID_CHANNELS": "many"},
		{"LIGHTPATH_SBI_TIMEOUT": "soon"},
		{"LIGHTPATH_TARGET_OUTPUT_POWER": "loud"},
		{"LIGHTPATH_DELETE_FAILED_IS_NOT_FOUND": "maybe"},
	}
	for _, vars := range bad {
		cfg := Default()
		if err := ApplyEnv(&cfg, env(vars)); !errors.Is(err, model.ErrValidation) {
			t.Fatalf("ApplyEnv(%v) error = %v, want ErrValidation", vars, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"channels", func(c *Config) { c.Grid.Channels = -1 }},
		{"timeout", func(c *Config) { c.SBI.Timeout = 0 }},
		{"retries", func(c *Config) { c.SBI.MaxRetries = 0 }},
		{"hash", func(c *Config) { c.Hash.Version = 3 }},
		{"repeated mount", func(c *Config) { c.Mount = []string{"ROADMA01", "ROADMA01"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, model.ErrValidation) {
				t.Fatalf("Validate = %v, want ErrValidation", err)
			}
		})
	}
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate(default) = %v", err)
	}
}
