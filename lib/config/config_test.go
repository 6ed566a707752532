// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "renderfarm.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.RecentWindow() != 30*time.Second {
		t.Errorf("expected recent window 30s, got %s", cfg.RecentWindow())
	}
	if cfg.SweepInterval() != 10*time.Second {
		t.Errorf("expected sweep interval 10s, got %s", cfg.SweepInterval())
	}
	if !reflect.DeepEqual(cfg.Channel.FailureMarkers, []string{"FAIL", "Exception"}) {
		t.Errorf("expected failure markers [FAIL Exception], got %v", cfg.Channel.FailureMarkers)
	}
	if cfg.Render.MajorVersion != 1 || cfg.Render.WorkerTempDir != `C:\Temp` {
		t.Errorf("unexpected render defaults: %+v", cfg.Render)
	}
}

func TestLoad_RequiresRenderfarmConfig(t *testing.T) {
	t.Setenv("RENDERFARM_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when RENDERFARM_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "RENDERFARM_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithRenderfarmConfig(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging
root: /srv/farm
render:
  public_url: https://farm.example.com
`)
	t.Setenv("RENDERFARM_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Store.Path != "/srv/farm/records.db" {
		t.Errorf("expected store path under root, got %s", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, `
environment: development

store:
  path: /data/records.db
  pool_size: 8

fleet:
  workgroup: lighting
  recent_window_seconds: 45

channel:
  command_timeout: 2h
  failure_markers: [FAIL, Exception, "-- Error"]

render:
  public_url: https://farm.example.com
  major_version: 2
  worker_home_dir: D:\farm
  default_preset: preview

log:
  level: warn
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Store.Path != "/data/records.db" || cfg.Store.PoolSize != 8 {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Fleet.Workgroup != "lighting" || cfg.RecentWindow() != 45*time.Second {
		t.Errorf("unexpected fleet config: %+v", cfg.Fleet)
	}
	// Unset keys keep their defaults.
	if cfg.SweepInterval() != 10*time.Second {
		t.Errorf("expected default sweep interval, got %s", cfg.SweepInterval())
	}
	if cfg.CommandTimeout() != 2*time.Hour || cfg.DialTimeout() != 10*time.Second {
		t.Errorf("unexpected timeouts: dial %s, command %s", cfg.DialTimeout(), cfg.CommandTimeout())
	}
	if len(cfg.Channel.FailureMarkers) != 3 {
		t.Errorf("expected 3 failure markers, got %v", cfg.Channel.FailureMarkers)
	}
	if cfg.Render.WorkerHomeDir != `D:\farm` || cfg.Render.MajorVersion != 2 {
		t.Errorf("unexpected render config: %+v", cfg.Render)
	}
	if cfg.LogLevel() != slog.LevelWarn {
		t.Errorf("expected warn level, got %s", cfg.LogLevel())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, `
environment: production
render:
  public_url: https://staging.example.com
production:
  render:
    public_url: https://farm.example.com
  fleet:
    sweep_interval_seconds: 60
  log:
    level: error
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Render.PublicURL != "https://farm.example.com" {
		t.Errorf("expected production public_url, got %s", cfg.Render.PublicURL)
	}
	if cfg.SweepInterval() != time.Minute {
		t.Errorf("expected 60s sweep, got %s", cfg.SweepInterval())
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected log level error, got %s", cfg.Log.Level)
	}
	// Base values not named in the override are kept.
	if cfg.RecentWindow() != 30*time.Second {
		t.Errorf("expected default recent window, got %s", cfg.RecentWindow())
	}
}

func TestProductionDefaultsToInfoLogging(t *testing.T) {
	configPath := writeConfig(t, `
environment: production
render:
  public_url: https://farm.example.com
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info level in production, got %s", cfg.LogLevel())
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("FARM_SOCKETS", "/run/farm")

	tests := []struct {
		name  string
		input string
		vars  map[string]string
		want  string
	}{
		{"provided var", "${RENDERFARM_ROOT}/records.db", map[string]string{"RENDERFARM_ROOT": "/srv"}, "/srv/records.db"},
		{"environment", "${FARM_SOCKETS}/control.sock", nil, "/run/farm/control.sock"},
		{"default used", "${FARM_UNSET_VAR:-/tmp}/x", nil, "/tmp/x"},
		{"default ignored", "${FARM_SOCKETS:-/tmp}/x", nil, "/run/farm/x"},
		{"no pattern", "/plain/path", nil, "/plain/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandVars(tt.input, tt.vars); got != tt.want {
				t.Errorf("expandVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Render.PublicURL = "https://farm.example.com"
		return cfg
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "qa" }, "invalid environment"},
		{"missing public url", func(c *Config) { c.Render.PublicURL = "" }, "render.public_url is required"},
		{"relative public url", func(c *Config) { c.Render.PublicURL = "farm/outputs" }, "absolute URL"},
		{"bad duration", func(c *Config) { c.Channel.DialTimeout = "soon" }, "channel.dial_timeout"},
		{"empty marker", func(c *Config) { c.Channel.FailureMarkers = []string{"FAIL", ""} }, "empty marker"},
		{"zero window", func(c *Config) { c.Fleet.RecentWindowSeconds = 0 }, "recent_window_seconds"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = ""
	cfg.Control.SocketPath = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"store.path", "control.socket_path", "render.public_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Root = filepath.Join(root, "farm")
	cfg.Store.Path = filepath.Join(root, "data", "records.db")
	cfg.Control.SocketPath = filepath.Join(root, "run", "control.sock")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{"farm", "data", "run"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
