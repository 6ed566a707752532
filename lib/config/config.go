// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the controller.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Root is the base directory for controller state. Available to
	// path fields as ${RENDERFARM_ROOT}.
	Root string `yaml:"root"`

	Store   StoreConfig   `yaml:"store"`
	Fleet   FleetConfig   `yaml:"fleet"`
	Channel ChannelConfig `yaml:"channel"`
	Render  RenderConfig  `yaml:"render"`
	Control ControlConfig `yaml:"control"`
	Log     LogConfig     `yaml:"log"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Store   *StoreConfig   `yaml:"store,omitempty"`
	Fleet   *FleetConfig   `yaml:"fleet,omitempty"`
	Channel *ChannelConfig `yaml:"channel,omitempty"`
	Render  *RenderConfig  `yaml:"render,omitempty"`
	Control *ControlConfig `yaml:"control,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// StoreConfig configures the SQLite record store.
type StoreConfig struct {
	// Path is the database file.
	// Default: ${RENDERFARM_ROOT}/records.db
	Path string `yaml:"path"`

	// PoolSize is the number of connections.
	// Default: 4
	PoolSize int `yaml:"pool_size"`
}

// FleetConfig configures worker liveness.
type FleetConfig struct {
	// Workgroup is the workgroup the controller schedules onto.
	// Default: default
	Workgroup string `yaml:"workgroup"`

	// RecentWindowSeconds is how long after its last heartbeat a
	// worker counts as alive.
	// Default: 30
	RecentWindowSeconds int `yaml:"recent_window_seconds"`

	// SweepIntervalSeconds is how often dead workers are deleted.
	// Default: 10
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// ChannelConfig configures command channels to worker hosts.
type ChannelConfig struct {
	// DialTimeout bounds connecting to a worker.
	// Default: 10s
	DialTimeout string `yaml:"dial_timeout"`

	// CommandTimeout bounds one command's round trip. Renders are slow.
	// Default: 30m
	CommandTimeout string `yaml:"command_timeout"`

	// FailureMarkers are the substrings that mark a response as a
	// failure when a command has no classifier.
	// Default: [FAIL, Exception]
	FailureMarkers []string `yaml:"failure_markers"`

	// QueueDepth is the number of commands that may wait per channel.
	// Default: 64
	QueueDepth int `yaml:"queue_depth"`
}

// RenderConfig configures render jobs and their artifacts.
type RenderConfig struct {
	// PublicURL is the externally reachable base URL artifacts are
	// uploaded to and served from. Required.
	PublicURL string `yaml:"public_url"`

	// MajorVersion is the API version segment of artifact URLs.
	// Default: 1
	MajorVersion int `yaml:"major_version"`

	// WorkerTempDir is where worker hosts write rendered PNGs.
	// Default: C:\Temp
	WorkerTempDir string `yaml:"worker_temp_dir"`

	// WorkerHomeDir is the worker-side root of per-key workspaces.
	// Empty disables opening session scenes on connect.
	WorkerHomeDir string `yaml:"worker_home_dir"`

	// CurlPath is the upload tool on worker hosts.
	// Default: C:\bin\curl.exe
	CurlPath string `yaml:"curl_path"`

	// PresetsFile is a JSONC file of render presets layered over the
	// built-in ones. Optional.
	PresetsFile string `yaml:"presets_file"`

	// DefaultPreset applies to jobs that name none. Optional.
	DefaultPreset string `yaml:"default_preset"`
}

// ControlConfig configures the operator control socket.
type ControlConfig struct {
	// SocketPath is the Unix socket the controller listens on.
	// Default: /run/renderfarm/control.sock
	SocketPath string `yaml:"socket_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Default: debug (development), info (production)
	Level string `yaml:"level"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "renderfarm")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Store: StoreConfig{
			Path:     "${RENDERFARM_ROOT}/records.db",
			PoolSize: 4,
		},
		Fleet: FleetConfig{
			Workgroup:            "default",
			RecentWindowSeconds:  30,
			SweepIntervalSeconds: 10,
		},
		Channel: ChannelConfig{
			DialTimeout:    "10s",
			CommandTimeout: "30m",
			FailureMarkers: []string{"FAIL", "Exception"},
			QueueDepth:     64,
		},
		Render: RenderConfig{
			MajorVersion:  1,
			WorkerTempDir: `C:\Temp`,
			CurlPath:      `C:\bin\curl.exe`,
		},
		Control: ControlConfig{
			SocketPath: "/run/renderfarm/control.sock",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Load loads configuration from the RENDERFARM_CONFIG environment
// variable. If it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("RENDERFARM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("RENDERFARM_CONFIG environment variable not set; " +
			"set it to the path of your renderfarm.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. The only expansion
// performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{Log: &LogConfig{Level: "info"}}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Store != nil {
		setString(&c.Store.Path, overrides.Store.Path)
		setInt(&c.Store.PoolSize, overrides.Store.PoolSize)
	}

	if overrides.Fleet != nil {
		setString(&c.Fleet.Workgroup, overrides.Fleet.Workgroup)
		setInt(&c.Fleet.RecentWindowSeconds, overrides.Fleet.RecentWindowSeconds)
		setInt(&c.Fleet.SweepIntervalSeconds, overrides.Fleet.SweepIntervalSeconds)
	}

	if overrides.Channel != nil {
		setString(&c.Channel.DialTimeout, overrides.Channel.DialTimeout)
		setString(&c.Channel.CommandTimeout, overrides.Channel.CommandTimeout)
		if len(overrides.Channel.FailureMarkers) > 0 {
			c.Channel.FailureMarkers = overrides.Channel.FailureMarkers
		}
		setInt(&c.Channel.QueueDepth, overrides.Channel.QueueDepth)
	}

	if overrides.Render != nil {
		setString(&c.Render.PublicURL, overrides.Render.PublicURL)
		setInt(&c.Render.MajorVersion, overrides.Render.MajorVersion)
		setString(&c.Render.WorkerTempDir, overrides.Render.WorkerTempDir)
		setString(&c.Render.WorkerHomeDir, overrides.Render.WorkerHomeDir)
		setString(&c.Render.CurlPath, overrides.Render.CurlPath)
		setString(&c.Render.PresetsFile, overrides.Render.PresetsFile)
		setString(&c.Render.DefaultPreset, overrides.Render.DefaultPreset)
	}

	if overrides.Control != nil {
		setString(&c.Control.SocketPath, overrides.Control.SocketPath)
	}

	if overrides.Log != nil {
		setString(&c.Log.Level, overrides.Log.Level)
	}
}

func setString(field *string, override string) {
	if override != "" {
		*field = override
	}
}

func setInt(field *int, override int) {
	if override != 0 {
		*field = override
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"RENDERFARM_ROOT": c.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["RENDERFARM_ROOT"] = c.Root // Update for dependent paths.

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
	c.Render.PresetsFile = expandVars(c.Render.PresetsFile, vars)
	c.Render.PublicURL = expandVars(c.Render.PublicURL, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Store.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("store.pool_size must be at least 1"))
	}

	if c.Fleet.RecentWindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("fleet.recent_window_seconds must be at least 1"))
	}
	if c.Fleet.SweepIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("fleet.sweep_interval_seconds must be at least 1"))
	}

	for name, value := range map[string]string{
		"channel.dial_timeout":    c.Channel.DialTimeout,
		"channel.command_timeout": c.Channel.CommandTimeout,
	} {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", name, value))
		}
	}
	if slices.Contains(c.Channel.FailureMarkers, "") {
		errs = append(errs, fmt.Errorf("channel.failure_markers must not contain an empty marker"))
	}
	if c.Channel.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("channel.queue_depth must be at least 1"))
	}

	if c.Render.PublicURL == "" {
		errs = append(errs, fmt.Errorf("render.public_url is required"))
	} else if parsed, err := url.Parse(c.Render.PublicURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("render.public_url must be an absolute URL, got %q", c.Render.PublicURL))
	}
	if c.Render.MajorVersion < 1 {
		errs = append(errs, fmt.Errorf("render.major_version must be at least 1"))
	}
	if c.Render.WorkerTempDir == "" {
		errs = append(errs, fmt.Errorf("render.worker_temp_dir is required"))
	}

	if c.Control.SocketPath == "" {
		errs = append(errs, fmt.Errorf("control.socket_path is required"))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RecentWindow returns fleet.recent_window_seconds as a duration.
func (c *Config) RecentWindow() time.Duration {
	return time.Duration(c.Fleet.RecentWindowSeconds) * time.Second
}

// SweepInterval returns fleet.sweep_interval_seconds as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Fleet.SweepIntervalSeconds) * time.Second
}

// DialTimeout returns channel.dial_timeout, or zero if it does not
// parse. Call Validate first.
func (c *Config) DialTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Channel.DialTimeout)
	return d
}

// CommandTimeout returns channel.command_timeout, or zero if it does
// not parse. Call Validate first.
func (c *Config) CommandTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Channel.CommandTimeout)
	return d
}

// LogLevel returns log.level, or info if it does not parse.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// EnsurePaths creates the parent directories of the store and control
// socket if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Root,
		filepath.Dir(c.Store.Path),
		filepath.Dir(c.Control.SocketPath),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
