// Package config defines the runtime configuration struct, YAML parsing,
// defaulting, validation, and atomic persistence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Blocklist BlocklistConfig `yaml:"blocklist"`
	Logging   LoggingConfig   `yaml:"logging"`
	Updater   UpdaterConfig   `yaml:"updater"`
}

// ServerConfig holds listener and forwarding settings.
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	ListenPort     int      `yaml:"listen_port"`
	UpstreamDNS    []string `yaml:"upstream_dns"`
	BlockedResponse string  `yaml:"blocked_response"` // refused, nxdomain, zero
}

// BlocklistConfig holds the blocklist source settings.
type BlocklistConfig struct {
	CustomList      string   `yaml:"custom_list"`
	LocalLists      []string `yaml:"local_lists"`
	RemoteLists     []string `yaml:"remote_lists"`
	EnableWildcards bool     `yaml:"enable_wildcards"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	LogLevel  string `yaml:"log_level"`  // trace, debug, info, warn, error
	LogBlocked bool  `yaml:"log_blocked"`
	LogPath   string `yaml:"log_path"`
}

// UpdaterConfig holds the periodic refresh schedule.
type UpdaterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // five-field cron expression
	Timezone string `yaml:"timezone"` // IANA zone or offset abbreviation
}

const (
	// BlockedRefused answers blocked queries with RCODE REFUSED.
	BlockedRefused = "refused"
	// BlockedNXDomain answers blocked queries with RCODE NXDOMAIN.
	BlockedNXDomain = "nxdomain"
	// BlockedZero answers blocked queries with a zeroed A/AAAA record.
	BlockedZero = "zero"
)

// Load loads the configuration from a YAML file.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by user via CLI flag, this is intentional
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults, bypassing
// file parsing. Used by tests; the CLI commands always load the config file.
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Clone creates a deep copy of the configuration via a YAML marshal/unmarshal
// roundtrip, used to hand a stable snapshot of settings to a rebuild
// goroutine without racing the caller's mutations.
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config for cloning: %w", err)
	}

	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config clone: %w", err)
	}

	clone.applyDefaults()

	return &clone, nil
}

// Save writes the configuration back to a YAML file atomically: marshal,
// write to a temp file in the same directory, then rename over the target.
// This prevents a crash mid-write from corrupting the live config.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0"
	}
	if c.Server.ListenPort == 0 {
		c.Server.ListenPort = 53
	}
	if len(c.Server.UpstreamDNS) == 0 {
		c.Server.UpstreamDNS = []string{"1.1.1.1:53", "8.8.8.8:53"}
	}
	if c.Server.BlockedResponse == "" {
		c.Server.BlockedResponse = BlockedNXDomain
	}

	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = "info"
	}

	if c.Updater.Schedule == "" {
		c.Updater.Schedule = "0 0 * * *" // daily at midnight
	}
	if c.Updater.Timezone == "" {
		c.Updater.Timezone = "UTC"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		return fmt.Errorf("server.listen_addr cannot be empty")
	}
	if c.Server.ListenPort <= 0 || c.Server.ListenPort > 65535 {
		return fmt.Errorf("server.listen_port must be between 1 and 65535")
	}
	if len(c.Server.UpstreamDNS) == 0 {
		return fmt.Errorf("at least one server.upstream_dns server must be configured")
	}

	switch c.Server.BlockedResponse {
	case BlockedRefused, BlockedNXDomain, BlockedZero:
	default:
		return fmt.Errorf("invalid server.blocked_response: %s (must be refused, nxdomain, or zero)", c.Server.BlockedResponse)
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.LogLevel] {
		return fmt.Errorf("invalid logging.log_level: %s (must be trace, debug, info, warn, or error)", c.Logging.LogLevel)
	}

	if c.Updater.Enabled {
		if strings.TrimSpace(c.Updater.Schedule) == "" {
			return fmt.Errorf("updater.schedule cannot be empty when updater is enabled")
		}
		if _, err := time.LoadLocation(c.Updater.Timezone); err != nil {
			return fmt.Errorf("invalid updater.timezone %q: %w", c.Updater.Timezone, err)
		}
	}

	return nil
}
