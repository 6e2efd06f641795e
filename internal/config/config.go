// Package config loads the coordination configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ccproto/ccp/internal/types"
)

// Environment variables recognized at load time.
const (
	EnvConfigPath    = "CCP_CONFIG"
	EnvParticipantID = "CCP_PARTICIPANT_ID"
)

// DefaultConfigPath is used when CCP_CONFIG is unset.
const DefaultConfigPath = "coordination.yaml"

// NotificationSettings tune how incoming messages are surfaced.
type NotificationSettings struct {
	Enabled            bool           `yaml:"enabled"`
	PriorityThreshold  types.Priority `yaml:"priority_threshold"`
	BatchNotifications bool           `yaml:"batch_notifications"`
}

// Config is the process-level coordination configuration.
type Config struct {
	ParticipantID        string               `yaml:"participant_id"`
	DataDirectory        string               `yaml:"data_directory"`
	ArchiveDays          int                  `yaml:"archive_days"`
	TokenLimit           int                  `yaml:"token_limit"`
	AutoCompact          *bool                `yaml:"auto_compact"`
	Participants         []string             `yaml:"participants"`
	NotificationSettings NotificationSettings `yaml:"notification_settings"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	auto := true
	return &Config{
		DataDirectory: ".coordination",
		ArchiveDays:   30,
		TokenLimit:    1000000,
		AutoCompact:   &auto,
		NotificationSettings: NotificationSettings{
			Enabled:           true,
			PriorityThreshold: types.PriorityMedium,
		},
	}
}

// Load reads the config file named by CCP_CONFIG (or the conventional
// relative path), applies defaults for unset fields, then applies
// environment overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if pid := os.Getenv(EnvParticipantID); pid != "" {
		cfg.ParticipantID = pid
	}
	return cfg, nil
}

// LoadFile reads a specific config file, falling back to defaults when the
// file does not exist.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDirectory == "" {
		c.DataDirectory = ".coordination"
	}
	if c.ArchiveDays <= 0 {
		c.ArchiveDays = 30
	}
	if c.TokenLimit <= 0 {
		c.TokenLimit = 1000000
	}
	if c.AutoCompact == nil {
		auto := true
		c.AutoCompact = &auto
	}
	if c.NotificationSettings.PriorityThreshold == "" {
		c.NotificationSettings.PriorityThreshold = types.PriorityMedium
	}
}

// AutoCompactEnabled reports whether startup auto-compaction should run.
func (c *Config) AutoCompactEnabled() bool {
	return c.AutoCompact == nil || *c.AutoCompact
}
