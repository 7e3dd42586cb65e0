package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Guest inventory sources
const (
	InventoryAuto     = "auto"
	InventoryMetadata = "metadata"
	InventorySysfs    = "sysfs"
)

type Config struct {
	// Cloud provider key inside the metadata document (ec2, gce, openstack, ...)
	Cloud string `yaml:"cloud"`
	// Metadata is the path to the node metadata document (JSON or YAML)
	Metadata string `yaml:"metadata"`
	// Where the guest device inventory comes from: "auto", "metadata" or "sysfs"
	InventorySource string `yaml:"inventory_source,omitempty"`
	SysfsRoot       string `yaml:"sysfs_root,omitempty"`
	DevRoot         string `yaml:"dev_root,omitempty"`
	// Strict fails detection when a device cannot be found on the guest
	Strict   bool    `yaml:"strict"`
	LogLevel string  `yaml:"log_level,omitempty"`
	History  History `yaml:"history"`
}

type History struct {
	Record   bool   `yaml:"record"`
	Database string `yaml:"database,omitempty"`
}

// defaultConfig provides baseline settings for a live system
var defaultConfig = Config{
	InventorySource: InventoryAuto,
	SysfsRoot:       "/sys",
	DevRoot:         "/dev",
	LogLevel:        "info",
	History: History{
		Database: "/var/lib/ephemeral/history.db",
	},
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

func Load(path string) (*Config, error) {
	if path == "" {
		// Try default locations
		candidates := []string{
			"/etc/ephemeral/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/ephemeral/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := defaultConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config '%s'", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config '%s'", path)
		}
	}

	// Apply defaults for fields cleared by the file
	if cfg.InventorySource == "" {
		cfg.InventorySource = defaultConfig.InventorySource
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = defaultConfig.SysfsRoot
	}
	if cfg.DevRoot == "" {
		cfg.DevRoot = defaultConfig.DevRoot
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultConfig.LogLevel
	}
	if cfg.History.Database == "" {
		cfg.History.Database = defaultConfig.History.Database
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.InventorySource {
	case InventoryAuto, InventoryMetadata, InventorySysfs:
	default:
		return errors.Errorf("unknown inventory_source '%s', expected auto, metadata or sysfs", c.InventorySource)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel
func (c *Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log_level '%s'", c.LogLevel)
	}
	return level, nil
}
