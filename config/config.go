// Package config loads the node configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/pacsnode/types"
)

// Destination is a known C-MOVE destination.
type Destination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig controls the instance repository.
type StorageConfig struct {
	// Path is the Badger database directory.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. For tests and throwaway runs.
	InMemory bool `yaml:"in_memory"`

	// GCInterval between value-log garbage collection passes.
	GCInterval time.Duration `yaml:"gc_interval"`
}

// LandingConfig controls the retrieve landing area and its completion
// detector.
type LandingConfig struct {
	Root                string        `yaml:"root"`
	Timeout             time.Duration `yaml:"timeout"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	RequiredStablePolls int           `yaml:"required_stable_polls"`
}

// Config is the full node configuration.
type Config struct {
	// AETitle is the application entity title this node answers to.
	AETitle string `yaml:"ae_title"`

	// Listen is the DICOM listener address, host:port.
	Listen string `yaml:"listen"`

	// MetricsListen is the Prometheus /metrics address. Empty disables it.
	MetricsListen string `yaml:"metrics_listen"`

	// Destinations maps move destination AE titles to their addresses.
	// A C-MOVE naming any other AE title is refused.
	Destinations map[string]Destination `yaml:"destinations"`

	// Capabilities are the SOP class UIDs proposed on outbound store
	// associations.
	Capabilities []string `yaml:"capabilities"`

	Storage StorageConfig `yaml:"storage"`
	Landing LandingConfig `yaml:"landing"`
}

// Default returns the built-in configuration: a node called MYPACS with the
// two test destinations the reference deployment uses.
func Default() *Config {
	return &Config{
		AETitle:       "MYPACS",
		Listen:        ":11112",
		MetricsListen: "",
		Destinations: map[string]Destination{
			"TESTSCU":  {Host: "127.0.0.1", Port: 11113},
			"TESTSCU2": {Host: "127.0.0.1", Port: 11119},
		},
		Capabilities: []string{
			types.CTImageStorage,
			types.MRImageStorage,
			types.SecondaryCaptureImageStorage,
		},
		Storage: StorageConfig{
			Path:       "data/instances",
			GCInterval: 10 * time.Minute,
		},
		Landing: LandingConfig{
			Root:                "data/landing",
			Timeout:             10 * time.Second,
			PollInterval:        500 * time.Millisecond,
			RequiredStablePolls: 2,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.AETitle == "" {
		return fmt.Errorf("config: ae_title is required")
	}
	if len(c.AETitle) > 16 {
		return fmt.Errorf("config: ae_title %q exceeds 16 characters", c.AETitle)
	}
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	for ae, dest := range c.Destinations {
		if ae == "" || len(ae) > 16 {
			return fmt.Errorf("config: invalid destination AE title %q", ae)
		}
		if dest.Host == "" {
			return fmt.Errorf("config: destination %s has no host", ae)
		}
		if dest.Port <= 0 || dest.Port > 65535 {
			return fmt.Errorf("config: destination %s has invalid port %d", ae, dest.Port)
		}
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("config: storage path is required unless in_memory is set")
	}
	return nil
}
