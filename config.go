package stash

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the explicit configuration surface of the cache. It is
// passed to New rather than read from ambient state.
type Config struct {
	Local  LocalConfig  `yaml:"local"`
	Remote RemoteConfig `yaml:"remote"`
}

// LocalConfig configures the local directory tier.
type LocalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// RemoteConfig configures the remote tier.
//
// Endpoint selects the transport: "http://" or "https://" prefixes use
// the HTTP byte store, anything else is treated as a shared directory.
// Push controls whether entries are uploaded after a local store; a
// pull-only remote sets Enabled without Push.
type RemoteConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Push     bool   `yaml:"push"`
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks internal consistency of the configuration.
func (c Config) validate() error {
	if c.Local.Enabled && c.Local.Directory == "" {
		return errors.New("local cache enabled without a directory")
	}
	if c.Remote.Enabled && c.Remote.Endpoint == "" {
		return errors.New("remote cache enabled without an endpoint")
	}
	if c.Remote.Push && !c.Remote.Enabled {
		return errors.New("remote push requires the remote cache to be enabled")
	}
	return nil
}
