// Package config loads the optional YAML configuration of a peerchef node.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config mirrors the node options. Zero values mean "use the node
// default".
type Config struct {
	StoragePath    string        `yaml:"storage_path"`
	Topic          string        `yaml:"topic" validate:"omitempty,printascii,max=128"`
	ListenAddrs    []string      `yaml:"listen_addrs" validate:"dive,required,startswith=/"`
	PublishTimeout time.Duration `yaml:"publish_timeout" validate:"gte=0"`

	MDNS   MDNSConfig   `yaml:"mdns"`
	Gossip GossipConfig `yaml:"gossip"`

	LogLevel       string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Libp2pLogLevel string `yaml:"libp2p_log_level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
}

type MDNSConfig struct {
	Disabled bool          `yaml:"disabled"`
	Service  string        `yaml:"service" validate:"omitempty,hostname_rfc1123"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

type GossipConfig struct {
	Enabled    bool     `yaml:"enabled"`
	BindAddr   string   `yaml:"bind_addr" validate:"omitempty,ip"`
	BindPort   int      `yaml:"bind_port" validate:"gte=0,lte=65535"`
	Neighbours []string `yaml:"neighbours" validate:"dive,hostname_port"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		Libp2pLogLevel: "error",
	}
}

// Load reads and validates a YAML file. Fields absent from the file keep
// their `Default` value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: could not read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.MDNS.Disabled && !cfg.Gossip.Enabled {
		return fmt.Errorf("%w: at least one discovery mechanism must be enabled", ErrInvalidConfig)
	}
	return nil
}
