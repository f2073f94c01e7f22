// Package config parses the node's YAML configuration file.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	GenesisPath string `yaml:"genesis_path"`
	KeyPath     string `yaml:"key_path"`
	LogLevel    string `yaml:"log_level"`

	Network NetworkConfig `yaml:"network"`
	RPC     RPCConfig     `yaml:"rpc"`
	Mempool MempoolConfig `yaml:"mempool"`
	Storage StorageConfig `yaml:"storage"`
}

// NetworkConfig contains P2P listener settings (spec §4.12).
type NetworkConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	MaxPeers       int      `yaml:"max_peers"`
}

// RPCConfig contains JSON-RPC server settings (spec §6).
type RPCConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Timeout    string `yaml:"timeout,omitempty"`
}

// MempoolConfig bounds pending-transaction admission (spec §4.8).
type MempoolConfig struct {
	MaxBlockGas uint64 `yaml:"max_block_gas"`
	MinTxGas    uint64 `yaml:"min_tx_gas"`
}

// StorageConfig sizes the tiered storage hot tier (spec §4.10).
type StorageConfig struct {
	HotTierSize int `yaml:"hot_tier_size"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.GenesisPath == "" {
		return fmt.Errorf("genesis_path is required")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("key_path is required")
	}
	return nil
}

// GetTimeout converts the RPC timeout string to a time.Duration,
// defaulting to 30s.
func (r *RPCConfig) GetTimeout() time.Duration {
	if r.Timeout == "" {
		return 30 * time.Second
	}
	if d, err := time.ParseDuration(r.Timeout); err == nil {
		return d
	}
	return 30 * time.Second
}
