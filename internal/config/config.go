// Package config loads and saves the indexer's on-disk configuration,
// following the node package's YAML-file-with-defaults pattern.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"gopkg.in/yaml.v3"
)

// Chain selects which network the indexer and its node RPC target run on.
type Chain string

const (
	Mainnet Chain = "mainnet"
	Testnet Chain = "testnet"
	Regtest Chain = "regtest"
	Signet  Chain = "signet"
)

// Params returns the btcsuite chain parameters matching c, for address
// decoding and script classification.
func (c Chain) Params() *chaincfg.Params {
	switch c {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Regtest:
		return &chaincfg.RegressionNetParams
	case Signet:
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// RPCConfig holds the node RPC connection settings.
type RPCConfig struct {
	URL     string        `yaml:"url"`
	User    string        `yaml:"user"`
	Pass    string        `yaml:"pass"`
	Timeout time.Duration `yaml:"timeout"`
}

// CommitConfig bounds a write-transaction window by block count and by
// wall-clock time, whichever comes first.
type CommitConfig struct {
	Interval uint64        `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`
}

// Config holds all configuration for the indexer process.
type Config struct {
	// Network selects the chain the node RPC and block parsing target.
	Network Chain `yaml:"network"`

	// DataDir is the directory for the index file, config file, and any
	// other on-disk state.
	DataDir string `yaml:"data_dir"`

	// IndexPath overrides the index file location; empty means
	// <DataDir>/index.bolt.
	IndexPath string `yaml:"index_path"`

	// IndexSats enables the sat-range tables (OUTPOINT_TO_SAT_RANGES,
	// SAT_TO_SATPOINT, SAT_TO_INSCRIPTION_ID). Off by default since it
	// roughly triples index size.
	IndexSats bool `yaml:"index_sats"`

	// FirstInscriptionHeight gates detection of brand-new inscriptions.
	// Sat-range accounting always runs regardless of this height.
	FirstInscriptionHeight uint64 `yaml:"first_inscription_height"`

	// HeightLimit stops indexing once reached; 0 means follow the tip
	// indefinitely.
	HeightLimit uint64 `yaml:"height_limit"`

	RPC     RPCConfig     `yaml:"rpc"`
	Commit  CommitConfig  `yaml:"commit"`
	Logging LoggingConfig `yaml:"logging"`

	// Mirror, if non-empty, is the sqlite3 DSN for the optional external
	// mirror sink. Empty disables mirroring.
	Mirror string `yaml:"mirror"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network:   Mainnet,
		DataDir:   "~/.ordindexer",
		IndexSats: false,
		RPC: RPCConfig{
			URL:     "http://127.0.0.1:8332",
			Timeout: 30 * time.Second,
		},
		Commit: CommitConfig{
			Interval: 5000,
			Timeout:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// IndexFileName is the default index file name, relative to DataDir.
const IndexFileName = "index.bolt"

// ResolvedIndexPath returns IndexPath if set, else <DataDir>/index.bolt.
func (c *Config) ResolvedIndexPath() string {
	if c.IndexPath != "" {
		return expandPath(c.IndexPath)
	}
	return filepath.Join(expandPath(c.DataDir), IndexFileName)
}

// IsTestnet reports whether the configured network is anything other than
// mainnet.
func (c *Config) IsTestnet() bool {
	return c.Network != Mainnet
}

// LoadConfig loads configuration from <dataDir>/config.yaml. If the file
// doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("config: create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file at path.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}

	header := []byte("# ordindexer configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
