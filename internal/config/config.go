package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration. Loaded once in main and injected into the
// service container; nothing reads it through a global.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Identity   IdentityConfig   `yaml:"identity"`
	Matching   MatchingConfig   `yaml:"matching"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig mirror database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig queue and broadcast transport configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`        // connect timeout (seconds)
	ReconnectWait int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects int    `yaml:"max_reconnects"`
	StreamName    string `yaml:"stream_name"`
	ConsumerName  string `yaml:"consumer_name"`
}

// BlockchainConfig chain access and relayer configuration
type BlockchainConfig struct {
	ChainID           int64    `yaml:"chainId"`
	RPCEndpoints      []string `yaml:"rpcEndpoints"`
	Contracts         []string `yaml:"contracts"` // exchange contracts to watch
	RelayerPrivateKey string   `yaml:"relayerPrivateKey"` // hex, no 0x prefix
	RelayerAddress    string   `yaml:"relayerAddress"`
	GasLimit          uint64   `yaml:"gasLimit"`
	GasPrice          string   `yaml:"gasPrice"` // wei, empty = suggested

	// ConfirmationTimeout bounds every receipt wait; expiry is treated as a
	// failed submission and claimed orders are released.
	ConfirmationTimeout int `yaml:"confirmationTimeout"` // seconds
	ScanInterval        int `yaml:"scanInterval"`        // log scanner poll interval (seconds)
}

// IdentityConfig external identity resolution service
type IdentityConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"` // seconds
}

// MatchingConfig matching and recovery tuning
type MatchingConfig struct {
	SweepInterval      int     `yaml:"sweepInterval"`      // seconds between recovery sweeps
	SweepTimeout       int     `yaml:"sweepTimeout"`       // seconds an order may stay PROCESSING
	DefaultSlippagePct float64 `yaml:"defaultSlippagePct"` // market order default, e.g. 2.0
	CounterResync      int     `yaml:"counterResync"`      // seconds between id counter resyncs
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// LoadConfig reads the YAML config file, applies environment overrides and
// validates the result.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres"},
		NATS: NATSConfig{
			Timeout:       10,
			ReconnectWait: 5,
			MaxReconnects: -1,
			StreamName:    "exchange-match-jobs",
			ConsumerName:  "match-worker",
		},
		Blockchain: BlockchainConfig{
			GasLimit:            3_000_000,
			ConfirmationTimeout: 120,
			ScanInterval:        5,
		},
		Identity: IdentityConfig{Timeout: 10},
		Matching: MatchingConfig{
			SweepInterval:      60,
			SweepTimeout:       300,
			DefaultSlippagePct: 2.0,
			CounterResync:      600,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}
	if rpc := os.Getenv("RPC_ENDPOINT"); rpc != "" {
		cfg.Blockchain.RPCEndpoints = append([]string{rpc}, cfg.Blockchain.RPCEndpoints...)
	}
	if key := os.Getenv("RELAYER_PRIVATE_KEY"); key != "" {
		cfg.Blockchain.RelayerPrivateKey = key
	}
	if base := os.Getenv("IDENTITY_BASE_URL"); base != "" {
		cfg.Identity.BaseURL = base
	}
}

// Validate checks the fields the core cannot run without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (or DATABASE_DSN)")
	}
	if len(c.Blockchain.RPCEndpoints) == 0 {
		return fmt.Errorf("blockchain.rpcEndpoints must have at least one endpoint")
	}
	if c.Blockchain.RelayerPrivateKey == "" {
		return fmt.Errorf("blockchain.relayerPrivateKey is required (or RELAYER_PRIVATE_KEY)")
	}
	if c.Matching.SweepTimeout <= 0 {
		return fmt.Errorf("matching.sweepTimeout must be positive")
	}
	return nil
}

// ConfirmationTimeoutDuration returns the receipt wait bound as a duration.
func (c *BlockchainConfig) ConfirmationTimeoutDuration() time.Duration {
	return time.Duration(c.ConfirmationTimeout) * time.Second
}

// ScanIntervalDuration returns the log scanner poll interval.
func (c *BlockchainConfig) ScanIntervalDuration() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

// SweepTimeoutDuration returns how long an order may stay PROCESSING.
func (c *MatchingConfig) SweepTimeoutDuration() time.Duration {
	return time.Duration(c.SweepTimeout) * time.Second
}

// SweepIntervalDuration returns the interval between recovery sweeps.
func (c *MatchingConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// CounterResyncDuration returns the interval between id counter resyncs.
func (c *MatchingConfig) CounterResyncDuration() time.Duration {
	return time.Duration(c.CounterResync) * time.Second
}
