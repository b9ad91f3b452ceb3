package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
)

// Config holds the configuration of the intentmesh server and CLI
type Config struct {
	Store           StoreConfig
	HTTPPort        string
	APIEndpoint     string
	SweepInterval   time.Duration
	StaleMatchAfter time.Duration
	MetricsAPIKey   string
	Events          EventsConfig
	Wallet          WalletConfig
	CircuitBreaker  CircuitBreakerConfig
	LoggerConfig    LoggerConfig
}

// StoreConfig selects and locates the intent store
type StoreConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

// EventsConfig selects where lifecycle events go
type EventsConfig struct {
	Sink         string
	KafkaBrokers []string
	KafkaTopic   string
}

// WalletConfig holds the settlement wallet settings
type WalletConfig struct {
	Driver         string
	Address        string
	RPCURL         string
	PrivateKey     string
	TokenAddresses map[string]string
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment
func FromEnv() (*Config, error) {
	storeDriver, err := GetEnvStoreDriver()
	if err != nil {
		return nil, err
	}

	httpPort, err := GetEnvHTTPPort()
	if err != nil {
		return nil, err
	}

	apiEndpoint, err := GetEnvAPIEndpoint()
	if err != nil {
		return nil, err
	}

	sweepInterval, err := GetEnvSweepInterval()
	if err != nil {
		return nil, err
	}

	staleMatchAfter, err := GetEnvStaleMatchAfter()
	if err != nil {
		return nil, err
	}

	eventsSink, err := GetEnvEventsSink()
	if err != nil {
		return nil, err
	}

	walletDriver, err := GetEnvWalletDriver()
	if err != nil {
		return nil, err
	}

	tokenAddresses, err := GetEnvTokenAddresses()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Store: StoreConfig{
			Driver:      storeDriver,
			DatabaseURL: getEnv("DATABASE_URL"),
			SQLitePath:  GetEnvSQLitePath(),
		},
		HTTPPort:        httpPort,
		APIEndpoint:     apiEndpoint,
		SweepInterval:   sweepInterval,
		StaleMatchAfter: staleMatchAfter,
		MetricsAPIKey:   getEnv("METRICS_API_KEY"),
		Events: EventsConfig{
			Sink:         eventsSink,
			KafkaBrokers: GetEnvKafkaBrokers(),
			KafkaTopic:   GetEnvKafkaTopic(),
		},
		Wallet: WalletConfig{
			Driver:         walletDriver,
			Address:        getEnv("WALLET_ADDRESS"),
			RPCURL:         getEnv("EVM_RPC_URL"),
			PrivateKey:     getEnv("PRIVATE_KEY"),
			TokenAddresses: tokenAddresses,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks settings that depend on each other
func validateConfig(cfg *Config) error {
	if cfg.Store.Driver == StoreDriverPostgres && cfg.Store.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required when STORE_DRIVER is %s", StoreDriverPostgres)
	}
	if cfg.Events.Sink == EventsSinkKafka && len(cfg.Events.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS environment variable is required when EVENTS_SINK is %s", EventsSinkKafka)
	}
	return nil
}

// ValidateWallet checks the settings needed to settle intents. It is only
// enforced by commands that submit transfers.
func (c *Config) ValidateWallet() error {
	switch c.Wallet.Driver {
	case WalletDriverLocal:
		if c.Wallet.Address == "" {
			return fmt.Errorf("WALLET_ADDRESS environment variable is required when WALLET_DRIVER is %s", WalletDriverLocal)
		}
	case WalletDriverEVM:
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("PRIVATE_KEY environment variable is required when WALLET_DRIVER is %s", WalletDriverEVM)
		}
		if c.Wallet.RPCURL == "" {
			return fmt.Errorf("EVM_RPC_URL environment variable is required when WALLET_DRIVER is %s", WalletDriverEVM)
		}
		if len(c.Wallet.TokenAddresses) == 0 {
			return fmt.Errorf("at least one <SYMBOL>_TOKEN_ADDRESS is required when WALLET_DRIVER is %s", WalletDriverEVM)
		}
	}
	return nil
}

// NewLogger builds the logger described by the configuration
func (c *Config) NewLogger() logger.Logger {
	return logger.NewStdLogger(c.LoggerConfig.Coloring, c.LoggerConfig.Level)
}
