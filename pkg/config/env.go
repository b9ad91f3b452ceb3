package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"

	EventsSinkLog   = "log"
	EventsSinkKafka = "kafka"
	EventsSinkNone  = "none"

	WalletDriverLocal = "local"
	WalletDriverEVM   = "evm"

	// DefaultStoreDriver keeps intents in memory
	DefaultStoreDriver = StoreDriverMemory

	// DefaultSQLitePath is the database file used by the sqlite driver
	DefaultSQLitePath = "intentmesh.db"

	// DefaultHTTPPort defines the default port of the API server
	DefaultHTTPPort = "8080"

	// DefaultAPIEndpoint is the server the CLI talks to
	DefaultAPIEndpoint = "http://localhost:8080"

	// DefaultSweepInterval defines how often expired intents are swept
	DefaultSweepInterval = 30 * time.Second

	// DefaultStaleMatchAfter defines when an unconfirmed match is reported as stale
	DefaultStaleMatchAfter = 15 * time.Minute

	// DefaultEventsSink logs lifecycle events
	DefaultEventsSink = EventsSinkLog

	// DefaultKafkaTopic receives lifecycle events
	DefaultKafkaTopic = "intentmesh.intents"

	// DefaultWalletDriver defines the wallet used by the settle command
	DefaultWalletDriver = WalletDriverLocal

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultLogLevel defines the minimum level that is logged
	DefaultLogLevel = logger.InfoLevel

	// DefaultLogColoring defines whether log prefixes are colored
	DefaultLogColoring = true
)

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetEnvStoreDriver returns the intent store driver from environment variables
func GetEnvStoreDriver() (string, error) {
	driver := strings.ToLower(getEnv("STORE_DRIVER"))
	if driver == "" {
		return DefaultStoreDriver, nil
	}

	switch driver {
	case StoreDriverMemory, StoreDriverSQLite, StoreDriverPostgres:
		return driver, nil
	}
	return "", fmt.Errorf("invalid STORE_DRIVER value: %s, must be 'memory', 'sqlite' or 'postgres'", driver)
}

// GetEnvSQLitePath returns the sqlite database path from environment variables
func GetEnvSQLitePath() string {
	path := getEnv("SQLITE_PATH")
	if path == "" {
		return DefaultSQLitePath
	}
	return path
}

// GetEnvHTTPPort returns the API server port from environment variables
func GetEnvHTTPPort() (string, error) {
	port := getEnv("HTTP_PORT")
	if port == "" {
		return DefaultHTTPPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid HTTP_PORT value: %s, must be a valid integer", port)
	}
	return port, nil
}

// GetEnvAPIEndpoint returns the API endpoint from environment variables
func GetEnvAPIEndpoint() (string, error) {
	apiEndpoint := getEnv("API_ENDPOINT")
	if apiEndpoint == "" {
		return DefaultAPIEndpoint, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(apiEndpoint); err != nil {
		return "", fmt.Errorf("invalid API_ENDPOINT value: %s, must be a valid URL", apiEndpoint)
	}
	return strings.TrimRight(apiEndpoint, "/"), nil
}

// GetEnvSweepInterval returns the sweep interval from environment variables
func GetEnvSweepInterval() (time.Duration, error) {
	return getEnvPositiveDuration("SWEEP_INTERVAL", DefaultSweepInterval)
}

// GetEnvStaleMatchAfter returns the stale match threshold from environment variables
func GetEnvStaleMatchAfter() (time.Duration, error) {
	return getEnvPositiveDuration("STALE_MATCH_AFTER", DefaultStaleMatchAfter)
}

func getEnvPositiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := getEnv(key)
	if value == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// GetEnvEventsSink returns the lifecycle event sink from environment variables
func GetEnvEventsSink() (string, error) {
	sink := strings.ToLower(getEnv("EVENTS_SINK"))
	if sink == "" {
		return DefaultEventsSink, nil
	}

	switch sink {
	case EventsSinkLog, EventsSinkKafka, EventsSinkNone:
		return sink, nil
	}
	return "", fmt.Errorf("invalid EVENTS_SINK value: %s, must be 'log', 'kafka' or 'none'", sink)
}

// GetEnvKafkaBrokers returns the comma separated seed brokers from environment variables
func GetEnvKafkaBrokers() []string {
	var brokers []string
	for _, broker := range strings.Split(getEnv("KAFKA_BROKERS"), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// GetEnvKafkaTopic returns the lifecycle event topic from environment variables
func GetEnvKafkaTopic() string {
	topic := getEnv("KAFKA_TOPIC")
	if topic == "" {
		return DefaultKafkaTopic
	}
	return topic
}

// GetEnvWalletDriver returns the settlement wallet driver from environment variables
func GetEnvWalletDriver() (string, error) {
	driver := strings.ToLower(getEnv("WALLET_DRIVER"))
	if driver == "" {
		return DefaultWalletDriver, nil
	}

	switch driver {
	case WalletDriverLocal, WalletDriverEVM:
		return driver, nil
	}
	return "", fmt.Errorf("invalid WALLET_DRIVER value: %s, must be 'local' or 'evm'", driver)
}

// GetEnvTokenAddresses returns the EVM contract address of every supported
// token that has a <SYMBOL>_TOKEN_ADDRESS variable set
func GetEnvTokenAddresses() (map[string]string, error) {
	addresses := make(map[string]string)
	for _, symbol := range tokens.SortedSymbols() {
		key := tokens.AddressEnvKey(symbol)
		address := getEnv(key)
		if address == "" {
			continue
		}

		// Validate Ethereum address format
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", key, address)
		}
		addresses[symbol] = address
	}
	return addresses, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := getEnv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := getEnv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := getEnv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Minute, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := getEnv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Minute, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	value := getEnv("LOG_LEVEL")
	if value == "" {
		return DefaultLogLevel, nil
	}

	level, ok := logger.ParseLevel(value)
	if !ok {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", value)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log prefixes are colored from environment variables
func GetEnvLogColoring() (bool, error) {
	value := getEnv("LOG_COLORING")
	if value == "" {
		return DefaultLogColoring, nil
	}

	coloring, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be a boolean", value)
	}
	return coloring, nil
}
