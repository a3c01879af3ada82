// Package config provides configuration management for the goore miner.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// DefaultRPCURL is the public mainnet endpoint.
const DefaultRPCURL = "https://api.mainnet-beta.solana.com"

// Config holds the configuration of one miner process
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Session
	RPCURL      string
	Keypair     string
	PriorityFee uint64

	// Mining
	Threads     int
	AutoClaim   bool
	ClaimEvery  int
	Beneficiary string

	// Delivery tuning
	PollDelay            time.Duration
	ConfirmRetries       int
	BootstrapMaxAttempts int
	BootstrapResignEvery int
	BusSelectRate        float64

	// Bundle relay; enabled by RelayAuth
	RelayURL         string
	RelayAuth        string
	RelayRegions     []string
	RelayValidators  map[solana.PublicKey]string
	RelayTipLamports uint64
	RelayPriority    uint64
	LeaderGapSlots   uint64

	// Telemetry sinks; each is disabled when empty
	KafkaBrokers []string
	PostgresURL  string
	RedisURL     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	ZMQPublish   string
	MetricsAddr  string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	validators, err := parseValidators(os.Getenv("RELAY_VALIDATORS"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "goore"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		RPCURL:      getEnv("RPC_URL", DefaultRPCURL),
		Keypair:     getEnv("KEYPAIR", ""),
		PriorityFee: getEnvUint("PRIORITY_FEE", 10),

		Threads:     getEnvInt("THREADS", 1),
		AutoClaim:   getEnvBool("AUTO_CLAIM", false),
		ClaimEvery:  getEnvInt("CLAIM_EVERY", 10),
		Beneficiary: getEnv("BENEFICIARY", ""),

		PollDelay:            getEnvDuration("POLL_DELAY", 300*time.Millisecond),
		ConfirmRetries:       getEnvInt("CONFIRM_RETRIES", 5),
		BootstrapMaxAttempts: getEnvInt("BOOTSTRAP_MAX_ATTEMPTS", 5),
		BootstrapResignEvery: getEnvInt("BOOTSTRAP_RESIGN_EVERY", 1),
		BusSelectRate:        getEnvFloat("BUS_SELECT_RATE", 20),

		RelayURL:         getEnv("RELAY_URL", ""),
		RelayAuth:        getEnv("RELAY_AUTH", ""),
		RelayRegions:     getEnvSlice("RELAY_REGIONS", nil),
		RelayValidators:  validators,
		RelayTipLamports: getEnvUint("RELAY_TIP_LAMPORTS", 100_000),
		RelayPriority:    getEnvUint("RELAY_PRIORITY_FEE", 0),
		LeaderGapSlots:   getEnvUint("LEADER_GAP_SLOTS", 2),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "goore"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),
		ZMQPublish:   getEnv("ZMQ_PUBLISH", ""),
		MetricsAddr:  getEnv("METRICS_ADDR", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs basic validation of configuration values. It is run again
// after CLI flags override the environment.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if !strings.HasPrefix(c.RPCURL, "http://") && !strings.HasPrefix(c.RPCURL, "https://") {
		return fmt.Errorf("RPC_URL must be an http(s) URL")
	}

	if c.Threads < 0 {
		return fmt.Errorf("THREADS cannot be negative")
	}

	if c.ClaimEvery <= 0 {
		return fmt.Errorf("CLAIM_EVERY must be positive")
	}

	if c.Beneficiary != "" {
		if _, err := solana.PublicKeyFromBase58(c.Beneficiary); err != nil {
			return fmt.Errorf("BENEFICIARY is not a valid address: %w", err)
		}
	}

	if c.PollDelay <= 0 {
		return fmt.Errorf("POLL_DELAY must be positive")
	}

	if c.ConfirmRetries <= 0 {
		return fmt.Errorf("CONFIRM_RETRIES must be positive")
	}

	if c.BootstrapMaxAttempts <= 0 {
		return fmt.Errorf("BOOTSTRAP_MAX_ATTEMPTS must be positive")
	}

	if c.BootstrapResignEvery <= 0 {
		return fmt.Errorf("BOOTSTRAP_RESIGN_EVERY must be positive")
	}

	if c.BusSelectRate < 0 {
		return fmt.Errorf("BUS_SELECT_RATE cannot be negative")
	}

	if c.RelayEnabled() && c.RelayTipLamports == 0 {
		return fmt.Errorf("RELAY_TIP_LAMPORTS must be positive when RELAY_AUTH is set")
	}

	if c.RelayEnabled() && len(c.RelayValidators) == 0 {
		return fmt.Errorf("RELAY_VALIDATORS must list relay-connected leaders when RELAY_AUTH is set")
	}

	return nil
}

// RelayEnabled reports whether bundle delivery is configured
func (c *Config) RelayEnabled() bool {
	return c.RelayAuth != ""
}

// BeneficiaryKey returns the configured beneficiary, or nil for the payer's
// token account.
func (c *Config) BeneficiaryKey() *solana.PublicKey {
	if c.Beneficiary == "" {
		return nil
	}
	key, err := solana.PublicKeyFromBase58(c.Beneficiary)
	if err != nil {
		return nil
	}
	return &key
}

// parseValidators reads "identity[:region],..." into a map. An empty region
// means any region.
func parseValidators(value string) (map[solana.PublicKey]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	out := make(map[solana.PublicKey]string)
	for _, entry := range splitList(value) {
		identity, region, _ := strings.Cut(entry, ":")
		key, err := solana.PublicKeyFromBase58(identity)
		if err != nil {
			return nil, fmt.Errorf("RELAY_VALIDATORS entry %q: %w", entry, err)
		}
		out[key] = region
	}
	return out, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitList(value)
	}
	return defaultValue
}

// splitList splits a comma-separated list, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
