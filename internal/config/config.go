package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	HTTPPort    int
	Database    DatabaseConfig
	Broker      BrokerConfig
	Pricing     PricingConfig
	AutoLoad    AutoLoadConfig
	Telemetry   TelemetryConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// BrokerConfig holds broker connection and routing settings for the
// smart-meter messaging channel.
type BrokerConfig struct {
	URL              string
	Exchange         string
	ReloadRoutingKey string
	TelemetryQueue   string
	TelemetryDLQ     string
	TelemetryKey     string
	PrefetchCount    int
	PublishTimeout   time.Duration
}

// PricingConfig holds the tariff applied when converting currency to kWh.
type PricingConfig struct {
	UnitRate float64
}

// AutoLoadConfig holds defaults for auto-load settings rows created on
// first access, plus the balance poll interval used when the push
// subscription is unavailable.
type AutoLoadConfig struct {
	DefaultThreshold float64
	DefaultAmount    float64
	DefaultMaxDaily  float64
	PollInterval     time.Duration
}

// TelemetryConfig holds validation settings for device telemetry.
type TelemetryConfig struct {
	TimestampToleranceMinutes int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "smartmeter-portal"),
		HTTPPort:    getEnvAsInt("HTTP_PORT", 8080),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Broker: BrokerConfig{
			URL:              getEnv("BROKER_URL", ""),
			Exchange:         getEnv("BROKER_EXCHANGE", "smartmeter"),
			ReloadRoutingKey: getEnv("BROKER_RELOAD_ROUTING_KEY", "smartmeter.reload"),
			TelemetryQueue:   getEnv("BROKER_TELEMETRY_QUEUE", "smartmeter.telemetry.queue"),
			TelemetryDLQ:     getEnv("BROKER_TELEMETRY_DLQ", "smartmeter.telemetry.dlq"),
			TelemetryKey:     getEnv("BROKER_TELEMETRY_ROUTING_KEY", "smartmeter.telemetry"),
			PrefetchCount:    getEnvAsInt("BROKER_PREFETCH", 10),
			PublishTimeout:   time.Duration(getEnvAsInt("BROKER_PUBLISH_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Pricing: PricingConfig{
			UnitRate: getEnvAsFloat("PRICING_UNIT_RATE", 5.0),
		},
		AutoLoad: AutoLoadConfig{
			DefaultThreshold: getEnvAsFloat("AUTOLOAD_DEFAULT_THRESHOLD", 10.0),
			DefaultAmount:    getEnvAsFloat("AUTOLOAD_DEFAULT_AMOUNT", 100.0),
			DefaultMaxDaily:  getEnvAsFloat("AUTOLOAD_DEFAULT_MAX_DAILY", 250.0),
			PollInterval:     time.Duration(getEnvAsInt("AUTOLOAD_POLL_INTERVAL_SECONDS", 30)) * time.Second,
		},
		Telemetry: TelemetryConfig{
			TimestampToleranceMinutes: getEnvAsInt("TELEMETRY_TIMESTAMP_TOLERANCE_MINUTES", 10080),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.Broker.URL == "" {
		return nil, fmt.Errorf("BROKER_URL is required but not set in environment variables")
	}
	if cfg.Pricing.UnitRate <= 0 {
		return nil, fmt.Errorf("PRICING_UNIT_RATE must be positive, got %v", cfg.Pricing.UnitRate)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
