// Package config loads engine configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// GatewayConfig holds market data gateway settings.
type GatewayConfig struct {
	QuoteTTL          time.Duration
	FundamentalsTTL   time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxConcurrent     int
	RequestTimeout    time.Duration // per vendor call
	RetryAttempts     int           // attempts per request before stale fallback
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	CachePath         string // empty disables the persistent tier
	SweepInterval     time.Duration
}

// FactorConfig holds factor model settings.
type FactorConfig struct {
	WeightSize     float64
	WeightValue    float64
	WeightQuality  float64
	WeightMomentum float64
	WeightLowVol   float64
	SignalScale    float64 // expected return per unit of composite score
	WinsorizeLimit float64 // z-score clamp bound
	MinSectorGroup int     // below this, standardize against the full universe
}

// RiskConfig holds covariance estimation settings.
type RiskConfig struct {
	LookbackDays    int
	ShrinkageMin    float64
	ShrinkageMax    float64
	ConditionCeiling float64
}

// OptimizerConfig holds solver settings.
type OptimizerConfig struct {
	RiskAversion      float64
	LinearCostBps     float64
	QuadraticCostCoef float64
	MaxIterations     int
	Workers           int
	SolveTimeout      time.Duration
}

// Config is the root configuration.
type Config struct {
	LogLevel        string
	LogPretty       bool
	PolicyTablePath string // JSON bracket table; empty uses the built-in one
	Server          ServerConfig
	Gateway         GatewayConfig
	Factors         FactorConfig
	Risk            RiskConfig
	Optimizer       OptimizerConfig
}

// Load reads configuration from the environment, with a .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getEnvAsBool("LOG_PRETTY", false),
		PolicyTablePath: getEnv("POLICY_TABLE_PATH", ""),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Gateway: GatewayConfig{
			QuoteTTL:          getEnvAsDuration("GATEWAY_QUOTE_TTL", 15*time.Second),
			FundamentalsTTL:   getEnvAsDuration("GATEWAY_FUNDAMENTALS_TTL", time.Hour),
			RequestsPerSecond: getEnvAsFloat("GATEWAY_RPS", 5.0),
			Burst:             getEnvAsInt("GATEWAY_BURST", 10),
			MaxConcurrent:     getEnvAsInt("GATEWAY_MAX_CONCURRENT", 8),
			RequestTimeout:    getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", 5*time.Second),
			RetryAttempts:     getEnvAsInt("GATEWAY_RETRY_ATTEMPTS", 3),
			BackoffInitial:    getEnvAsDuration("GATEWAY_BACKOFF_INITIAL", 500*time.Millisecond),
			BackoffMax:        getEnvAsDuration("GATEWAY_BACKOFF_MAX", 30*time.Second),
			CachePath:         getEnv("GATEWAY_CACHE_PATH", ""),
			SweepInterval:     getEnvAsDuration("GATEWAY_CACHE_SWEEP_INTERVAL", 5*time.Minute),
		},
		Factors: FactorConfig{
			WeightSize:     getEnvAsFloat("FACTOR_WEIGHT_SIZE", 0.10),
			WeightValue:    getEnvAsFloat("FACTOR_WEIGHT_VALUE", 0.25),
			WeightQuality:  getEnvAsFloat("FACTOR_WEIGHT_QUALITY", 0.25),
			WeightMomentum: getEnvAsFloat("FACTOR_WEIGHT_MOMENTUM", 0.25),
			WeightLowVol:   getEnvAsFloat("FACTOR_WEIGHT_LOWVOL", 0.15),
			SignalScale:    getEnvAsFloat("FACTOR_SIGNAL_SCALE", 0.02),
			WinsorizeLimit: getEnvAsFloat("FACTOR_WINSORIZE_LIMIT", 3.0),
			MinSectorGroup: getEnvAsInt("FACTOR_MIN_SECTOR_GROUP", 5),
		},
		Risk: RiskConfig{
			LookbackDays:     getEnvAsInt("RISK_LOOKBACK_DAYS", 252),
			ShrinkageMin:     getEnvAsFloat("RISK_SHRINKAGE_MIN", 0.05),
			ShrinkageMax:     getEnvAsFloat("RISK_SHRINKAGE_MAX", 0.95),
			ConditionCeiling: getEnvAsFloat("RISK_CONDITION_CEILING", 1e6),
		},
		Optimizer: OptimizerConfig{
			RiskAversion:      getEnvAsFloat("OPTIMIZER_RISK_AVERSION", 4.0),
			LinearCostBps:     getEnvAsFloat("OPTIMIZER_LINEAR_COST_BPS", 10.0),
			QuadraticCostCoef: getEnvAsFloat("OPTIMIZER_QUADRATIC_COST_COEF", 25.0),
			MaxIterations:     getEnvAsInt("OPTIMIZER_MAX_ITERATIONS", 2000),
			Workers:           getEnvAsInt("OPTIMIZER_WORKERS", 4),
			SolveTimeout:      getEnvAsDuration("OPTIMIZER_SOLVE_TIMEOUT", 10*time.Second),
		},
	}

	return cfg, nil
}

// getEnv gets an environment variable with a fallback default
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as a float with a fallback default
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a fallback default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration with a fallback default
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
