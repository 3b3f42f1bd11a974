package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Degradation DegradationConfig `json:"degradation"`
	Budgets     BudgetConfig      `json:"budgets"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
}

// RateLimitConfig contains rate limit manager configuration
type RateLimitConfig struct {
	StateFile                  string `json:"state_file"`
	GlobalMaxRequestsPerMinute int    `json:"global_max_requests_per_minute"`
	GlobalBurstLimit           int    `json:"global_burst_limit"`
	RefundOnReject             bool   `json:"refund_on_reject"`

	// Defaults applied to accounts registered without explicit limits
	DefaultMaxRequestsPerMinute int     `json:"default_max_requests_per_minute"`
	DefaultMaxRequestsPerHour   int     `json:"default_max_requests_per_hour"`
	DefaultBurstLimit           int     `json:"default_burst_limit"`
	DefaultRetryBackoffBase     float64 `json:"default_retry_backoff_base"`
	DefaultRetryMaxAttempts     int     `json:"default_retry_max_attempts"`
}

// DegradationConfig contains graceful degradation configuration
type DegradationConfig struct {
	CacheTTL                         time.Duration `json:"cache_ttl"`
	CacheFallbackEnabled             bool          `json:"cache_fallback_enabled"`
	MaxConsecutiveFailuresForReduced int           `json:"max_consecutive_failures_for_reduced"`
	HandoffEnabled                   bool          `json:"handoff_enabled"`
	CriticalConfidenceThreshold      float64       `json:"critical_confidence_threshold"`

	// Internal circuit breaker
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
}

// BudgetConfig contains timeout budget configuration
type BudgetConfig struct {
	DefaultBudget time.Duration `json:"default_budget"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		RateLimit: RateLimitConfig{
			StateFile:                  getEnvString("RATE_LIMIT_STATE_FILE", ""),
			GlobalMaxRequestsPerMinute: getEnvInt("RATE_LIMIT_GLOBAL_PER_MINUTE", 0),
			GlobalBurstLimit:           getEnvInt("RATE_LIMIT_GLOBAL_BURST", 20),
			RefundOnReject:             getEnvBool("RATE_LIMIT_REFUND_ON_REJECT", false),

			DefaultMaxRequestsPerMinute: getEnvInt("RATE_LIMIT_DEFAULT_PER_MINUTE", 60),
			DefaultMaxRequestsPerHour:   getEnvInt("RATE_LIMIT_DEFAULT_PER_HOUR", 1000),
			DefaultBurstLimit:           getEnvInt("RATE_LIMIT_DEFAULT_BURST", 10),
			DefaultRetryBackoffBase:     getEnvFloat("RATE_LIMIT_DEFAULT_BACKOFF_BASE", 2.0),
			DefaultRetryMaxAttempts:     getEnvInt("RATE_LIMIT_DEFAULT_RETRY_MAX", 5),
		},
		Degradation: DegradationConfig{
			CacheTTL:                         getEnvDuration("DEGRADATION_CACHE_TTL", 5*time.Minute),
			CacheFallbackEnabled:             getEnvBool("DEGRADATION_CACHE_FALLBACK", true),
			MaxConsecutiveFailuresForReduced: getEnvInt("DEGRADATION_REDUCED_THRESHOLD", 3),
			HandoffEnabled:                   getEnvBool("DEGRADATION_HANDOFF_ENABLED", true),
			CriticalConfidenceThreshold:      getEnvFloat("DEGRADATION_CRITICAL_CONFIDENCE", 0.5),
			FailureThreshold:                 getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:                  getEnvDuration("CIRCUIT_RECOVERY_TIMEOUT", time.Minute),
			SuccessThreshold:                 getEnvInt("CIRCUIT_SUCCESS_THRESHOLD", 3),
		},
		Budgets: BudgetConfig{
			DefaultBudget: getEnvDuration("BUDGET_DEFAULT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stderr"),
		},
		Metrics: MetricsConfig{
			Namespace: getEnvString("METRICS_NAMESPACE", "agentward"),
			Enabled:   getEnvBool("METRICS_ENABLED", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RateLimit.DefaultBurstLimit <= 0 {
		return fmt.Errorf("default burst limit must be positive")
	}
	if c.Degradation.MaxConsecutiveFailuresForReduced <= 0 {
		return fmt.Errorf("degradation reduced threshold must be positive")
	}
	if c.Degradation.CriticalConfidenceThreshold < 0 || c.Degradation.CriticalConfidenceThreshold > 1 {
		return fmt.Errorf("critical confidence threshold must be between 0 and 1")
	}
	if c.Budgets.DefaultBudget <= 0 {
		return fmt.Errorf("default timeout budget must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
