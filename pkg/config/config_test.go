package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.RateLimit.StateFile)
	assert.Equal(t, 60, cfg.RateLimit.DefaultMaxRequestsPerMinute)
	assert.Equal(t, 1000, cfg.RateLimit.DefaultMaxRequestsPerHour)
	assert.Equal(t, 10, cfg.RateLimit.DefaultBurstLimit)
	assert.False(t, cfg.RateLimit.RefundOnReject)

	assert.Equal(t, 5*time.Minute, cfg.Degradation.CacheTTL)
	assert.Equal(t, 3, cfg.Degradation.MaxConsecutiveFailuresForReduced)
	assert.Equal(t, 0.5, cfg.Degradation.CriticalConfidenceThreshold)
	assert.Equal(t, 5, cfg.Degradation.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Degradation.RecoveryTimeout)

	assert.Equal(t, 5*time.Second, cfg.Budgets.DefaultBudget)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "agentward", cfg.Metrics.Namespace)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("RATE_LIMIT_STATE_FILE", "/tmp/state.json")
	t.Setenv("RATE_LIMIT_GLOBAL_PER_MINUTE", "120")
	t.Setenv("RATE_LIMIT_REFUND_ON_REJECT", "true")
	t.Setenv("DEGRADATION_CACHE_TTL", "90s")
	t.Setenv("DEGRADATION_REDUCED_THRESHOLD", "5")
	t.Setenv("CIRCUIT_RECOVERY_TIMEOUT", "30s")
	t.Setenv("BUDGET_DEFAULT", "2s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/state.json", cfg.RateLimit.StateFile)
	assert.Equal(t, 120, cfg.RateLimit.GlobalMaxRequestsPerMinute)
	assert.True(t, cfg.RateLimit.RefundOnReject)
	assert.Equal(t, 90*time.Second, cfg.Degradation.CacheTTL)
	assert.Equal(t, 5, cfg.Degradation.MaxConsecutiveFailuresForReduced)
	assert.Equal(t, 30*time.Second, cfg.Degradation.RecoveryTimeout)
	assert.Equal(t, 2*time.Second, cfg.Budgets.DefaultBudget)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_PER_MINUTE", "not-a-number")
	t.Setenv("DEGRADATION_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.RateLimit.DefaultMaxRequestsPerMinute)
	assert.Equal(t, 5*time.Minute, cfg.Degradation.CacheTTL)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("DEGRADATION_REDUCED_THRESHOLD", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "zero burst limit", mutate: func(c *Config) { c.RateLimit.DefaultBurstLimit = 0 }, wantErr: true},
		{name: "negative reduced threshold", mutate: func(c *Config) { c.Degradation.MaxConsecutiveFailuresForReduced = -1 }, wantErr: true},
		{name: "confidence above one", mutate: func(c *Config) { c.Degradation.CriticalConfidenceThreshold = 1.5 }, wantErr: true},
		{name: "zero budget", mutate: func(c *Config) { c.Budgets.DefaultBudget = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
