package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentward/agentward/pkg/config"
	"github.com/agentward/agentward/pkg/health"
	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/metrics"
	"github.com/agentward/agentward/pkg/resilience"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	// Load .env file if present (ignore errors in production)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "agentward-healthcheck",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	// Build the resilience stack and register the default coordinator
	stack := resilience.NewStack(cfg, logger, m)
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("Failed to persist rate limit state", "error", err)
		}
	}()

	coordinator, err := stack.RegisterCoordinator("primary", resilience.DegradationConfig{
		CacheTTL:                         cfg.Degradation.CacheTTL,
		CacheFallbackEnabled:             cfg.Degradation.CacheFallbackEnabled,
		MaxConsecutiveFailuresForReduced: cfg.Degradation.MaxConsecutiveFailuresForReduced,
		HandoffEnabled:                   cfg.Degradation.HandoffEnabled,
		CriticalConfidenceThreshold:      cfg.Degradation.CriticalConfidenceThreshold,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Name:             "primary",
			FailureThreshold: cfg.Degradation.FailureThreshold,
			RecoveryTimeout:  cfg.Degradation.RecoveryTimeout,
			SuccessThreshold: cfg.Degradation.SuccessThreshold,
		},
	})
	if err != nil {
		log.Fatalf("Failed to register coordinator: %v", err)
	}

	service := health.NewService(logger)
	service.RegisterChecker("rate_limit", health.NewRateLimitChecker(stack.RateLimiter))
	service.RegisterChecker("degradation", health.NewDegradationChecker("degradation", coordinator))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot := service.CheckHealth(ctx)

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode health snapshot: %v", err)
	}
	fmt.Println(string(out))

	switch snapshot.Status {
	case health.StatusHealthy:
		os.Exit(0)
	case health.StatusDegraded:
		os.Exit(1)
	default:
		os.Exit(2)
	}
}
