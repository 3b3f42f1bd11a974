package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/resilience"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check represents the result of one health check
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Snapshot represents the overall health snapshot polled by the UI
type Snapshot struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Service aggregates health checks into one snapshot
type Service struct {
	checkers map[string]Checker
	logger   *logging.Logger
	mutex    sync.RWMutex
}

// NewService creates a new health check service
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		checkers: make(map[string]Checker),
		logger:   logger,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// UnregisterChecker unregisters a health checker
func (s *Service) UnregisterChecker(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.checkers, name)
}

// CheckHealth runs all registered checks and aggregates the result.
// The overall status is the worst individual status observed.
func (s *Service) CheckHealth(ctx context.Context) *Snapshot {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	checks := make(map[string]*Check, len(checkers))
	overallStatus := StatusHealthy

	for name, checker := range checkers {
		check := checker.Check(ctx)
		checks[name] = check

		switch check.Status {
		case StatusUnhealthy:
			overallStatus = StatusUnhealthy
		case StatusDegraded:
			if overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
		}
	}

	snapshot := &Snapshot{
		Status:    overallStatus,
		Timestamp: start,
		Duration:  time.Since(start),
		Checks:    checks,
	}

	if overallStatus != StatusHealthy {
		s.logger.Warn("Health check detected degradation", "status", string(overallStatus))
	}

	return snapshot
}

// RateLimitChecker reports health from the rate limit manager's
// aggregate quota score.
type RateLimitChecker struct {
	manager *resilience.RateLimitManager
}

// NewRateLimitChecker creates a checker for a rate limit manager
func NewRateLimitChecker(manager *resilience.RateLimitManager) *RateLimitChecker {
	return &RateLimitChecker{manager: manager}
}

// Check implements the Checker interface
func (c *RateLimitChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	score := c.manager.GetHealthScore()

	status := StatusHealthy
	switch score.Status {
	case "degraded":
		status = StatusDegraded
	case "critical":
		status = StatusUnhealthy
	}

	return &Check{
		Name:      "rate_limit",
		Status:    status,
		Message:   fmt.Sprintf("score %d/100 across %d accounts", score.Score, score.AccountsChecked),
		Duration:  time.Since(start),
		Timestamp: start,
		Metadata: map[string]string{
			"score":        fmt.Sprintf("%d", score.Score),
			"queued_tasks": fmt.Sprintf("%d", score.QueuedTasks),
			"status":       score.Status,
		},
	}
}

// DegradationChecker reports health from a degradation coordinator.
type DegradationChecker struct {
	name        string
	coordinator *resilience.GracefulDegradationCoordinator
}

// NewDegradationChecker creates a checker for a degradation coordinator
func NewDegradationChecker(name string, coordinator *resilience.GracefulDegradationCoordinator) *DegradationChecker {
	return &DegradationChecker{name: name, coordinator: coordinator}
}

// Check implements the Checker interface
func (c *DegradationChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	report := c.coordinator.GetDegradationReport()

	status := StatusHealthy
	switch report.CurrentLevel {
	case resilience.LevelReduced.String():
		status = StatusDegraded
	case resilience.LevelMinimal.String():
		status = StatusUnhealthy
	}

	return &Check{
		Name:      c.name,
		Status:    status,
		Message:   report.Recommendation,
		Duration:  time.Since(start),
		Timestamp: start,
		Metadata: map[string]string{
			"level":      report.CurrentLevel,
			"confidence": fmt.Sprintf("%.2f", report.Confidence),
			"circuit":    report.CircuitBreaker.StateLabel,
		},
	}
}
