package resilience

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentward/agentward/pkg/config"
	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/metrics"
)

// Stack is the explicitly constructed resilience context for one
// process: a rate limit manager, a budget manager, and a static table
// of named degradation coordinators. It is built once by whichever
// component boots the process and passed down; the core keeps no
// package-level state.
type Stack struct {
	RateLimiter *RateLimitManager
	Budgets     *BudgetManager

	coordinators map[string]*GracefulDegradationCoordinator
	order        []string
	mutex        sync.RWMutex

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewStack builds a stack from configuration.
func NewStack(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) *Stack {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	rateLimiter := NewRateLimitManager(RateLimitManagerConfig{
		StateFile:                  cfg.RateLimit.StateFile,
		GlobalMaxRequestsPerMinute: cfg.RateLimit.GlobalMaxRequestsPerMinute,
		GlobalBurstLimit:           cfg.RateLimit.GlobalBurstLimit,
		RefundOnReject:             cfg.RateLimit.RefundOnReject,
	}, logger, m)

	return &Stack{
		RateLimiter:  rateLimiter,
		Budgets:      NewBudgetManager(cfg.Budgets.DefaultBudget),
		coordinators: make(map[string]*GracefulDegradationCoordinator),
		logger:       logger,
		metrics:      m,
	}
}

// RegisterCoordinator adds a named degradation coordinator to the
// registration table. The table is meant to be populated once at
// startup; registering a duplicate name is a programming error.
func (s *Stack) RegisterCoordinator(name string, cfg DegradationConfig) (*GracefulDegradationCoordinator, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.coordinators[name]; exists {
		return nil, fmt.Errorf("coordinator %q already registered", name)
	}

	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = name
	}
	coordinator := NewGracefulDegradationCoordinator(cfg, s.logger, s.metrics)
	s.coordinators[name] = coordinator
	s.order = append(s.order, name)

	s.logger.Info("Degradation coordinator registered", "name", name)
	return coordinator, nil
}

// Coordinator looks up a registered coordinator by name.
func (s *Stack) Coordinator(name string) (*GracefulDegradationCoordinator, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	coordinator, ok := s.coordinators[name]
	return coordinator, ok
}

// CoordinatorNames returns the registered names in sorted order.
func (s *Stack) CoordinatorNames() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}

// Reports returns the degradation report of every registered coordinator.
func (s *Stack) Reports() map[string]DegradationReport {
	s.mutex.RLock()
	coordinators := make(map[string]*GracefulDegradationCoordinator, len(s.coordinators))
	for name, c := range s.coordinators {
		coordinators[name] = c
	}
	s.mutex.RUnlock()

	reports := make(map[string]DegradationReport, len(coordinators))
	for name, c := range coordinators {
		reports[name] = c.GetDegradationReport()
	}
	return reports
}

// Close persists the rate limiter's durable state.
func (s *Stack) Close() error {
	return s.RateLimiter.SaveState()
}
