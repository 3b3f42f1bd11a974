package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/metrics"
)

// DegradationLevel represents how far operations have been narrowed.
type DegradationLevel int

const (
	// LevelFull - all features operational
	LevelFull DegradationLevel = iota
	// LevelReduced - cache fallback and reduced scope
	LevelReduced
	// LevelMinimal - critical work only, human handoff ready
	LevelMinimal
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelReduced:
		return "reduced"
	case LevelMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// DegradationConfig holds configuration for degradation behavior
type DegradationConfig struct {
	// Cache fallback
	CacheTTL             time.Duration
	CacheFallbackEnabled bool

	// Reduced scope: consecutive failures at this count enter the
	// reduced level; twice this count enters minimal.
	MaxConsecutiveFailuresForReduced int

	// Human handoff
	HandoffEnabled              bool
	CriticalConfidenceThreshold float64

	// Internal circuit breaker
	CircuitBreaker CircuitBreakerConfig
}

// DefaultDegradationConfig returns a default degradation configuration
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		CacheTTL:                         5 * time.Minute,
		CacheFallbackEnabled:             true,
		MaxConsecutiveFailuresForReduced: 3,
		HandoffEnabled:                   true,
		CriticalConfidenceThreshold:      0.5,
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
			SuccessThreshold: 3,
		},
	}
}

// DegradationContext is the runtime context captured when an operation
// begins: the level and the capability flags in force at that moment.
type DegradationContext struct {
	Level                 DegradationLevel `json:"level"`
	FallbackAvailable     bool             `json:"fallback_available"`
	ReducedScopeAvailable bool             `json:"reduced_scope_available"`
	HandoffAvailable      bool             `json:"handoff_available"`
	ConfidenceScore       float64          `json:"confidence_score"`
	ConsecutiveFailures   int              `json:"consecutive_failures"`
	OperationCount        int              `json:"operation_count"`
	CircuitState          CircuitState     `json:"-"`
}

// LevelTransition is one entry in the append-only transition log.
type LevelTransition struct {
	Timestamp time.Time        `json:"timestamp"`
	From      DegradationLevel `json:"from"`
	To        DegradationLevel `json:"to"`
	Reason    string           `json:"reason"`
}

// Result is the tagged outcome of a guarded operation. Degraded marks a
// fallback value produced after a failure; Reason carries the failure
// message that triggered it.
type Result struct {
	Value    interface{} `json:"value"`
	Degraded bool        `json:"degraded"`
	Reason   string      `json:"reason,omitempty"`
}

// Ok wraps a genuine success.
func Ok(value interface{}) Result {
	return Result{Value: value}
}

// Degraded wraps a fallback value with the reason it was served.
func Degraded(value interface{}, reason string) Result {
	return Result{Value: value, Degraded: true, Reason: reason}
}

// DegradationReport is a full status snapshot for monitoring and the UI.
type DegradationReport struct {
	Timestamp      time.Time              `json:"timestamp"`
	CurrentLevel   string                 `json:"current_level"`
	Confidence     float64                `json:"confidence_score"`
	Capabilities   map[string]bool        `json:"capabilities"`
	Statistics     DegradationStatistics  `json:"statistics"`
	CircuitBreaker CircuitBreakerSnapshot `json:"circuit_breaker"`
	Recommendation string                 `json:"recommendation"`
}

// DegradationStatistics holds the cumulative counters in a report.
type DegradationStatistics struct {
	TotalOperations     int        `json:"total_operations"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

// GracefulDegradationCoordinator composes a circuit breaker, a timeout
// budget, and a fallback generator into a three-level state machine
// with confidence scoring and human-handoff escalation.
//
// The level is a pure function of the consecutive failure count: below
// the reduced threshold operations run at full scope, between the
// threshold and twice the threshold scope is reduced, and at or above
// twice the threshold only minimal work proceeds. A single recorded
// success returns the level to full immediately; there is no cooldown.
type GracefulDegradationCoordinator struct {
	mutex sync.Mutex

	config DegradationConfig

	consecutiveFailures int
	operationCount      int
	lastSuccessTime     time.Time
	lastFailureTime     time.Time
	transitions         []LevelTransition

	circuitBreaker    *CircuitBreaker
	timeoutBudget     *TimeoutBudget
	fallbackGenerator *FallbackGenerator
	// fallbackMutex serializes access to the fallback generator's
	// cache, which is not internally synchronized.
	fallbackMutex sync.Mutex

	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewGracefulDegradationCoordinator creates a coordinator with the
// given configuration.
func NewGracefulDegradationCoordinator(config DegradationConfig, logger *logging.Logger, m *metrics.Metrics) *GracefulDegradationCoordinator {
	if config.MaxConsecutiveFailuresForReduced <= 0 {
		config.MaxConsecutiveFailuresForReduced = 3
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.CriticalConfidenceThreshold <= 0 {
		config.CriticalConfidenceThreshold = 0.5
	}
	if config.CircuitBreaker.Name == "" {
		config.CircuitBreaker.Name = "degradation"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	strategy := ReturnNone
	if config.CacheFallbackEnabled {
		strategy = ReturnCached
	}

	return &GracefulDegradationCoordinator{
		config:         config,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker, logger, m),
		timeoutBudget:  NewTimeoutBudget("degradation", 5*time.Second),
		fallbackGenerator: NewFallbackGenerator(FallbackConfig{
			Strategy: strategy,
			CacheTTL: config.CacheTTL,
		}, logger, m),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// reducedThreshold and minimalThreshold derive the level boundaries.
func (c *GracefulDegradationCoordinator) reducedThreshold() int {
	return c.config.MaxConsecutiveFailuresForReduced
}

func (c *GracefulDegradationCoordinator) minimalThreshold() int {
	return c.config.MaxConsecutiveFailuresForReduced * 2
}

// levelLocked derives the level from the consecutive failure count.
func (c *GracefulDegradationCoordinator) levelLocked() DegradationLevel {
	switch {
	case c.consecutiveFailures >= c.minimalThreshold():
		return LevelMinimal
	case c.consecutiveFailures >= c.reducedThreshold():
		return LevelReduced
	default:
		return LevelFull
	}
}

// confidenceLocked computes the confidence score, halved while the
// internal circuit breaker is open.
func (c *GracefulDegradationCoordinator) confidenceLocked() float64 {
	if c.operationCount == 0 {
		return 1.0
	}

	score := 1.0 - float64(c.consecutiveFailures)/float64(c.operationCount)

	if c.circuitBreaker.State() == StateOpen {
		score *= 0.5
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// GetContext returns the current degradation context.
func (c *GracefulDegradationCoordinator) GetContext() DegradationContext {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	level := c.levelLocked()
	return DegradationContext{
		Level:                 level,
		FallbackAvailable:     c.config.CacheFallbackEnabled,
		ReducedScopeAvailable: level == LevelReduced || level == LevelMinimal,
		HandoffAvailable:      c.config.HandoffEnabled,
		ConfidenceScore:       c.confidenceLocked(),
		ConsecutiveFailures:   c.consecutiveFailures,
		OperationCount:        c.operationCount,
		CircuitState:          c.circuitBreaker.State(),
	}
}

// Level returns the current degradation level.
func (c *GracefulDegradationCoordinator) Level() DegradationLevel {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.levelLocked()
}

// ConfidenceScore returns the current confidence score.
func (c *GracefulDegradationCoordinator) ConfidenceScore() float64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.confidenceLocked()
}

// CircuitBreaker exposes the internal breaker for direct gating of
// calls that want fail-fast semantics alongside degradation tracking.
func (c *GracefulDegradationCoordinator) CircuitBreaker() *CircuitBreaker {
	return c.circuitBreaker
}

// TimeoutBudget exposes the coordinator's advisory budget.
func (c *GracefulDegradationCoordinator) TimeoutBudget() *TimeoutBudget {
	return c.timeoutBudget
}

// RecordSuccess records a successful operation. One success resets the
// consecutive failure count, so recovery to full level is immediate.
func (c *GracefulDegradationCoordinator) RecordSuccess() {
	c.circuitBreaker.RecordSuccess()

	c.mutex.Lock()
	before := c.levelLocked()
	c.consecutiveFailures = 0
	c.operationCount++
	c.lastSuccessTime = c.now()
	c.logTransitionLocked(before, "success recorded")
	level := c.levelLocked()
	confidence := c.confidenceLocked()
	c.mutex.Unlock()

	c.metrics.SetDegradationLevel(int(level))
	c.metrics.SetConfidenceScore(confidence)
}

// RecordFailure records a failed operation.
func (c *GracefulDegradationCoordinator) RecordFailure() {
	c.circuitBreaker.RecordFailure()

	c.mutex.Lock()
	before := c.levelLocked()
	c.consecutiveFailures++
	c.operationCount++
	c.lastFailureTime = c.now()
	c.logTransitionLocked(before, "failure recorded")
	level := c.levelLocked()
	confidence := c.confidenceLocked()
	c.mutex.Unlock()

	c.metrics.SetDegradationLevel(int(level))
	c.metrics.SetConfidenceScore(confidence)
}

// logTransitionLocked appends to the transition log when the derived
// level changed. Must be called with the mutex held.
func (c *GracefulDegradationCoordinator) logTransitionLocked(before DegradationLevel, reason string) {
	after := c.levelLocked()
	if before == after {
		return
	}

	c.transitions = append(c.transitions, LevelTransition{
		Timestamp: c.now(),
		From:      before,
		To:        after,
		Reason:    reason,
	})

	c.logger.Info("Degradation level changed",
		"from", before.String(),
		"to", after.String(),
		"reason", reason,
		"consecutive_failures", c.consecutiveFailures,
	)
}

// Transitions returns a copy of the append-only level transition log.
func (c *GracefulDegradationCoordinator) Transitions() []LevelTransition {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]LevelTransition(nil), c.transitions...)
}

// ShouldEscalateToHuman reports whether the current state warrants a
// human handoff: minimal level, confidence below the critical
// threshold, and handoff enabled.
func (c *GracefulDegradationCoordinator) ShouldEscalateToHuman() bool {
	if !c.config.HandoffEnabled {
		return false
	}

	ctx := c.GetContext()
	return ctx.Level == LevelMinimal && ctx.ConfidenceScore < c.config.CriticalConfidenceThreshold
}

// Operation begins a guarded operation, capturing the degradation
// context at entry.
func (c *GracefulDegradationCoordinator) Operation(name string) *Operation {
	return &Operation{
		coordinator: c,
		name:        name,
		context:     c.GetContext(),
	}
}

// fallbackFor converts a failure into a fallback value: the last cached
// result for this operation when one exists, otherwise the failure
// message itself.
func (c *GracefulDegradationCoordinator) fallbackFor(name string, reason string) interface{} {
	c.fallbackMutex.Lock()
	defer c.fallbackMutex.Unlock()

	value, err := c.fallbackGenerator.GetWithFallback(name, func() (interface{}, error) {
		return nil, fmt.Errorf("%s", reason)
	}, name)
	if err != nil || value == nil {
		return reason
	}
	return value
}

// cacheResult stores a successful result for later cache fallback.
func (c *GracefulDegradationCoordinator) cacheResult(name string, value interface{}) {
	if !c.config.CacheFallbackEnabled || value == nil {
		return
	}

	c.fallbackMutex.Lock()
	c.fallbackGenerator.CacheValue(name, value)
	c.fallbackMutex.Unlock()
}

// GetDegradationReport returns a full status report.
func (c *GracefulDegradationCoordinator) GetDegradationReport() DegradationReport {
	ctx := c.GetContext()

	c.mutex.Lock()
	stats := DegradationStatistics{
		TotalOperations:     c.operationCount,
		ConsecutiveFailures: c.consecutiveFailures,
	}
	if !c.lastSuccessTime.IsZero() {
		t := c.lastSuccessTime
		stats.LastSuccess = &t
	}
	if !c.lastFailureTime.IsZero() {
		t := c.lastFailureTime
		stats.LastFailure = &t
	}
	c.mutex.Unlock()

	return DegradationReport{
		Timestamp:    time.Now(),
		CurrentLevel: ctx.Level.String(),
		Confidence:   ctx.ConfidenceScore,
		Capabilities: map[string]bool{
			"full_operations": ctx.Level == LevelFull,
			"cache_fallback":  ctx.FallbackAvailable,
			"reduced_scope":   ctx.ReducedScopeAvailable,
			"critical_only":   ctx.Level == LevelMinimal,
			"human_handoff":   ctx.HandoffAvailable,
		},
		Statistics:     stats,
		CircuitBreaker: c.circuitBreaker.Snapshot(),
		Recommendation: c.recommendation(ctx),
	}
}

func (c *GracefulDegradationCoordinator) recommendation(ctx DegradationContext) string {
	switch ctx.Level {
	case LevelFull:
		return "All systems operational. Proceed with normal operations."
	case LevelReduced:
		return fmt.Sprintf("Degraded mode active (%d-%d failures). Using cache fallback and reduced scope.",
			c.reducedThreshold(), c.minimalThreshold())
	default:
		recommendation := "Critical degradation. Consider human handoff."
		if c.ShouldEscalateToHuman() {
			recommendation += " ESCALATION RECOMMENDED."
		}
		return recommendation
	}
}

// Operation is a scoped handle for one guarded operation. Run executes
// the wrapped function and converts any error or panic into a degraded
// fallback result; callers never observe a raw failure. MarkSuccess and
// MarkFailure allow manual recording instead, which disables Run's
// automatic exit-time recording.
type Operation struct {
	coordinator *GracefulDegradationCoordinator
	name        string
	context     DegradationContext
	result      Result
	marked      bool
}

// Context returns the degradation context captured when the operation began.
func (op *Operation) Context() DegradationContext {
	return op.context
}

// Name returns the operation name.
func (op *Operation) Name() string {
	return op.name
}

// Run executes fn under degradation tracking. A clean return records a
// success and caches the value for future fallback; an error or panic
// records a failure and substitutes a fallback value derived from the
// failure message. If MarkSuccess or MarkFailure was already called,
// the outcome has been recorded manually and fn's error only shapes the
// returned value.
func (op *Operation) Run(fn TaskFunc) Result {
	var value interface{}
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		value, err = fn()
	}()

	if err != nil {
		if !op.marked {
			op.coordinator.RecordFailure()
		}
		op.coordinator.metrics.ObserveOperation(op.name, "failure")
		fallback := op.coordinator.fallbackFor(op.name, err.Error())
		op.result = Degraded(fallback, err.Error())
		return op.result
	}

	if !op.marked {
		op.coordinator.RecordSuccess()
	}
	op.coordinator.metrics.ObserveOperation(op.name, "success")
	op.coordinator.cacheResult(op.name, value)
	op.result = Ok(value)
	return op.result
}

// MarkSuccess explicitly records a success for this operation and
// disables automatic recording in Run.
func (op *Operation) MarkSuccess() {
	op.marked = true
	op.coordinator.RecordSuccess()
}

// MarkFailure explicitly records a failure for this operation, disables
// automatic recording in Run, and replaces the result with a fallback.
func (op *Operation) MarkFailure(err error) {
	op.marked = true
	op.coordinator.RecordFailure()

	reason := "operation failed"
	if err != nil {
		reason = err.Error()
	}
	fallback := op.coordinator.fallbackFor(op.name, reason)
	op.result = Degraded(fallback, reason)
}

// Result returns the operation's result (possibly a fallback).
func (op *Operation) Result() Result {
	return op.result
}
