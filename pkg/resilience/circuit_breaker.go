package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/metrics"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, probe requests are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures in the
	// closed state that trips the circuit open
	FailureThreshold int
	// RecoveryTimeout is the period of the open state, after which a
	// probe request is allowed through
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive probe successes in
	// the half-open state required to close the circuit again
	SuccessThreshold int
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// CircuitBreaker is a fail-fast gate that stops attempting an unhealthy
// operation for a cooldown period, then cautiously probes recovery.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex           sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// CircuitBreakerSnapshot is a read-only view of breaker state for reporting
type CircuitBreakerSnapshot struct {
	Name         string       `json:"name"`
	State        CircuitState `json:"-"`
	StateLabel   string       `json:"state"`
	FailureCount int          `json:"failure_count"`
	SuccessCount int          `json:"success_count"`
	LastFailure  time.Time    `json:"last_failure,omitempty"`
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig, logger *logging.Logger, m *metrics.Metrics) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = time.Minute
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		successThreshold: config.SuccessThreshold,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		logger:           logger,
		metrics:          m,
		now:              time.Now,
	}
}

// Allow reports whether the next request may proceed. While the circuit
// is open it fails fast with *CircuitOpenError; once RecoveryTimeout has
// elapsed since the last failure it moves to half-open and lets the next
// request through as a probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.successCount = 0
			return nil
		}
		return &CircuitOpenError{Name: cb.name, State: StateOpen}
	}
	return nil
}

// RecordSuccess records a successful operation. SuccessThreshold
// consecutive successes while half-open close the circuit and reset the
// failure count to zero.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// RecordFailure records a failed operation. A failure while half-open
// reopens the circuit immediately; FailureThreshold failures while
// closed trip it open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen {
		cb.setState(StateOpen)
	} else if cb.state == StateClosed && cb.failureCount >= cb.failureThreshold {
		cb.setState(StateOpen)
	}
}

// Execute runs the given request if the circuit breaker accepts it
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.Allow(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.RecordFailure()
			panic(r)
		}
	}()

	result, err := req(ctx)
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return result, err
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the current state of the circuit breaker. An open
// circuit whose recovery timeout has elapsed still reports OPEN until
// the next Allow moves it to half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset forces the circuit back to closed with all counters cleared.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
}

// Snapshot returns a copy of the current state for monitoring
func (cb *CircuitBreaker) Snapshot() CircuitBreakerSnapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return CircuitBreakerSnapshot{
		Name:         cb.name,
		State:        cb.state,
		StateLabel:   cb.state.String(),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		LastFailure:  cb.lastFailureTime,
	}
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.metrics.ObserveCircuitTransition(cb.name, prev.String(), state.String(), int(state))
	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"failure_count", cb.failureCount,
	)
}

// CircuitOpenError is returned when the circuit breaker rejects a
// request without attempting the wrapped operation.
type CircuitOpenError struct {
	Name  string
	State CircuitState
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// IsCircuitOpenError checks if an error is a circuit open error
func IsCircuitOpenError(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}
