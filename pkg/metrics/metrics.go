package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the resilience layer
type Metrics struct {
	// Rate limiting metrics
	RateLimitChecksTotal *prometheus.CounterVec
	RateLimitRejections  *prometheus.CounterVec
	DeferredQueueDepth   prometheus.Gauge
	DeferredTasksTotal   *prometheus.CounterVec
	AccountRequestsTotal *prometheus.CounterVec
	RateLimitHealthScore prometheus.Gauge

	// Circuit breaker metrics
	CircuitTransitions *prometheus.CounterVec
	CircuitState       *prometheus.GaugeVec

	// Degradation metrics
	DegradationLevel prometheus.Gauge
	OperationsTotal  *prometheus.CounterVec
	ConfidenceScore  prometheus.Gauge
	EscalationsTotal prometheus.Counter

	// Fallback metrics
	FallbackCacheHits   prometheus.Counter
	FallbackCacheMisses prometheus.Counter
	FallbacksServed     *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "agentward",
		Enabled:   true,
	}
}

// NewMetrics creates all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return nil
	}

	ns := config.Namespace

	return &Metrics{
		RateLimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rate_limit_checks_total",
				Help:      "Total number of rate limit checks",
			},
			[]string{"account", "allowed"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rate_limit_rejections_total",
				Help:      "Rate limit rejections by reason",
			},
			[]string{"account", "reason"},
		),
		DeferredQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "deferred_queue_depth",
				Help:      "Number of tasks waiting in the deferred queue",
			},
		),
		DeferredTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "deferred_tasks_total",
				Help:      "Deferred task outcomes",
			},
			[]string{"outcome"},
		),
		AccountRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "account_requests_total",
				Help:      "Requests admitted per account",
			},
			[]string{"account"},
		),
		RateLimitHealthScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "rate_limit_health_score",
				Help:      "Aggregate rate limit health score (0-100)",
			},
		),
		CircuitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "circuit_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		DegradationLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "degradation_level",
				Help:      "Current degradation level (0=full, 1=reduced, 2=minimal)",
			},
		),
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "guarded_operations_total",
				Help:      "Guarded operation outcomes",
			},
			[]string{"operation", "outcome"},
		),
		ConfidenceScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "confidence_score",
				Help:      "Current degradation confidence score (0-1)",
			},
		),
		EscalationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "escalations_total",
				Help:      "Human handoff escalations recommended",
			},
		),
		FallbackCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "fallback_cache_hits_total",
				Help:      "Fallback cache hits",
			},
		),
		FallbackCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "fallback_cache_misses_total",
				Help:      "Fallback cache misses",
			},
		),
		FallbacksServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "fallbacks_served_total",
				Help:      "Fallback values served by strategy",
			},
			[]string{"strategy"},
		),
	}
}

// Recording helpers. All are safe to call on a nil *Metrics so the core
// can record unconditionally whether or not metrics are enabled.

// ObserveRateLimitCheck records a rate limit check outcome
func (m *Metrics) ObserveRateLimitCheck(account string, allowed bool) {
	if m == nil {
		return
	}
	allowedLabel := "false"
	if allowed {
		allowedLabel = "true"
	}
	m.RateLimitChecksTotal.WithLabelValues(account, allowedLabel).Inc()
}

// ObserveRateLimitRejection records a rejection by reason
func (m *Metrics) ObserveRateLimitRejection(account, reason string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(account, reason).Inc()
}

// SetDeferredQueueDepth records the current deferred queue depth
func (m *Metrics) SetDeferredQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.DeferredQueueDepth.Set(float64(depth))
}

// ObserveDeferredTask records a deferred task outcome
func (m *Metrics) ObserveDeferredTask(outcome string) {
	if m == nil {
		return
	}
	m.DeferredTasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveAccountRequest records an admitted request for an account
func (m *Metrics) ObserveAccountRequest(account string) {
	if m == nil {
		return
	}
	m.AccountRequestsTotal.WithLabelValues(account).Inc()
}

// SetHealthScore records the aggregate rate limit health score
func (m *Metrics) SetHealthScore(score float64) {
	if m == nil {
		return
	}
	m.RateLimitHealthScore.Set(score)
}

// ObserveCircuitTransition records a circuit breaker state change
func (m *Metrics) ObserveCircuitTransition(name, from, to string, state int) {
	if m == nil {
		return
	}
	m.CircuitTransitions.WithLabelValues(name, from, to).Inc()
	m.CircuitState.WithLabelValues(name).Set(float64(state))
}

// SetDegradationLevel records the current degradation level
func (m *Metrics) SetDegradationLevel(level int) {
	if m == nil {
		return
	}
	m.DegradationLevel.Set(float64(level))
}

// ObserveOperation records a guarded operation outcome
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// SetConfidenceScore records the current confidence score
func (m *Metrics) SetConfidenceScore(score float64) {
	if m == nil {
		return
	}
	m.ConfidenceScore.Set(score)
}

// ObserveEscalation records a human handoff escalation
func (m *Metrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.EscalationsTotal.Inc()
}

// ObserveFallbackCache records a fallback cache lookup
func (m *Metrics) ObserveFallbackCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.FallbackCacheHits.Inc()
	} else {
		m.FallbackCacheMisses.Inc()
	}
}

// ObserveFallbackServed records a fallback value served by strategy
func (m *Metrics) ObserveFallbackServed(strategy string) {
	if m == nil {
		return
	}
	m.FallbacksServed.WithLabelValues(strategy).Inc()
}

// Register registers all metrics with the given registerer
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}

	collectors := []prometheus.Collector{
		m.RateLimitChecksTotal,
		m.RateLimitRejections,
		m.DeferredQueueDepth,
		m.DeferredTasksTotal,
		m.AccountRequestsTotal,
		m.RateLimitHealthScore,
		m.CircuitTransitions,
		m.CircuitState,
		m.DegradationLevel,
		m.OperationsTotal,
		m.ConfidenceScore,
		m.EscalationsTotal,
		m.FallbackCacheHits,
		m.FallbackCacheMisses,
		m.FallbacksServed,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
