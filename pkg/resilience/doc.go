// Package resilience provides the coordination primitives that protect
// an agent's outbound operations from cascading failure, quota
// exhaustion, and unbounded latency.
//
// This package implements the following patterns:
//
// # Multi-Account Rate Limiting
//
// The rate limit manager owns burst, per-minute, and per-hour token
// buckets for each registered account plus an optional global bucket,
// rotates work to the account with the most remaining quota, and
// defers rejected calls onto a priority queue.
//
//	mgr := resilience.NewRateLimitManager(resilience.RateLimitManagerConfig{
//		GlobalMaxRequestsPerMinute: 100,
//	}, logger, m)
//	mgr.RegisterAccount(resilience.DefaultAccount("google_1"))
//
//	result, err := mgr.ExecuteWithRateLimit("google_1", apiCall, true)
//	if errors.Is(err, resilience.ErrQueued) {
//		// drained later via mgr.ProcessDeferredQueue("")
//	}
//
// # Circuit Breaker Pattern
//
// The circuit breaker prevents cascading failures by failing fast once
// consecutive failures cross a threshold, then probing recovery after a
// cooldown.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "gateway-status",
//		FailureThreshold: 5,
//		RecoveryTimeout:  time.Minute,
//		SuccessThreshold: 3,
//	}, logger, m)
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return gateway.Status(ctx)
//	})
//
// # Graceful Degradation
//
// The degradation coordinator composes a circuit breaker, an advisory
// timeout budget, and a TTL-caching fallback generator into a
// three-level state machine. Callers wrap work in a guarded operation
// and always receive a tagged result, never a raw failure.
//
//	coordinator, _ := stack.RegisterCoordinator("social-feed", resilience.DefaultDegradationConfig())
//
//	op := coordinator.Operation("fetch_feed")
//	res := op.Run(func() (interface{}, error) {
//		return feed.Fetch()
//	})
//	if res.Degraded {
//		// res.Value holds a cached or fallback value
//	}
//
// # Escalation
//
// The escalation monitor watches a coordinator for level transitions
// and human-handoff recommendations and routes alerts through the
// alert manager's handlers.
//
// The primitives are single-process and in-memory. Token buckets,
// budgets, and queues rely on their owning manager's lock; circuit
// breakers and coordinators are safe for concurrent use.
package resilience
