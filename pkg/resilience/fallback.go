package resilience

import (
	"time"

	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/metrics"
)

// FallbackStrategy selects how a failed fetch is converted into a result.
type FallbackStrategy string

const (
	// ReturnNone - return nil on failure
	ReturnNone FallbackStrategy = "return_none"
	// ReturnDefault - return the configured default value on failure
	ReturnDefault FallbackStrategy = "return_default"
	// ReturnCached - return the last cached value on failure, even if
	// the entry itself has expired; fall back to the default otherwise
	ReturnCached FallbackStrategy = "return_cached"
	// RaiseError - propagate the fetch error to the caller
	RaiseError FallbackStrategy = "raise_error"
)

// FallbackConfig holds configuration for fallback behavior
type FallbackConfig struct {
	Strategy     FallbackStrategy
	DefaultValue interface{}
	CacheTTL     time.Duration
}

// DefaultFallbackConfig returns a default fallback configuration
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Strategy: ReturnDefault,
		CacheTTL: 5 * time.Minute,
	}
}

type cachedResponse struct {
	value    interface{}
	cachedAt time.Time
}

// CacheStatus describes one cached entry for monitoring
type CacheStatus struct {
	Cached       bool          `json:"cached"`
	Age          time.Duration `json:"age,omitempty"`
	TTLRemaining time.Duration `json:"ttl_remaining,omitempty"`
	IsExpired    bool          `json:"is_expired,omitempty"`
}

// FallbackGenerator produces graceful fallback values when a fetch
// fails, backed by a TTL cache of previously successful results.
// Entries are checked for expiry lazily on read, never actively swept.
type FallbackGenerator struct {
	config  FallbackConfig
	cache   map[string]cachedResponse
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewFallbackGenerator creates a fallback generator with the given configuration
func NewFallbackGenerator(config FallbackConfig, logger *logging.Logger, m *metrics.Metrics) *FallbackGenerator {
	if config.Strategy == "" {
		config.Strategy = ReturnDefault
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FallbackGenerator{
		config:  config,
		cache:   make(map[string]cachedResponse),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// GetWithFallback tries fetch and degrades gracefully on failure.
//
// When cacheKey is non-empty and holds a non-expired entry, it is
// returned without invoking fetch. A successful fetch is cached under
// cacheKey. On failure the configured strategy decides the result:
// RaiseError propagates the error; ReturnCached serves the last cached
// value regardless of expiry, or the default when none exists;
// ReturnDefault and ReturnNone serve the default or nil.
func (g *FallbackGenerator) GetWithFallback(serviceName string, fetch func() (interface{}, error), cacheKey string) (interface{}, error) {
	if fetch == nil {
		g.logger.Debug("No fetch function provided, returning fallback", "service", serviceName)
		return g.config.DefaultValue, nil
	}

	if cacheKey != "" {
		if value, ok := g.getFresh(cacheKey); ok {
			g.metrics.ObserveFallbackCache(true)
			g.logger.Debug("Returning cached result", "service", serviceName, "cache_key", cacheKey)
			return value, nil
		}
		g.metrics.ObserveFallbackCache(false)
	}

	result, err := fetch()
	if err == nil {
		if cacheKey != "" && result != nil {
			g.cache[cacheKey] = cachedResponse{value: result, cachedAt: g.now()}
		}
		return result, nil
	}

	g.logger.Warn("Service unavailable, applying fallback strategy",
		"service", serviceName,
		"strategy", string(g.config.Strategy),
		"error", err.Error(),
	)
	g.metrics.ObserveFallbackServed(string(g.config.Strategy))

	switch g.config.Strategy {
	case RaiseError:
		return nil, err
	case ReturnCached:
		// A stale entry is better than nothing here.
		if cached, ok := g.cache[cacheKey]; cacheKey != "" && ok {
			return cached.value, nil
		}
		return g.config.DefaultValue, nil
	case ReturnNone:
		return nil, nil
	default: // ReturnDefault
		return g.config.DefaultValue, nil
	}
}

// getFresh returns a cached value only while it is within TTL. Expired
// entries are kept so a later fetch failure can still serve them stale.
func (g *FallbackGenerator) getFresh(cacheKey string) (interface{}, bool) {
	cached, ok := g.cache[cacheKey]
	if !ok {
		return nil, false
	}

	if g.now().Sub(cached.cachedAt) > g.config.CacheTTL {
		return nil, false
	}
	return cached.value, true
}

// CacheValue stores a value under cacheKey with a fresh timestamp,
// replacing any existing entry.
func (g *FallbackGenerator) CacheValue(cacheKey string, value interface{}) {
	if cacheKey == "" {
		return
	}
	g.cache[cacheKey] = cachedResponse{value: value, cachedAt: g.now()}
}

// ClearCache drops one cached entry, or all entries when cacheKey is empty.
func (g *FallbackGenerator) ClearCache(cacheKey string) {
	if cacheKey != "" {
		delete(g.cache, cacheKey)
		return
	}
	g.cache = make(map[string]cachedResponse)
}

// GetCacheStatus returns the status of a cached entry for monitoring
func (g *FallbackGenerator) GetCacheStatus(cacheKey string) CacheStatus {
	cached, ok := g.cache[cacheKey]
	if !ok {
		return CacheStatus{Cached: false}
	}

	age := g.now().Sub(cached.cachedAt)
	ttlRemaining := g.config.CacheTTL - age
	if ttlRemaining < 0 {
		ttlRemaining = 0
	}

	return CacheStatus{
		Cached:       true,
		Age:          age,
		TTLRemaining: ttlRemaining,
		IsExpired:    age > g.config.CacheTTL,
	}
}

// Strategy returns the configured fallback strategy.
func (g *FallbackGenerator) Strategy() FallbackStrategy {
	return g.config.Strategy
}
