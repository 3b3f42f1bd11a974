package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFallback(clock *stubClock, config FallbackConfig) *FallbackGenerator {
	g := NewFallbackGenerator(config, nil, nil)
	g.now = clock.Now
	return g
}

func failingFetch() (interface{}, error) {
	return nil, errors.New("service unavailable")
}

func TestFallbackGenerator_SuccessfulFetchIsCached(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{Strategy: ReturnCached, CacheTTL: time.Minute})

	value, err := g.GetWithFallback("api", func() (interface{}, error) {
		return "live", nil
	}, "api:key")
	require.NoError(t, err)
	assert.Equal(t, "live", value)

	status := g.GetCacheStatus("api:key")
	assert.True(t, status.Cached)
	assert.False(t, status.IsExpired)
}

func TestFallbackGenerator_FreshCacheSkipsFetch(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{Strategy: ReturnCached, CacheTTL: time.Minute})
	g.CacheValue("api:key", "cached")

	called := false
	value, err := g.GetWithFallback("api", func() (interface{}, error) {
		called = true
		return "live", nil
	}, "api:key")

	require.NoError(t, err)
	assert.Equal(t, "cached", value)
	assert.False(t, called)
}

func TestFallbackGenerator_ExpiredCacheTriggersFetch(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{Strategy: ReturnCached, CacheTTL: time.Minute})
	g.CacheValue("api:key", "stale")

	clock.Advance(61 * time.Second)

	value, err := g.GetWithFallback("api", func() (interface{}, error) {
		return "fresh", nil
	}, "api:key")
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)
}

func TestFallbackGenerator_ReturnCached_ServesStaleOnFailure(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{
		Strategy:     ReturnCached,
		DefaultValue: "default",
		CacheTTL:     time.Minute,
	})

	// Cache a value, let it expire, then fail the fetch. The stale
	// entry is still preferred over the default.
	g.CacheValue("api:key", "stale")
	clock.Advance(2 * time.Minute)

	value, err := g.GetWithFallback("api", failingFetch, "api:key")
	require.NoError(t, err)
	assert.Equal(t, "stale", value)
}

func TestFallbackGenerator_ReturnCached_DefaultWhenNothingCached(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{
		Strategy:     ReturnCached,
		DefaultValue: "default",
		CacheTTL:     time.Minute,
	})

	value, err := g.GetWithFallback("api", failingFetch, "api:key")
	require.NoError(t, err)
	assert.Equal(t, "default", value)
}

func TestFallbackGenerator_ReturnDefault(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{
		Strategy:     ReturnDefault,
		DefaultValue: map[string]string{"mode": "degraded"},
	})

	value, err := g.GetWithFallback("api", failingFetch, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mode": "degraded"}, value)
}

func TestFallbackGenerator_ReturnNone(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{Strategy: ReturnNone})

	value, err := g.GetWithFallback("api", failingFetch, "")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestFallbackGenerator_RaiseError(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{Strategy: RaiseError})

	_, err := g.GetWithFallback("api", failingFetch, "")
	assert.EqualError(t, err, "service unavailable")
}

func TestFallbackGenerator_NilFetchReturnsDefault(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{
		Strategy:     ReturnDefault,
		DefaultValue: "default",
	})

	value, err := g.GetWithFallback("api", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "default", value)
}

func TestFallbackGenerator_ClearCache(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{Strategy: ReturnCached, CacheTTL: time.Minute})

	g.CacheValue("a", 1)
	g.CacheValue("b", 2)

	g.ClearCache("a")
	assert.False(t, g.GetCacheStatus("a").Cached)
	assert.True(t, g.GetCacheStatus("b").Cached)

	g.ClearCache("")
	assert.False(t, g.GetCacheStatus("b").Cached)
}

func TestFallbackGenerator_CacheStatusAges(t *testing.T) {
	clock := newStubClock()
	g := newTestFallback(clock, FallbackConfig{Strategy: ReturnCached, CacheTTL: time.Minute})

	g.CacheValue("api:key", "value")
	clock.Advance(30 * time.Second)

	status := g.GetCacheStatus("api:key")
	require.True(t, status.Cached)
	assert.Equal(t, 30*time.Second, status.Age)
	assert.Equal(t, 30*time.Second, status.TTLRemaining)
	assert.False(t, status.IsExpired)

	clock.Advance(45 * time.Second)
	status = g.GetCacheStatus("api:key")
	assert.True(t, status.IsExpired)
	assert.Equal(t, time.Duration(0), status.TTLRemaining)
}
