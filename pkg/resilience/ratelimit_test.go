package resilience

import (
	goerrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentward/agentward/pkg/errors"
)

// freezeManagerClock points every bucket at the stub clock so refill is
// driven by Advance instead of wall time.
func freezeManagerClock(mgr *RateLimitManager, clock *stubClock) {
	freeze := func(b *TokenBucket) {
		if b == nil {
			return
		}
		b.now = clock.Now
		b.lastRefill = clock.Now()
	}
	freeze(mgr.globalBucket)
	for _, b := range mgr.burstBuckets {
		freeze(b)
	}
	for _, b := range mgr.perMinuteBuckets {
		freeze(b)
	}
	for _, b := range mgr.perHourBuckets {
		freeze(b)
	}
}

func TestRateLimitManager_RegisterAccount_Validation(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)

	err := mgr.RegisterAccount(Account{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = mgr.RegisterAccount(Account{ID: "a", MaxRequestsPerMinute: -1, MaxRequestsPerHour: 10, BurstLimit: 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.NoError(t, mgr.RegisterAccount(DefaultAccount("a")))
}

func TestRateLimitManager_CheckRateLimit_UnknownAccount(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)

	result := mgr.CheckRateLimit("ghost")
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonAccountNotFound, result.Reason)
}

func TestRateLimitManager_CheckRateLimit_AllowsAndCounts(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("a")))

	result := mgr.CheckRateLimit("a")
	assert.True(t, result.Allowed)
	assert.Equal(t, "a", result.AccountID)
	assert.Greater(t, result.Remaining, 0.0)

	status, err := mgr.GetAccountStatus("a")
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalRequests)
}

func TestRateLimitManager_BurstExceeded(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 1
	require.NoError(t, mgr.RegisterAccount(account))

	first := mgr.CheckRateLimit("a")
	require.True(t, first.Allowed)

	second := mgr.CheckRateLimit("a")
	assert.False(t, second.Allowed)
	assert.Equal(t, ReasonBurstExceeded, second.Reason)
	assert.Equal(t, time.Second, second.RetryAfter)
}

func TestRateLimitManager_PerMinuteExceeded(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := DefaultAccount("a") // 60/min, burst 10
	account.MaxRequestsPerHour = 7200
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	for i := 0; i < 10; i++ {
		require.True(t, mgr.CheckRateLimit("a").Allowed)
	}

	// One second refills the burst and per-hour buckets enough for one
	// more request but adds only one per-minute token, so the second
	// check hits the per-minute limit.
	clock.Advance(time.Second)
	require.True(t, mgr.CheckRateLimit("a").Allowed)

	result := mgr.CheckRateLimit("a")
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonPerMinuteExceeded, result.Reason)
	assert.Equal(t, time.Minute, result.RetryAfter)
}

func TestRateLimitManager_PerHourExceeded(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := Account{
		ID:                   "a",
		MaxRequestsPerMinute: 120,
		MaxRequestsPerHour:   1000,
		BurstLimit:           2,
	}
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	require.True(t, mgr.CheckRateLimit("a").Allowed)
	require.True(t, mgr.CheckRateLimit("a").Allowed)

	// After one second the burst and per-minute buckets have recovered
	// but the per-hour bucket has gained well under one token.
	clock.Advance(time.Second)
	result := mgr.CheckRateLimit("a")
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonPerHourExceeded, result.Reason)
	assert.Equal(t, time.Hour, result.RetryAfter)
}

func TestRateLimitManager_GlobalExceeded(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{
		GlobalMaxRequestsPerMinute: 60,
		GlobalBurstLimit:           1,
	}, nil, nil)
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("a")))
	freezeManagerClock(mgr, clock)

	require.True(t, mgr.CheckRateLimit("a").Allowed)

	result := mgr.CheckRateLimit("a")
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonGlobalExceeded, result.Reason)
	assert.Equal(t, time.Second, result.RetryAfter) // minute / 60 per-minute limit
}

func TestRateLimitManager_NoRefundByDefault(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{
		GlobalMaxRequestsPerMinute: 2,
		GlobalBurstLimit:           2,
	}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 1
	account.MaxRequestsPerHour = 36000
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	require.True(t, mgr.CheckRateLimit("a").Allowed)

	// The burst rejection happens after the global bucket was already
	// debited, and that debit is not rolled back.
	rejected := mgr.CheckRateLimit("a")
	require.Equal(t, ReasonBurstExceeded, rejected.Reason)

	// The account's buckets have recovered but the wasted global token
	// has not, so the next check fails on the global limit.
	clock.Advance(time.Second)
	result := mgr.CheckRateLimit("a")
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonGlobalExceeded, result.Reason)
}

func TestRateLimitManager_RefundOnReject(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{
		GlobalMaxRequestsPerMinute: 2,
		GlobalBurstLimit:           2,
		RefundOnReject:             true,
	}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 1
	account.MaxRequestsPerHour = 36000
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	require.True(t, mgr.CheckRateLimit("a").Allowed)

	rejected := mgr.CheckRateLimit("a")
	require.Equal(t, ReasonBurstExceeded, rejected.Reason)

	// The global token consumed by the rejected check was refunded, so
	// once the burst bucket recovers the next check passes.
	clock.Advance(time.Second)
	assert.True(t, mgr.CheckRateLimit("a").Allowed)
}

func TestRateLimitManager_BestAccount(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("a")))
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("b")))
	freezeManagerClock(mgr, clock)

	// Fresh accounts tie; the earliest registered wins.
	assert.Equal(t, "a", mgr.BestAccount())

	// Draining a's quota shifts selection to b.
	for i := 0; i < 5; i++ {
		require.True(t, mgr.CheckRateLimit("a").Allowed)
	}
	assert.Equal(t, "b", mgr.BestAccount())
}

func TestRateLimitManager_BestAccount_NoAccounts(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	assert.Equal(t, "", mgr.BestAccount())
}

func TestRateLimitManager_ExecuteWithRateLimit_RunsFn(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("a")))

	result, err := mgr.ExecuteWithRateLimit("a", func() (interface{}, error) {
		return 42, nil
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRateLimitManager_ExecuteWithRateLimit_QueuesWhenRejected(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 1
	require.NoError(t, mgr.RegisterAccount(account))

	_, err := mgr.ExecuteWithRateLimit("a", func() (interface{}, error) { return nil, nil }, true)
	require.NoError(t, err)

	_, err = mgr.ExecuteWithRateLimit("a", func() (interface{}, error) { return nil, nil }, true)
	assert.ErrorIs(t, err, ErrQueued)
	assert.Equal(t, 1, mgr.QueueDepth())
}

func TestRateLimitManager_ExecuteWithRateLimit_ErrorWhenQueueDisallowed(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 1
	require.NoError(t, mgr.RegisterAccount(account))

	_, err := mgr.ExecuteWithRateLimit("a", func() (interface{}, error) { return nil, nil }, false)
	require.NoError(t, err)

	_, err = mgr.ExecuteWithRateLimit("a", func() (interface{}, error) { return nil, nil }, false)
	require.Error(t, err)

	var rle *errors.RateLimitError
	require.True(t, goerrors.As(err, &rle))
	assert.Equal(t, "a", rle.AccountID)
	assert.Equal(t, ReasonBurstExceeded, rle.Reason)
	assert.Equal(t, time.Second, rle.RetryAfter)
	assert.Equal(t, 0, mgr.QueueDepth())
}

func TestRateLimitManager_ProcessDeferredQueue_DrainsTasks(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 2
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	// Exhaust the quota, queue two tasks.
	require.True(t, mgr.CheckRateLimit("a").Allowed)
	require.True(t, mgr.CheckRateLimit("a").Allowed)

	ran := 0
	task := func() (interface{}, error) {
		ran++
		return nil, nil
	}
	_, err := mgr.ExecuteWithRateLimit("a", task, true)
	require.ErrorIs(t, err, ErrQueued)
	_, err = mgr.ExecuteWithRateLimit("a", task, true)
	require.ErrorIs(t, err, ErrQueued)
	require.Equal(t, 2, mgr.QueueDepth())

	// Quota restored, the queue drains fully.
	clock.Advance(time.Minute)
	processed := mgr.ProcessDeferredQueue("")
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, ran)
	assert.Equal(t, 0, mgr.QueueDepth())
	assert.Equal(t, 2, mgr.ProcessedTotal())
}

func TestRateLimitManager_ProcessDeferredQueue_StopsWithoutQuota(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 1
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	require.True(t, mgr.CheckRateLimit("a").Allowed)
	_, err := mgr.ExecuteWithRateLimit("a", func() (interface{}, error) { return nil, nil }, true)
	require.ErrorIs(t, err, ErrQueued)

	// No quota anywhere: processing terminates and keeps the task queued.
	processed := mgr.ProcessDeferredQueue("")
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, mgr.QueueDepth())
}

func TestRateLimitManager_ProcessDeferredQueue_DropsAfterMaxAttempts(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	account := DefaultAccount("a")
	account.BurstLimit = 5
	account.RetryMaxAttempts = 2
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	for i := 0; i < 5; i++ {
		require.True(t, mgr.CheckRateLimit("a").Allowed)
	}

	attempts := 0
	_, err := mgr.ExecuteWithRateLimit("a", func() (interface{}, error) {
		attempts++
		return nil, goerrors.New("still failing")
	}, true)
	require.ErrorIs(t, err, ErrQueued)

	clock.Advance(time.Minute)
	processed := mgr.ProcessDeferredQueue("a")
	assert.Equal(t, 0, processed)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 0, mgr.QueueDepth())
}

func TestRateLimitManager_StatePersistence(t *testing.T) {
	clock := newStubClock()
	stateFile := filepath.Join(t.TempDir(), "state", "ratelimit.json")

	mgr := NewRateLimitManager(RateLimitManagerConfig{StateFile: stateFile}, nil, nil)
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("a")))
	freezeManagerClock(mgr, clock)

	for i := 0; i < 3; i++ {
		require.True(t, mgr.CheckRateLimit("a").Allowed)
	}
	require.NoError(t, mgr.SaveState())

	// A fresh manager picks the counters back up; bucket fill levels
	// start full again.
	restored := NewRateLimitManager(RateLimitManagerConfig{StateFile: stateFile}, nil, nil)
	require.NoError(t, restored.RegisterAccount(DefaultAccount("a")))

	status, err := restored.GetAccountStatus("a")
	require.NoError(t, err)
	assert.Equal(t, 3, status.TotalRequests)
	assert.Equal(t, 10.0, status.Remaining["burst"])
}

func TestRateLimitManager_GetAccountStatus_Unknown(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)

	_, err := mgr.GetAccountStatus("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRateLimitManager_GetAllAccountsStatus_RegistrationOrder(t *testing.T) {
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("b")))
	require.NoError(t, mgr.RegisterAccount(DefaultAccount("a")))

	statuses := mgr.GetAllAccountsStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "b", statuses[0].AccountID)
	assert.Equal(t, "a", statuses[1].AccountID)
}

func TestRateLimitManager_HealthScore(t *testing.T) {
	clock := newStubClock()
	mgr := NewRateLimitManager(RateLimitManagerConfig{}, nil, nil)

	score := mgr.GetHealthScore()
	assert.Equal(t, 100, score.Score)
	assert.Equal(t, "no_accounts_configured", score.Status)

	account := DefaultAccount("a")
	account.BurstLimit = 2
	require.NoError(t, mgr.RegisterAccount(account))
	freezeManagerClock(mgr, clock)

	score = mgr.GetHealthScore()
	assert.Equal(t, 100, score.Score)
	assert.Equal(t, "healthy", score.Status)

	require.True(t, mgr.CheckRateLimit("a").Allowed)
	score = mgr.GetHealthScore()
	assert.Equal(t, "healthy", score.Status)

	require.True(t, mgr.CheckRateLimit("a").Allowed)
	score = mgr.GetHealthScore()
	assert.Equal(t, 0, score.Score)
	assert.Equal(t, "critical", score.Status)
}
