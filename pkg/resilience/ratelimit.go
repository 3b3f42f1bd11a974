package resilience

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentward/agentward/pkg/errors"
	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/metrics"
)

// ErrQueued is returned by ExecuteWithRateLimit when the call could not
// run immediately and was placed on the deferred queue instead. The
// caller is responsible for draining the queue later.
var ErrQueued = goerrors.New("rate limited: task queued for deferred execution")

// Account holds the rate limit configuration for one credentialed account.
type Account struct {
	ID                   string  `json:"id"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
	MaxRequestsPerHour   int     `json:"max_requests_per_hour"`
	BurstLimit           int     `json:"burst_limit"`
	RetryBackoffBase     float64 `json:"retry_backoff_base"`
	RetryMaxAttempts     int     `json:"retry_max_attempts"`
}

// DefaultAccount returns an account with default limits applied.
func DefaultAccount(id string) Account {
	return Account{
		ID:                   id,
		MaxRequestsPerMinute: 60,
		MaxRequestsPerHour:   1000,
		BurstLimit:           10,
		RetryBackoffBase:     2.0,
		RetryMaxAttempts:     5,
	}
}

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Allowed    bool          `json:"allowed"`
	AccountID  string        `json:"account_id"`
	Remaining  float64       `json:"remaining,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Rejection reasons reported in CheckResult.Reason.
const (
	ReasonAccountNotFound   = "account_not_found"
	ReasonGlobalExceeded    = "global_rate_exceeded"
	ReasonBurstExceeded     = "burst_exceeded"
	ReasonPerMinuteExceeded = "per_minute_exceeded"
	ReasonPerHourExceeded   = "per_hour_exceeded"
)

// AccountStatus describes the quota state of one account.
type AccountStatus struct {
	AccountID     string             `json:"account_id"`
	Remaining     map[string]float64 `json:"remaining"`
	TotalRequests int                `json:"total_requests"`
	Config        Account            `json:"config"`
}

// HealthScore summarizes remaining quota across all accounts.
type HealthScore struct {
	Score               int     `json:"score"`
	AccountsChecked     int     `json:"accounts_checked"`
	AvgRemainingPercent float64 `json:"avg_remaining_percentage"`
	QueuedTasks         int     `json:"queued_tasks"`
	Status              string  `json:"status"`
}

// RateLimitManagerConfig holds configuration for the rate limit manager.
type RateLimitManagerConfig struct {
	// StateFile is the JSON path where request counters are persisted.
	// Empty disables persistence.
	StateFile string
	// GlobalMaxRequestsPerMinute enables a single bucket shared across
	// all accounts; zero disables it.
	GlobalMaxRequestsPerMinute int
	// GlobalBurstLimit is the capacity of the global bucket.
	GlobalBurstLimit int
	// RefundOnReject returns tokens debited from earlier buckets when a
	// later bucket rejects the check. When off, rejected checks waste
	// the quota already consumed from earlier buckets.
	RefundOnReject bool
}

// RateLimitManager coordinates token-bucket rate limiting across several
// registered accounts, with an optional global bucket, least-loaded
// account rotation, and a priority queue of deferred tasks.
//
// All bucket and queue access is serialized behind the manager's mutex;
// wrapped functions execute outside the lock.
type RateLimitManager struct {
	mutex sync.Mutex

	config           RateLimitManagerConfig
	accounts         map[string]Account
	accountOrder     []string
	perMinuteBuckets map[string]*TokenBucket
	perHourBuckets   map[string]*TokenBucket
	burstBuckets     map[string]*TokenBucket
	globalBucket     *TokenBucket

	deferredQueue   *TaskQueue
	requestCounters map[string]int
	processedTotal  int

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// persistedState is the on-disk shape of the manager's durable state.
// Only cumulative request counters survive a save/load cycle; bucket
// fill levels and account registrations are rebuilt at process start.
type persistedState struct {
	RequestCounters map[string]int `json:"request_counters"`
	Timestamp       float64        `json:"timestamp"`
}

// NewRateLimitManager creates a rate limit manager. If the configured
// state file exists, previously persisted request counters are loaded.
func NewRateLimitManager(config RateLimitManagerConfig, logger *logging.Logger, m *metrics.Metrics) *RateLimitManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	mgr := &RateLimitManager{
		config:           config,
		accounts:         make(map[string]Account),
		perMinuteBuckets: make(map[string]*TokenBucket),
		perHourBuckets:   make(map[string]*TokenBucket),
		burstBuckets:     make(map[string]*TokenBucket),
		deferredQueue:    NewTaskQueue(),
		requestCounters:  make(map[string]int),
		logger:           logger,
		metrics:          m,
	}

	if config.GlobalMaxRequestsPerMinute > 0 {
		burst := config.GlobalBurstLimit
		if burst <= 0 {
			burst = 20
		}
		mgr.globalBucket = NewTokenBucket(float64(burst), float64(config.GlobalMaxRequestsPerMinute)/60.0)
	}

	if config.StateFile != "" {
		if err := mgr.LoadState(); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to load rate limit state", "path", config.StateFile, "error", err)
		}
	}

	return mgr
}

// RegisterAccount registers an account for rate limiting. Registering an
// existing ID replaces its configuration and resets its buckets; its
// cumulative request counter is kept.
func (mgr *RateLimitManager) RegisterAccount(account Account) error {
	if account.ID == "" {
		return errors.NewValidationError("account ID must not be empty")
	}
	if account.BurstLimit <= 0 || account.MaxRequestsPerMinute <= 0 || account.MaxRequestsPerHour <= 0 {
		return errors.NewValidationError("account limits must be positive").WithDetail("account_id", account.ID)
	}
	if account.RetryMaxAttempts <= 0 {
		account.RetryMaxAttempts = 5
	}
	if account.RetryBackoffBase <= 0 {
		account.RetryBackoffBase = 2.0
	}

	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	if _, exists := mgr.accounts[account.ID]; !exists {
		mgr.accountOrder = append(mgr.accountOrder, account.ID)
		// Counters loaded from the state file are kept as-is.
		if _, ok := mgr.requestCounters[account.ID]; !ok {
			mgr.requestCounters[account.ID] = 0
		}
	}
	mgr.accounts[account.ID] = account

	// The burst bucket refills at its own capacity per second, so it
	// models a concurrency ceiling rather than a sustained rate.
	mgr.perMinuteBuckets[account.ID] = NewTokenBucket(float64(account.BurstLimit), float64(account.MaxRequestsPerMinute)/60.0)
	mgr.perHourBuckets[account.ID] = NewTokenBucket(float64(account.BurstLimit), float64(account.MaxRequestsPerHour)/3600.0)
	mgr.burstBuckets[account.ID] = NewTokenBucket(float64(account.BurstLimit), float64(account.BurstLimit))

	mgr.logger.Info("Account registered",
		"account_id", account.ID,
		"per_minute", account.MaxRequestsPerMinute,
		"per_hour", account.MaxRequestsPerHour,
		"burst", account.BurstLimit,
	)
	return nil
}

// CheckRateLimit checks whether a request is allowed for an account,
// consuming one token from each bucket in order: global, burst,
// per-minute, per-hour. The first failing check rejects the request.
//
// Buckets checked earlier have already been debited when a later check
// fails. Unless RefundOnReject is set those debits are not rolled back.
func (mgr *RateLimitManager) CheckRateLimit(accountID string) CheckResult {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	return mgr.checkRateLimitLocked(accountID)
}

func (mgr *RateLimitManager) checkRateLimitLocked(accountID string) CheckResult {
	account, ok := mgr.accounts[accountID]
	if !ok {
		mgr.metrics.ObserveRateLimitCheck(accountID, false)
		mgr.metrics.ObserveRateLimitRejection(accountID, ReasonAccountNotFound)
		return CheckResult{Allowed: false, AccountID: accountID, Reason: ReasonAccountNotFound}
	}

	burst := mgr.burstBuckets[accountID]
	perMinute := mgr.perMinuteBuckets[accountID]
	perHour := mgr.perHourBuckets[accountID]

	reject := func(reason string, retryAfter time.Duration, refund ...*TokenBucket) CheckResult {
		if mgr.config.RefundOnReject {
			for _, b := range refund {
				b.Refund(1)
			}
		}
		mgr.metrics.ObserveRateLimitCheck(accountID, false)
		mgr.metrics.ObserveRateLimitRejection(accountID, reason)
		mgr.logger.Debug("Rate limit check rejected",
			"account_id", accountID,
			"reason", reason,
			"retry_after", retryAfter,
		)
		return CheckResult{
			Allowed:    false,
			AccountID:  accountID,
			Reason:     reason,
			RetryAfter: retryAfter,
		}
	}

	if mgr.globalBucket != nil {
		if !mgr.globalBucket.Consume(1) {
			perMin := account.MaxRequestsPerMinute
			if perMin < 1 {
				perMin = 1
			}
			return reject(ReasonGlobalExceeded, time.Duration(float64(time.Minute)/float64(perMin)))
		}
	}

	if !burst.Consume(1) {
		if mgr.globalBucket != nil {
			return reject(ReasonBurstExceeded, time.Second, mgr.globalBucket)
		}
		return reject(ReasonBurstExceeded, time.Second)
	}

	if !perMinute.Consume(1) {
		if mgr.globalBucket != nil {
			return reject(ReasonPerMinuteExceeded, time.Minute, mgr.globalBucket, burst)
		}
		return reject(ReasonPerMinuteExceeded, time.Minute, burst)
	}

	if !perHour.Consume(1) {
		if mgr.globalBucket != nil {
			return reject(ReasonPerHourExceeded, time.Hour, mgr.globalBucket, burst, perMinute)
		}
		return reject(ReasonPerHourExceeded, time.Hour, burst, perMinute)
	}

	mgr.requestCounters[accountID]++
	mgr.metrics.ObserveRateLimitCheck(accountID, true)
	mgr.metrics.ObserveAccountRequest(accountID)

	remaining := perMinute.Remaining()
	if r := perHour.Remaining(); r < remaining {
		remaining = r
	}
	if r := burst.Remaining(); r < remaining {
		remaining = r
	}

	return CheckResult{
		Allowed:   true,
		AccountID: accountID,
		Remaining: remaining,
	}
}

// BestAccount returns the account with the most remaining per-minute
// quota, discounted by a load factor proportional to its cumulative
// request count. Returns "" when no accounts are registered; ties go to
// the earliest registered account.
func (mgr *RateLimitManager) BestAccount() string {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	return mgr.bestAccountLocked()
}

func (mgr *RateLimitManager) bestAccountLocked() string {
	best := ""
	bestRemaining := -1.0

	for _, accountID := range mgr.accountOrder {
		remaining := mgr.perMinuteBuckets[accountID].Remaining()
		loadFactor := float64(mgr.requestCounters[accountID]) / 1000.0
		adjusted := remaining - loadFactor

		if adjusted > bestRemaining {
			bestRemaining = adjusted
			best = accountID
		}
	}
	return best
}

// ExecuteWithRateLimit runs fn immediately when the account's rate limit
// check passes. When the check fails and allowQueue is true the task is
// queued at priority 1 and ErrQueued is returned; otherwise a
// *errors.RateLimitError is returned.
func (mgr *RateLimitManager) ExecuteWithRateLimit(accountID string, fn TaskFunc, allowQueue bool) (interface{}, error) {
	check := mgr.CheckRateLimit(accountID)

	if !check.Allowed {
		if allowQueue {
			mgr.mutex.Lock()
			task := mgr.deferredQueue.Enqueue(fn, 1)
			depth := mgr.deferredQueue.Len()
			mgr.mutex.Unlock()

			mgr.metrics.SetDeferredQueueDepth(depth)
			mgr.metrics.ObserveDeferredTask("queued")
			mgr.logger.Info("Task queued for deferred execution",
				"account_id", accountID,
				"task_id", task.ID,
				"reason", check.Reason,
				"queue_depth", depth,
			)
			return nil, ErrQueued
		}
		return nil, errors.NewRateLimitError(accountID, check.Reason, check.RetryAfter)
	}

	return fn()
}

// ProcessDeferredQueue drains the deferred queue, routing each task to
// the best available account. accountID pins processing to one account;
// empty means rotate freely.
//
// A task that fails is re-enqueued at priority+attempts until the
// selected account's RetryMaxAttempts is exceeded, then dropped. A task
// rejected by the rate limiter is re-enqueued unchanged and another
// account is tried. Processing stops when the queue is empty or a full
// rotation of accounts yields no remaining quota.
func (mgr *RateLimitManager) ProcessDeferredQueue(accountID string) int {
	processed := 0
	best := accountID
	if best == "" {
		best = mgr.BestAccount()
	}

	consecutiveRejections := 0

	for {
		mgr.mutex.Lock()
		accountCount := len(mgr.accounts)
		task := mgr.deferredQueue.Dequeue()
		mgr.mutex.Unlock()

		if task == nil {
			break
		}

		if best == "" {
			best = mgr.BestAccount()
		}
		if best == "" {
			// No accounts registered; put the task back and stop.
			mgr.requeue(task, task.Priority)
			break
		}

		check := mgr.CheckRateLimit(best)
		if !check.Allowed {
			mgr.requeue(task, task.Priority)
			consecutiveRejections++
			if consecutiveRejections >= accountCount {
				mgr.logger.Info("Deferred queue processing stopped: no account has remaining quota",
					"processed", processed,
					"queue_depth", mgr.QueueDepth(),
				)
				break
			}
			best = mgr.BestAccount()
			continue
		}
		consecutiveRejections = 0

		if _, err := task.Task(); err != nil {
			task.Attempts++
			if task.Attempts < mgr.retryMaxAttempts(best) {
				mgr.requeue(task, task.Priority+task.Attempts)
				mgr.metrics.ObserveDeferredTask("retried")
				mgr.logger.Warn("Deferred task failed, re-enqueued",
					"task_id", task.ID,
					"attempts", task.Attempts,
					"error", err.Error(),
				)
			} else {
				mgr.metrics.ObserveDeferredTask("dropped")
				mgr.logger.Error("Deferred task dropped after max attempts",
					"task_id", task.ID,
					"attempts", task.Attempts,
					"error", err.Error(),
				)
			}
			continue
		}

		processed++
		mgr.mutex.Lock()
		mgr.processedTotal++
		mgr.mutex.Unlock()
		mgr.metrics.ObserveDeferredTask("processed")
	}

	mgr.metrics.SetDeferredQueueDepth(mgr.QueueDepth())
	return processed
}

func (mgr *RateLimitManager) requeue(task *QueuedTask, priority int) {
	mgr.mutex.Lock()
	task.Priority = priority
	mgr.deferredQueue.push(task)
	mgr.mutex.Unlock()
}

func (mgr *RateLimitManager) retryMaxAttempts(accountID string) int {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	if account, ok := mgr.accounts[accountID]; ok {
		return account.RetryMaxAttempts
	}
	return 5
}

// QueueDepth returns the number of tasks waiting in the deferred queue.
func (mgr *RateLimitManager) QueueDepth() int {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()
	return mgr.deferredQueue.Len()
}

// ProcessedTotal returns the number of deferred tasks processed successfully.
func (mgr *RateLimitManager) ProcessedTotal() int {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()
	return mgr.processedTotal
}

// GetAccountStatus returns the quota state of one account.
func (mgr *RateLimitManager) GetAccountStatus(accountID string) (AccountStatus, error) {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	account, ok := mgr.accounts[accountID]
	if !ok {
		return AccountStatus{}, errors.NewNotFoundError(fmt.Sprintf("account %q", accountID))
	}

	return AccountStatus{
		AccountID: accountID,
		Remaining: map[string]float64{
			"burst":      mgr.burstBuckets[accountID].Remaining(),
			"per_minute": mgr.perMinuteBuckets[accountID].Remaining(),
			"per_hour":   mgr.perHourBuckets[accountID].Remaining(),
		},
		TotalRequests: mgr.requestCounters[accountID],
		Config:        account,
	}, nil
}

// GetAllAccountsStatus returns the quota state of every registered
// account in registration order.
func (mgr *RateLimitManager) GetAllAccountsStatus() []AccountStatus {
	mgr.mutex.Lock()
	order := append([]string(nil), mgr.accountOrder...)
	mgr.mutex.Unlock()

	statuses := make([]AccountStatus, 0, len(order))
	for _, accountID := range order {
		if status, err := mgr.GetAccountStatus(accountID); err == nil {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// GetHealthScore reports the average remaining per-minute quota across
// all accounts, scaled to 0-100.
func (mgr *RateLimitManager) GetHealthScore() HealthScore {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	if len(mgr.accounts) == 0 {
		return HealthScore{Score: 100, Status: "no_accounts_configured"}
	}

	totalRemaining := 0.0
	for _, accountID := range mgr.accountOrder {
		bucket := mgr.perMinuteBuckets[accountID]
		if capacity := bucket.Capacity(); capacity > 0 {
			totalRemaining += bucket.Remaining() / capacity
		}
	}

	avgRemaining := totalRemaining / float64(len(mgr.accounts))
	score := int(avgRemaining * 100)
	if score > 100 {
		score = 100
	}

	status := "critical"
	if avgRemaining > 0.3 {
		status = "healthy"
	} else if avgRemaining > 0 {
		status = "degraded"
	}

	hs := HealthScore{
		Score:               score,
		AccountsChecked:     len(mgr.accounts),
		AvgRemainingPercent: avgRemaining * 100,
		QueuedTasks:         mgr.deferredQueue.Len(),
		Status:              status,
	}
	mgr.metrics.SetHealthScore(float64(score))
	return hs
}

// SaveState persists the cumulative request counters as JSON. Bucket
// fill levels are deliberately not persisted.
func (mgr *RateLimitManager) SaveState() error {
	if mgr.config.StateFile == "" {
		return nil
	}

	mgr.mutex.Lock()
	state := persistedState{
		RequestCounters: make(map[string]int, len(mgr.requestCounters)),
		Timestamp:       float64(time.Now().UnixNano()) / float64(time.Second),
	}
	for k, v := range mgr.requestCounters {
		state.RequestCounters[k] = v
	}
	mgr.mutex.Unlock()

	if dir := filepath.Dir(mgr.config.StateFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal rate limit state: %w", err)
	}

	if err := os.WriteFile(mgr.config.StateFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write rate limit state: %w", err)
	}

	mgr.logger.Debug("Rate limit state saved", "path", mgr.config.StateFile)
	return nil
}

// LoadState restores previously persisted request counters.
func (mgr *RateLimitManager) LoadState() error {
	if mgr.config.StateFile == "" {
		return nil
	}

	data, err := os.ReadFile(mgr.config.StateFile)
	if err != nil {
		return err
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse rate limit state: %w", err)
	}

	mgr.mutex.Lock()
	if state.RequestCounters != nil {
		mgr.requestCounters = state.RequestCounters
	}
	mgr.mutex.Unlock()

	mgr.logger.Debug("Rate limit state loaded", "path", mgr.config.StateFile)
	return nil
}
