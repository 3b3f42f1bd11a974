package resilience

import (
	"sync"
	"time"
)

// TimeoutBudget tracks the remaining time allowance for one category of
// operation. It is advisory only: callers query it between sub-steps of
// a larger logical operation and stop retrying once expired. The budget
// never preempts a running call.
//
// TimeoutBudget is not safe for concurrent use; the owning manager
// serializes access.
type TimeoutBudget struct {
	category      string
	defaultBudget time.Duration
	startTime     time.Time

	now func() time.Time
}

// TimeoutBudgetSnapshot is a read-only view of budget state for reporting
type TimeoutBudgetSnapshot struct {
	Category    string `json:"category"`
	RemainingMS int64  `json:"remaining_ms"`
	IsExpired   bool   `json:"is_expired"`
}

// NewTimeoutBudget creates a budget for a category with the clock started.
func NewTimeoutBudget(category string, defaultBudget time.Duration) *TimeoutBudget {
	return newTimeoutBudget(category, defaultBudget, time.Now)
}

func newTimeoutBudget(category string, defaultBudget time.Duration, now func() time.Time) *TimeoutBudget {
	return &TimeoutBudget{
		category:      category,
		defaultBudget: defaultBudget,
		startTime:     now(),
		now:           now,
	}
}

// Reset restarts the budget clock.
func (tb *TimeoutBudget) Reset() {
	tb.startTime = tb.now()
}

// RemainingMS returns the remaining allowance in milliseconds, never negative.
func (tb *TimeoutBudget) RemainingMS() int64 {
	elapsed := tb.now().Sub(tb.startTime)
	remaining := tb.defaultBudget - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// IsExpired reports whether the budget has been exhausted.
func (tb *TimeoutBudget) IsExpired() bool {
	return tb.RemainingMS() <= 0
}

// Check reports whether the operation should continue. False means expired.
func (tb *TimeoutBudget) Check() bool {
	return !tb.IsExpired()
}

// Category returns the budget's category tag.
func (tb *TimeoutBudget) Category() string {
	return tb.category
}

// Snapshot returns the current budget state for monitoring
func (tb *TimeoutBudget) Snapshot() TimeoutBudgetSnapshot {
	return TimeoutBudgetSnapshot{
		Category:    tb.category,
		RemainingMS: tb.RemainingMS(),
		IsExpired:   tb.IsExpired(),
	}
}

// BudgetManager owns one TimeoutBudget per operation category.
type BudgetManager struct {
	defaultBudget time.Duration
	budgets       map[string]*TimeoutBudget
	mutex         sync.Mutex
}

// NewBudgetManager creates a budget manager with the given default allowance.
func NewBudgetManager(defaultBudget time.Duration) *BudgetManager {
	if defaultBudget <= 0 {
		defaultBudget = 5 * time.Second
	}
	return &BudgetManager{
		defaultBudget: defaultBudget,
		budgets:       make(map[string]*TimeoutBudget),
	}
}

// CreateBudget creates (or replaces) a budget for a category. A zero
// budget duration falls back to the manager default.
func (bm *BudgetManager) CreateBudget(category string, budget time.Duration) *TimeoutBudget {
	if budget <= 0 {
		budget = bm.defaultBudget
	}
	tb := NewTimeoutBudget(category, budget)

	bm.mutex.Lock()
	bm.budgets[category] = tb
	bm.mutex.Unlock()

	return tb
}

// GetBudget returns the existing budget for a category, if any.
func (bm *BudgetManager) GetBudget(category string) (*TimeoutBudget, bool) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	tb, ok := bm.budgets[category]
	return tb, ok
}

// CheckCategory reports whether a category's budget is still valid.
// A category with no budget is unlimited.
func (bm *BudgetManager) CheckCategory(category string) bool {
	tb, ok := bm.GetBudget(category)
	if !ok {
		return true
	}
	return tb.Check()
}

// Snapshots returns the state of all budgets for monitoring
func (bm *BudgetManager) Snapshots() map[string]TimeoutBudgetSnapshot {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	result := make(map[string]TimeoutBudgetSnapshot, len(bm.budgets))
	for category, tb := range bm.budgets {
		result[category] = tb.Snapshot()
	}
	return result
}

// Reset discards all budgets.
func (bm *BudgetManager) Reset() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()
	bm.budgets = make(map[string]*TimeoutBudget)
}
