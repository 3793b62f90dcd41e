package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
)

// Ledger tracks API calls and estimated cost against daily and monthly
// budgets. Counters roll over exactly once when the wall clock crosses a
// calendar day or month boundary, whether or not any calls happened in
// between. Budget exhaustion is a pre-emptive rejection, not an error path.
type Ledger struct {
	mu sync.Mutex

	dailyCalls   int64
	dailyCost    float64
	monthlyCalls int64
	monthlyCost  float64

	dailyResetAt   time.Time
	monthlyResetAt time.Time

	dailyLimit   int64
	monthlyLimit int64
	costPerCall  float64

	store repository.UsageStore
	now   func() time.Time
}

// Option configures the ledger.
type Option func(*Ledger)

// WithClock injects a clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithStore attaches a persistence port; counters are restored on
// construction and saved after every change.
func WithStore(store repository.UsageStore) Option {
	return func(l *Ledger) { l.store = store }
}

// New creates a usage ledger.
func New(dailyLimit, monthlyLimit int64, costPerCall float64, opts ...Option) *Ledger {
	l := &Ledger{
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
		costPerCall:  costPerCall,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	now := l.now()
	l.dailyResetAt = nextMidnightUTC(now)
	l.monthlyResetAt = nextMonthStartUTC(now)
	l.restore()
	return l
}

// CanMakeRequest reports whether one more call fits in both budgets, with a
// descriptive reason when it does not.
func (l *Ledger) CanMakeRequest() (bool, string) {
	l.mu.Lock()
	snap := l.rolloverLocked()
	ok, reason := true, ""
	switch {
	case l.dailyLimit > 0 && l.dailyCalls >= l.dailyLimit:
		ok, reason = false, fmt.Sprintf("daily call budget exhausted (%d/%d)", l.dailyCalls, l.dailyLimit)
	case l.monthlyLimit > 0 && l.monthlyCalls >= l.monthlyLimit:
		ok, reason = false, fmt.Sprintf("monthly call budget exhausted (%d/%d)", l.monthlyCalls, l.monthlyLimit)
	}
	l.mu.Unlock()

	l.save(snap)
	return ok, reason
}

// RecordCall accounts one successfully dispatched call.
func (l *Ledger) RecordCall() {
	l.mu.Lock()
	l.rolloverLocked()
	l.dailyCalls++
	l.dailyCost += l.costPerCall
	l.monthlyCalls++
	l.monthlyCost += l.costPerCall
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.save(snap)
}

// RemainingDailyCalls returns headroom for callers that pre-check before
// bulk work.
func (l *Ledger) RemainingDailyCalls() int64 {
	l.mu.Lock()
	snap := l.rolloverLocked()
	remaining := int64(-1) // unlimited
	if l.dailyLimit > 0 {
		remaining = l.dailyLimit - l.dailyCalls
		if remaining < 0 {
			remaining = 0
		}
	}
	l.mu.Unlock()

	l.save(snap)
	return remaining
}

// RemainingMonthlyCalls returns monthly headroom.
func (l *Ledger) RemainingMonthlyCalls() int64 {
	l.mu.Lock()
	snap := l.rolloverLocked()
	remaining := int64(-1)
	if l.monthlyLimit > 0 {
		remaining = l.monthlyLimit - l.monthlyCalls
		if remaining < 0 {
			remaining = 0
		}
	}
	l.mu.Unlock()

	l.save(snap)
	return remaining
}

// Report returns a read-only usage view.
func (l *Ledger) Report() models.UsageReport {
	l.mu.Lock()
	snap := l.rolloverLocked()
	remaining := l.dailyLimit - l.dailyCalls
	if remaining < 0 {
		remaining = 0
	}
	report := models.UsageReport{
		DailyCalls:          l.dailyCalls,
		DailyCallLimit:      l.dailyLimit,
		RemainingDailyCalls: remaining,
		DailyCostUSD:        l.dailyCost,
		MonthlyCalls:        l.monthlyCalls,
		MonthlyCallLimit:    l.monthlyLimit,
		MonthlyCostUSD:      l.monthlyCost,
	}
	l.mu.Unlock()

	l.save(snap)
	return report
}

// rolloverLocked resets counters when the clock has crossed a boundary and
// returns the snapshot to persist, or nil when nothing changed. Caller holds
// the lock.
func (l *Ledger) rolloverLocked() *models.UsageSnapshot {
	now := l.now()
	changed := false
	if !now.Before(l.dailyResetAt) {
		l.dailyCalls = 0
		l.dailyCost = 0
		l.dailyResetAt = nextMidnightUTC(now)
		changed = true
	}
	if !now.Before(l.monthlyResetAt) {
		l.monthlyCalls = 0
		l.monthlyCost = 0
		l.monthlyResetAt = nextMonthStartUTC(now)
		changed = true
	}
	if !changed {
		return nil
	}
	return l.snapshotLocked()
}

func (l *Ledger) restore() {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	snap, err := l.store.Load(ctx)
	if err != nil || snap == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	// Stale snapshots from before the current boundary stay discarded.
	if snap.DailyResetAt.After(now) {
		l.dailyCalls = snap.DailyCalls
		l.dailyCost = snap.DailyCostUSD
		l.dailyResetAt = snap.DailyResetAt
	}
	if snap.MonthlyResetAt.After(now) {
		l.monthlyCalls = snap.MonthlyCalls
		l.monthlyCost = snap.MonthlyCost
		l.monthlyResetAt = snap.MonthlyResetAt
	}
}

// snapshotLocked copies the counters for persistence. Caller holds the lock.
func (l *Ledger) snapshotLocked() *models.UsageSnapshot {
	if l.store == nil {
		return nil
	}
	return &models.UsageSnapshot{
		DailyCalls:     l.dailyCalls,
		DailyCostUSD:   l.dailyCost,
		MonthlyCalls:   l.monthlyCalls,
		MonthlyCost:    l.monthlyCost,
		DailyResetAt:   l.dailyResetAt,
		MonthlyResetAt: l.monthlyResetAt,
	}
}

// save persists a snapshot best-effort. It runs with the mutex released so a
// slow store never stalls budget checks or the queue worker.
func (l *Ledger) save(snap *models.UsageSnapshot) {
	if l.store == nil || snap == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = l.store.Save(ctx, snap)
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

func nextMonthStartUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
