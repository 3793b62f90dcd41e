package requestqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/repository"
	"MarketSync/internal/service/breaker"
	"MarketSync/internal/service/budget"
	"MarketSync/pkg/logger"
)

func newTestQueue(t *testing.T, cfg Config, cb *breaker.CircuitBreaker, ledger *budget.Ledger) *Queue {
	t.Helper()
	if cb == nil {
		cb = breaker.New(5, time.Minute, 1)
	}
	if ledger == nil {
		ledger = budget.New(0, 0, 0)
	}
	return New(cfg, cb, ledger, logger.Nop(), repository.NopMetrics{},
		WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func TestQueuePriorityOrder(t *testing.T) {
	q := newTestQueue(t, Config{}, nil, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Enqueue before starting so the worker sees all tiers populated.
	lowDone := q.Submit("low-1", PriorityLow, record("low-1"))
	norm1 := q.Submit("normal-1", PriorityNormal, record("normal-1"))
	norm2 := q.Submit("normal-2", PriorityNormal, record("normal-2"))
	highDone := q.Submit("high-1", PriorityHigh, record("high-1"))

	q.Start(context.Background())
	defer q.Stop()

	for _, ch := range []<-chan error{highDone, norm1, norm2, lowDone} {
		require.NoError(t, <-ch)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high-1", "normal-1", "normal-2", "low-1"}, order)
}

func TestQueueBreakerOpenFailsFast(t *testing.T) {
	cb := breaker.New(1, time.Minute, 1)
	cb.RecordFailure()
	q := newTestQueue(t, Config{}, cb, nil)
	q.Start(context.Background())
	defer q.Stop()

	err := q.Wait(context.Background(), "quote AAPL", PriorityHigh, func(context.Context) error {
		t.Fatal("must not dispatch while breaker is open")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Contains(t, err.Error(), "quote AAPL")
}

func TestQueueBudgetExhaustedFailsFast(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	ledger := budget.New(1, 100, 0, budget.WithClock(func() time.Time { return now }))
	ledger.RecordCall()

	q := newTestQueue(t, Config{}, nil, ledger)
	q.Start(context.Background())
	defer q.Stop()

	err := q.Wait(context.Background(), "quote MSFT", PriorityNormal, func(context.Context) error {
		t.Fatal("must not dispatch over budget")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily call budget exhausted")
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	q := newTestQueue(t, Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond}, nil, nil)
	q.Start(context.Background())
	defer q.Stop()

	attempts := 0
	err := q.Wait(context.Background(), "profile AAPL", PriorityNormal, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("upstream 500")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestQueueRetriesExhausted(t *testing.T) {
	q := newTestQueue(t, Config{MaxRetries: 2, RetryBaseDelay: time.Millisecond}, nil, nil)
	q.Start(context.Background())
	defer q.Stop()

	attempts := 0
	err := q.Wait(context.Background(), "news TSLA", PriorityLow, func(context.Context) error {
		attempts++
		return errors.New("upstream 500")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, 3, attempts)
}

func TestQueuePermanentErrorSkipsRetry(t *testing.T) {
	q := newTestQueue(t, Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond}, nil, nil)
	q.Start(context.Background())
	defer q.Stop()

	attempts := 0
	wantErr := errors.New("symbol not found")
	err := q.Wait(context.Background(), "quote NOPE", PriorityNormal, func(context.Context) error {
		attempts++
		return Permanent(wantErr)
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, attempts)
}

func TestQueueStopFailsPendingItems(t *testing.T) {
	q := newTestQueue(t, Config{}, nil, nil)

	done := q.Submit("never-runs", PriorityNormal, func(context.Context) error { return nil })
	q.Stop()

	assert.ErrorIs(t, <-done, ErrQueueClosed)
	assert.ErrorIs(t, <-q.Submit("after-close", PriorityNormal, func(context.Context) error { return nil }), ErrQueueClosed)
}
