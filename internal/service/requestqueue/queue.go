package requestqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"MarketSync/internal/domain/repository"
	"MarketSync/internal/service/breaker"
	"MarketSync/internal/service/budget"
	"MarketSync/pkg/logger"
)

// Priority orders queued requests. Lower value drains first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ErrQueueClosed is returned for items submitted after Stop.
var ErrQueueClosed = errors.New("request queue closed")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable; the worker fails the item
// immediately instead of backing off.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type item struct {
	name     string
	priority Priority
	fn       func(ctx context.Context) error
	done     chan error
}

// Queue serializes all upstream REST calls through one worker with fixed
// inter-request spacing. Items drain in strict priority order, FIFO within a
// tier. Before each dispatch the worker consults the circuit breaker and the
// usage ledger; a refused item fails with the refusal reason rather than
// waiting out the condition.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tiers   [3][]*item
	closed  bool
	started bool

	limiter    *rate.Limiter
	maxRetries int
	retryBase  time.Duration

	breaker *breaker.CircuitBreaker
	ledger  *budget.Ledger
	log     *logger.Logger
	metrics repository.Metrics

	sleep func(ctx context.Context, d time.Duration) error

	cancel context.CancelFunc
	doneCh chan struct{}
}

// Config holds the worker tuning knobs.
type Config struct {
	RequestSpacing time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Option configures the queue.
type Option func(*Queue)

// WithSleep overrides the backoff sleep. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = sleep }
}

// New creates the request queue. Call Start before submitting.
func New(cfg Config, cb *breaker.CircuitBreaker, ledger *budget.Ledger, log *logger.Logger, metrics repository.Metrics, opts ...Option) *Queue {
	every := rate.Inf
	if cfg.RequestSpacing > 0 {
		every = rate.Every(cfg.RequestSpacing)
	}
	q := &Queue{
		limiter:    rate.NewLimiter(every, 1),
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBaseDelay,
		breaker:    cb,
		ledger:     ledger,
		log:        log,
		metrics:    metrics,
		doneCh:     make(chan struct{}),
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker goroutine. Idempotent.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	go q.run(ctx)
}

// Stop drains nothing: pending items fail with ErrQueueClosed.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.cancel != nil {
		q.cancel()
	}
	var pending []*item
	for i := range q.tiers {
		pending = append(pending, q.tiers[i]...)
		q.tiers[i] = nil
	}
	q.cond.Broadcast()
	started := q.started
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- ErrQueueClosed
	}
	if started {
		<-q.doneCh
	}
}

// Submit enqueues fn and returns a future that yields its final error.
// name identifies the request in logs and refusal reasons.
func (q *Queue) Submit(name string, priority Priority, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	it := &item{name: name, priority: priority, fn: fn, done: done}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- ErrQueueClosed
		return done
	}
	q.tiers[priority] = append(q.tiers[priority], it)
	depth := len(q.tiers[priority])
	q.cond.Signal()
	q.mu.Unlock()

	q.metrics.SetQueueDepth(priority.String(), depth)
	return done
}

// Wait is a convenience wrapper around Submit that blocks until the item
// completes or ctx ends.
func (q *Queue) Wait(ctx context.Context, name string, priority Priority, fn func(ctx context.Context) error) error {
	select {
	case err := <-q.Submit(name, priority, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.doneCh)

	// Wake the worker out of cond.Wait when the context ends.
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	for {
		it, ok := q.next(ctx)
		if !ok {
			return
		}
		if err := q.limiter.Wait(ctx); err != nil {
			it.done <- err
			continue
		}
		it.done <- q.dispatch(ctx, it)
	}
}

// next blocks until an item is available, returning the highest-priority one.
func (q *Queue) next(ctx context.Context) (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed || ctx.Err() != nil {
			return nil, false
		}
		for p := range q.tiers {
			if len(q.tiers[p]) > 0 {
				it := q.tiers[p][0]
				q.tiers[p] = q.tiers[p][1:]
				q.metrics.SetQueueDepth(Priority(p).String(), len(q.tiers[p]))
				return it, true
			}
		}
		q.cond.Wait()
	}
}

// dispatch runs one item through the breaker and ledger gates, retrying
// transient failures with exponential backoff.
func (q *Queue) dispatch(ctx context.Context, it *item) error {
	var lastErr error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			delay := q.retryBase << (attempt - 1)
			if err := q.sleep(ctx, delay); err != nil {
				return err
			}
		}

		if !q.breaker.Allow() {
			q.metrics.RecordError("breaker_open")
			q.metrics.SetBreakerState(int(q.breaker.State()))
			return fmt.Errorf("%s: circuit breaker open, retry in %s", it.name, q.breaker.RetryAfter().Round(time.Second))
		}
		if ok, reason := q.ledger.CanMakeRequest(); !ok {
			q.metrics.RecordError("budget_exhausted")
			return fmt.Errorf("%s: %s", it.name, reason)
		}

		q.ledger.RecordCall()
		q.metrics.SetBudgetRemaining("daily", q.ledger.RemainingDailyCalls())

		err := it.fn(ctx)
		if err == nil {
			q.breaker.RecordSuccess()
			q.metrics.SetBreakerState(int(q.breaker.State()))
			return nil
		}

		lastErr = err
		q.breaker.RecordFailure()
		q.metrics.SetBreakerState(int(q.breaker.State()))
		q.metrics.RecordError("request_failed")

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		q.log.Warn("request attempt failed",
			logger.String("request", it.name),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	return fmt.Errorf("%s: retries exhausted: %w", it.name, lastErr)
}
