package repository

import (
	"context"

	"MarketSync/internal/domain/models"
)

// MarketStream is the push transport: one persistent connection delivering
// partial updates for subscribed symbols.
type MarketStream interface {
	// Connect opens the transport and starts the login handshake. Lifecycle
	// progress (connected, authenticated, fatal errors) arrives on Events.
	Connect(ctx context.Context) error
	// Subscribe adds symbols to the active set; sent immediately when
	// connected, otherwise persisted and flushed on the next connect.
	Subscribe(ctx context.Context, symbols []string) error
	// Unsubscribe removes symbols from the active set.
	Unsubscribe(ctx context.Context, symbols []string) error
	// Disconnect tears down the transport, stops timers, and clears the
	// active-subscription set.
	Disconnect() error
	IsConnected() bool
	State() models.ConnectionState
	// Ticks delivers normalized partial updates.
	Ticks() <-chan *models.StreamTick
	// Events delivers connection lifecycle events.
	Events() <-chan models.Event
}

// SymbolStore holds the latest merged record per symbol. Reads never block
// on in-flight fetches. Writes come only from the merge engine.
type SymbolStore interface {
	Get(symbol string) (*models.StockQuote, bool)
	All() map[string]*models.StockQuote
	Put(quote *models.StockQuote)
	Len() int
}

// UsageStore is the persistence port for the usage ledger, so counters
// survive restarts regardless of the durable medium behind it.
type UsageStore interface {
	Load(ctx context.Context) (*models.UsageSnapshot, error)
	Save(ctx context.Context, snap *models.UsageSnapshot) error
}

// UpdatePublisher mirrors merged records to an out-of-process feed.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, quote *models.StockQuote) error
	Close() error
}

// Metrics records engine observability signals.
type Metrics interface {
	RecordTick(source string)
	RecordMerge(kind string)
	RecordCacheHit(endpoint string)
	RecordCacheMiss(endpoint string)
	RecordError(kind string)
	RecordReconnect()
	SetQueueDepth(priority string, depth int)
	SetBreakerState(state int)
	SetBudgetRemaining(window string, remaining int64)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards all measurements. Used by tests.
type NopMetrics struct{}

func (NopMetrics) RecordTick(string)                 {}
func (NopMetrics) RecordMerge(string)                {}
func (NopMetrics) RecordCacheHit(string)             {}
func (NopMetrics) RecordCacheMiss(string)            {}
func (NopMetrics) RecordError(string)                {}
func (NopMetrics) RecordReconnect()                  {}
func (NopMetrics) SetQueueDepth(string, int)         {}
func (NopMetrics) SetBreakerState(int)               {}
func (NopMetrics) SetBudgetRemaining(string, int64)  {}
func (NopMetrics) RecordLastPrice(string, float64)   {}
func (NopMetrics) RecordLatency(string, float64)     {}
