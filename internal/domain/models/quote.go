package models

import "time"

// StockQuote is the authoritative, latest-known record for a tracked symbol.
// It is owned by the symbol store and mutated only by the merge engine.
type StockQuote struct {
	Symbol             string    `json:"symbol"`
	Name               string    `json:"name,omitempty"`
	Exchange           string    `json:"exchange,omitempty"`
	Price              float64   `json:"price"`
	Change             float64   `json:"change"`
	ChangePercent      float64   `json:"changePercent"`
	Bid                float64   `json:"bid"`
	Ask                float64   `json:"ask"`
	BidSize            int64     `json:"bidSize"`
	AskSize            int64     `json:"askSize"`
	DayLow             float64   `json:"dayLow"`
	DayHigh            float64   `json:"dayHigh"`
	YearLow            float64   `json:"yearLow"`
	YearHigh           float64   `json:"yearHigh"`
	Open               float64   `json:"open"`
	PreviousClose      float64   `json:"previousClose"`
	Volume             int64     `json:"volume"`
	MarketCap          float64   `json:"marketCap"`
	PE                 float64   `json:"pe"`
	EPS                float64   `json:"eps"`
	DividendYield      float64   `json:"dividendYield"`
	NextExDividendDate time.Time `json:"nextExDividendDate,omitzero"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// Clone returns a copy so readers never alias store-owned memory.
func (q *StockQuote) Clone() *StockQuote {
	if q == nil {
		return nil
	}
	c := *q
	return &c
}

// Enrichment carries profile-derived fields resolved after the quote seed.
// Nil fields failed to resolve and leave the cached record untouched.
type Enrichment struct {
	Name               *string
	Exchange           *string
	DividendYield      *float64
	NextExDividendDate *time.Time
}

// Empty reports whether nothing resolved.
func (e *Enrichment) Empty() bool {
	return e == nil ||
		(e.Name == nil && e.Exchange == nil && e.DividendYield == nil && e.NextExDividendDate == nil)
}

// StreamTick is a normalized partial update from the push stream. Nil fields
// were absent from the wire frame and must not overwrite cached values.
type StreamTick struct {
	Symbol    string
	Price     *float64
	Bid       *float64
	Ask       *float64
	BidSize   *int64
	AskSize   *int64
	Volume    *int64
	Timestamp time.Time
}

// DeliveryMode says how a subscribed symbol is kept fresh.
type DeliveryMode string

const (
	ModeStream DeliveryMode = "stream"
	ModePoll   DeliveryMode = "poll"
)

// Subscription tracks one symbol's delivery mode and consumer refcount.
type Subscription struct {
	Symbol   string
	Mode     DeliveryMode
	RefCount int
}

// ConnectionState enumerates the stream connection lifecycle.
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StateConnecting     ConnectionState = "connecting"
	StateAuthenticating ConnectionState = "authenticating"
	StateConnected      ConnectionState = "connected"
)
