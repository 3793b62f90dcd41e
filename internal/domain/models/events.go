package models

import "time"

// EventType identifies an engine event on the change feed.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventAuthenticated EventType = "authenticated"
	EventDisconnected  EventType = "disconnected"
	EventStockUpdate   EventType = "stockUpdate"
	EventError         EventType = "error"
)

// Event is a change-feed notification. StockUpdate events carry the merged
// record; error events carry a reason. Delivery is at-least-once and slow
// consumers may observe coalesced updates.
type Event struct {
	Type      EventType   `json:"type"`
	Symbol    string      `json:"symbol,omitempty"`
	Quote     *StockQuote `json:"quote,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Fatal     bool        `json:"fatal,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
