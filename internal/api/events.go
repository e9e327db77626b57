// Package api exposes the read-only HTTP surface: a JSON status endpoint
// and a server-sent-events stream of ledger activity. Nothing in here
// mutates the ledger.
package api

import (
	"time"
)

// EventType classifies one stream event.
type EventType string

const (
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderPlaced    EventType = "order_placed"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCanceled  EventType = "order_canceled"
	EventOrderFailed    EventType = "order_failed"
	EventCancelAll      EventType = "cancel_all"
	EventSnapshot       EventType = "snapshot"
)

// StreamEvent is one entry on the SSE stream. Sequence is assigned by the
// controller at publish time.
type StreamEvent struct {
	Sequence   *int64    `json:"sequence,omitempty"`
	Type       EventType `json:"type"`
	MarketID   string    `json:"marketId,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
	Payload    any       `json:"payload,omitempty"`
}

// StreamFilter restricts which events a subscriber receives. Nil fields
// match everything.
type StreamFilter struct {
	MarketID     *string
	Type         *EventType
	ObservedFrom *time.Time
}
