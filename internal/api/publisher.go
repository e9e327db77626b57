package api

import (
	"sync"
	"time"

	"github.com/ordersync/ordersync/ledger"
	"github.com/ordersync/ordersync/ordersync"
)

// LedgerPublisher diffs successive ledger states into stream events. It
// plugs into the supervisor's snapshot fan-out, so it only ever observes
// reconciled states.
type LedgerPublisher struct {
	mu      sync.Mutex
	prev    ledger.State
	streams StreamPublisher
	now     func() time.Time
}

func NewLedgerPublisher(streams StreamPublisher) *LedgerPublisher {
	return &LedgerPublisher{
		prev:    ledger.NewState(),
		streams: streams,
		now:     time.Now,
	}
}

func (p *LedgerPublisher) OnSnapshot(state ledger.State, snap ordersync.Snapshot) {
	p.mu.Lock()
	prev := p.prev
	p.prev = state
	p.mu.Unlock()

	observed := p.now().UTC()

	for _, place := range state.Places {
		before, existed := prev.PlaceByClientID(place.ClientID)

		if !existed {
			p.streams.Publish(StreamEvent{
				Type:       EventOrderSubmitted,
				MarketID:   place.MarketID,
				ClientID:   place.ClientID.Hex(),
				ObservedAt: observed,
			})
		}
		if existed && before.Status == place.Status && errParamsEqual(before.ErrorParams, place.ErrorParams) {
			continue
		}

		if place.ErrorParams != nil && (!existed || before.ErrorParams == nil) {
			p.streams.Publish(StreamEvent{
				Type:       EventOrderFailed,
				MarketID:   place.MarketID,
				OrderID:    place.OrderID,
				ClientID:   place.ClientID.Hex(),
				ObservedAt: observed,
				Payload:    place.ErrorParams,
			})
			continue
		}

		var eventType EventType
		switch place.Status {
		case ledger.PlacePlaced:
			eventType = EventOrderPlaced
		case ledger.PlaceFilled:
			eventType = EventOrderFilled
		case ledger.PlaceCanceled:
			eventType = EventOrderCanceled
		default:
			continue
		}
		p.streams.Publish(StreamEvent{
			Type:       eventType,
			MarketID:   place.MarketID,
			OrderID:    place.OrderID,
			ClientID:   place.ClientID.Hex(),
			ObservedAt: observed,
		})
	}

	for key, batch := range state.CancelAlls {
		before, existed := prev.CancelAlls[key]
		if existed &&
			len(before.CanceledOrderIDs) == len(batch.CanceledOrderIDs) &&
			len(before.FailedOrderIDs) == len(batch.FailedOrderIDs) {
			continue
		}
		p.streams.Publish(StreamEvent{
			Type:       EventCancelAll,
			MarketID:   batchMarket(key),
			ObservedAt: observed,
			Payload: map[string]int{
				"targets":  len(batch.OrderIDs),
				"canceled": len(batch.CanceledOrderIDs),
				"failed":   len(batch.FailedOrderIDs),
			},
		})
	}

	p.streams.Publish(StreamEvent{
		Type:       EventSnapshot,
		ObservedAt: observed,
		Payload: map[string]int{
			"orders":    len(snap.Orders),
			"positions": len(snap.Positions),
		},
	})
}

func batchMarket(key string) string {
	if key == ledger.GlobalCancelKey {
		return ""
	}
	return key
}

func errParamsEqual(a, b *ordersync.ErrorParams) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
