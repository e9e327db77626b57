package notify

import (
	"context"
	"fmt"

	"github.com/ordersync/ordersync/ledger"
	"github.com/ordersync/ordersync/ordersync"
)

// OrderStatusUpdateKey re-surfaces an order notification exactly when the
// order id lands or the order's status or filled amount changes. Compared
// structurally, never as a serialized string.
type OrderStatusUpdateKey struct {
	OrderID    string
	Status     string
	FilledSize float64
}

// CancelAllUpdateKey re-surfaces a batch notification as members resolve.
type CancelAllUpdateKey struct {
	Canceled int
	Failed   int
	Total    int
}

// OrderStatusProducer projects ledger state into order notifications. It is
// stateless: dedup lives entirely in the engine's records.
type OrderStatusProducer struct {
	engine *Engine
}

func NewOrderStatusProducer(engine *Engine) *OrderStatusProducer {
	return &OrderStatusProducer{engine: engine}
}

// Publish triggers one notification per local placement and cancellation,
// plus one per cancel-all batch. Cancellations routed through a batch are
// skipped individually so the user sees a single batch summary instead of
// one toast per order.
func (p *OrderStatusProducer) Publish(ctx context.Context, state ledger.State, snap ordersync.Snapshot) {
	for _, place := range state.Places {
		var filled float64
		if place.OrderID != "" {
			if order, ok := snap.OrderByID(place.OrderID); ok {
				filled = order.TotalFilled
			}
		}

		// Keyed by client id so the record survives the order id landing
		// later; the order id rides along in the update key instead.
		p.engine.Trigger(ctx, TriggerParams{
			Type: TypeOrderStatus,
			ID:   place.ClientID.Hex(),
			DisplayData: DisplayData{
				Title:    fmt.Sprintf("%s order %s", place.MarketID, place.Status),
				Body:     placeBody(place, filled),
				GroupKey: place.MarketID,
			},
			UpdateKey: OrderStatusUpdateKey{
				OrderID:    place.OrderID,
				Status:     place.Status.String(),
				FilledSize: filled,
			},
			IsNew: true,
		})
	}

	for _, cancel := range state.Cancels {
		if cancel.ThroughCancelAll {
			continue
		}
		// Skip cancels that resolve a locally placed order; the place entry
		// above already carries that order's notification.
		if _, ok := state.PlaceByOrderID(cancel.OrderID); ok {
			continue
		}

		p.engine.Trigger(ctx, TriggerParams{
			Type: TypeOrderStatus,
			ID:   cancel.OrderID,
			DisplayData: DisplayData{
				Title: fmt.Sprintf("Cancel %s", cancel.Status),
				Body:  cancelBody(cancel),
			},
			UpdateKey: OrderStatusUpdateKey{Status: "cancel-" + cancel.Status.String()},
			IsNew:     true,
		})
	}

	for key, batch := range state.CancelAlls {
		p.engine.Trigger(ctx, TriggerParams{
			Type: TypeCancelAll,
			ID:   key,
			DisplayData: DisplayData{
				Title: "Cancel all orders",
				Body: fmt.Sprintf("%d of %d canceled",
					len(batch.CanceledOrderIDs), len(batch.OrderIDs)),
				GroupKey: key,
			},
			UpdateKey: CancelAllUpdateKey{
				Canceled: len(batch.CanceledOrderIDs),
				Failed:   len(batch.FailedOrderIDs),
				Total:    len(batch.OrderIDs),
			},
			IsNew: true,
		})
	}
}

func placeBody(place ledger.PlaceOrder, filled float64) string {
	if place.ErrorParams != nil {
		return place.ErrorParams.Message
	}
	if filled > 0 {
		return fmt.Sprintf("%s filled %v", place.OrderType, filled)
	}
	return string(place.OrderType)
}

func cancelBody(cancel ledger.CancelOrder) string {
	if cancel.ErrorParams != nil {
		return cancel.ErrorParams.Message
	}
	return "Order " + cancel.OrderID
}

// TransferEvent is one deposit or withdrawal progress report.
type TransferEvent struct {
	ID     string
	Kind   string // deposit or withdrawal
	Status string
	Amount float64
	Asset  string
}

// TransferProducer projects transfer progress. The update key is the empty
// struct for every trigger: progress refreshes the displayed body but never
// re-surfaces the notification as Updated, since a transfer grinding through
// confirmations is not news.
type TransferProducer struct {
	engine *Engine
}

func NewTransferProducer(engine *Engine) *TransferProducer {
	return &TransferProducer{engine: engine}
}

func (p *TransferProducer) Publish(ctx context.Context, event TransferEvent) {
	p.engine.Trigger(ctx, TriggerParams{
		Type: TypeTransfer,
		ID:   event.ID,
		DisplayData: DisplayData{
			Title: fmt.Sprintf("%s %s", event.Kind, event.Status),
			Body:  fmt.Sprintf("%v %s", event.Amount, event.Asset),
		},
		UpdateKey: struct{}{},
		IsNew:     true,
	})
}
