package chartlines

import (
	"context"
	"log/slog"
	"sync"
)

// MoveRouter is the single drag-event target handed to the chart widget when
// it is created. The widget subscribes exactly once for its lifetime; Bind
// swaps the receiving synchronizer underneath that subscription when the
// session or account changes, so stale handlers can never double-fire.
type MoveRouter struct {
	mu     sync.Mutex
	target *Synchronizer
	logger *slog.Logger
}

func NewMoveRouter() *MoveRouter {
	return &MoveRouter{logger: slog.Default().WithGroup("chartlines")}
}

// Bind replaces the active synchronizer. A nil target detaches the router;
// further events are dropped.
func (r *MoveRouter) Bind(target *Synchronizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
}

// OnMove forwards one drag event to whichever synchronizer is currently
// bound.
func (r *MoveRouter) OnMove(ctx context.Context, orderID string, newPrice float64) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()

	if target == nil {
		return
	}
	if err := target.OnLineMoved(ctx, orderID, newPrice); err != nil {
		r.logger.Warn("line move rejected",
			slog.String("orderId", orderID),
			slog.Float64("price", newPrice),
			slog.String("error", err.Error()))
	}
}
