// Package supervisor is the entry point for user trading intents. It owns
// client id generation, writes the optimistic ledger entry before any
// network call, submits through an emitter, and fans authoritative
// snapshots out to the ledger and its read-side consumers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ordersync/ordersync/chartlines"
	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/emitter"
	"github.com/ordersync/ordersync/ledger"
	"github.com/ordersync/ordersync/ordersync"
	"github.com/ordersync/ordersync/watcher"
)

// defaultPlacementTimeout bounds how long a submitted placement may stay
// unconfirmed before the generic failure is surfaced. The entry still
// promotes to placed if a later snapshot confirms it.
const defaultPlacementTimeout = 30 * time.Second

// cancelAllConcurrency bounds parallel cancel submissions in one batch.
const cancelAllConcurrency = 4

// SnapshotSink receives every reconciled snapshot. The supervisor calls
// sinks after the ledger has reconciled, so sinks observing ledger state
// never see a snapshot the ledger has not.
type SnapshotSink interface {
	OnSnapshot(state ledger.State, snap ordersync.Snapshot)
}

// Supervisor coordinates the write path (intents out) and the read path
// (snapshots in).
type Supervisor struct {
	store   *ledger.Store
	emit    ordersync.Emitter
	gen     *clientid.Generator
	watcher *watcher.OrderIndexed
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	last  ordersync.Snapshot
	sinks []SnapshotSink
}

type Option func(*Supervisor)

// WithPlacementTimeout overrides the unconfirmed-placement deadline.
func WithPlacementTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithWatcher attaches the order-indexed watcher to the snapshot path.
func WithWatcher(w *watcher.OrderIndexed) Option {
	return func(s *Supervisor) {
		s.watcher = w
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store *ledger.Store, emit ordersync.Emitter, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:   store,
		emit:    emit,
		gen:     clientid.NewGenerator(),
		timeout: defaultPlacementTimeout,
		logger:  slog.Default().WithGroup("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSink registers a snapshot consumer. Sinks are called in registration
// order after every reconcile.
func (s *Supervisor) AddSink(sink SnapshotSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Snapshot returns the most recently applied snapshot.
func (s *Supervisor) Snapshot() ordersync.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// PlaceParams describes one new order intent.
type PlaceParams struct {
	MarketID     string
	Type         ordersync.OrderType
	Side         ordersync.OrderSide
	Price        float64
	TriggerPrice *float64
	Size         float64
	ReduceOnly   bool
}

// PlaceOrder writes the optimistic entry, arms the placement timeout, and
// submits. The ledger entry exists before the submission starts, so a
// snapshot racing the broadcast response still finds it.
func (s *Supervisor) PlaceOrder(ctx context.Context, params PlaceParams) (clientid.ClientID, error) {
	cid := s.gen.Next()
	s.store.SubmitPlace(cid, params.MarketID, params.Type)

	// The timeout action is a no-op once the entry is confirmed or failed,
	// so the timer never needs cancelling.
	time.AfterFunc(s.timeout, func() {
		s.store.PlaceTimedOut(cid)
	})

	work := ordersync.OrderWork{
		ClientID: cid,
		Action: ordersync.Action{
			Type: ordersync.ActionPlace,
			Place: &ordersync.PlaceOrderPayload{
				ClientID:     cid,
				MarketID:     params.MarketID,
				Type:         params.Type,
				Side:         params.Side,
				Price:        params.Price,
				TriggerPrice: params.TriggerPrice,
				Size:         params.Size,
				ReduceOnly:   params.ReduceOnly,
			},
		},
	}

	if err := s.emit.Emit(ctx, work); err != nil {
		if errors.Is(err, ordersync.ErrOrderAlreadySatisfied) {
			return cid, nil
		}
		s.store.PlaceFailed(cid, *emitter.ParamsFrom(err))
		return cid, fmt.Errorf("place order: %w", err)
	}
	return cid, nil
}

// CancelOrder writes the cancel entry and submits the cancellation.
func (s *Supervisor) CancelOrder(ctx context.Context, orderID, marketID string) error {
	s.store.SubmitCancel(orderID)

	err := s.emit.Emit(ctx, ordersync.OrderWork{
		Action: ordersync.Action{
			Type:   ordersync.ActionCancel,
			Cancel: &ordersync.CancelOrderPayload{OrderID: orderID, MarketID: marketID},
		},
	})
	if err != nil {
		s.store.CancelFailed(orderID, *emitter.ParamsFrom(err))
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// CancelAll cancels every open order, optionally restricted to one market.
// The batch membership is fixed from the current snapshot before any
// submission; per-order failures accumulate on the batch rather than
// aborting it.
func (s *Supervisor) CancelAll(ctx context.Context, marketID string) error {
	snap := s.Snapshot()

	var targets []ordersync.Order
	for _, order := range snap.Orders {
		if !order.Status.IsOpen() {
			continue
		}
		if marketID != "" && order.MarketID != marketID {
			continue
		}
		targets = append(targets, order)
	}

	orderIDs := make([]string, 0, len(targets))
	for _, order := range targets {
		orderIDs = append(orderIDs, order.ID)
	}
	s.store.SubmitCancelAll(marketID, orderIDs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cancelAllConcurrency)
	for _, order := range targets {
		g.Go(func() error {
			err := s.emit.Emit(ctx, ordersync.OrderWork{
				Action: ordersync.Action{
					Type:   ordersync.ActionCancel,
					Cancel: &ordersync.CancelOrderPayload{OrderID: order.ID, MarketID: order.MarketID},
				},
			})
			if err != nil {
				s.store.CancelAllOrderFailed(order.ID, order.MarketID, emitter.ParamsFrom(err))
				s.logger.Warn("cancel-all member failed",
					slog.String("orderId", order.ID),
					slog.String("error", err.Error()))
			}
			// Member failures are recorded on the batch, not returned.
			return nil
		})
	}
	return g.Wait()
}

// CloseAllPositions submits a reduce-only market order against every open
// position.
func (s *Supervisor) CloseAllPositions(ctx context.Context) error {
	snap := s.Snapshot()

	type closing struct {
		cid  clientid.ClientID
		work ordersync.OrderWork
	}
	var orders []closing
	var clientIDs []string

	for _, pos := range snap.Positions {
		if pos.SignedSize == 0 {
			continue
		}
		side := ordersync.SideSell
		size := pos.SignedSize
		if size < 0 {
			side = ordersync.SideBuy
			size = -size
		}

		cid := s.gen.Next()
		s.store.SubmitPlace(cid, pos.MarketID, ordersync.OrderTypeMarket)
		clientIDs = append(clientIDs, cid.Hex())
		orders = append(orders, closing{
			cid: cid,
			work: ordersync.OrderWork{
				ClientID: cid,
				Action: ordersync.Action{
					Type: ordersync.ActionPlace,
					Place: &ordersync.PlaceOrderPayload{
						ClientID:   cid,
						MarketID:   pos.MarketID,
						Type:       ordersync.OrderTypeMarket,
						Side:       side,
						Size:       size,
						ReduceOnly: true,
					},
				},
			},
		})
	}

	s.store.SubmitCloseAll(clientIDs)

	for _, o := range orders {
		if err := s.emit.Emit(ctx, o.work); err != nil {
			s.store.PlaceFailed(o.cid, *emitter.ParamsFrom(err))
			s.logger.Warn("close-all order failed",
				slog.String("clientId", o.cid.Hex()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// ModifyOrder replaces an order's price with cancel-then-place, strictly in
// that sequence. A cancel-leg rejection leaves the original order working; a
// place-leg rejection means the original is gone and nothing replaced it.
func (s *Supervisor) ModifyOrder(ctx context.Context, order ordersync.Order, newPrice float64) (clientid.ClientID, error) {
	s.store.SubmitCancel(order.ID)
	err := s.emit.Emit(ctx, ordersync.OrderWork{
		Action: ordersync.Action{
			Type:   ordersync.ActionCancel,
			Cancel: &ordersync.CancelOrderPayload{OrderID: order.ID, MarketID: order.MarketID},
		},
	})
	if err != nil {
		s.store.CancelFailed(order.ID, *emitter.ParamsFrom(err))
		return clientid.ClientID{}, &chartlines.ModifyError{Err: err}
	}

	payload := ordersync.PlaceOrderPayload{
		MarketID:   order.MarketID,
		Type:       order.Type,
		Side:       order.Side,
		Price:      newPrice,
		Size:       order.Size - order.TotalFilled,
		ReduceOnly: false,
	}
	if order.Type.IsConditional() {
		// The drag moves the resting level, which for conditional orders is
		// the trigger.
		trigger := newPrice
		payload.TriggerPrice = &trigger
		payload.Price = order.Price
	}

	cid := s.gen.Next()
	payload.ClientID = cid
	s.store.SubmitPlace(cid, order.MarketID, order.Type)
	time.AfterFunc(s.timeout, func() {
		s.store.PlaceTimedOut(cid)
	})

	err = s.emit.Emit(ctx, ordersync.OrderWork{
		ClientID: cid,
		Action:   ordersync.Action{Type: ordersync.ActionPlace, Place: &payload},
	})
	if err != nil {
		s.store.PlaceFailed(cid, *emitter.ParamsFrom(err))
		return clientid.ClientID{}, &chartlines.ModifyError{PlacePhase: true, Err: err}
	}
	return cid, nil
}

// OnSnapshot applies one authoritative snapshot: the ledger reconciles
// first, then the watcher and sinks project from the already-reconciled
// state.
func (s *Supervisor) OnSnapshot(snap ordersync.Snapshot) {
	s.store.ApplySnapshot(snap)
	state := s.store.State()

	s.mu.Lock()
	s.last = snap
	sinks := make([]SnapshotSink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.OnSnapshot(snap)
	}
	for _, sink := range sinks {
		sink.OnSnapshot(state, snap)
	}
}

// Clear wipes all local-action state, used at session teardown.
func (s *Supervisor) Clear() {
	s.store.Clear()
}
