package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordersync/ordersync/chartlines"
	"github.com/ordersync/ordersync/emitter"
	"github.com/ordersync/ordersync/ledger"
	"github.com/ordersync/ordersync/ordersync"
	"github.com/ordersync/ordersync/watcher"
)

// scriptedEmitter fails specific actions and records everything it saw.
type scriptedEmitter struct {
	mu         sync.Mutex
	emitted    []ordersync.OrderWork
	failPlace  *ordersync.ErrorParams
	failCancel *ordersync.ErrorParams
}

func (e *scriptedEmitter) Emit(_ context.Context, w ordersync.OrderWork) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitted = append(e.emitted, w)

	switch w.Action.Type {
	case ordersync.ActionPlace:
		if e.failPlace != nil {
			return &emitter.ResultError{Params: e.failPlace}
		}
	case ordersync.ActionCancel:
		if e.failCancel != nil {
			return &emitter.ResultError{Params: e.failCancel}
		}
	}
	return nil
}

func (e *scriptedEmitter) works() []ordersync.OrderWork {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ordersync.OrderWork, len(e.emitted))
	copy(out, e.emitted)
	return out
}

func openOrder(id, market string, clientID string) ordersync.Order {
	return ordersync.Order{
		ID:       id,
		ClientID: clientID,
		MarketID: market,
		Side:     ordersync.SideBuy,
		Type:     ordersync.OrderTypeLimit,
		Price:    3000,
		Size:     1,
		Status:   ordersync.OrderStatusOpen,
	}
}

func TestPlaceOrderLifecycle(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	emit := &scriptedEmitter{}
	s := New(store, emit)

	cid, err := s.PlaceOrder(context.Background(), PlaceParams{
		MarketID: "ETH-USD",
		Type:     ordersync.OrderTypeLimit,
		Side:     ordersync.SideBuy,
		Price:    3000,
		Size:     1,
	})
	require.NoError(t, err)

	// Optimistic entry exists before any snapshot.
	place, ok := store.State().PlaceByClientID(cid)
	require.True(t, ok)
	require.Equal(t, ledger.PlaceSubmitted, place.Status)

	// Snapshot confirms, then fills.
	s.OnSnapshot(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", cid.Hex()),
	}})
	place, _ = store.State().PlaceByClientID(cid)
	require.Equal(t, ledger.PlacePlaced, place.Status)
	require.Equal(t, "order-1", place.OrderID)

	filled := openOrder("order-1", "ETH-USD", cid.Hex())
	filled.Status = ordersync.OrderStatusFilled
	filled.TotalFilled = 1
	s.OnSnapshot(ordersync.Snapshot{Orders: []ordersync.Order{filled}})
	place, _ = store.State().PlaceByClientID(cid)
	require.Equal(t, ledger.PlaceFilled, place.Status)
}

func TestPlaceOrderEmitFailureAttachesParams(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	params := ordersync.ErrorParams{Code: "INSUFFICIENT_FUNDS", Message: "not enough margin"}
	s := New(store, &scriptedEmitter{failPlace: &params})

	cid, err := s.PlaceOrder(context.Background(), PlaceParams{
		MarketID: "ETH-USD",
		Type:     ordersync.OrderTypeLimit,
		Side:     ordersync.SideBuy,
		Price:    3000,
		Size:     1,
	})
	require.Error(t, err)

	place, ok := store.State().PlaceByClientID(cid)
	require.True(t, ok)
	require.Equal(t, &params, place.ErrorParams)
}

func TestPlacementTimeoutThenLatePromotion(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	s := New(store, &scriptedEmitter{}, WithPlacementTimeout(10*time.Millisecond))

	cid, err := s.PlaceOrder(context.Background(), PlaceParams{
		MarketID: "ETH-USD",
		Type:     ordersync.OrderTypeLimit,
		Side:     ordersync.SideBuy,
		Price:    3000,
		Size:     1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		place, _ := store.State().PlaceByClientID(cid)
		return place.ErrorParams != nil
	}, time.Second, 5*time.Millisecond)

	// The order was placed after all; the late snapshot clears the advisory.
	s.OnSnapshot(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", cid.Hex()),
	}})
	place, _ := store.State().PlaceByClientID(cid)
	require.Equal(t, ledger.PlacePlaced, place.Status)
	require.Nil(t, place.ErrorParams)
}

func TestCancelAllBatchesFromSnapshot(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	emit := &scriptedEmitter{}
	s := New(store, emit)

	s.OnSnapshot(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", ""),
		openOrder("order-2", "ETH-USD", ""),
		openOrder("order-3", "BTC-USD", ""),
	}})

	require.NoError(t, s.CancelAll(context.Background(), "ETH-USD"))

	batch, ok := store.State().CancelAlls["ETH-USD"]
	require.True(t, ok)
	require.ElementsMatch(t, []string{"order-1", "order-2"}, batch.OrderIDs)

	var canceled []string
	for _, w := range emit.works() {
		if w.Action.Type == ordersync.ActionCancel {
			canceled = append(canceled, w.Action.Cancel.OrderID)
		}
	}
	require.ElementsMatch(t, []string{"order-1", "order-2"}, canceled)
}

func TestCancelAllMemberFailureLandsOnBatch(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	params := ordersync.ErrorParams{Code: "BROADCAST_ERROR", Message: "sequence mismatch"}
	s := New(store, &scriptedEmitter{failCancel: &params})

	s.OnSnapshot(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", ""),
	}})
	require.NoError(t, s.CancelAll(context.Background(), ""))

	batch := store.State().CancelAlls[ledger.GlobalCancelKey]
	require.Equal(t, []string{"order-1"}, batch.FailedOrderIDs)
	require.True(t, batch.Done())
}

func TestCloseAllPositions(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	emit := &scriptedEmitter{}
	s := New(store, emit)

	s.OnSnapshot(ordersync.Snapshot{Positions: []ordersync.Position{
		{MarketID: "ETH-USD", SignedSize: 2},
		{MarketID: "BTC-USD", SignedSize: -0.5},
		{MarketID: "SOL-USD", SignedSize: 0},
	}})
	require.NoError(t, s.CloseAllPositions(context.Background()))

	works := emit.works()
	require.Len(t, works, 2)
	bySide := map[ordersync.OrderSide]ordersync.PlaceOrderPayload{}
	for _, w := range works {
		require.True(t, w.Action.Place.ReduceOnly)
		bySide[w.Action.Place.Side] = *w.Action.Place
	}
	require.Equal(t, 2.0, bySide[ordersync.SideSell].Size)
	require.Equal(t, 0.5, bySide[ordersync.SideBuy].Size)

	require.NotNil(t, store.State().CloseAll)
	require.Len(t, store.State().CloseAll.SubmittedClientIDs, 2)
}

func TestModifyOrderSequencing(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	emit := &scriptedEmitter{}
	s := New(store, emit)

	order := openOrder("order-1", "ETH-USD", "")
	cid, err := s.ModifyOrder(context.Background(), order, 3100)
	require.NoError(t, err)
	require.False(t, cid.IsZero())

	works := emit.works()
	require.Len(t, works, 2)
	require.Equal(t, ordersync.ActionCancel, works[0].Action.Type)
	require.Equal(t, ordersync.ActionPlace, works[1].Action.Type)
	require.Equal(t, 3100.0, works[1].Action.Place.Price)
}

func TestModifyOrderCancelLegFailureStopsThere(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	params := ordersync.ErrorParams{Code: "BROADCAST_ERROR", Message: "rejected"}
	emit := &scriptedEmitter{failCancel: &params}
	s := New(store, emit)

	_, err := s.ModifyOrder(context.Background(), openOrder("order-1", "ETH-USD", ""), 3100)
	var modErr *chartlines.ModifyError
	require.ErrorAs(t, err, &modErr)
	require.False(t, modErr.PlacePhase)

	// No placement was attempted.
	require.Len(t, emit.works(), 1)
	require.Empty(t, store.State().Places)
}

func TestModifyOrderPlaceLegFailure(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	params := ordersync.ErrorParams{Code: "BROADCAST_ERROR", Message: "rejected"}
	emit := &scriptedEmitter{failPlace: &params}
	s := New(store, emit)

	_, err := s.ModifyOrder(context.Background(), openOrder("order-1", "ETH-USD", ""), 3100)
	var modErr *chartlines.ModifyError
	require.ErrorAs(t, err, &modErr)
	require.True(t, modErr.PlacePhase)

	// The replacement entry carries the failure.
	require.Len(t, store.State().Places, 1)
	require.Equal(t, &params, store.State().Places[0].ErrorParams)
}

func TestModifyConditionalMovesTrigger(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	emit := &scriptedEmitter{}
	s := New(store, emit)

	trigger := 2800.0
	order := openOrder("order-1", "ETH-USD", "")
	order.Type = ordersync.OrderTypeStopLimit
	order.TriggerPrice = &trigger

	_, err := s.ModifyOrder(context.Background(), order, 2700)
	require.NoError(t, err)

	place := emit.works()[1].Action.Place
	require.NotNil(t, place.TriggerPrice)
	require.Equal(t, 2700.0, *place.TriggerPrice)
	require.Equal(t, order.Price, place.Price)
}

type recordingSink struct {
	mu     sync.Mutex
	states []ledger.State
}

func (r *recordingSink) OnSnapshot(state ledger.State, _ ordersync.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func TestSinksSeeReconciledState(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore()
	s := New(store, &scriptedEmitter{}, WithWatcher(watcher.New()))
	sink := &recordingSink{}
	s.AddSink(sink)

	cid, err := s.PlaceOrder(context.Background(), PlaceParams{
		MarketID: "ETH-USD",
		Type:     ordersync.OrderTypeLimit,
		Side:     ordersync.SideBuy,
		Price:    3000,
		Size:     1,
	})
	require.NoError(t, err)

	s.OnSnapshot(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", cid.Hex()),
	}})

	// The sink's state already reflects the snapshot it was handed.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.states, 1)
	place, ok := sink.states[0].PlaceByClientID(cid)
	require.True(t, ok)
	require.Equal(t, ledger.PlacePlaced, place.Status)
}
