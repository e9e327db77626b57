package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ledger"
	"github.com/ordersync/ordersync/ordersync"
)

func TestOrderStatusProducerDedupsByUpdateKey(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	producer := NewOrderStatusProducer(engine)
	ctx := context.Background()

	cid := clientid.ClientID{Session: 7, Sequence: 1}
	state := ledger.NewState()
	state.Places = []ledger.PlaceOrder{{
		ClientID:  cid,
		MarketID:  "ETH-USD",
		OrderType: ordersync.OrderTypeLimit,
		Status:    ledger.PlacePlaced,
		OrderID:   "order-1",
	}}
	snap := ordersync.Snapshot{Orders: []ordersync.Order{{
		ID:          "order-1",
		MarketID:    "ETH-USD",
		Status:      ordersync.OrderStatusOpen,
		TotalFilled: 0,
	}}}

	producer.Publish(ctx, state, snap)
	first, ok := engine.Get(Key{Type: TypeOrderStatus, ID: cid.Hex()})
	require.True(t, ok)
	require.Equal(t, StatusTriggered, first.Status)

	// A snapshot with identical status and fill is a no-op.
	producer.Publish(ctx, state, snap)
	second, _ := engine.Get(Key{Type: TypeOrderStatus, ID: cid.Hex()})
	require.Equal(t, first, second)

	// A partial fill changes the update key and re-surfaces.
	snap.Orders[0].TotalFilled = 0.25
	producer.Publish(ctx, state, snap)
	third, _ := engine.Get(Key{Type: TypeOrderStatus, ID: cid.Hex()})
	require.Equal(t, StatusUpdated, third.Status)
}

func TestOrderStatusProducerKeepsOneRecordAcrossConfirmation(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	producer := NewOrderStatusProducer(engine)
	ctx := context.Background()

	cid := clientid.ClientID{Session: 7, Sequence: 2}
	state := ledger.NewState()
	state.Places = []ledger.PlaceOrder{{
		ClientID:  cid,
		MarketID:  "ETH-USD",
		OrderType: ordersync.OrderTypeLimit,
		Status:    ledger.PlaceSubmitted,
	}}

	// Snapshot lands before the order id is known.
	producer.Publish(ctx, state, ordersync.Snapshot{})

	// The broadcast confirms and a later snapshot carries the order id.
	state.Places[0].Status = ledger.PlacePlaced
	state.Places[0].OrderID = "order-1"
	producer.Publish(ctx, state, ordersync.Snapshot{Orders: []ordersync.Order{{
		ID:       "order-1",
		MarketID: "ETH-USD",
		Status:   ordersync.OrderStatusOpen,
	}}})

	var orderRecords []Notification
	for _, n := range engine.Notifications() {
		if n.Key.Type == TypeOrderStatus {
			orderRecords = append(orderRecords, n)
		}
	}
	require.Len(t, orderRecords, 1)
	require.Equal(t, cid.Hex(), orderRecords[0].Key.ID)
	require.Equal(t, StatusUpdated, orderRecords[0].Status)
}

func TestProducerSkipsCancelAllMembers(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	producer := NewOrderStatusProducer(engine)
	ctx := context.Background()

	state := ledger.NewState()
	state.Cancels = []ledger.CancelOrder{
		{OrderID: "order-1", ThroughCancelAll: true},
		{OrderID: "order-2"},
	}
	state.CancelAlls = map[string]ledger.CancelAllBatch{
		ledger.GlobalCancelKey: {
			Key:              ledger.GlobalCancelKey,
			OrderIDs:         []string{"order-1"},
			CanceledOrderIDs: []string{"order-1"},
		},
	}

	producer.Publish(ctx, state, ordersync.Snapshot{})

	// The batch member gets no individual notification.
	_, ok := engine.Get(Key{Type: TypeOrderStatus, ID: "order-1"})
	require.False(t, ok)

	// The standalone cancel does.
	_, ok = engine.Get(Key{Type: TypeOrderStatus, ID: "order-2"})
	require.True(t, ok)

	// The batch gets exactly one summary notification.
	_, ok = engine.Get(Key{Type: TypeCancelAll, ID: ledger.GlobalCancelKey})
	require.True(t, ok)
}

func TestTransferProducerNeverResurfaces(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	producer := NewTransferProducer(engine)
	ctx := context.Background()
	key := Key{Type: TypeTransfer, ID: "xfer-1"}

	producer.Publish(ctx, TransferEvent{ID: "xfer-1", Kind: "deposit", Status: "pending", Amount: 100, Asset: "USDC"})
	engine.MarkSeen(ctx, key)

	// Progress updates refresh display data but leave status alone.
	producer.Publish(ctx, TransferEvent{ID: "xfer-1", Kind: "deposit", Status: "confirmed", Amount: 100, Asset: "USDC"})

	got, ok := engine.Get(key)
	require.True(t, ok)
	require.Equal(t, StatusSeen, got.Status)

	display, ok := engine.DisplayDataFor(key)
	require.True(t, ok)
	require.Equal(t, "deposit confirmed", display.Title)
}
