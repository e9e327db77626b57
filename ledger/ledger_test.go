package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ordersync"
)

func cid(seq uint32) clientid.ClientID {
	return clientid.ClientID{Session: 0xA1B2C3D4, Sequence: seq}
}

func openOrder(id, market string, c clientid.ClientID) ordersync.Order {
	return ordersync.Order{
		ID:       id,
		ClientID: c.Hex(),
		MarketID: market,
		Side:     ordersync.SideBuy,
		Type:     ordersync.OrderTypeLimit,
		Price:    100,
		Size:     1,
		Status:   ordersync.OrderStatusOpen,
	}
}

func withStatus(o ordersync.Order, status ordersync.OrderStatus) ordersync.Order {
	o.Status = status
	return o
}

func TestSubmitPlaceStartsSubmitted(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitPlace(cid(1), "BTC-USD", ordersync.OrderTypeLimit)

	p, ok := store.State().PlaceByClientID(cid(1))
	require.True(t, ok)
	require.Equal(t, PlaceSubmitted, p.Status)
	require.Empty(t, p.OrderID)
	require.Contains(t, store.State().Uncommitted, cid(1).Hex())
}

func TestConfirmPlacedAdvancesOnce(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitPlace(cid(1), "BTC-USD", ordersync.OrderTypeLimit)
	store.ConfirmPlaced(cid(1), "o1")

	p, ok := store.State().PlaceByClientID(cid(1))
	require.True(t, ok)
	require.Equal(t, PlacePlaced, p.Status)
	require.Equal(t, "o1", p.OrderID)
	require.NotContains(t, store.State().Uncommitted, cid(1).Hex())

	// A second confirm with a different order id must not win.
	store.ConfirmPlaced(cid(1), "o2")
	p, _ = store.State().PlaceByClientID(cid(1))
	require.Equal(t, "o1", p.OrderID)
}

func TestPlaceTimeoutIsAdvisory(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitPlace(cid(1), "BTC-USD", ordersync.OrderTypeLimit)
	store.PlaceTimedOut(cid(1))

	p, _ := store.State().PlaceByClientID(cid(1))
	require.NotNil(t, p.ErrorParams)
	require.Equal(t, ordersync.SomethingWentWrong.Code, p.ErrorParams.Code)
	require.Equal(t, PlaceSubmitted, p.Status)

	// The backend proving the order landed clears the advisory failure.
	store.ApplySnapshot(ordersync.Snapshot{Orders: []ordersync.Order{openOrder("o1", "BTC-USD", cid(1))}})

	p, _ = store.State().PlaceByClientID(cid(1))
	require.Equal(t, PlacePlaced, p.Status)
	require.Equal(t, "o1", p.OrderID)
	require.Nil(t, p.ErrorParams)
}

func TestPlaceTimeoutSkipsConfirmedOrders(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitPlace(cid(1), "BTC-USD", ordersync.OrderTypeLimit)
	store.ConfirmPlaced(cid(1), "o1")
	store.PlaceTimedOut(cid(1))

	p, _ := store.State().PlaceByClientID(cid(1))
	require.Nil(t, p.ErrorParams)
	require.Equal(t, PlacePlaced, p.Status)
}

func TestPlaceFailedAttachesOnce(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitPlace(cid(1), "BTC-USD", ordersync.OrderTypeLimit)
	store.PlaceFailed(cid(1), ordersync.ErrorParams{Code: "BROADCAST_FAILED", Message: "sequence mismatch"})

	p, _ := store.State().PlaceByClientID(cid(1))
	require.NotNil(t, p.ErrorParams)
	require.Equal(t, "BROADCAST_FAILED", p.ErrorParams.Code)

	// A failure removes the id from the timeout set so the timer cannot
	// overwrite the real reason with the generic one.
	store.PlaceTimedOut(cid(1))
	p, _ = store.State().PlaceByClientID(cid(1))
	require.Equal(t, "BROADCAST_FAILED", p.ErrorParams.Code)
}

func TestSubmitCancelAllCreatesBatchAndCancels(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitCancelAll("BTC-USD", []string{"o1", "o2"})

	st := store.State()
	batch, ok := st.CancelAlls["BTC-USD"]
	require.True(t, ok)
	require.Equal(t, []string{"o1", "o2"}, batch.OrderIDs)
	require.Empty(t, batch.CanceledOrderIDs)
	require.Empty(t, batch.FailedOrderIDs)

	c, ok := st.CancelByOrderID("o1")
	require.True(t, ok)
	require.True(t, c.ThroughCancelAll)
	require.Equal(t, CancelSubmitted, c.Status)
}

func TestGlobalCancelAllKey(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitCancelAll("", []string{"o1"})

	_, ok := store.State().CancelAlls[GlobalCancelKey]
	require.True(t, ok)
}

func TestClearResetsEverything(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SubmitPlace(cid(1), "BTC-USD", ordersync.OrderTypeLimit)
	store.SubmitCancel("o9")
	store.SubmitCancelAll("BTC-USD", []string{"o9"})
	store.Clear()

	st := store.State()
	require.Empty(t, st.Places)
	require.Empty(t, st.Cancels)
	require.Empty(t, st.CancelAlls)
	require.Empty(t, st.Uncommitted)
}

func TestReducePurity(t *testing.T) {
	t.Parallel()

	before := NewState()
	before = Reduce(before, SubmitPlace{ClientID: cid(1), MarketID: "BTC-USD", OrderType: ordersync.OrderTypeLimit}, TrailingTolerant)

	// Reducing further must not touch the input state.
	_ = Reduce(before, ConfirmPlaced{ClientID: cid(1), OrderID: "o1"}, TrailingTolerant)

	p, ok := before.PlaceByClientID(cid(1))
	require.True(t, ok)
	require.Equal(t, PlaceSubmitted, p.Status)
	require.Empty(t, p.OrderID)
}
