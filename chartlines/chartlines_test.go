package chartlines

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ordersync"
)

type stubLine struct {
	mu      sync.Mutex
	kind    LineKind
	price   float64
	text    string
	removed bool
}

func (l *stubLine) SetPrice(price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.price = price
}

func (l *stubLine) SetQuantity(string) {}

func (l *stubLine) SetText(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text = text
}

func (l *stubLine) Remove() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = true
}

func (l *stubLine) currentPrice() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.price
}

func (l *stubLine) isRemoved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removed
}

type stubChart struct {
	mu    sync.Mutex
	lines []*stubLine
}

func (c *stubChart) CreateLine(kind LineKind, price float64, _ bool) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := &stubLine{kind: kind, price: price}
	c.lines = append(c.lines, line)
	return line, nil
}

func (c *stubChart) active() []*stubLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*stubLine
	for _, l := range c.lines {
		if !l.isRemoved() {
			out = append(out, l)
		}
	}
	return out
}

type stubModifier struct {
	replacement clientid.ClientID
	err         error
	calls       int
}

func (m *stubModifier) ModifyOrder(_ context.Context, _ ordersync.Order, _ float64) (clientid.ClientID, error) {
	m.calls++
	return m.replacement, m.err
}

func openOrder(id, market string, price float64) ordersync.Order {
	return ordersync.Order{
		ID:       id,
		MarketID: market,
		Side:     ordersync.SideBuy,
		Type:     ordersync.OrderTypeLimit,
		Price:    price,
		Size:     1,
		Status:   ordersync.OrderStatusOpen,
	}
}

func TestSyncDrawsAndRemovesOrderLines(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	s := New(chart, &stubModifier{})
	s.SetMarket("ETH-USD")

	snap := ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
		openOrder("order-2", "BTC-USD", 60000), // other market, not drawn
	}}
	require.NoError(t, s.Sync(snap))
	require.Len(t, chart.active(), 1)
	require.Equal(t, 3000.0, chart.active()[0].currentPrice())

	// Order leaves the snapshot terminally: line removed.
	require.NoError(t, s.Sync(ordersync.Snapshot{}))
	require.Empty(t, chart.active())
}

func TestSyncDrawsPositionLines(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	s := New(chart, &stubModifier{})
	s.SetMarket("ETH-USD")

	snap := ordersync.Snapshot{Positions: []ordersync.Position{{
		MarketID:         "ETH-USD",
		EntryPrice:       2950,
		LiquidationPrice: 2100,
		SignedSize:       2,
	}}}
	require.NoError(t, s.Sync(snap))

	active := chart.active()
	require.Len(t, active, 2)
	kinds := map[LineKind]float64{}
	for _, l := range active {
		kinds[l.kind] = l.currentPrice()
	}
	require.Equal(t, 2950.0, kinds[KindEntry])
	require.Equal(t, 2100.0, kinds[KindLiquidation])

	// Flat position clears both.
	require.NoError(t, s.Sync(ordersync.Snapshot{Positions: []ordersync.Position{{
		MarketID: "ETH-USD", SignedSize: 0,
	}}}))
	require.Empty(t, chart.active())
}

func TestSetMarketClearsEverything(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	s := New(chart, &stubModifier{})
	s.SetMarket("ETH-USD")
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
	}}))
	require.Len(t, chart.active(), 1)

	s.SetMarket("BTC-USD")
	require.Empty(t, chart.active())

	// Redraw only picks up the new market's orders.
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
		openOrder("order-3", "BTC-USD", 60000),
	}}))
	require.Len(t, chart.active(), 1)
	require.Equal(t, 60000.0, chart.active()[0].currentPrice())
}

func TestMoveRejectsMisalignedPrice(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	s := New(chart, &stubModifier{},
		WithTickSize("ETH-USD", decimal.RequireFromString("0.1")))
	s.SetMarket("ETH-USD")
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
	}}))

	err := s.OnLineMoved(context.Background(), "order-1", 3000.05)
	require.ErrorIs(t, err, ErrInvalidPrice)

	// Line snapped back, nothing pending, modifier never called.
	require.Equal(t, 3000.0, chart.active()[0].currentPrice())
	_, pending := s.Pending("order-1")
	require.False(t, pending)
}

func TestMoveKeepsLineThroughModification(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	replacement := clientid.ClientID{Session: 9, Sequence: 3}
	modifier := &stubModifier{replacement: replacement}
	s := New(chart, modifier,
		WithTickSize("ETH-USD", decimal.RequireFromString("0.1")))
	s.SetMarket("ETH-USD")
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
	}}))

	require.NoError(t, s.OnLineMoved(context.Background(), "order-1", 3100))
	require.Equal(t, 1, modifier.calls)
	require.Equal(t, 3100.0, chart.active()[0].currentPrice())

	adj, ok := s.Pending("order-1")
	require.True(t, ok)
	require.Equal(t, replacement, adj.ReplacementID)

	// The old order is canceled and leaves the snapshot, but the line is
	// held by the pending adjustment until the replacement is indexed.
	require.NoError(t, s.Sync(ordersync.Snapshot{}))
	require.Len(t, chart.active(), 1)
	require.Equal(t, 3100.0, chart.active()[0].currentPrice())

	// Replacement appears: old line retires, new order draws its own.
	newOrder := openOrder("order-2", "ETH-USD", 3100)
	newOrder.ClientID = replacement.Hex()
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{newOrder}}))

	active := chart.active()
	require.Len(t, active, 1)
	require.Equal(t, 3100.0, active[0].currentPrice())
	_, pending := s.Pending("order-1")
	require.False(t, pending)
}

func TestMoveCancelLegFailureRollsBack(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	modifier := &stubModifier{err: &ModifyError{Err: errors.New("rejected")}}
	s := New(chart, modifier)
	s.SetMarket("ETH-USD")
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
	}}))

	err := s.OnLineMoved(context.Background(), "order-1", 3100)
	require.Error(t, err)

	// Original order still exists, so the line snaps back to its price.
	require.Len(t, chart.active(), 1)
	require.Equal(t, 3000.0, chart.active()[0].currentPrice())
	_, pending := s.Pending("order-1")
	require.False(t, pending)
}

func TestMovePlaceLegFailureRemovesLine(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	modifier := &stubModifier{err: &ModifyError{PlacePhase: true, Err: errors.New("rejected")}}
	s := New(chart, modifier)
	s.SetMarket("ETH-USD")
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
	}}))

	err := s.OnLineMoved(context.Background(), "order-1", 3100)
	require.Error(t, err)

	// The cancel leg succeeded so the order is gone; keeping the line would
	// show an order that no longer exists.
	require.Empty(t, chart.active())
}

func TestMoveWhileInFlightRejected(t *testing.T) {
	t.Parallel()

	chart := &stubChart{}
	modifier := &stubModifier{replacement: clientid.ClientID{Session: 1, Sequence: 1}}
	s := New(chart, modifier)
	s.SetMarket("ETH-USD")
	require.NoError(t, s.Sync(ordersync.Snapshot{Orders: []ordersync.Order{
		openOrder("order-1", "ETH-USD", 3000),
	}}))

	require.NoError(t, s.OnLineMoved(context.Background(), "order-1", 3100))
	err := s.OnLineMoved(context.Background(), "order-1", 3200)
	require.ErrorIs(t, err, ErrModificationInFlight)
	require.Equal(t, 1, modifier.calls)
}
