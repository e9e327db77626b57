// Package chartlines mirrors open orders and position levels onto a price
// chart, and routes line drags back into order modifications with
// cancel-then-place semantics.
package chartlines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ordersync"
)

// LineKind distinguishes the three line families on the chart.
type LineKind int

const (
	KindOrder LineKind = iota
	KindEntry
	KindLiquidation
)

func (k LineKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindEntry:
		return "entry"
	case KindLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// Line is one drawn line on the chart surface.
type Line interface {
	SetPrice(price float64)
	SetQuantity(text string)
	SetText(text string)
	Remove()
}

// Chart is the drawing surface boundary. Only order lines are draggable.
type Chart interface {
	CreateLine(kind LineKind, price float64, draggable bool) (Line, error)
}

// OrderModifier performs a cancel-then-place price modification. The two
// legs run strictly in sequence; a failure reports which leg failed so the
// caller can pick between rollback and removal.
type OrderModifier interface {
	ModifyOrder(ctx context.Context, order ordersync.Order, newPrice float64) (clientid.ClientID, error)
}

// ModifyError wraps a modification failure. PlacePhase true means the
// original order was already canceled when the replacement was rejected, so
// there is no order left to roll back to.
type ModifyError struct {
	PlacePhase bool
	Err        error
}

func (e *ModifyError) Error() string {
	phase := "cancel"
	if e.PlacePhase {
		phase = "place"
	}
	return fmt.Sprintf("modify order: %s leg: %v", phase, e.Err)
}

func (e *ModifyError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidPrice         = errors.New("price not aligned to market tick size")
	ErrModificationInFlight = errors.New("order already has a pending modification")
	ErrUnknownLine          = errors.New("no line registered for key")
)

// PendingOrderAdjustment holds one in-flight price modification. While it
// exists, the old order's line stays drawn at the new price even though the
// old order is being canceled underneath it.
type PendingOrderAdjustment struct {
	OldOrderID    string
	ReplacementID clientid.ClientID
	OriginalPrice float64
	NewPrice      float64
}

type trackedLine struct {
	kind  LineKind
	line  Line
	price float64
	order ordersync.Order // valid for KindOrder only
}

// EntryKey and LiquidationKey build the position-line keys for a market.
func EntryKey(marketID string) string       { return "entry-" + marketID }
func LiquidationKey(marketID string) string { return "liquidation-" + marketID }

// Synchronizer owns the key to line map for the currently displayed market.
type Synchronizer struct {
	mu        sync.Mutex
	chart     Chart
	modifier  OrderModifier
	market    string
	lines     map[string]*trackedLine
	pending   map[string]*PendingOrderAdjustment
	tickSizes map[string]decimal.Decimal
	logger    *slog.Logger
}

type Option func(*Synchronizer)

// WithTickSize registers a market's price granularity for drag validation.
func WithTickSize(marketID string, tick decimal.Decimal) Option {
	return func(s *Synchronizer) {
		s.tickSizes[marketID] = tick
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(chart Chart, modifier OrderModifier, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		chart:     chart,
		modifier:  modifier,
		lines:     map[string]*trackedLine{},
		pending:   map[string]*PendingOrderAdjustment{},
		tickSizes: map[string]decimal.Decimal{},
		logger:    slog.Default().WithGroup("chartlines"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMarket clears every line and switches markets. The caller re-syncs once
// the chart has finished its scale change; drawing before that would pin the
// old market's price scale.
func (s *Synchronizer) SetMarket(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, tracked := range s.lines {
		tracked.line.Remove()
		delete(s.lines, key)
	}
	s.pending = map[string]*PendingOrderAdjustment{}
	s.market = marketID
}

// Market returns the currently displayed market.
func (s *Synchronizer) Market() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market
}

// Sync redraws the chart from an authoritative snapshot: one draggable line
// per open order in the current market, plus entry and liquidation lines
// when a position exists. Lines for orders that left the snapshot are
// removed, except lines held open by a pending adjustment.
func (s *Synchronizer) Sync(snap ordersync.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.market == "" {
		return nil
	}

	wanted := map[string]bool{}

	for _, order := range snap.Orders {
		if order.MarketID != s.market || !order.Status.IsOpen() {
			continue
		}
		// A confirmed replacement retires its pending adjustment: the old
		// line goes away and the new order draws its own.
		s.resolveReplacementLocked(order)

		wanted[order.ID] = true
		if err := s.upsertOrderLineLocked(order); err != nil {
			return err
		}
	}

	if pos, ok := snap.PositionFor(s.market); ok && pos.SignedSize != 0 {
		wanted[EntryKey(s.market)] = true
		if err := s.upsertLevelLocked(EntryKey(s.market), KindEntry, pos.EntryPrice); err != nil {
			return err
		}
		if pos.LiquidationPrice > 0 {
			wanted[LiquidationKey(s.market)] = true
			if err := s.upsertLevelLocked(LiquidationKey(s.market), KindLiquidation, pos.LiquidationPrice); err != nil {
				return err
			}
		}
	}

	for key, tracked := range s.lines {
		if wanted[key] {
			continue
		}
		if _, held := s.pending[key]; held {
			continue
		}
		tracked.line.Remove()
		delete(s.lines, key)
	}

	return nil
}

// resolveReplacementLocked drops the old order's line once the replacement
// from a pending adjustment shows up in a snapshot.
func (s *Synchronizer) resolveReplacementLocked(order ordersync.Order) {
	for oldID, adj := range s.pending {
		if order.ClientID != adj.ReplacementID.Hex() {
			continue
		}
		if tracked, ok := s.lines[oldID]; ok {
			tracked.line.Remove()
			delete(s.lines, oldID)
		}
		delete(s.pending, oldID)
	}
}

func (s *Synchronizer) upsertOrderLineLocked(order ordersync.Order) error {
	price := order.WorkingPrice()
	if adj, ok := s.pending[order.ID]; ok {
		price = adj.NewPrice
	}

	tracked, ok := s.lines[order.ID]
	if !ok {
		line, err := s.chart.CreateLine(KindOrder, price, true)
		if err != nil {
			return fmt.Errorf("create order line: %w", err)
		}
		tracked = &trackedLine{kind: KindOrder, line: line}
		s.lines[order.ID] = tracked
	}

	if tracked.price != price {
		tracked.line.SetPrice(price)
		tracked.price = price
	}
	tracked.order = order
	tracked.line.SetText(lineLabel(order))
	tracked.line.SetQuantity(fmt.Sprintf("%v", order.Size-order.TotalFilled))
	return nil
}

func (s *Synchronizer) upsertLevelLocked(key string, kind LineKind, price float64) error {
	tracked, ok := s.lines[key]
	if !ok {
		line, err := s.chart.CreateLine(kind, price, false)
		if err != nil {
			return fmt.Errorf("create %s line: %w", kind, err)
		}
		tracked = &trackedLine{kind: kind, line: line, price: price}
		s.lines[key] = tracked
		return nil
	}
	if tracked.price != price {
		tracked.line.SetPrice(price)
		tracked.price = price
	}
	return nil
}

func lineLabel(order ordersync.Order) string {
	return fmt.Sprintf("%s %s", order.Side, order.Type)
}

// OnLineMoved handles a drag of an order line. The new price must be
// positive and aligned to the market tick. The line shows the new price
// optimistically; a cancel-leg failure snaps it back, a place-leg failure
// removes it since the original order no longer exists.
func (s *Synchronizer) OnLineMoved(ctx context.Context, orderID string, newPrice float64) error {
	s.mu.Lock()

	tracked, ok := s.lines[orderID]
	if !ok || tracked.kind != KindOrder {
		s.mu.Unlock()
		return ErrUnknownLine
	}
	if _, inFlight := s.pending[orderID]; inFlight {
		s.mu.Unlock()
		return ErrModificationInFlight
	}

	order := tracked.order
	original := tracked.price

	if err := s.validatePriceLocked(order.MarketID, newPrice); err != nil {
		// Snap the line back where it was.
		tracked.line.SetPrice(original)
		s.mu.Unlock()
		return err
	}

	tracked.line.SetPrice(newPrice)
	tracked.price = newPrice
	adj := &PendingOrderAdjustment{
		OldOrderID:    orderID,
		OriginalPrice: original,
		NewPrice:      newPrice,
	}
	s.pending[orderID] = adj
	s.mu.Unlock()

	replacement, err := s.modifier.ModifyOrder(ctx, order, newPrice)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		adj.ReplacementID = replacement
		return nil
	}

	delete(s.pending, orderID)

	var modErr *ModifyError
	if errors.As(err, &modErr) && modErr.PlacePhase {
		if tracked, ok := s.lines[orderID]; ok {
			tracked.line.Remove()
			delete(s.lines, orderID)
		}
		s.logger.Warn("replacement rejected after cancel, removing line",
			slog.String("orderId", orderID),
			slog.String("error", err.Error()))
		return err
	}

	if tracked, ok := s.lines[orderID]; ok {
		tracked.line.SetPrice(original)
		tracked.price = original
	}
	return err
}

// Pending returns the in-flight adjustment for an order id, if any.
func (s *Synchronizer) Pending(orderID string) (PendingOrderAdjustment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adj, ok := s.pending[orderID]
	if !ok {
		return PendingOrderAdjustment{}, false
	}
	return *adj, true
}

func (s *Synchronizer) validatePriceLocked(marketID string, price float64) error {
	if price <= 0 {
		return ErrInvalidPrice
	}
	tick, ok := s.tickSizes[marketID]
	if !ok || tick.IsZero() {
		return nil
	}
	if !decimal.NewFromFloat(price).Mod(tick).IsZero() {
		return ErrInvalidPrice
	}
	return nil
}
