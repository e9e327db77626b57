// Package ledger tracks locally-submitted trading actions and reconciles
// them against authoritative indexer snapshots. It is the single source of
// local-optimism truth: all mutation goes through pure reducer functions over
// a typed action set, and every other component is a read-only consumer.
package ledger

import (
	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ordersync"
)

// PlaceStatus is the submission lifecycle of a locally-placed order.
// Filled and Canceled are absorbing.
type PlaceStatus int

const (
	PlaceSubmitted PlaceStatus = iota
	PlacePlaced
	PlaceFilled
	PlaceCanceled
)

func (s PlaceStatus) String() string {
	switch s {
	case PlaceSubmitted:
		return "submitted"
	case PlacePlaced:
		return "placed"
	case PlaceFilled:
		return "filled"
	case PlaceCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further lifecycle transitions are possible.
func (s PlaceStatus) Terminal() bool {
	return s == PlaceFilled || s == PlaceCanceled
}

type CancelStatus int

const (
	CancelSubmitted CancelStatus = iota
	CancelCanceled
)

func (s CancelStatus) String() string {
	if s == CancelCanceled {
		return "canceled"
	}
	return "submitted"
}

// PlaceOrder is one locally-submitted order. OrderID is empty until the
// backend assigns one. Entries are kept for the rest of the session so the
// UI can render submission history.
type PlaceOrder struct {
	ClientID    clientid.ClientID
	MarketID    string
	OrderType   ordersync.OrderType
	Status      PlaceStatus
	OrderID     string
	ErrorParams *ordersync.ErrorParams
}

// CancelOrder is one locally-requested cancellation. It becomes Canceled when
// a snapshot shows the order canceled; it is dropped entirely when the order
// fills instead, since a fill always wins over a pending cancel.
type CancelOrder struct {
	OrderID          string
	Status           CancelStatus
	ThroughCancelAll bool
	ErrorParams      *ordersync.ErrorParams
}

// GlobalCancelKey keys the batch that targets every market at once.
const GlobalCancelKey = "cancel-all"

// CancelAllBatch tracks one cancel-all request. The target set is fixed at
// creation; CanceledOrderIDs and FailedOrderIDs only ever accumulate subsets
// of it.
type CancelAllBatch struct {
	Key              string
	OrderIDs         []string
	CanceledOrderIDs []string
	FailedOrderIDs   []string
}

// Done reports whether every target order has resolved one way or the other.
func (b CancelAllBatch) Done() bool {
	return len(b.CanceledOrderIDs)+len(b.FailedOrderIDs) >= len(b.OrderIDs)
}

// CloseAllBatch tracks one close-all-positions request, keyed by the client
// ids of the closing orders it submitted.
type CloseAllBatch struct {
	SubmittedClientIDs []string
	FilledClientIDs    []string
	FailedClientIDs    []string
}

// State is the full ledger state. Reducers treat it as immutable: every
// transition returns a fresh value and never aliases mutable fields of the
// input.
type State struct {
	Places     []PlaceOrder
	Cancels    []CancelOrder
	CancelAlls map[string]CancelAllBatch
	CloseAll   *CloseAllBatch

	// LatestOrder is the most recently confirmed locally-placed order, kept
	// so callers can resolve "my last order" without rescanning snapshots.
	LatestOrder *ordersync.Order

	// Uncommitted holds client ids submitted but not yet confirmed by any
	// snapshot; the placement timeout only fires for members of this set.
	Uncommitted map[string]struct{}

	// Bookkeeping so a snapshot repeating a terminal status is a no-op.
	KnownFilled   map[string]struct{}
	KnownCanceled map[string]struct{}

	// SeenOrderIDs records every order id any snapshot has reported, used by
	// the strict reconcile policy to tell "never indexed" from "disappeared".
	SeenOrderIDs map[string]struct{}
}

func NewState() State {
	return State{
		CancelAlls:    map[string]CancelAllBatch{},
		Uncommitted:   map[string]struct{}{},
		KnownFilled:   map[string]struct{}{},
		KnownCanceled: map[string]struct{}{},
		SeenOrderIDs:  map[string]struct{}{},
	}
}

// PlaceByClientID returns the place entry for a client id, if any.
func (s State) PlaceByClientID(id clientid.ClientID) (PlaceOrder, bool) {
	for _, p := range s.Places {
		if p.ClientID == id {
			return p, true
		}
	}
	return PlaceOrder{}, false
}

// PlaceByOrderID returns the place entry carrying a backend order id.
func (s State) PlaceByOrderID(orderID string) (PlaceOrder, bool) {
	for _, p := range s.Places {
		if p.OrderID == orderID {
			return p, true
		}
	}
	return PlaceOrder{}, false
}

// CancelByOrderID returns the cancel entry for an order id, if any.
func (s State) CancelByOrderID(orderID string) (CancelOrder, bool) {
	for _, c := range s.Cancels {
		if c.OrderID == orderID {
			return c, true
		}
	}
	return CancelOrder{}, false
}

func (s State) clone() State {
	out := s

	out.Places = append([]PlaceOrder(nil), s.Places...)
	out.Cancels = append([]CancelOrder(nil), s.Cancels...)

	out.CancelAlls = make(map[string]CancelAllBatch, len(s.CancelAlls))
	for k, v := range s.CancelAlls {
		out.CancelAlls[k] = cloneBatch(v)
	}

	if s.CloseAll != nil {
		c := CloseAllBatch{
			SubmittedClientIDs: append([]string(nil), s.CloseAll.SubmittedClientIDs...),
			FilledClientIDs:    append([]string(nil), s.CloseAll.FilledClientIDs...),
			FailedClientIDs:    append([]string(nil), s.CloseAll.FailedClientIDs...),
		}
		out.CloseAll = &c
	}

	if s.LatestOrder != nil {
		o := *s.LatestOrder
		out.LatestOrder = &o
	}

	out.Uncommitted = cloneSet(s.Uncommitted)
	out.KnownFilled = cloneSet(s.KnownFilled)
	out.KnownCanceled = cloneSet(s.KnownCanceled)
	out.SeenOrderIDs = cloneSet(s.SeenOrderIDs)

	return out
}

func cloneBatch(b CancelAllBatch) CancelAllBatch {
	return CancelAllBatch{
		Key:              b.Key,
		OrderIDs:         append([]string(nil), b.OrderIDs...),
		CanceledOrderIDs: append([]string(nil), b.CanceledOrderIDs...),
		FailedOrderIDs:   append([]string(nil), b.FailedOrderIDs...),
	}
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// appendMember adds id to members only when it belongs to the batch's fixed
// target set and is not already present, preserving the subset invariant.
func appendMember(members []string, targets []string, id string) []string {
	if !contains(targets, id) || contains(members, id) {
		return members
	}
	return append(members, id)
}
