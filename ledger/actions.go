package ledger

import (
	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ordersync"
)

// Action is one typed ledger transition. Reducers are pure; dispatching the
// same action against the same state always yields the same result.
type Action interface {
	actionName() string
}

// SubmitPlace appends a new place entry in Submitted state and arms the
// uncommitted-timeout bookkeeping for its client id.
type SubmitPlace struct {
	ClientID  clientid.ClientID
	MarketID  string
	OrderType ordersync.OrderType
}

// ConfirmPlaced advances a Submitted entry to Placed and attaches the
// backend-assigned order id. A no-op for entries at or past Placed.
type ConfirmPlaced struct {
	ClientID clientid.ClientID
	OrderID  string
}

// SubmitCancel appends a cancel entry in Submitted state.
type SubmitCancel struct {
	OrderID string
}

// SubmitCancelAll creates a batch for the market (or the global batch when
// MarketID is empty) and a through-cancel-all cancel entry per target order.
type SubmitCancelAll struct {
	MarketID string
	OrderIDs []string
}

// SubmitCloseAll records the client ids of the closing orders submitted by a
// close-all-positions request.
type SubmitCloseAll struct {
	ClientIDs []string
}

// PlaceFailed attaches a submission failure to a place entry. It does not
// regress the entry's status: a timeout is advisory and a later snapshot may
// still prove the order landed.
type PlaceFailed struct {
	ClientID clientid.ClientID
	Params   ordersync.ErrorParams
}

// PlaceTimedOut attaches the generic failure to a still-uncommitted entry.
// Fires at most once per client id; confirmed or already-failed entries are
// left untouched.
type PlaceTimedOut struct {
	ClientID clientid.ClientID
}

// CancelFailed attaches a submission failure to a cancel entry.
type CancelFailed struct {
	OrderID string
	Params  ordersync.ErrorParams
}

// CancelAllOrderFailed marks one member of a cancel-all batch as failed, in
// the per-market batch and the global batch alike.
type CancelAllOrderFailed struct {
	OrderID  string
	MarketID string
	Params   *ordersync.ErrorParams
}

// SnapshotApplied reconciles the ledger against one authoritative snapshot.
// This is the only action that can set Filled or Canceled.
type SnapshotApplied struct {
	Snapshot ordersync.Snapshot
}

// Clear resets the ledger to its initial state (session end, wallet switch).
type Clear struct{}

func (SubmitPlace) actionName() string          { return "submit-place" }
func (ConfirmPlaced) actionName() string        { return "confirm-placed" }
func (SubmitCancel) actionName() string         { return "submit-cancel" }
func (SubmitCancelAll) actionName() string      { return "submit-cancel-all" }
func (SubmitCloseAll) actionName() string       { return "submit-close-all" }
func (PlaceFailed) actionName() string          { return "place-failed" }
func (PlaceTimedOut) actionName() string        { return "place-timed-out" }
func (CancelFailed) actionName() string         { return "cancel-failed" }
func (CancelAllOrderFailed) actionName() string { return "cancel-all-order-failed" }
func (SnapshotApplied) actionName() string      { return "snapshot-applied" }
func (Clear) actionName() string                { return "clear" }
