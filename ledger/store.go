package ledger

import (
	"log/slog"
	"sync"

	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ordersync"
)

// Store holds the ledger state and serializes dispatches. Snapshot
// application is atomic with respect to readers: State() either sees the
// ledger before a snapshot or after it, never in between.
type Store struct {
	mu     sync.RWMutex
	state  State
	policy ReconcilePolicy
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithReconcilePolicy selects how disappearances are treated for cancel-all
// bookkeeping. The default is TrailingTolerant.
func WithReconcilePolicy(policy ReconcilePolicy) StoreOption {
	return func(s *Store) {
		s.policy = policy
	}
}

// WithStoreLogger overrides the logger used for dispatch diagnostics.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		state:  NewState(),
		policy: TrailingTolerant,
		logger: slog.Default().WithGroup("ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch applies one action through the reducer.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	s.state = Reduce(s.state, a, s.policy)
	s.mu.Unlock()

	s.logger.Debug("dispatched", slog.String("action", a.actionName()))
}

// State returns a deep copy of the current ledger state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// SubmitPlace appends an optimistic place entry in Submitted state.
func (s *Store) SubmitPlace(id clientid.ClientID, marketID string, orderType ordersync.OrderType) {
	s.Dispatch(SubmitPlace{ClientID: id, MarketID: marketID, OrderType: orderType})
}

// ConfirmPlaced attaches the backend-assigned order id to a placement.
func (s *Store) ConfirmPlaced(id clientid.ClientID, orderID string) {
	s.Dispatch(ConfirmPlaced{ClientID: id, OrderID: orderID})
}

// SubmitCancel appends an optimistic cancel entry in Submitted state.
func (s *Store) SubmitCancel(orderID string) {
	s.Dispatch(SubmitCancel{OrderID: orderID})
}

// SubmitCancelAll opens a cancel-all batch. An empty marketID targets all
// markets (the global batch).
func (s *Store) SubmitCancelAll(marketID string, orderIDs []string) {
	s.Dispatch(SubmitCancelAll{MarketID: marketID, OrderIDs: orderIDs})
}

// SubmitCloseAll records a close-all-positions request.
func (s *Store) SubmitCloseAll(clientIDs []string) {
	s.Dispatch(SubmitCloseAll{ClientIDs: clientIDs})
}

// PlaceFailed attaches a broadcast failure to a place entry.
func (s *Store) PlaceFailed(id clientid.ClientID, params ordersync.ErrorParams) {
	s.Dispatch(PlaceFailed{ClientID: id, Params: params})
}

// PlaceTimedOut flags an uncommitted placement with the generic failure.
func (s *Store) PlaceTimedOut(id clientid.ClientID) {
	s.Dispatch(PlaceTimedOut{ClientID: id})
}

// CancelFailed attaches a broadcast failure to a cancel entry.
func (s *Store) CancelFailed(orderID string, params ordersync.ErrorParams) {
	s.Dispatch(CancelFailed{OrderID: orderID, Params: params})
}

// CancelAllOrderFailed marks a batch member failed, with optional error
// params mirrored onto its cancel entry.
func (s *Store) CancelAllOrderFailed(orderID, marketID string, params *ordersync.ErrorParams) {
	s.Dispatch(CancelAllOrderFailed{OrderID: orderID, MarketID: marketID, Params: params})
}

// ApplySnapshot reconciles the ledger against one authoritative snapshot.
func (s *Store) ApplySnapshot(snap ordersync.Snapshot) {
	s.Dispatch(SnapshotApplied{Snapshot: snap})
}

// Clear resets the ledger (session end or wallet switch).
func (s *Store) Clear() {
	s.Dispatch(Clear{})
}
