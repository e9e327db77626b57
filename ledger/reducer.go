package ledger

import (
	"github.com/ordersync/ordersync/ordersync"
)

// ReconcilePolicy decides how a snapshot that no longer reports an order is
// interpreted for cancel-all bookkeeping. The indexer view can trail the
// chain, so absence alone is not necessarily terminal.
type ReconcilePolicy int

const (
	// TrailingTolerant treats absence-without-terminal-signal as
	// non-authoritative: only an explicit canceled-type status resolves a
	// batch member. This is the default.
	TrailingTolerant ReconcilePolicy = iota

	// Strict counts the disappearance of a previously-seen order toward
	// cancel-all bookkeeping even without a terminal status.
	Strict
)

// Reduce applies one action and returns the next state. The input state is
// never mutated.
func Reduce(s State, a Action, policy ReconcilePolicy) State {
	switch act := a.(type) {
	case SubmitPlace:
		return reduceSubmitPlace(s, act)
	case ConfirmPlaced:
		return reduceConfirmPlaced(s, act)
	case SubmitCancel:
		return reduceSubmitCancel(s, act)
	case SubmitCancelAll:
		return reduceSubmitCancelAll(s, act)
	case SubmitCloseAll:
		return reduceSubmitCloseAll(s, act)
	case PlaceFailed:
		return reducePlaceFailed(s, act)
	case PlaceTimedOut:
		return reducePlaceTimedOut(s, act)
	case CancelFailed:
		return reduceCancelFailed(s, act)
	case CancelAllOrderFailed:
		return reduceCancelAllOrderFailed(s, act)
	case SnapshotApplied:
		return reconcile(s, act.Snapshot, policy)
	case Clear:
		return NewState()
	default:
		return s
	}
}

func reduceSubmitPlace(s State, a SubmitPlace) State {
	next := s.clone()
	next.Places = append(next.Places, PlaceOrder{
		ClientID:  a.ClientID,
		MarketID:  a.MarketID,
		OrderType: a.OrderType,
		Status:    PlaceSubmitted,
	})
	next.Uncommitted[a.ClientID.Hex()] = struct{}{}
	return next
}

func reduceConfirmPlaced(s State, a ConfirmPlaced) State {
	next := s.clone()
	delete(next.Uncommitted, a.ClientID.Hex())
	for i, p := range next.Places {
		if p.ClientID != a.ClientID || p.Status >= PlacePlaced {
			continue
		}
		p.Status = PlacePlaced
		p.OrderID = a.OrderID
		// The backend proved the order landed; an advisory timeout or a
		// raced submission failure no longer applies.
		p.ErrorParams = nil
		next.Places[i] = p
	}
	return next
}

func reduceSubmitCancel(s State, a SubmitCancel) State {
	next := s.clone()
	next.Cancels = append(next.Cancels, CancelOrder{
		OrderID: a.OrderID,
		Status:  CancelSubmitted,
	})
	return next
}

func reduceSubmitCancelAll(s State, a SubmitCancelAll) State {
	key := a.MarketID
	if key == "" {
		key = GlobalCancelKey
	}

	next := s.clone()
	next.CancelAlls[key] = CancelAllBatch{
		Key:      key,
		OrderIDs: append([]string(nil), a.OrderIDs...),
	}
	for _, orderID := range a.OrderIDs {
		next.Cancels = append(next.Cancels, CancelOrder{
			OrderID:          orderID,
			Status:           CancelSubmitted,
			ThroughCancelAll: true,
		})
	}
	return next
}

func reduceSubmitCloseAll(s State, a SubmitCloseAll) State {
	next := s.clone()
	next.CloseAll = &CloseAllBatch{
		SubmittedClientIDs: append([]string(nil), a.ClientIDs...),
		FilledClientIDs:    []string{},
		FailedClientIDs:    []string{},
	}
	return next
}

func reducePlaceFailed(s State, a PlaceFailed) State {
	next := s.clone()
	for i, p := range next.Places {
		if p.ClientID != a.ClientID {
			continue
		}
		params := a.Params
		p.ErrorParams = &params
		next.Places[i] = p
	}
	delete(next.Uncommitted, a.ClientID.Hex())
	return next
}

func reducePlaceTimedOut(s State, a PlaceTimedOut) State {
	if _, ok := s.Uncommitted[a.ClientID.Hex()]; !ok {
		return s
	}
	p, ok := s.PlaceByClientID(a.ClientID)
	if !ok || p.Status != PlaceSubmitted || p.ErrorParams != nil {
		return s
	}
	return reducePlaceFailed(s, PlaceFailed{ClientID: a.ClientID, Params: ordersync.SomethingWentWrong})
}

func reduceCancelFailed(s State, a CancelFailed) State {
	next := s.clone()
	for i, c := range next.Cancels {
		if c.OrderID != a.OrderID {
			continue
		}
		params := a.Params
		c.ErrorParams = &params
		next.Cancels[i] = c
	}
	return next
}

func reduceCancelAllOrderFailed(s State, a CancelAllOrderFailed) State {
	next := s.clone()
	next.markBatchMember(a.OrderID, a.MarketID, batchFailed)
	if a.Params != nil {
		next = reduceCancelFailed(next, CancelFailed{OrderID: a.OrderID, Params: *a.Params})
	}
	return next
}

type batchColumn int

const (
	batchCanceled batchColumn = iota
	batchFailed
)

// markBatchMember resolves an order id in the per-market batch and the global
// batch, whichever exist. Callers must pass a cloned state.
func (s *State) markBatchMember(orderID, marketID string, col batchColumn) {
	for _, key := range []string{GlobalCancelKey, marketID} {
		batch, ok := s.CancelAlls[key]
		if !ok {
			continue
		}
		switch col {
		case batchCanceled:
			batch.CanceledOrderIDs = appendMember(batch.CanceledOrderIDs, batch.OrderIDs, orderID)
		case batchFailed:
			batch.FailedOrderIDs = appendMember(batch.FailedOrderIDs, batch.OrderIDs, orderID)
		}
		s.CancelAlls[key] = batch
	}
}
