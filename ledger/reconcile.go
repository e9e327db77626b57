package ledger

import (
	"github.com/ordersync/ordersync/ordersync"
)

// reconcile merges one authoritative snapshot into the ledger. It runs as a
// single reducer step, so projections can never observe a half-reconciled
// state. Entries are never removed just because an order disappeared from
// the snapshot: absence without a terminal signal is not proof of
// terminality (the indexer view may trail the chain).
func reconcile(s State, snap ordersync.Snapshot, policy ReconcilePolicy) State {
	next := s.clone()

	confirmPlacements(&next, snap)

	filled := newlyFilled(next, snap)
	applyFills(&next, snap, filled)

	canceled := newlyCanceled(next, snap)
	applyCancels(&next, snap, canceled)

	if policy == Strict {
		applyDisappearances(&next, snap)
	}

	for _, o := range snap.Orders {
		next.SeenOrderIDs[o.ID] = struct{}{}
	}

	return next
}

// confirmPlacements matches snapshot orders to uncommitted local placements
// by client id and advances them to Placed with the assigned order id.
func confirmPlacements(s *State, snap ordersync.Snapshot) {
	for _, o := range snap.Orders {
		if o.ClientID == "" {
			continue
		}
		for i, p := range s.Places {
			if p.ClientID.Hex() != o.ClientID {
				continue
			}
			delete(s.Uncommitted, p.ClientID.Hex())
			if p.Status < PlacePlaced {
				p.Status = PlacePlaced
				p.OrderID = o.ID
				p.ErrorParams = nil
				s.Places[i] = p

				order := o
				s.LatestOrder = &order
			}
		}
	}
}

// newlyFilled returns order ids carrying a fill signal this snapshot that
// were not previously known filled. Both explicit fill events and a
// filled-type order status count.
func newlyFilled(s State, snap ordersync.Snapshot) map[string]struct{} {
	out := map[string]struct{}{}
	add := func(id string) {
		if id == "" {
			return
		}
		if _, known := s.KnownFilled[id]; known {
			return
		}
		out[id] = struct{}{}
	}

	for _, f := range snap.Fills {
		add(f.OrderID)
	}
	for _, o := range snap.Orders {
		if o.Status == ordersync.OrderStatusFilled {
			add(o.ID)
		}
	}
	return out
}

func applyFills(s *State, snap ordersync.Snapshot, filled map[string]struct{}) {
	if len(filled) == 0 {
		return
	}

	for i, p := range s.Places {
		if p.Status >= PlaceFilled || p.OrderID == "" {
			continue
		}
		if _, ok := filled[p.OrderID]; ok {
			p.Status = PlaceFilled
			p.ErrorParams = nil
			s.Places[i] = p
		}
	}

	// A fill always wins over a pending cancel: the cancel record is dropped
	// and, within a batch, the member counts as failed-to-cancel.
	kept := s.Cancels[:0]
	for _, c := range s.Cancels {
		if _, ok := filled[c.OrderID]; ok {
			continue
		}
		kept = append(kept, c)
	}
	s.Cancels = append([]CancelOrder(nil), kept...)

	for id := range filled {
		marketID := ""
		if o, ok := snap.OrderByID(id); ok {
			marketID = o.MarketID
		}
		s.markBatchMember(id, marketID, batchFailed)
		s.KnownFilled[id] = struct{}{}
	}

	if s.CloseAll != nil {
		for _, o := range snap.Orders {
			if o.ClientID == "" {
				continue
			}
			if _, ok := filled[o.ID]; !ok {
				continue
			}
			s.CloseAll.FilledClientIDs = appendMember(
				s.CloseAll.FilledClientIDs, s.CloseAll.SubmittedClientIDs, o.ClientID)
		}
	}
}

// newlyCanceled returns order ids whose snapshot status is canceled-type and
// that were not previously known canceled. Ids that just filled are excluded
// upstream by fill-over-cancel precedence.
func newlyCanceled(s State, snap ordersync.Snapshot) map[string]struct{} {
	out := map[string]struct{}{}
	for _, o := range snap.Orders {
		if !o.Status.IsCanceled() {
			continue
		}
		if _, known := s.KnownCanceled[o.ID]; known {
			continue
		}
		if _, filledNow := s.KnownFilled[o.ID]; filledNow {
			continue
		}
		out[o.ID] = struct{}{}
	}
	return out
}

func applyCancels(s *State, snap ordersync.Snapshot, canceled map[string]struct{}) {
	if len(canceled) == 0 {
		return
	}

	for id := range canceled {
		_, userInitiated := s.CancelByOrderID(id)

		if userInitiated {
			for i, c := range s.Cancels {
				if c.OrderID == id {
					c.Status = CancelCanceled
					s.Cancels[i] = c
				}
			}
		} else {
			// Backend canceled unilaterally (protocol-level invalidation).
			// The place entry reflects it; user-initiated cancels leave the
			// place entry alone since the cancel record already tells the
			// story and projections would otherwise report it twice.
			for i, p := range s.Places {
				if p.OrderID == id && !p.Status.Terminal() {
					p.Status = PlaceCanceled
					s.Places[i] = p
				}
			}
		}

		marketID := ""
		if o, ok := snap.OrderByID(id); ok {
			marketID = o.MarketID
		}
		s.markBatchMember(id, marketID, batchCanceled)
		s.KnownCanceled[id] = struct{}{}
	}

	if s.CloseAll != nil {
		for _, o := range snap.Orders {
			if o.ClientID == "" {
				continue
			}
			if _, ok := canceled[o.ID]; !ok {
				continue
			}
			s.CloseAll.FailedClientIDs = appendMember(
				s.CloseAll.FailedClientIDs, s.CloseAll.SubmittedClientIDs, o.ClientID)
		}
	}
}

// applyDisappearances implements the strict policy: a batch member that was
// seen by an earlier snapshot and is now absent without a terminal signal
// counts as canceled for batch bookkeeping. The cancel entry itself stays
// Submitted; only an explicit status resolves it.
func applyDisappearances(s *State, snap ordersync.Snapshot) {
	present := make(map[string]struct{}, len(snap.Orders))
	for _, o := range snap.Orders {
		present[o.ID] = struct{}{}
	}

	for _, batch := range s.CancelAlls {
		for _, id := range batch.OrderIDs {
			if _, ok := present[id]; ok {
				continue
			}
			if _, seen := s.SeenOrderIDs[id]; !seen {
				continue
			}
			if _, filled := s.KnownFilled[id]; filled {
				continue
			}
			s.markBatchMember(id, batch.Key, batchCanceled)
		}
	}
}
