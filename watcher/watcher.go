// Package watcher resolves the moment a locally-submitted order first shows
// up in the authoritative order list.
package watcher

import (
	"log/slog"
	"sync"

	"github.com/ordersync/ordersync/clientid"
	"github.com/ordersync/ordersync/ordersync"
)

// Callback receives the indexed order exactly once per registered client id.
type Callback func(order ordersync.Order)

// OrderIndexed watches snapshots for a single client id of interest. It is
// an explicit subscription object: registration survives any number of
// snapshot checks, fires at most once, and re-registering a different client
// id silently abandons the previous watch so no dangling callback can fire.
type OrderIndexed struct {
	mu       sync.Mutex
	clientID clientid.ClientID
	callback Callback
	resolved bool
	logger   *slog.Logger
}

type Option func(*OrderIndexed)

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(w *OrderIndexed) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func New(opts ...Option) *OrderIndexed {
	w := &OrderIndexed{
		logger:   slog.Default().WithGroup("watcher"),
		resolved: true, // nothing registered yet
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch registers a client id and its callback. Registering a different id
// while a previous watch is unresolved abandons the previous one. A watch is
// re-armed only for a different client id: repeating the id of a watch that
// already fired is a no-op, and repeating an unresolved id only swaps the
// callback.
func (w *OrderIndexed) Watch(id clientid.ClientID, cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id == w.clientID {
		if !w.resolved {
			w.callback = cb
		}
		return
	}

	if !w.resolved && !w.clientID.IsZero() {
		w.logger.Debug("abandoning unresolved watch", slog.String("client_id", w.clientID.Hex()))
	}

	w.clientID = id
	w.callback = cb
	w.resolved = false
}

// Cancel clears the current registration without firing.
func (w *OrderIndexed) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.clientID = clientid.ClientID{}
	w.callback = nil
	w.resolved = true
}

// Resolved reports whether the current registration has fired (or none is
// armed).
func (w *OrderIndexed) Resolved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resolved
}

// OnSnapshot checks one snapshot. If the registered client id appears, the
// callback fires exactly once; later snapshots for the same id are no-ops
// until a different id is registered.
func (w *OrderIndexed) OnSnapshot(snap ordersync.Snapshot) {
	w.mu.Lock()
	if w.resolved || w.callback == nil {
		w.mu.Unlock()
		return
	}

	order, ok := snap.OrderByClientID(w.clientID.Hex())
	if !ok {
		w.mu.Unlock()
		return
	}

	cb := w.callback
	w.resolved = true
	w.callback = nil
	w.mu.Unlock()

	w.logger.Debug("order indexed",
		slog.String("client_id", order.ClientID),
		slog.String("order_id", order.ID))

	cb(order)
}
