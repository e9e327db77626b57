package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/ordersync/ordersync/emitter"
	"github.com/ordersync/ordersync/ledger"
	olog "github.com/ordersync/ordersync/log"
	"github.com/ordersync/ordersync/ordersync"
)

const maxSubmitRequeues = 5

// runOrderWorker processes items from the order queue until shutdown.
func runOrderWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	oq workqueue.TypedRateLimitingInterface[ordersync.OrderWork],
	txn *emitter.TxnEmitter,
	store *ledger.Store,
) {
	defer wg.Done()

	for {
		w, shutdown := oq.Get()
		if shutdown {
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		processOrderItem(reqCtx, oq, txn, store, w)
		cancel()
	}
}

// processOrderItem handles a single order work item from the queue. A
// transient failure requeues with backoff; a terminal one attaches its error
// params to the ledger entry so the failure surfaces to the user.
func processOrderItem(
	ctx context.Context,
	oq workqueue.TypedRateLimitingInterface[ordersync.OrderWork],
	txn *emitter.TxnEmitter,
	store *ledger.Store,
	w ordersync.OrderWork,
) {
	logger := olog.LoggerFromContext(ctx).With(slog.String("clientId", w.ClientID.Hex()))
	defer oq.Done(w)

	err := txn.Emit(ctx, w)
	if err == nil {
		oq.Forget(w)
		return
	}

	if errors.Is(err, ordersync.ErrOrderAlreadySatisfied) {
		logger.Debug("order already satisfied; skipping submission")
		oq.Forget(w)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Requeue with backoff so transient timeouts or global pacing don't drop work.
		oq.AddRateLimited(w)
		return
	}

	if oq.NumRequeues(w) < maxSubmitRequeues {
		logger.Debug("error submitting order, retrying", slog.String("error", err.Error()))
		oq.AddRateLimited(w)
		return
	}

	logger.Warn("giving up on order work", slog.String("error", err.Error()))
	attachFailure(store, w, emitter.ParamsFrom(err))
	oq.Forget(w)
}

func attachFailure(store *ledger.Store, w ordersync.OrderWork, params *ordersync.ErrorParams) {
	switch w.Action.Type {
	case ordersync.ActionPlace:
		store.PlaceFailed(w.ClientID, *params)
	case ordersync.ActionCancel:
		if w.Action.Cancel != nil {
			store.CancelFailed(w.Action.Cancel.OrderID, *params)
		}
	}
}
