// Package emitter carries order work from the decision layer to the chain.
// QueueEmitter defers work onto a queue for asynchronous processing;
// TxnEmitter submits it directly through a transaction client with pacing.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ordersync/ordersync/ordersync"
)

// OrderQueue is the enqueue side of a work queue.
type OrderQueue interface {
	Add(item ordersync.OrderWork)
}

// QueueEmitter hands work to a queue instead of executing it inline.
type QueueEmitter struct {
	q      OrderQueue
	logger *slog.Logger
}

func NewQueueEmitter(q OrderQueue) *QueueEmitter {
	return &QueueEmitter{
		q:      q,
		logger: slog.Default().WithGroup("emitter"),
	}
}

func (e *QueueEmitter) Emit(ctx context.Context, w ordersync.OrderWork) error {
	e.logger.Debug("emit", slog.Any("order-work", w))
	e.q.Add(w)
	return nil
}

// SnapshotSource exposes the latest authoritative snapshot, used for the
// already-satisfied check before submitting.
type SnapshotSource interface {
	Snapshot() ordersync.Snapshot
}

// ResultError carries the structured failure from a rejected transaction so
// callers can attach it to ledger entries verbatim.
type ResultError struct {
	Params *ordersync.ErrorParams
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("transaction rejected: %s: %s", e.Params.Code, e.Params.Message)
}

// ParamsFrom extracts structured error params from an emit failure, falling
// back to the generic something-went-wrong params.
func ParamsFrom(err error) *ordersync.ErrorParams {
	var resultErr *ResultError
	if errors.As(err, &resultErr) {
		return resultErr.Params
	}
	return &ordersync.SomethingWentWrong
}

// SubmissionRecorder receives every broadcast attempt for the audit trail.
// submitErr is nil when the broadcast was accepted.
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, w ordersync.OrderWork, submitErr error) error
}

// TxnEmitter submits order work through a transaction client. All
// submissions share one pacing gate so bursts of UI actions cannot trip
// upstream rate limits, and a rate-limited rejection widens the gate.
type TxnEmitter struct {
	client    ordersync.TxnClient
	snapshots SnapshotSource
	gate      RateGate
	recorder  SubmissionRecorder
	logger    *slog.Logger
}

type TxnOption func(*TxnEmitter)

// WithRateGate replaces the default pacing gate.
func WithRateGate(gate RateGate) TxnOption {
	return func(e *TxnEmitter) {
		if gate != nil {
			e.gate = gate
		}
	}
}

// WithSnapshotSource enables the already-satisfied check for placements.
func WithSnapshotSource(src SnapshotSource) TxnOption {
	return func(e *TxnEmitter) {
		e.snapshots = src
	}
}

// WithSubmissionRecorder audits every broadcast attempt through rec.
func WithSubmissionRecorder(rec SubmissionRecorder) TxnOption {
	return func(e *TxnEmitter) {
		e.recorder = rec
	}
}

func NewTxnEmitter(client ordersync.TxnClient, opts ...TxnOption) *TxnEmitter {
	e := &TxnEmitter{
		client: client,
		gate:   NewRateGate(0),
		logger: slog.Default().WithGroup("txn-emitter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// rateLimitCooldown is the spacing applied after an upstream rate-limit
// rejection.
const rateLimitCooldown = 10 * time.Second

func (e *TxnEmitter) Emit(ctx context.Context, w ordersync.OrderWork) error {
	logger := e.logger.With(slog.String("clientId", w.ClientID.Hex()))
	logger.Debug("emit", slog.Any("order-work", w))

	if w.Action.Type == ordersync.ActionNone {
		// nothing left to do for this work item
		return nil
	}

	if err := e.gate.Wait(ctx); err != nil {
		return err
	}

	switch w.Action.Type {
	case ordersync.ActionPlace:
		payload := *w.Action.Place

		if e.snapshots != nil {
			snap := e.snapshots.Snapshot()
			if existing, ok := snap.OrderByClientID(payload.ClientID.Hex()); ok && orderSatisfies(existing, payload) {
				logger.Debug("order already matches desired state; skipping place")
				return ordersync.ErrOrderAlreadySatisfied
			}
		}

		result := e.client.PlaceOrder(ctx, payload)
		if result.Failed() {
			e.noteRateLimit(logger, result.Err)
			logger.Warn("could not place order",
				slog.String("error", result.Err.Message),
				slog.Any("payload", payload))
			err := fmt.Errorf("place order: %w", &ResultError{Params: result.Err})
			e.record(ctx, w, err)
			return err
		}
		e.record(ctx, w, nil)
		logger.Info("order sent", slog.String("market", payload.MarketID))

	case ordersync.ActionCancel:
		payload := *w.Action.Cancel
		logger.Info("cancelling order", slog.Any("cancel", payload))

		result := e.client.CancelOrder(ctx, payload)
		if result.Failed() {
			e.noteRateLimit(logger, result.Err)
			logger.Warn("could not cancel order",
				slog.String("error", result.Err.Message),
				slog.Any("payload", payload))
			err := fmt.Errorf("cancel order: %w", &ResultError{Params: result.Err})
			e.record(ctx, w, err)
			return err
		}
		e.record(ctx, w, nil)

	default:
		return nil
	}

	return nil
}

func (e *TxnEmitter) record(ctx context.Context, w ordersync.OrderWork, submitErr error) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordSubmission(ctx, w, submitErr); err != nil {
		e.logger.Warn("could not record submission", slog.String("error", err.Error()))
	}
}

func (e *TxnEmitter) noteRateLimit(logger *slog.Logger, params *ordersync.ErrorParams) {
	if params == nil || !isRateLimited(params) {
		return
	}
	logger.Debug("hit ratelimit, cooldown applied",
		slog.Duration("cooldown", rateLimitCooldown))
	e.gate.Cooldown(rateLimitCooldown)
}

func isRateLimited(params *ordersync.ErrorParams) bool {
	if params.Code == "RATE_LIMITED" {
		return true
	}
	msg := strings.ToLower(params.Message)
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// orderSatisfies reports whether an already-indexed order matches the
// desired placement closely enough that resubmitting would only duplicate
// it.
func orderSatisfies(existing ordersync.Order, desired ordersync.PlaceOrderPayload) bool {
	if !existing.Status.IsOpen() {
		return false
	}
	if !strings.EqualFold(existing.MarketID, desired.MarketID) {
		return false
	}
	if existing.Side != desired.Side {
		return false
	}
	if existing.Type != desired.Type {
		return false
	}
	if !floatEquals(existing.Size, desired.Size) {
		return false
	}
	return floatEquals(existing.WorkingPrice(), desired.WorkingPrice())
}

const floatEqualityTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= floatEqualityTolerance
}
