// Package notify is a keyed, status-machine-driven notification
// deduplicator. It decides whether an event is new, updated, or already
// seen, and whether a native push notification should fire.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Type partitions the notification key space by producer.
type Type string

const (
	TypeOrderStatus Type = "OrderStatus"
	TypeCancelAll   Type = "CancelAll"
	TypeTransfer    Type = "Transfer"
	TypeCustom      Type = "Custom"
)

// Category groups types for user preferences.
type Category string

const (
	CategoryTrading   Category = "Trading"
	CategoryTransfers Category = "Transfers"
	CategoryGeneral   Category = "General"
	CategoryMustSee   Category = "MustSee"
)

// TypeCategory maps every type to its preference category. MustSee
// categories cannot be disabled.
var TypeCategory = map[Type]Category{
	TypeOrderStatus: CategoryTrading,
	TypeCancelAll:   CategoryTrading,
	TypeTransfer:    CategoryTransfers,
	TypeCustom:      CategoryMustSee,
}

// SingleSessionTypes are never persisted: their backing state (the local
// action ledger) is itself volatile, so a reloaded session cannot interpret
// them.
var SingleSessionTypes = map[Type]bool{
	TypeOrderStatus: true,
	TypeCancelAll:   true,
	TypeCustom:      true,
}

// Status is the notification lifecycle. Values advance forward only, with
// one exception: a content change re-enters at Updated regardless of how far
// the status had advanced, so the notification is re-surfaced.
type Status int

const (
	// StatusTriggered fires the toast timer; "new" in the menu.
	StatusTriggered Status = iota

	// StatusUpdated means re-triggered with a different update key.
	StatusUpdated

	// StatusUnseen means the toast expired without interaction.
	StatusUnseen

	// StatusSeen means the user interacted with or dismissed it.
	StatusSeen

	// StatusHidden parks a notification without clearing it; a later
	// trigger with unhide semantics can resurface it.
	StatusHidden

	// StatusCleared marks it for deletion from the menu.
	StatusCleared
)

func (s Status) String() string {
	switch s {
	case StatusTriggered:
		return "triggered"
	case StatusUpdated:
		return "updated"
	case StatusUnseen:
		return "unseen"
	case StatusSeen:
		return "seen"
	case StatusHidden:
		return "hidden"
	case StatusCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Key identifies one notification: producer type plus producer-scoped id.
type Key struct {
	Type Type
	ID   string
}

func (k Key) String() string {
	return string(k.Type) + "/" + k.ID
}

// Notification is the persisted dedup record: the record of "has the user
// already seen this".
type Notification struct {
	Key        Key
	Status     Status
	Timestamps map[Status]int64 // status → epoch-ms of entry
	UpdateKey  any
}

// DisplayData is derived presentation state, never persisted.
type DisplayData struct {
	Title    string
	Body     string
	Icon     string
	GroupKey string
}

// Store persists the notification map and preferences per session key.
type Store interface {
	LoadNotifications(ctx context.Context) (map[string]Notification, error)
	SaveNotifications(ctx context.Context, notifications map[string]Notification) error
	LoadPreferences(ctx context.Context) (*Preferences, error)
	SavePreferences(ctx context.Context, prefs Preferences) error
}

// ActionHandler re-enters the application when the user interacts with a
// notification (toast button, menu item, or native push click).
type ActionHandler func(id string)

// Engine owns the notification map. All mutation is behind one mutex so a
// trigger and a status change cannot interleave mid-record.
type Engine struct {
	mu            sync.Mutex
	notifications map[string]Notification
	display       map[string]DisplayData
	prefs         Preferences
	store         Store
	pusher        Pusher
	focused       func() bool
	now           func() time.Time
	actions       map[Type]ActionHandler
	logger        *slog.Logger
}

type EngineOption func(*Engine)

// WithPusher attaches the native push boundary. Without one, the push gate
// never fires.
func WithPusher(p Pusher) EngineOption {
	return func(e *Engine) {
		e.pusher = p
	}
}

// WithFocusCheck supplies the document-focus probe used by the push gate.
func WithFocusCheck(f func() bool) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.focused = f
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEngineLogger overrides the logger used for diagnostics.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine loads persisted notifications and preferences from the store. A
// preferences version mismatch resets them to defaults.
func NewEngine(ctx context.Context, store Store, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		notifications: map[string]Notification{},
		display:       map[string]DisplayData{},
		prefs:         DefaultPreferences(),
		store:         store,
		focused:       func() bool { return false },
		now:           time.Now,
		actions:       map[Type]ActionHandler{},
		logger:        slog.Default().WithGroup("notify"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if store != nil {
		loaded, err := store.LoadNotifications(ctx)
		if err != nil {
			return nil, err
		}
		for k, n := range loaded {
			e.notifications[k] = n
		}

		prefs, err := store.LoadPreferences(ctx)
		if err != nil {
			return nil, err
		}
		if prefs != nil && prefs.Version == PreferencesVersion {
			e.prefs = *prefs
		} else if prefs != nil {
			e.logger.Info("preferences version changed, resetting",
				slog.Int("have", prefs.Version),
				slog.Int("want", PreferencesVersion))
			e.persistPreferencesLocked(ctx)
		}
	}

	return e, nil
}

// RegisterAction installs the handler invoked by OnNotificationAction for a
// producer type.
func (e *Engine) RegisterAction(t Type, handler ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[t] = handler
}

// TriggerParams describes one trigger call.
type TriggerParams struct {
	Type        Type
	ID          string
	DisplayData DisplayData

	// UpdateKey is compared structurally against the stored record; any
	// inequality re-surfaces the notification as Updated.
	UpdateKey any

	// IsNew false means the event was discovered as already-historical on
	// first load and must not alarm the user: the record starts Cleared.
	IsNew bool

	// Unhide lets the trigger resurface a Hidden record even when the
	// update key is unchanged.
	Unhide bool
}

// Trigger creates, updates, or ignores one event. Triggering twice with the
// same update key is a no-op for status; display data always refreshes.
func (e *Engine) Trigger(ctx context.Context, p TriggerParams) {
	key := Key{Type: p.Type, ID: p.ID}.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.prefs.Enabled(TypeCategory[p.Type]) {
		// Disabled category: drop the trigger and any stale record for it.
		if _, ok := e.notifications[key]; ok {
			delete(e.notifications, key)
			delete(e.display, key)
			e.persistLocked(ctx)
		}
		return
	}

	e.display[key] = p.DisplayData

	record, exists := e.notifications[key]
	switch {
	case !exists:
		status := StatusTriggered
		if !p.IsNew {
			status = StatusCleared
		}
		record = Notification{
			Key:        Key{Type: p.Type, ID: p.ID},
			Timestamps: map[Status]int64{},
			UpdateKey:  p.UpdateKey,
		}
		e.setStatusLocked(&record, status)
		e.notifications[key] = record
		e.persistLocked(ctx)

	case !updateKeysEqual(p.UpdateKey, record.UpdateKey):
		record.UpdateKey = p.UpdateKey
		e.setStatusLocked(&record, StatusUpdated)
		e.notifications[key] = record
		e.persistLocked(ctx)

	case p.Unhide && record.Status == StatusHidden:
		e.setStatusLocked(&record, StatusUpdated)
		e.notifications[key] = record
		e.persistLocked(ctx)
	}
}

// setStatusLocked records a status entry with its timestamp. Unlike the
// forward-only marks, it may move backwards: the Updated branch re-enters
// deliberately.
func (e *Engine) setStatusLocked(n *Notification, status Status) {
	n.Status = status
	n.Timestamps[status] = e.now().UnixMilli()
}

// advanceLocked moves a record forward, never backward: marking an
// already-Cleared notification Seen is a no-op.
func (e *Engine) advanceLocked(ctx context.Context, key string, status Status) {
	record, ok := e.notifications[key]
	if !ok || record.Status >= status {
		return
	}
	e.setStatusLocked(&record, status)
	e.notifications[key] = record
	e.persistLocked(ctx)
}

func (e *Engine) MarkUnseen(ctx context.Context, key Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked(ctx, key.String(), StatusUnseen)
}

func (e *Engine) MarkSeen(ctx context.Context, key Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked(ctx, key.String(), StatusSeen)
}

func (e *Engine) MarkHidden(ctx context.Context, key Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked(ctx, key.String(), StatusHidden)
}

func (e *Engine) MarkCleared(ctx context.Context, key Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked(ctx, key.String(), StatusCleared)
}

func (e *Engine) MarkAllCleared(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.notifications {
		e.advanceLocked(ctx, key, StatusCleared)
	}
}

// Get returns the record for a key, if one exists.
func (e *Engine) Get(key Key) (Notification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.notifications[key.String()]
	if !ok {
		return Notification{}, false
	}
	return cloneNotification(n), true
}

// Notifications returns a copy of the current map.
func (e *Engine) Notifications() map[string]Notification {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]Notification, len(e.notifications))
	for k, n := range e.notifications {
		out[k] = cloneNotification(n)
	}
	return out
}

// DisplayDataFor returns the derived presentation for a key, if any.
func (e *Engine) DisplayDataFor(key Key) (DisplayData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.display[key.String()]
	return d, ok
}

// OnNotificationAction dispatches a user interaction to the producer's
// handler and marks the record seen.
func (e *Engine) OnNotificationAction(ctx context.Context, key Key) {
	e.mu.Lock()
	handler := e.actions[key.Type]
	e.mu.Unlock()

	if handler != nil {
		handler(key.ID)
	}
	e.MarkSeen(ctx, key)
}

// persistLocked writes the persistable subset of the notification map.
// Best-effort: a failing store must not block the UI path.
func (e *Engine) persistLocked(ctx context.Context) {
	if e.store == nil {
		return
	}

	durable := make(map[string]Notification, len(e.notifications))
	for k, n := range e.notifications {
		if SingleSessionTypes[n.Key.Type] {
			continue
		}
		durable[k] = n
	}

	if err := e.store.SaveNotifications(ctx, durable); err != nil {
		e.logger.Warn("persist notifications failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) persistPreferencesLocked(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePreferences(ctx, e.prefs); err != nil {
		e.logger.Warn("persist preferences failed", slog.String("error", err.Error()))
	}
}

// updateKeysEqual compares update keys structurally. Records loaded from
// storage carry generic decoded values instead of the producer's typed
// structs, so on mismatch both sides are normalized through JSON and
// compared again in generic form.
func updateKeysEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}

	var genericA, genericB any
	if json.Unmarshal(rawA, &genericA) != nil || json.Unmarshal(rawB, &genericB) != nil {
		return false
	}
	return reflect.DeepEqual(genericA, genericB)
}

func cloneNotification(n Notification) Notification {
	out := n
	out.Timestamps = make(map[Status]int64, len(n.Timestamps))
	for k, v := range n.Timestamps {
		out.Timestamps[k] = v
	}
	return out
}
