// Package storage persists notification records and preferences in sqlite,
// keyed by wallet and network so switching accounts never leaks state
// between sessions. The local action ledger is deliberately not persisted:
// it only describes this session's submissions.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ordersync/ordersync/notify"
	"github.com/ordersync/ordersync/ordersync"
)

//go:embed schema.sql
var schemaDDL string

// Storage is the sqlite handle. A single connection and a coarse mutex keep
// writes serialized; the write volume here is tiny.
type Storage struct {
	db *sql.DB
	mu sync.Mutex
}

func New(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// ForSession scopes the storage to one wallet on one network. The returned
// store satisfies notify.Store.
func (s *Storage) ForSession(key ordersync.SessionKey) *SessionStore {
	return &SessionStore{parent: s, key: key}
}

// SessionStore is a session-keyed view over the shared sqlite handle.
type SessionStore struct {
	parent *Storage
	key    ordersync.SessionKey
}

// storedNotification is the JSON payload layout. UpdateKey decodes to a
// generic value; notify compares update keys in a representation-tolerant
// way.
type storedNotification struct {
	Type       notify.Type             `json:"type"`
	ID         string                  `json:"id"`
	Status     notify.Status           `json:"status"`
	Timestamps map[notify.Status]int64 `json:"timestamps"`
	UpdateKey  any                     `json:"updateKey,omitempty"`
}

func (ss *SessionStore) LoadNotifications(ctx context.Context) (map[string]notify.Notification, error) {
	ss.parent.mu.Lock()
	defer ss.parent.mu.Unlock()

	rows, err := ss.parent.db.QueryContext(ctx,
		`SELECT key, payload FROM notifications WHERE network = ? AND wallet = ?`,
		string(ss.key.Network), ss.key.Wallet)
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	defer rows.Close()

	out := map[string]notify.Notification{}
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}

		var stored storedNotification
		if err := json.Unmarshal(payload, &stored); err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", key, err)
		}
		out[key] = notify.Notification{
			Key:        notify.Key{Type: stored.Type, ID: stored.ID},
			Status:     stored.Status,
			Timestamps: stored.Timestamps,
			UpdateKey:  stored.UpdateKey,
		}
	}
	return out, rows.Err()
}

// SaveNotifications replaces the session's rows with the given map in one
// transaction.
func (ss *SessionStore) SaveNotifications(ctx context.Context, notifications map[string]notify.Notification) error {
	ss.parent.mu.Lock()
	defer ss.parent.mu.Unlock()

	tx, err := ss.parent.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save notifications: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE network = ? AND wallet = ?`,
		string(ss.key.Network), ss.key.Wallet); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	for key, n := range notifications {
		payload, err := json.Marshal(storedNotification{
			Type:       n.Key.Type,
			ID:         n.Key.ID,
			Status:     n.Status,
			Timestamps: n.Timestamps,
			UpdateKey:  n.UpdateKey,
		})
		if err != nil {
			return fmt.Errorf("encode notification %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notifications (network, wallet, key, payload, updated_at_utc)
			 VALUES (?, ?, ?, ?, ?)`,
			string(ss.key.Network), ss.key.Wallet, key, payload, now); err != nil {
			return fmt.Errorf("insert notification %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (ss *SessionStore) LoadPreferences(ctx context.Context) (*notify.Preferences, error) {
	ss.parent.mu.Lock()
	defer ss.parent.mu.Unlock()

	var payload []byte
	err := ss.parent.db.QueryRowContext(ctx,
		`SELECT payload FROM notification_preferences WHERE network = ? AND wallet = ?`,
		string(ss.key.Network), ss.key.Wallet).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	var prefs notify.Preferences
	if err := json.Unmarshal(payload, &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &prefs, nil
}

func (ss *SessionStore) SavePreferences(ctx context.Context, prefs notify.Preferences) error {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	ss.parent.mu.Lock()
	defer ss.parent.mu.Unlock()

	_, err = ss.parent.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (network, wallet, payload, updated_at_utc)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (network, wallet) DO UPDATE SET
		   payload = excluded.payload,
		   updated_at_utc = excluded.updated_at_utc`,
		string(ss.key.Network), ss.key.Wallet, payload, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// SubmissionRecord is one audited broadcast attempt.
type SubmissionRecord struct {
	ClientID    string
	Action      string
	Work        ordersync.OrderWork
	SubmitError string
	CreatedAt   time.Time
}

// RecordSubmission appends one broadcast attempt to the audit trail.
// submitErr may be nil for a successful broadcast.
func (ss *SessionStore) RecordSubmission(ctx context.Context, w ordersync.OrderWork, submitErr error) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	var errText sql.NullString
	if submitErr != nil {
		errText = sql.NullString{String: submitErr.Error(), Valid: true}
	}

	ss.parent.mu.Lock()
	defer ss.parent.mu.Unlock()

	_, err = ss.parent.db.ExecContext(ctx,
		`INSERT INTO submission_audit (network, wallet, client_id, action, payload, submit_error, created_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ss.key.Network), ss.key.Wallet, w.ClientID.Hex(), w.Action.Type.String(),
		payload, errText, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// RecentSubmissions returns the session's newest audit rows, newest first.
func (ss *SessionStore) RecentSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error) {
	ss.parent.mu.Lock()
	defer ss.parent.mu.Unlock()

	rows, err := ss.parent.db.QueryContext(ctx,
		`SELECT client_id, action, payload, submit_error, created_at_utc
		 FROM submission_audit
		 WHERE network = ? AND wallet = ?
		 ORDER BY created_at_utc DESC, rowid DESC
		 LIMIT ?`,
		string(ss.key.Network), ss.key.Wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []SubmissionRecord
	for rows.Next() {
		var (
			rec       SubmissionRecord
			payload   []byte
			errText   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ClientID, &rec.Action, &payload, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Work); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		rec.SubmitError = errText.String
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
