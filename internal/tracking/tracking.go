// Package tracking persists TrackingRecords -- the external tracking
// list's mirror of each live Subscription, with a human-readable
// description and a running notification counter.
package tracking

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
)

// Status values a TrackingRecord can hold.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Record mirrors one row of the tracking_records table.
type Record struct {
	SubscriptionID     string    `db:"subscription_id"`
	Resource           string    `db:"resource"`
	ClientState        string    `db:"client_state"`
	ExpiresAt          time.Time `db:"expires_at"`
	Description        string    `db:"description"`
	NotificationCount  int64     `db:"notification_count"`
	Status             string    `db:"status"`
}

// Store is a Postgres-backed TrackingRecord store.
type Store struct {
	db *sqlx.DB
}

// New wraps an existing *sql.DB (pgx/v5 stdlib driver) for sqlx access.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx")}
}

// Upsert inserts or replaces the tracking record for subscriptionID.
func (s *Store) Upsert(ctx context.Context, r Record) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tracking_records (subscription_id, resource, client_state, expires_at, description, notification_count, status)
		VALUES (:subscription_id, :resource, :client_state, :expires_at, :description, :notification_count, :status)
		ON CONFLICT (subscription_id) DO UPDATE SET
			resource = EXCLUDED.resource,
			client_state = EXCLUDED.client_state,
			expires_at = EXCLUDED.expires_at,
			description = EXCLUDED.description,
			status = EXCLUDED.status`, r)
	if err != nil {
		return apperrors.DatabaseError("upsert tracking record", err)
	}
	return nil
}

// MarkDeleted flips a tracking record's status to deleted without removing
// the row, preserving its notification history.
func (s *Store) MarkDeleted(ctx context.Context, subscriptionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracking_records SET status = $1 WHERE subscription_id = $2`,
		StatusDeleted, subscriptionID)
	if err != nil {
		return apperrors.DatabaseError("mark tracking record deleted", err)
	}
	return nil
}

// IncrementNotificationCount bumps the running counter for subscriptionID,
// fire-and-forget per §4.1 step 8: callers log failures but never surface
// them to the caller.
func (s *Store) IncrementNotificationCount(ctx context.Context, subscriptionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracking_records SET notification_count = notification_count + 1 WHERE subscription_id = $1`,
		subscriptionID)
	if err != nil {
		return apperrors.DatabaseError("increment notification count", err)
	}
	return nil
}

// List returns every tracking record, active and deleted, for the
// reconciler to diff against live subscriptions.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.db.SelectContext(ctx, &records, `SELECT * FROM tracking_records`)
	if err != nil {
		return nil, apperrors.DatabaseError("list tracking records", err)
	}
	return records, nil
}

// Get loads a single tracking record by subscription id.
func (s *Store) Get(ctx context.Context, subscriptionID string) (Record, bool, error) {
	var record Record
	err := s.db.GetContext(ctx, &record, `SELECT * FROM tracking_records WHERE subscription_id = $1`, subscriptionID)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, apperrors.DatabaseError("get tracking record", err)
	}
	return record, true, nil
}
