// Package statestore persists ItemSnapshots -- the per-item field-map
// baseline ChangeDetector diffs against -- in Postgres, keyed by a
// normalized resource path plus item id.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
)

// maxFieldsJSONBytes is the ~64 KiB row size cap assumed by §4.2.
const maxFieldsJSONBytes = 64 * 1024

// lowPriorityFields are trimmed first when an encoded snapshot exceeds
// maxFieldsJSONBytes -- platform system-metadata columns carry the least
// operational value relative to their size.
var lowPriorityFields = []string{
	"OData__UIVersionString", "GUID", "owshiddenversion", "ContentTypeId",
	"_ComplianceFlags", "_ComplianceTag", "_ComplianceTagWrittenTime",
	"_ComplianceTagUserId", "WorkflowVersion", "FileSystemObjectType",
}

var nonSafeKeyChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// normalize derives a table-key-safe partition value from a resource path,
// replacing characters the underlying key columns forbid (":", "/") with
// "_". Implementations must never change this function: it is depended on
// by every previously-stored row.
func normalize(resource string) string {
	return nonSafeKeyChar.ReplaceAllString(resource, "_")
}

// Store is a Postgres-backed ItemSnapshot store.
type Store struct {
	db *sqlx.DB
}

// New wraps an existing *sql.DB (pgx/v5 stdlib driver) for sqlx access.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx")}
}

type snapshotRow struct {
	ResourceKey string    `db:"resource_key"`
	ItemID      string    `db:"item_id"`
	FieldsJSON  string    `db:"fields_json"`
	CapturedAt  time.Time `db:"captured_at"`
	Version     sql.NullString `db:"version"`
}

// Get loads the current snapshot for (resource, itemID). found is false
// when no row exists.
func (s *Store) Get(ctx context.Context, resource, itemID string) (map[string]interface{}, bool, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row,
		`SELECT resource_key, item_id, fields_json, captured_at, version
		 FROM item_snapshots WHERE resource_key = $1 AND item_id = $2`,
		normalize(resource), rowKey(itemID))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.DatabaseError("get snapshot from item_snapshots", err)
	}

	fields := map[string]interface{}{}
	if err := json.Unmarshal([]byte(row.FieldsJSON), &fields); err != nil {
		return nil, false, apperrors.ParseError("snapshot fields_json", "json", err)
	}
	return fields, true, nil
}

// Put idempotently replaces the snapshot for (resource, itemID). Oversize
// payloads are trimmed of low-priority system-metadata fields before
// encoding, preferring data loss on rarely-read columns over a write
// failure.
func (s *Store) Put(ctx context.Context, resource, itemID string, fields map[string]interface{}) error {
	encoded, err := encodeWithTrim(fields)
	if err != nil {
		return apperrors.Wrapf(err, "failed to encode snapshot fields for item %s", itemID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO item_snapshots (resource_key, item_id, fields_json, captured_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (resource_key, item_id)
		DO UPDATE SET fields_json = EXCLUDED.fields_json, captured_at = EXCLUDED.captured_at`,
		normalize(resource), rowKey(itemID), encoded)
	if err != nil {
		return apperrors.DatabaseError("put snapshot into item_snapshots", err)
	}
	return nil
}

// BatchInit seeds many snapshots for a resource in one call, used by the
// baseline-initialization endpoint.
func (s *Store) BatchInit(ctx context.Context, resource string, fieldsByID map[string]map[string]interface{}) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError("begin batch_init transaction", err)
	}
	defer tx.Rollback()

	for itemID, fields := range fieldsByID {
		encoded, err := encodeWithTrim(fields)
		if err != nil {
			return apperrors.Wrapf(err, "failed to encode snapshot fields for item %s", itemID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_snapshots (resource_key, item_id, fields_json, captured_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (resource_key, item_id)
			DO UPDATE SET fields_json = EXCLUDED.fields_json, captured_at = EXCLUDED.captured_at`,
			normalize(resource), rowKey(itemID), encoded); err != nil {
			return apperrors.DatabaseError("insert batch_init snapshot into item_snapshots", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError("commit batch_init transaction", err)
	}
	return nil
}

func rowKey(itemID string) string {
	return "item_" + itemID
}

// encodeWithTrim JSON-encodes fields, dropping lowPriorityFields one at a
// time (in listed order) until the result fits maxFieldsJSONBytes.
func encodeWithTrim(fields map[string]interface{}) (string, error) {
	working := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		working[k] = v
	}

	encoded, err := json.Marshal(working)
	if err != nil {
		return "", err
	}

	for _, trimField := range lowPriorityFields {
		if len(encoded) <= maxFieldsJSONBytes {
			break
		}
		if _, present := working[trimField]; !present {
			continue
		}
		delete(working, trimField)
		encoded, err = json.Marshal(working)
		if err != nil {
			return "", err
		}
	}
	return string(encoded), nil
}
