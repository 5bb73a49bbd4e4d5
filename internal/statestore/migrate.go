package statestore

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending goose migration embedded in this package
// to db, covering both item_snapshots and tracking_records.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.ConfigurationError("goose dialect", err.Error())
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return apperrors.DatabaseError("run migrations", err)
	}
	return nil
}
