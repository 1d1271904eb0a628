// Package migrate brings a workspace database up to the current
// schema. Upgrades are ordered SQL steps; the applied count lives in a
// single-row schema_version table so reopening a workspace is a no-op.
package migrate

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed sql/001_init.sql
var initSchema string

// steps holds every schema upgrade in order. A database at version n
// has steps[:n] applied; appending a step here is the whole migration
// story.
var steps = []string{
	initSchema,
}

// Migrate applies any pending schema steps inside one transaction.
func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	version := 0
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch err {
	case nil:
	case sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	default:
		return fmt.Errorf("read schema_version: %w", err)
	}
	if version > len(steps) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", version, len(steps))
	}

	for n := version; n < len(steps); n++ {
		if _, err := tx.Exec(steps[n]); err != nil {
			return fmt.Errorf("schema step %d: %w", n+1, err)
		}
	}
	if version < len(steps) {
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, len(steps)); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}
	return tx.Commit()
}
