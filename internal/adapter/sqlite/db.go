// Package sqlite stores the job log, adaptation measures and precalculated
// locations in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	widget       TEXT NOT NULL,
	request      BLOB NOT NULL,
	status       TEXT NOT NULL,
	result       BLOB,
	code         INTEGER,
	message      TEXT,
	submitted_at INTEGER NOT NULL,
	completed_at INTEGER,
	expires_at   INTEGER
);
CREATE INDEX IF NOT EXISTS jobs_submitted_at ON jobs (submitted_at DESC);

CREATE TABLE IF NOT EXISTS measures (
	id                       INTEGER PRIMARY KEY,
	name                     TEXT NOT NULL,
	slug                     TEXT,
	description              TEXT,
	hazard_type              TEXT NOT NULL,
	exposure_type            TEXT,
	cost_type                TEXT NOT NULL DEFAULT 'whole_project',
	cost                     REAL NOT NULL,
	annual_upkeep            REAL NOT NULL DEFAULT 0,
	priority                 TEXT NOT NULL DEFAULT 'even_coverage',
	percentage_coverage      REAL NOT NULL DEFAULT 100,
	percentage_effectiveness REAL NOT NULL DEFAULT 100,
	is_coastal               INTEGER NOT NULL DEFAULT 0,
	max_distance_from_coast  REAL,
	hazard_cutoff            REAL,
	return_period_cutoff     REAL,
	hazard_change_multiplier REAL,
	hazard_change_constant   REAL,
	cobenefits               TEXT NOT NULL DEFAULT '[]',
	units_currency           TEXT NOT NULL,
	units_hazard             TEXT NOT NULL,
	units_distance           TEXT NOT NULL,
	user_generated           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS locations (
	name       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	scale      TEXT,
	country    TEXT,
	country_id TEXT,
	admin1     TEXT,
	admin1_id  TEXT,
	admin2     TEXT,
	admin2_id  TEXT,
	bbox       TEXT
);
CREATE INDEX IF NOT EXISTS locations_id ON locations (id);
`

// DB is an open database with the schema applied.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// An in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// CheckReadiness pings the database.
func (d *DB) CheckReadiness(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Jobs returns the job log.
func (d *DB) Jobs() *JobStore { return &JobStore{db: d.db} }

// Measures returns the measure table.
func (d *DB) Measures() *MeasureStore { return &MeasureStore{db: d.db} }

// Locations returns the precalculated location table.
func (d *DB) Locations() *LocationStore { return &LocationStore{db: d.db} }

// transaction runs fn in a transaction, rolling back if it fails.
func transaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Times are stored as UTC unix microseconds; the zero time is NULL.

func toMicros(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromMicros(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMicro(v.Int64).UTC()
}
