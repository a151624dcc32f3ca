package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema for the results database.
const schemaV1 = `
-- One row per simulation run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    status TEXT NOT NULL,       -- 'running', 'complete', 'failed'
    screening TEXT NOT NULL,    -- 'biennial', 'cross-validation'
    compliance REAL NOT NULL,
    sensitivity REAL NOT NULL,
    clinical_rate REAL NOT NULL,
    population INTEGER NOT NULL,
    iterations INTEGER NOT NULL,
    workers INTEGER NOT NULL DEFAULT 0,
    round_ages TEXT NOT NULL,   -- JSON array
    table_path TEXT,
    params_path TEXT,
    labels TEXT                 -- JSON object
);

-- Scalar counters and averages of one iteration
CREATE TABLE IF NOT EXISTS summaries (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    iteration INTEGER NOT NULL,
    population INTEGER NOT NULL,
    mammograms INTEGER NOT NULL,
    deaths INTEGER NOT NULL,
    death_age_sum INTEGER NOT NULL,
    regressions INTEGER NOT NULL,
    invasive INTEGER NOT NULL,
    screen_detected INTEGER NOT NULL,
    screen_age_sum INTEGER NOT NULL,
    clinically_detected INTEGER NOT NULL,
    clinical_age_sum INTEGER NOT NULL,
    survivors INTEGER NOT NULL,
    avg_death_age REAL,         -- NULL when there were no deaths
    avg_screen_age REAL,
    avg_clinical_age REAL,
    PRIMARY KEY (run_id, iteration)
);

-- Per-grade counters: kind is 'onset', 'invasive', 'screen' or 'clinical'
CREATE TABLE IF NOT EXISTS grade_counts (
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    kind TEXT NOT NULL,
    grade INTEGER NOT NULL,
    n INTEGER NOT NULL,
    PRIMARY KEY (run_id, iteration, kind, grade),
    FOREIGN KEY (run_id, iteration) REFERENCES summaries(run_id, iteration) ON DELETE CASCADE
);

-- Age bucket x grade counters, non-zero cells only
CREATE TABLE IF NOT EXISTS bucket_counts (
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    kind TEXT NOT NULL,         -- 'invasive', 'screen', 'clinical'
    bucket INTEGER NOT NULL,
    grade INTEGER NOT NULL,
    n INTEGER NOT NULL,
    PRIMARY KEY (run_id, iteration, kind, bucket, grade),
    FOREIGN KEY (run_id, iteration) REFERENCES summaries(run_id, iteration) ON DELETE CASCADE
);

-- Per screening round counters
CREATE TABLE IF NOT EXISTS round_counts (
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    round INTEGER NOT NULL,
    age INTEGER NOT NULL,
    mammograms INTEGER NOT NULL,
    screen_detected INTEGER NOT NULL,
    PRIMARY KEY (run_id, iteration, round),
    FOREIGN KEY (run_id, iteration) REFERENCES summaries(run_id, iteration) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema initializes the database schema.
// It creates all tables and applies migrations as needed.
// Runs integrity validation before migrations on existing databases.
func InitSchema(ctx context.Context, db *sql.DB) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		// Schema version table doesn't exist yet, create fresh schema
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	if currentVersion < SchemaVersion {
		if err := migrateSchema(ctx, db, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version from the database.
// Returns 0 and an error if the schema_version table doesn't exist.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// createSchema creates the initial database schema.
func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// migrateSchema applies migrations from currentVersion to SchemaVersion.
func migrateSchema(ctx context.Context, db *sql.DB, currentVersion int) error {
	// Only one version so far.
	_ = ctx
	_ = db
	_ = currentVersion
	return nil
}

// ValidateIntegrity runs SQLite integrity checks on the database.
// It runs PRAGMA integrity_check and PRAGMA foreign_key_check.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read integrity_check result: %w", err)
	}

	fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer fkRows.Close()

	var fkErrors []string
	for fkRows.Next() {
		var table, parent string
		var rowid sql.NullInt64
		var fkid int
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign_key_check result: %w", err)
		}
		fkErrors = append(fkErrors, fmt.Sprintf("table=%s rowid=%d parent=%s fkid=%d", table, rowid.Int64, parent, fkid))
	}

	if len(fkErrors) > 0 {
		return fmt.Errorf("foreign_key_check failed: %v", fkErrors)
	}

	return nil
}
