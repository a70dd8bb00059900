package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Ledger and candidate records",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL DEFAULT '',
					date DATETIME NOT NULL,
					amount TEXT NOT NULL,
					raw_description TEXT NOT NULL,
					direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
					pre_enrichment_status TEXT,
					category TEXT,
					subcategory TEXT,
					merchant_name TEXT,
					category_confidence REAL,
					is_essential INTEGER NOT NULL DEFAULT 0,
					categorized_by TEXT,
					categorized_model TEXT,
					enriched_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date, id)`,
				`CREATE INDEX idx_transactions_direction ON transactions(direction)`,

				`CREATE TABLE IF NOT EXISTS candidates (
					source_kind TEXT NOT NULL,
					external_id TEXT NOT NULL,
					date DATETIME NOT NULL,
					amount TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					payload TEXT,
					consumed_by_match TEXT,
					imported_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (source_kind, external_id)
				)`,
				`CREATE INDEX idx_candidates_kind_consumed ON candidates(source_kind, consumed_by_match)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Enrichment sources with matching uniqueness",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS enrichment_sources (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL REFERENCES transactions(id),
					source_kind TEXT NOT NULL,
					external_id TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					match_confidence INTEGER NOT NULL CHECK (match_confidence BETWEEN 0 AND 100),
					match_method TEXT NOT NULL,
					is_primary INTEGER NOT NULL DEFAULT 0,
					user_verified INTEGER NOT NULL DEFAULT 0,
					primary_pinned INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					UNIQUE (transaction_id, source_kind),
					UNIQUE (source_kind, external_id)
				)`,
				`CREATE UNIQUE INDEX idx_sources_one_primary ON enrichment_sources(transaction_id) WHERE is_primary = 1`,
				`CREATE INDEX idx_sources_kind_verified ON enrichment_sources(source_kind, user_verified)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Enrichment cache and failure records",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS enrichment_cache (
					fingerprint TEXT PRIMARY KEY,
					provider TEXT NOT NULL,
					model TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL,
					subcategory TEXT,
					merchant_name TEXT,
					confidence REAL NOT NULL DEFAULT 0,
					is_essential INTEGER NOT NULL DEFAULT 0,
					tokens INTEGER NOT NULL DEFAULT 0,
					cost TEXT NOT NULL DEFAULT '0',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_cache_provider ON enrichment_cache(provider)`,

				`CREATE TABLE IF NOT EXISTS failed_enrichments (
					transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
					error_kind TEXT NOT NULL,
					error_message TEXT NOT NULL,
					provider TEXT NOT NULL DEFAULT '',
					retry_count INTEGER NOT NULL DEFAULT 0,
					last_attempt_at DATETIME NOT NULL
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Async jobs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL CHECK (kind IN ('match', 'enrich', 'sync')),
					resource TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('pending', 'queued', 'running', 'completed', 'failed')),
					processed INTEGER NOT NULL DEFAULT 0,
					total INTEGER NOT NULL DEFAULT 0,
					successful INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					total_tokens INTEGER NOT NULL DEFAULT 0,
					total_cost TEXT NOT NULL DEFAULT '0',
					error_message TEXT,
					created_at DATETIME NOT NULL,
					started_at DATETIME,
					completed_at DATETIME
				)`,
				`CREATE INDEX idx_jobs_kind_status ON jobs(kind, status)`,
				`CREATE INDEX idx_jobs_created ON jobs(created_at)`,
			})
		},
	},
	{
		Version:     5,
		Description: "Job ownership and heartbeats",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE jobs ADD COLUMN owner TEXT NOT NULL DEFAULT ''`,
				`ALTER TABLE jobs ADD COLUMN heartbeat_at INTEGER NOT NULL DEFAULT 0`,
				`CREATE INDEX idx_jobs_owner_status ON jobs(owner, status)`,
			})
		},
	},
}

// Migrate runs all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reads the applied migration version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
