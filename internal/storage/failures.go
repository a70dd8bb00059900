package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
)

// RecordFailure creates a failure record with retry_count 0, or bumps the
// retry_count of an existing one by exactly 1.
func (s *SQLiteStorage) RecordFailure(ctx context.Context, f model.FailedEnrichment) (*model.FailedEnrichment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(f.TransactionID, "transaction_id"); err != nil {
		return nil, err
	}
	if f.LastAttemptAt.IsZero() {
		f.LastAttemptAt = s.now()
	}

	var stored *model.FailedEnrichment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO failed_enrichments (transaction_id, error_kind, error_message, provider, retry_count, last_attempt_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT (transaction_id) DO UPDATE SET
				error_kind = excluded.error_kind,
				error_message = excluded.error_message,
				provider = excluded.provider,
				retry_count = failed_enrichments.retry_count + 1,
				last_attempt_at = excluded.last_attempt_at`,
			f.TransactionID, string(f.ErrorKind), f.ErrorMessage, f.Provider, f.LastAttemptAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to record enrichment failure: %w", err)
		}

		var err error
		stored, err = scanFailure(tx.QueryRowContext(ctx, `
			SELECT transaction_id, error_kind, error_message, provider, retry_count, last_attempt_at
			FROM failed_enrichments WHERE transaction_id = ?`, f.TransactionID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteFailure removes a failure record after a successful retry.
func (s *SQLiteStorage) DeleteFailure(ctx context.Context, transactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM failed_enrichments WHERE transaction_id = ?`, transactionID); err != nil {
		return fmt.Errorf("failed to delete enrichment failure: %w", err)
	}
	return nil
}

// ListFailures returns records with retry_count below maxRetryCount, oldest
// attempt first. A non-positive maxRetryCount or limit disables that bound.
func (s *SQLiteStorage) ListFailures(ctx context.Context, maxRetryCount, limit int) ([]model.FailedEnrichment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT transaction_id, error_kind, error_message, provider, retry_count, last_attempt_at
		FROM failed_enrichments`
	var args []any
	if maxRetryCount > 0 {
		query += ` WHERE retry_count < ?`
		args = append(args, maxRetryCount)
	}
	query += ` ORDER BY last_attempt_at, transaction_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrichment failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FailedEnrichment
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// CountFailures counts records whose retry_count is at least minRetryCount.
func (s *SQLiteStorage) CountFailures(ctx context.Context, minRetryCount int) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_enrichments WHERE retry_count >= ?`, minRetryCount).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count enrichment failures: %w", err)
	}
	return n, nil
}

// ClearFailures deletes every failure record.
func (s *SQLiteStorage) ClearFailures(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_enrichments`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear enrichment failures: %w", err)
	}
	return res.RowsAffected()
}

func scanFailure(row rowScanner) (*model.FailedEnrichment, error) {
	var (
		f    model.FailedEnrichment
		kind string
	)
	err := row.Scan(&f.TransactionID, &kind, &f.ErrorMessage, &f.Provider, &f.RetryCount, &f.LastAttemptAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("failed enrichment", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan enrichment failure: %w", err)
	}
	f.ErrorKind = model.ErrorKind(kind)
	f.LastAttemptAt = f.LastAttemptAt.UTC()
	return &f, nil
}
