package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
)

const sourceColumns = `id, transaction_id, source_kind, external_id, description, match_confidence,
	match_method, is_primary, user_verified, primary_pinned, created_at`

// ClearUnverifiedSources deletes every unverified source of kind and releases
// the candidates they consumed. Primaries of the touched transactions are
// recomputed and pre-labels left without a source of kind are cleared.
func (s *SQLiteStorage) ClearUnverifiedSources(ctx context.Context, kind model.SourceKind) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		txnIDs, err := queryStrings(ctx, tx,
			`SELECT DISTINCT transaction_id FROM enrichment_sources WHERE source_kind = ? AND user_verified = 0`,
			string(kind))
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE candidates SET consumed_by_match = NULL
			WHERE source_kind = ? AND external_id IN (
				SELECT external_id FROM enrichment_sources WHERE source_kind = ? AND user_verified = 0
			)`, string(kind), string(kind)); err != nil {
			return fmt.Errorf("failed to release candidates: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM enrichment_sources WHERE source_kind = ? AND user_verified = 0`, string(kind))
		if err != nil {
			return fmt.Errorf("failed to delete sources: %w", err)
		}
		deleted, _ = res.RowsAffected()

		for _, id := range txnIDs {
			if err := recomputePrimaryTx(ctx, tx, id); err != nil {
				return err
			}
			if err := clearPrelabelTx(ctx, tx, id, kind); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

// RecordMatch stores a new enrichment source. Inserting the source, consuming
// the candidate and marking the transaction happen atomically.
func (s *SQLiteStorage) RecordMatch(ctx context.Context, src model.EnrichmentSource) (*model.EnrichmentSource, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateSource(&src); err != nil {
		return nil, err
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.now()
	}

	var stored *model.EnrichmentSource
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO enrichment_sources (
				transaction_id, source_kind, external_id, description, match_confidence,
				match_method, is_primary, user_verified, primary_pinned, created_at
			) VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0, ?)`,
			src.TransactionID,
			string(src.Kind),
			src.ExternalID,
			src.Description,
			src.Confidence,
			string(src.Method),
			boolToInt(src.UserVerified),
			src.CreatedAt.UTC(),
		)
		if err != nil {
			return translateWriteError(err, "enrichment source")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read source id: %w", err)
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE candidates SET consumed_by_match = ?
			WHERE source_kind = ? AND external_id = ? AND (consumed_by_match IS NULL OR consumed_by_match = '')`,
			src.TransactionID, string(src.Kind), src.ExternalID)
		if err != nil {
			return fmt.Errorf("failed to consume candidate: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: candidate %s/%s is missing or already consumed",
				common.ErrDuplicateMatch, src.Kind, src.ExternalID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET pre_enrichment_status = ? WHERE id = ?`,
			string(model.MatchedStatus(src.Kind)), src.TransactionID); err != nil {
			return fmt.Errorf("failed to mark transaction matched: %w", err)
		}

		if err := recomputePrimaryTx(ctx, tx, src.TransactionID); err != nil {
			return err
		}

		stored, err = scanSource(tx.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM enrichment_sources WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetSource loads one source by id.
func (s *SQLiteStorage) GetSource(ctx context.Context, id int64) (*model.EnrichmentSource, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	src, err := scanSource(s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM enrichment_sources WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("source", strconv.FormatInt(id, 10))
	}
	return src, err
}

// ListSources returns a transaction's sources, primary first.
func (s *SQLiteStorage) ListSources(ctx context.Context, transactionID string) ([]model.EnrichmentSource, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM enrichment_sources
		WHERE transaction_id = ?
		ORDER BY is_primary DESC, match_confidence DESC, created_at, id`, transactionID)
}

// ListSourcesByKind returns every source of kind ordered by transaction.
func (s *SQLiteStorage) ListSourcesByKind(ctx context.Context, kind model.SourceKind) ([]model.EnrichmentSource, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM enrichment_sources
		WHERE source_kind = ?
		ORDER BY transaction_id, id`, string(kind))
}

// GetPrimarySource returns the primary source of a transaction.
func (s *SQLiteStorage) GetPrimarySource(ctx context.Context, transactionID string) (*model.EnrichmentSource, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	src, err := scanSource(s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM enrichment_sources
		WHERE transaction_id = ? AND is_primary = 1`, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("primary source", transactionID)
	}
	return src, err
}

// RecomputePrimary re-derives the primary flag for one transaction.
func (s *SQLiteStorage) RecomputePrimary(ctx context.Context, transactionID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return recomputePrimaryTx(ctx, tx, transactionID)
	})
}

// VerifySource marks a source as confirmed by the user. Verified sources
// survive re-matching.
func (s *SQLiteStorage) VerifySource(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE enrichment_sources SET user_verified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to verify source: %w", err)
	}
	return requireAffected(res, "source", strconv.FormatInt(id, 10))
}

// SetPrimarySource pins the user's chosen source as primary. The choice
// implies verification.
func (s *SQLiteStorage) SetPrimarySource(ctx context.Context, transactionID string, sourceID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT transaction_id FROM enrichment_sources WHERE id = ?`, sourceID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != transactionID) {
			return common.NewNotFoundError("source", strconv.FormatInt(sourceID, 10))
		}
		if err != nil {
			return fmt.Errorf("failed to load source: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE enrichment_sources SET is_primary = 0, primary_pinned = 0 WHERE transaction_id = ?`,
			transactionID); err != nil {
			return fmt.Errorf("failed to reset primary: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE enrichment_sources SET is_primary = 1, primary_pinned = 1, user_verified = 1 WHERE id = ?`,
			sourceID); err != nil {
			return fmt.Errorf("failed to set primary: %w", err)
		}
		return nil
	})
}

// DeleteSource unlinks an unverified source and releases its candidate. A
// pre-label copied from the last source of that kind is cleared with it.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		src, err := scanSource(tx.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM enrichment_sources WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return common.NewNotFoundError("source", strconv.FormatInt(id, 10))
		}
		if err != nil {
			return err
		}
		if src.UserVerified {
			return fmt.Errorf("%w: source %d", ErrVerifiedSource, id)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE candidates SET consumed_by_match = NULL WHERE source_kind = ? AND external_id = ?`,
			string(src.Kind), src.ExternalID); err != nil {
			return fmt.Errorf("failed to release candidate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM enrichment_sources WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete source: %w", err)
		}
		if err := recomputePrimaryTx(ctx, tx, src.TransactionID); err != nil {
			return err
		}
		return clearPrelabelTx(ctx, tx, src.TransactionID, src.Kind)
	})
}

// clearPrelabelTx wipes a categorization the matcher copied from a source of
// kind once the transaction has no source of that kind left. Categorizations
// from providers or manual edits are untouched.
func clearPrelabelTx(ctx context.Context, tx *sql.Tx, transactionID string, kind model.SourceKind) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions SET
			category = NULL, subcategory = NULL, merchant_name = NULL, category_confidence = NULL,
			is_essential = 0, categorized_by = NULL, categorized_model = NULL, enriched_at = NULL
		WHERE id = ? AND categorized_by = ? AND categorized_model = ?
			AND NOT EXISTS (
				SELECT 1 FROM enrichment_sources WHERE transaction_id = ? AND source_kind = ?
			)`,
		transactionID, model.PrelabelProvider, string(kind), transactionID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to clear pre-label: %w", err)
	}
	return nil
}

// recomputePrimaryTx picks the pinned source if one exists, otherwise the
// highest confidence, breaking ties by the earliest created source.
func recomputePrimaryTx(ctx context.Context, tx *sql.Tx, transactionID string) error {
	var winner int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM enrichment_sources
		WHERE transaction_id = ?
		ORDER BY primary_pinned DESC, match_confidence DESC, created_at, id
		LIMIT 1`, transactionID).Scan(&winner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to select primary source: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE enrichment_sources SET is_primary = 0 WHERE transaction_id = ? AND id != ?`,
		transactionID, winner); err != nil {
		return fmt.Errorf("failed to reset primary: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE enrichment_sources SET is_primary = 1 WHERE id = ?`, winner); err != nil {
		return fmt.Errorf("failed to set primary: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) querySources(ctx context.Context, query string, args ...any) ([]model.EnrichmentSource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.EnrichmentSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

func scanSource(row rowScanner) (*model.EnrichmentSource, error) {
	var (
		src                       model.EnrichmentSource
		kind, method              string
		primary, verified, pinned int
	)
	err := row.Scan(&src.ID, &src.TransactionID, &kind, &src.ExternalID, &src.Description,
		&src.Confidence, &method, &primary, &verified, &pinned, &src.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}
	src.Kind = model.SourceKind(kind)
	src.Method = model.MatchMethod(method)
	src.IsPrimary = primary == 1
	src.UserVerified = verified == 1
	src.PrimaryPinned = pinned == 1
	src.CreatedAt = src.CreatedAt.UTC()
	return &src, nil
}

func queryStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
