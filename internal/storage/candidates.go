package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
)

const candidateColumns = `source_kind, external_id, date, amount, description, payload, consumed_by_match`

// SaveCandidates upserts candidate records. Re-importing a record refreshes its
// fields but keeps its consumed_by_match back-reference.
func (s *SQLiteStorage) SaveCandidates(ctx context.Context, candidates []model.CandidateRecord) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateCandidates(candidates); err != nil {
		return 0, err
	}

	written := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candidates (source_kind, external_id, date, amount, description, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_kind, external_id) DO UPDATE SET
				date = excluded.date,
				amount = excluded.amount,
				description = excluded.description,
				payload = excluded.payload
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, c := range candidates {
			payload, err := model.MarshalPayload(c.Payload)
			if err != nil {
				return fmt.Errorf("candidate %s: %w", c.ExternalID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				string(c.Kind),
				c.ExternalID,
				c.Date.UTC(),
				c.Amount.String(),
				c.Description,
				string(payload),
			); err != nil {
				return fmt.Errorf("failed to save candidate %s: %w", c.ExternalID, err)
			}
			written++
		}
		return nil
	})
	return written, err
}

// GetCandidate loads one candidate record.
func (s *SQLiteStorage) GetCandidate(ctx context.Context, kind model.SourceKind, externalID string) (*model.CandidateRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE source_kind = ? AND external_id = ?`,
		string(kind), externalID)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("candidate", string(kind)+"/"+externalID)
	}
	return c, err
}

// ListCandidates returns the pool for kind ordered by date, then external id.
func (s *SQLiteStorage) ListCandidates(ctx context.Context, kind model.SourceKind, unconsumedOnly bool) ([]model.CandidateRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	query := `SELECT ` + candidateColumns + ` FROM candidates WHERE source_kind = ?`
	if unconsumedOnly {
		query += ` AND (consumed_by_match IS NULL OR consumed_by_match = '')`
	}
	query += ` ORDER BY date, external_id`

	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.CandidateRecord
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCandidate(row rowScanner) (*model.CandidateRecord, error) {
	var (
		c              model.CandidateRecord
		kind, amount   string
		payload, taken sql.NullString
	)
	if err := row.Scan(&kind, &c.ExternalID, &c.Date, &amount, &c.Description, &payload, &taken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}
	c.Kind = model.SourceKind(kind)
	c.Date = c.Date.UTC()
	c.ConsumedByMatch = taken.String

	var err error
	if c.Amount, err = parseDecimal(amount); err != nil {
		return nil, fmt.Errorf("candidate %s: %w", c.ExternalID, err)
	}
	if c.Payload, err = model.UnmarshalPayload(c.Kind, []byte(payload.String)); err != nil {
		return nil, err
	}
	return &c, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad decimal %q", common.ErrDatabaseCorrupted, s)
	}
	return d, nil
}
