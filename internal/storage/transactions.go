package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/service"
)

const transactionColumns = `id, account_id, date, amount, raw_description, direction,
	pre_enrichment_status, category, subcategory, merchant_name, category_confidence,
	is_essential, categorized_by, categorized_model, enriched_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// SaveTransactions inserts transactions, ignoring ids that already exist.
// It returns the number of new rows.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.BankTransaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateTransactions(transactions); err != nil {
		return 0, err
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO transactions (id, account_id, date, amount, raw_description, direction)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txn := range transactions {
			res, err := stmt.ExecContext(ctx,
				txn.ID,
				txn.AccountID,
				txn.Date.UTC(),
				txn.Amount.String(),
				txn.RawDescription,
				string(txn.Direction),
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// GetTransaction loads one transaction.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("transaction", id)
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ListTransactions returns transactions ordered by date, then id.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.Uncategorized {
		where = append(where, "(category IS NULL OR category = '')")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.BankTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

// UpdatePreEnrichmentStatus records the last matching outcome.
func (s *SQLiteStorage) UpdatePreEnrichmentStatus(ctx context.Context, id string, status model.PreEnrichmentStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET pre_enrichment_status = ? WHERE id = ?`,
		nullString(string(status)), id)
	if err != nil {
		return fmt.Errorf("failed to update pre-enrichment status: %w", err)
	}
	return requireAffected(res, "transaction", id)
}

// ApplyCategorization writes enrichment fields onto a transaction.
func (s *SQLiteStorage) ApplyCategorization(ctx context.Context, id string, c model.Categorization) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(c.Category, "category"); err != nil {
		return err
	}
	enrichedAt := c.EnrichedAt
	if enrichedAt.IsZero() {
		enrichedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			category = ?, subcategory = ?, merchant_name = ?, category_confidence = ?,
			is_essential = ?, categorized_by = ?, categorized_model = ?, enriched_at = ?
		WHERE id = ?`,
		c.Category,
		nullString(c.Subcategory),
		nullString(c.MerchantName),
		c.Confidence,
		boolToInt(c.IsEssential),
		nullString(c.Provider),
		nullString(c.Model),
		enrichedAt.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to apply categorization: %w", err)
	}
	return requireAffected(res, "transaction", id)
}

// ClearCategorizations wipes enrichment fields on every categorized transaction.
func (s *SQLiteStorage) ClearCategorizations(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			category = NULL, subcategory = NULL, merchant_name = NULL, category_confidence = NULL,
			is_essential = 0, categorized_by = NULL, categorized_model = NULL, enriched_at = NULL
		WHERE category IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear categorizations: %w", err)
	}
	return res.RowsAffected()
}

func scanTransaction(row rowScanner) (*model.BankTransaction, error) {
	var (
		txn                                     model.BankTransaction
		amount, direction                       string
		status, category, subcategory, merchant sql.NullString
		provider, modelName                     sql.NullString
		confidence                              sql.NullFloat64
		essential                               int
		enrichedAt                              sql.NullTime
	)
	err := row.Scan(
		&txn.ID, &txn.AccountID, &txn.Date, &amount, &txn.RawDescription, &direction,
		&status, &category, &subcategory, &merchant, &confidence,
		&essential, &provider, &modelName, &enrichedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Amount, err = parseDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txn.ID, err)
	}
	txn.Date = txn.Date.UTC()
	txn.Direction = model.Direction(direction)
	txn.PreEnrichmentStatus = model.PreEnrichmentStatus(status.String)
	if category.Valid && category.String != "" {
		txn.Categorization = &model.Categorization{
			Category:     category.String,
			Subcategory:  subcategory.String,
			MerchantName: merchant.String,
			Confidence:   confidence.Float64,
			IsEssential:  essential == 1,
			Provider:     provider.String,
			Model:        modelName.String,
		}
		if enrichedAt.Valid {
			txn.Categorization.EnrichedAt = enrichedAt.Time.UTC()
		}
	}
	return &txn, nil
}

func requireAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return common.NewNotFoundError(entity, id)
	}
	return nil
}
