package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
)

// GetCacheEntry returns common.ErrCacheMiss when the fingerprint is unknown.
func (s *SQLiteStorage) GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		e                     model.CacheEntry
		subcategory, merchant sql.NullString
		essential             int
		cost                  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, provider, model, category, subcategory, merchant_name,
			confidence, is_essential, tokens, cost, created_at
		FROM enrichment_cache WHERE fingerprint = ?`, fingerprint).Scan(
		&e.Fingerprint, &e.Provider, &e.Model, &e.Categorization.Category, &subcategory, &merchant,
		&e.Categorization.Confidence, &essential, &e.Tokens, &cost, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	e.CreatedAt = e.CreatedAt.UTC()
	e.Categorization.Subcategory = subcategory.String
	e.Categorization.MerchantName = merchant.String
	e.Categorization.IsEssential = essential == 1
	e.Categorization.Provider = e.Provider
	e.Categorization.Model = e.Model
	if e.Cost, err = parseDecimal(cost); err != nil {
		return nil, err
	}
	return &e, nil
}

// PutCacheEntry writes an entry, replacing any previous result for the fingerprint.
func (s *SQLiteStorage) PutCacheEntry(ctx context.Context, e model.CacheEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(e.Fingerprint, "fingerprint"); err != nil {
		return err
	}
	if err := validateString(e.Categorization.Category, "category"); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_cache (
			fingerprint, provider, model, category, subcategory, merchant_name,
			confidence, is_essential, tokens, cost, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			category = excluded.category,
			subcategory = excluded.subcategory,
			merchant_name = excluded.merchant_name,
			confidence = excluded.confidence,
			is_essential = excluded.is_essential,
			tokens = excluded.tokens,
			cost = excluded.cost,
			created_at = excluded.created_at`,
		e.Fingerprint,
		e.Provider,
		e.Model,
		e.Categorization.Category,
		nullString(e.Categorization.Subcategory),
		nullString(e.Categorization.MerchantName),
		e.Categorization.Confidence,
		boolToInt(e.Categorization.IsEssential),
		e.Tokens,
		e.Cost.String(),
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// CacheStats reports entry counts, approximate payload size and pending retries.
func (s *SQLiteStorage) CacheStats(ctx context.Context) (model.CacheStats, error) {
	stats := model.CacheStats{Providers: make(map[string]int)}
	if err := validateContext(ctx); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COUNT(*),
			COALESCE(SUM(LENGTH(fingerprint) + LENGTH(provider) + LENGTH(model) + LENGTH(category)
				+ LENGTH(COALESCE(subcategory, '')) + LENGTH(COALESCE(merchant_name, '')) + LENGTH(cost)), 0)
		FROM enrichment_cache GROUP BY provider`)
	if err != nil {
		return stats, fmt.Errorf("failed to query cache stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			provider string
			count    int
			size     int64
		)
		if err := rows.Scan(&provider, &count, &size); err != nil {
			return stats, fmt.Errorf("failed to scan cache stats: %w", err)
		}
		stats.Providers[provider] = count
		stats.TotalCached += count
		stats.SizeBytes += size
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_enrichments`).Scan(&stats.PendingRetries); err != nil {
		return stats, fmt.Errorf("failed to count failures: %w", err)
	}
	return stats, nil
}

// ClearCache deletes every cache entry.
func (s *SQLiteStorage) ClearCache(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM enrichment_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return res.RowsAffected()
}
