package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheEntry(fp, provider, category string) model.CacheEntry {
	return model.CacheEntry{
		Fingerprint: fp,
		Provider:    provider,
		Model:       "m1",
		Categorization: model.Categorization{
			Category:     category,
			Subcategory:  "General",
			MerchantName: "Shop",
			Confidence:   0.8,
			IsEssential:  true,
		},
		Tokens:    120,
		Cost:      decimal.RequireFromString("0.00042"),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCache_RoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetCacheEntry(ctx, "fp1")
	assert.ErrorIs(t, err, common.ErrCacheMiss)

	want := cacheEntry("fp1", "anthropic", "Shopping")
	require.NoError(t, store.PutCacheEntry(ctx, want))

	got, err := store.GetCacheEntry(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, want.Fingerprint, got.Fingerprint)
	assert.Equal(t, want.Categorization.Category, got.Categorization.Category)
	assert.Equal(t, want.Categorization.MerchantName, got.Categorization.MerchantName)
	assert.True(t, got.Categorization.IsEssential)
	assert.Equal(t, want.Tokens, got.Tokens)
	assert.True(t, want.Cost.Equal(got.Cost))
	assert.Equal(t, want.CreatedAt, got.CreatedAt)
}

func TestCache_PutOverwrites(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.PutCacheEntry(ctx, cacheEntry("fp1", "anthropic", "Shopping")))
	require.NoError(t, store.PutCacheEntry(ctx, cacheEntry("fp1", "anthropic", "Groceries")))

	got, err := store.GetCacheEntry(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Categorization.Category)
}

func TestCache_StatsAndClear(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.PutCacheEntry(ctx, cacheEntry("fp1", "anthropic", "Shopping")))
	require.NoError(t, store.PutCacheEntry(ctx, cacheEntry("fp2", "anthropic", "Dining")))
	require.NoError(t, store.PutCacheEntry(ctx, cacheEntry("fp3", "openai", "Travel")))

	_, err := store.SaveTransactions(ctx, []model.BankTransaction{testTxn("t1", "-5.00", 1, "X")})
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, model.FailedEnrichment{TransactionID: "t1", ErrorKind: model.ErrorKindTimeout, ErrorMessage: "slow"})
	require.NoError(t, err)

	stats, err := store.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCached)
	assert.Equal(t, map[string]int{"anthropic": 2, "openai": 1}, stats.Providers)
	assert.Equal(t, 1, stats.PendingRetries)
	assert.Positive(t, stats.SizeBytes)

	n, err := store.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	stats, err = store.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCached)
	assert.Empty(t, stats.Providers)
}

func TestFailures_RetryCountIncrementsByOne(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.SaveTransactions(ctx, []model.BankTransaction{
		testTxn("t1", "-5.00", 1, "X"),
		testTxn("t2", "-6.00", 2, "Y"),
	})
	require.NoError(t, err)

	f, err := store.RecordFailure(ctx, model.FailedEnrichment{TransactionID: "t1", ErrorKind: model.ErrorKindTimeout, ErrorMessage: "slow", Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.RetryCount)

	f, err = store.RecordFailure(ctx, model.FailedEnrichment{TransactionID: "t1", ErrorKind: model.ErrorKindMalformed, ErrorMessage: "bad json", Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.RetryCount)
	assert.Equal(t, model.ErrorKindMalformed, f.ErrorKind)

	_, err = store.RecordFailure(ctx, model.FailedEnrichment{TransactionID: "t2", ErrorKind: model.ErrorKindRateLimit, ErrorMessage: "429"})
	require.NoError(t, err)

	eligible, err := store.ListFailures(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, "t2", eligible[0].TransactionID)

	all, err := store.ListFailures(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	exhausted, err := store.CountFailures(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, exhausted)

	require.NoError(t, store.DeleteFailure(ctx, "t2"))
	n, err := store.ClearFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
