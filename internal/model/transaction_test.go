package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDirectionFromAmount(t *testing.T) {
	assert.Equal(t, DirectionOut, DirectionFromAmount(decimal.RequireFromString("-12.40")))
	assert.Equal(t, DirectionIn, DirectionFromAmount(decimal.RequireFromString("1500")))
	assert.Equal(t, DirectionOut, DirectionFromAmount(decimal.Zero))
}

func TestPreEnrichmentStatus(t *testing.T) {
	assert.Equal(t, PreEnrichmentStatus("matched:app_purchase"), MatchedStatus(KindAppPurchase))
	assert.True(t, UnmatchedStatus(KindRetailOrder).IsUnmatched())
	assert.False(t, MatchedStatus(KindRetailOrder).IsUnmatched())
	assert.False(t, PreEnrichmentStatus("").IsUnmatched())
}

func TestBankTransaction(t *testing.T) {
	txn := BankTransaction{Amount: decimal.RequireFromString("-42.10")}
	assert.True(t, txn.Magnitude().Equal(decimal.RequireFromString("42.10")))
	assert.False(t, txn.IsCategorized())

	txn.Categorization = &Categorization{}
	assert.False(t, txn.IsCategorized())
}

func TestTaxonomy(t *testing.T) {
	assert.Equal(t, CategoryTypeIncome, CategoryTypeFor(DirectionIn))
	assert.Equal(t, CategoryTypeExpense, CategoryTypeFor(DirectionOut))

	c, ok := FindCategory(DirectionOut, "Groceries")
	assert.True(t, ok)
	assert.True(t, c.Essential)

	_, ok = FindCategory(DirectionIn, "Groceries")
	assert.False(t, ok)
	_, ok = FindCategory(DirectionIn, "Salary")
	assert.True(t, ok)

	assert.Equal(t, 0.0, ProgressUpdate{}.Percentage())
	assert.Equal(t, 100.0, ProgressUpdate{Done: true}.Percentage())
	assert.InDelta(t, 50.0, ProgressUpdate{Processed: 1, Total: 2}.Percentage(), 0.001)
}
