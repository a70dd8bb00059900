package matching

import (
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func externalIDs(cands []model.CandidateRecord) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ExternalID
	}
	return ids
}

func TestIndex_QueryAmountAndDateWindow(t *testing.T) {
	idx := NewIndex([]model.CandidateRecord{
		testutil.Order("big", "120.00", testutil.Day(9)),
		testutil.Order("late", "54.99", testutil.Day(20)),
		testutil.Order("b", "54.99", testutil.Day(8)),
		testutil.Order("a", "54.99", testutil.Day(8)),
		testutil.Order("near", "55.00", testutil.Day(9)),
		testutil.Order("small", "5.00", testutil.Day(9)),
	})
	assert.Equal(t, 6, idx.Len())

	got := idx.Query(
		decimal.RequireFromString("54.98"),
		decimal.RequireFromString("55.00"),
		testutil.Day(5),
		testutil.Day(12),
	)
	assert.Equal(t, []string{"a", "b", "near"}, externalIDs(got))
}

func TestIndex_QueryIsDayGranular(t *testing.T) {
	late := testutil.Order("o1", "10.00", testutil.Day(12).Add(23*time.Hour))
	idx := NewIndex([]model.CandidateRecord{late})

	got := idx.Query(decimal.NewFromInt(10), decimal.NewFromInt(10), testutil.Day(10), testutil.Day(12))
	assert.Len(t, got, 1)
}

func TestIndex_EmptyAndInvertedRanges(t *testing.T) {
	var nilIdx *Index
	assert.Zero(t, nilIdx.Len())
	assert.Empty(t, nilIdx.Query(decimal.Zero, decimal.NewFromInt(1), testutil.Day(1), testutil.Day(2)))

	idx := NewIndex([]model.CandidateRecord{testutil.Order("o1", "10.00", testutil.Day(10))})
	assert.Empty(t, idx.Query(decimal.NewFromInt(11), decimal.NewFromInt(9), testutil.Day(1), testutil.Day(30)))
}

func TestIndex_Remove(t *testing.T) {
	idx := NewIndex([]model.CandidateRecord{
		testutil.Order("o1", "10.00", testutil.Day(10)),
		testutil.Order("o2", "10.00", testutil.Day(10)),
	})

	assert.True(t, idx.Remove("o1"))
	assert.False(t, idx.Remove("o1"))
	assert.Equal(t, 1, idx.Len())

	got := idx.Query(decimal.NewFromInt(10), decimal.NewFromInt(10), testutil.Day(10), testutil.Day(10))
	assert.Equal(t, []string{"o2"}, externalIDs(got))
}

func TestIndex_DoesNotAliasInput(t *testing.T) {
	input := []model.CandidateRecord{
		testutil.Order("o2", "20.00", testutil.Day(10)),
		testutil.Order("o1", "10.00", testutil.Day(10)),
	}
	idx := NewIndex(input)
	idx.Remove("o1")

	assert.Equal(t, "o2", input[0].ExternalID)
	assert.Equal(t, "o1", input[1].ExternalID)
}
