// Package matching links bank transactions to imported candidate records.
package matching

import (
	"sort"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
)

// Index holds candidates of one kind sorted by amount, then date, then
// external id, so amount windows resolve with a binary search.
type Index struct {
	entries []model.CandidateRecord
}

// NewIndex builds an index over a copy of candidates.
func NewIndex(candidates []model.CandidateRecord) *Index {
	entries := make([]model.CandidateRecord, len(candidates))
	copy(entries, candidates)
	sort.SliceStable(entries, func(i, j int) bool {
		return lessCandidate(entries[i], entries[j])
	})
	return &Index{entries: entries}
}

func lessCandidate(a, b model.CandidateRecord) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c < 0
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.ExternalID < b.ExternalID
}

// Query returns candidates with min <= amount <= max whose calendar day
// falls within [from, to]. Both ranges are inclusive.
func (idx *Index) Query(minAmount, maxAmount decimal.Decimal, from, to time.Time) []model.CandidateRecord {
	if idx == nil || len(idx.entries) == 0 || minAmount.GreaterThan(maxAmount) {
		return nil
	}

	from, to = startOfDay(from), startOfDay(to)
	start := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Amount.GreaterThanOrEqual(minAmount)
	})

	var out []model.CandidateRecord
	for i := start; i < len(idx.entries); i++ {
		c := idx.entries[i]
		if c.Amount.GreaterThan(maxAmount) {
			break
		}
		d := startOfDay(c.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Remove drops the candidate with externalID. It reports whether one was found.
func (idx *Index) Remove(externalID string) bool {
	for i := range idx.entries {
		if idx.entries[i].ExternalID == externalID {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of indexed candidates.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the signed whole-day distance from a to b.
func daysBetween(a, b time.Time) int {
	return int(startOfDay(b).Sub(startOfDay(a)).Hours() / 24)
}
