package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether money left or entered the account.
type Direction string

// Direction constants.
const (
	DirectionOut Direction = "out"
	DirectionIn  Direction = "in"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionOut || d == DirectionIn
}

// DirectionFromAmount derives the direction from a signed amount.
// Negative amounts are outgoing; zero is treated as outgoing.
func DirectionFromAmount(amount decimal.Decimal) Direction {
	if amount.IsPositive() {
		return DirectionIn
	}
	return DirectionOut
}

// PreEnrichmentStatus records the outcome of the last matching run for a transaction.
type PreEnrichmentStatus string

// MatchedStatus returns the marker set when a run for kind produced a source.
func MatchedStatus(kind SourceKind) PreEnrichmentStatus {
	return PreEnrichmentStatus("matched:" + string(kind))
}

// UnmatchedStatus returns the marker set when a run for kind found nothing.
func UnmatchedStatus(kind SourceKind) PreEnrichmentStatus {
	return PreEnrichmentStatus("unmatched:" + string(kind))
}

// IsUnmatched reports whether the status flags a failed match.
func (s PreEnrichmentStatus) IsUnmatched() bool {
	return strings.HasPrefix(string(s), "unmatched:")
}

// BankTransaction is a single ledger entry imported from a bank feed.
// Everything but the enrichment fields is immutable after import.
type BankTransaction struct {
	Date                time.Time
	Categorization      *Categorization
	ID                  string
	AccountID           string
	RawDescription      string
	Direction           Direction
	PreEnrichmentStatus PreEnrichmentStatus
	Amount              decimal.Decimal
}

// Magnitude returns the absolute amount.
func (t BankTransaction) Magnitude() decimal.Decimal {
	return t.Amount.Abs()
}

// IsCategorized reports whether the transaction carries a non-empty categorization.
func (t BankTransaction) IsCategorized() bool {
	return t.Categorization != nil && !t.Categorization.IsEmpty()
}
