// Package storage provides the data persistence layer for the spice application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-match/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidCandidate   = errors.New("invalid candidate")
	ErrInvalidSource      = errors.New("invalid enrichment source")
	ErrInvalidJob         = errors.New("invalid job")
	ErrVerifiedSource     = errors.New("source is user verified")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateTransactions(transactions []model.BankTransaction) error {
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}
	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

func validateTransaction(txn *model.BankTransaction) error {
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(txn.RawDescription) == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	if !txn.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidTransaction, txn.Direction)
	}
	if txn.Direction != model.DirectionFromAmount(txn.Amount) && !txn.Amount.IsZero() {
		return fmt.Errorf("%w: direction %s disagrees with amount %s", ErrInvalidTransaction, txn.Direction, txn.Amount)
	}
	return nil
}

func validateCandidates(candidates []model.CandidateRecord) error {
	if len(candidates) == 0 {
		return fmt.Errorf("%w: candidates", ErrEmptySlice)
	}
	for i := range candidates {
		if err := candidates[i].Validate(); err != nil {
			return fmt.Errorf("%w at index %d: %v", ErrInvalidCandidate, i, err)
		}
		if candidates[i].Amount.IsNegative() {
			return fmt.Errorf("%w at index %d: amount must be a positive magnitude", ErrInvalidCandidate, i)
		}
	}
	return nil
}

func validateSource(src *model.EnrichmentSource) error {
	if src.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction id", ErrInvalidSource)
	}
	if !src.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidSource, src.Kind)
	}
	if src.ExternalID == "" {
		return fmt.Errorf("%w: missing external id", ErrInvalidSource)
	}
	if src.Confidence < 0 || src.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d outside [0,100]", ErrInvalidSource, src.Confidence)
	}
	if src.Method == "" {
		return fmt.Errorf("%w: missing match method", ErrInvalidSource)
	}
	return nil
}
