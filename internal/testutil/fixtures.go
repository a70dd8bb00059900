package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/service"
	"github.com/shopspring/decimal"
)

// Day returns midnight UTC on the given day of March 2025.
func Day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

// Txn builds an outgoing or incoming bank transaction from a signed amount.
func Txn(id, amount string, date time.Time, description string) model.BankTransaction {
	amt := decimal.RequireFromString(amount)
	return model.BankTransaction{
		ID:             id,
		AccountID:      "acc-test",
		Date:           date,
		Amount:         amt,
		RawDescription: description,
		Direction:      model.DirectionFromAmount(amt),
	}
}

// Order builds a retail order candidate.
func Order(id, amount string, date time.Time) model.CandidateRecord {
	return model.CandidateRecord{
		Kind:        model.KindRetailOrder,
		ExternalID:  id,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Description: "Order " + id,
		Payload:     model.RetailOrderPayload{Merchant: "Amazon", OrderStatus: "shipped"},
	}
}

// AppPurchase builds an app-store candidate with a genre hint.
func AppPurchase(id, amount string, date time.Time, app, genre string) model.CandidateRecord {
	return model.CandidateRecord{
		Kind:        model.KindAppPurchase,
		ExternalID:  id,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Description: app,
		Payload:     model.AppPurchasePayload{Store: "App Store", AppName: app, Genre: genre},
	}
}

// Ledger collects transactions and candidates for a single Build call.
type Ledger struct {
	transactions []model.BankTransaction
	candidates   []model.CandidateRecord
}

// NewLedger starts an empty fixture.
func NewLedger() *Ledger {
	return &Ledger{}
}

// WithTransaction adds a bank transaction.
func (l *Ledger) WithTransaction(id, amount string, date time.Time, description string) *Ledger {
	l.transactions = append(l.transactions, Txn(id, amount, date, description))
	return l
}

// WithTransactions adds prebuilt transactions.
func (l *Ledger) WithTransactions(txns ...model.BankTransaction) *Ledger {
	l.transactions = append(l.transactions, txns...)
	return l
}

// WithOrder adds a retail order candidate.
func (l *Ledger) WithOrder(id, amount string, date time.Time) *Ledger {
	l.candidates = append(l.candidates, Order(id, amount, date))
	return l
}

// WithCandidates adds prebuilt candidates.
func (l *Ledger) WithCandidates(cands ...model.CandidateRecord) *Ledger {
	l.candidates = append(l.candidates, cands...)
	return l
}

// Build saves everything to store.
func (l *Ledger) Build(ctx context.Context, store interface {
	service.TransactionStore
	service.CandidateStore
}) error {
	if len(l.transactions) > 0 {
		if _, err := store.SaveTransactions(ctx, l.transactions); err != nil {
			return fmt.Errorf("save transactions: %w", err)
		}
	}
	if len(l.candidates) > 0 {
		if _, err := store.SaveCandidates(ctx, l.candidates); err != nil {
			return fmt.Errorf("save candidates: %w", err)
		}
	}
	return nil
}
