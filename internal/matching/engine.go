package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/observability"
	"github.com/Veraticus/the-spice-must-match/internal/service"
)

// PrelabelProvider is the provider name stamped on categorizations copied
// from a matched source.
const PrelabelProvider = model.PrelabelProvider

// Store is the persistence the engine reads and writes.
type Store interface {
	service.TransactionStore
	service.CandidateStore
	service.SourceStore
}

// ProgressFunc receives the running count of examined transactions.
type ProgressFunc func(processed, total int)

// Result is the winning candidate for one transaction.
type Result struct {
	Candidate  model.CandidateRecord
	Method     model.MatchMethod
	Confidence int
}

// OutcomeStatus is what a run did with one transaction.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeMatched   OutcomeStatus = "matched"
	OutcomeUnmatched OutcomeStatus = "unmatched"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome records the result for a single transaction in a run.
type Outcome struct {
	TransactionID string            `json:"transaction_id"`
	Status        OutcomeStatus     `json:"status"`
	ExternalID    string            `json:"external_id,omitempty"`
	Method        model.MatchMethod `json:"match_method,omitempty"`
	Error         string            `json:"error,omitempty"`
	Confidence    int               `json:"match_confidence,omitempty"`
}

// RunSummary aggregates a matching run.
type RunSummary struct {
	Kind           model.SourceKind `json:"kind"`
	Outcomes       []Outcome        `json:"outcomes,omitempty"`
	TotalProcessed int              `json:"total_processed"`
	Matched        int              `json:"matched"`
	Unmatched      int              `json:"unmatched"`
	Skipped        int              `json:"skipped"`
	Failed         int              `json:"failed"`
	Prelabeled     int              `json:"prelabeled"`
	Cleared        int64            `json:"cleared"`
	Candidates     int              `json:"candidates"`
}

// Engine matches bank transactions against one candidate kind at a time.
type Engine struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	cfg     Config
}

// NewEngine creates a matching engine. logger and metrics may be nil.
func NewEngine(cfg Config, store Store, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		logger:  common.Component(logger, "matching"),
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source used for pre-label timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Match picks the best candidate in idx for txn. It returns false when no
// candidate falls in the window or the best one is below MinConfidence;
// the returned Result still describes the best candidate in that case.
func (e *Engine) Match(txn model.BankTransaction, kind model.SourceKind, idx *Index) (Result, bool) {
	kc := e.cfg.kind(kind)
	if txn.Direction == model.DirectionIn && !kc.MatchIncome {
		return Result{}, false
	}

	magnitude := txn.Magnitude()
	tol := kc.tolerance(magnitude)
	from := txn.Date.AddDate(0, 0, -kc.DaysBefore)
	to := txn.Date.AddDate(0, 0, kc.DaysAfter)

	var (
		best      Result
		bestScore score
		found     bool
	)
	for _, c := range idx.Query(magnitude.Sub(tol), magnitude.Add(tol), from, to) {
		s := scoreCandidate(e.cfg.Weights, kc, txn, c)
		if found && !better(s, c, bestScore, best.Candidate) {
			continue
		}
		best = Result{Candidate: c, Confidence: s.confidence, Method: methodFor(s)}
		bestScore = s
		found = true
	}

	if !found {
		return Result{}, false
	}
	return best, best.Confidence >= e.cfg.MinConfidence
}

// better reports whether (s, c) beats the current best. Ties go to the
// earliest candidate date, then the lowest external id.
func better(s score, c model.CandidateRecord, bestScore score, best model.CandidateRecord) bool {
	if s.confidence != bestScore.confidence {
		return s.confidence > bestScore.confidence
	}
	if !c.Date.Equal(best.Date) {
		return c.Date.Before(best.Date)
	}
	return c.ExternalID < best.ExternalID
}

func methodFor(s score) model.MatchMethod {
	if s.exact {
		return model.MethodExactAmountDate
	}
	return model.MethodToleranceAmountDate
}

// Run re-matches every eligible transaction against the unconsumed pool of
// kind. Unverified sources of kind are replaced; verified ones are kept and
// their transactions skipped. Only loading failures abort the run.
func (e *Engine) Run(ctx context.Context, kind model.SourceKind, progress ProgressFunc) (*RunSummary, error) {
	if !kind.Valid() {
		return nil, common.NewValidationError("kind", fmt.Sprintf("unknown source kind %q", kind))
	}

	cleared, err := e.store.ClearUnverifiedSources(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to clear unverified %s sources: %w", kind, err)
	}

	kept, err := e.store.ListSourcesByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load verified %s sources: %w", kind, err)
	}
	verified := make(map[string]bool, len(kept))
	for _, src := range kept {
		verified[src.TransactionID] = true
	}

	pool, err := e.store.ListCandidates(ctx, kind, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s candidates: %w", kind, err)
	}
	idx := NewIndex(pool)

	filter := service.TransactionFilter{}
	if !e.cfg.kind(kind).MatchIncome {
		filter.Direction = model.DirectionOut
	}
	txns, err := e.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	summary := &RunSummary{
		Kind:       kind,
		Cleared:    cleared,
		Candidates: idx.Len(),
		Outcomes:   make([]Outcome, 0, len(txns)),
	}
	e.logger.Info("Starting matching run",
		"kind", kind,
		"transactions", len(txns),
		"candidates", idx.Len(),
		"cleared", cleared)

	if progress != nil {
		progress(0, len(txns))
	}

	for i, txn := range txns {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		outcome := e.matchOne(ctx, kind, txn, idx, verified[txn.ID], summary)
		summary.Outcomes = append(summary.Outcomes, outcome)
		summary.TotalProcessed++

		switch outcome.Status {
		case OutcomeMatched:
			summary.Matched++
		case OutcomeUnmatched:
			summary.Unmatched++
			e.metrics.MatchOutcome(string(kind), string(OutcomeUnmatched))
		case OutcomeSkipped:
			summary.Skipped++
			e.metrics.MatchOutcome(string(kind), string(OutcomeSkipped))
		case OutcomeFailed:
			summary.Failed++
			e.metrics.MatchOutcome(string(kind), string(OutcomeFailed))
		}

		if progress != nil {
			progress(i+1, len(txns))
		}
	}

	e.logger.Info("Matching run complete",
		"kind", kind,
		"total_processed", summary.TotalProcessed,
		"matched", summary.Matched,
		"unmatched", summary.Unmatched,
		"skipped", summary.Skipped,
		"failed", summary.Failed)

	return summary, nil
}

func (e *Engine) matchOne(ctx context.Context, kind model.SourceKind, txn model.BankTransaction, idx *Index, hasVerified bool, summary *RunSummary) Outcome {
	outcome := Outcome{TransactionID: txn.ID}
	if hasVerified {
		outcome.Status = OutcomeSkipped
		return outcome
	}

	res, ok := e.Match(txn, kind, idx)
	if !ok {
		outcome.Status = OutcomeUnmatched
		if res.Candidate.ExternalID != "" {
			e.logger.Debug("Best candidate below threshold",
				"transaction_id", txn.ID,
				"external_id", res.Candidate.ExternalID,
				"confidence", res.Confidence)
		}
		if shouldMarkUnmatched(txn.PreEnrichmentStatus, kind) {
			if err := e.store.UpdatePreEnrichmentStatus(ctx, txn.ID, model.UnmatchedStatus(kind)); err != nil {
				outcome.Status = OutcomeFailed
				outcome.Error = err.Error()
				e.logger.Warn("Failed to mark transaction unmatched", "transaction_id", txn.ID, "error", err)
			}
		}
		return outcome
	}

	src, err := e.store.RecordMatch(ctx, model.EnrichmentSource{
		TransactionID: txn.ID,
		Kind:          kind,
		ExternalID:    res.Candidate.ExternalID,
		Description:   res.Candidate.Description,
		Confidence:    res.Confidence,
		Method:        res.Method,
	})
	// The candidate is spent either way: recorded, or already consumed elsewhere.
	idx.Remove(res.Candidate.ExternalID)
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.ExternalID = res.Candidate.ExternalID
		outcome.Error = err.Error()
		e.logger.Warn("Failed to record match",
			"transaction_id", txn.ID,
			"external_id", res.Candidate.ExternalID,
			"duplicate", errors.Is(err, common.ErrDuplicateMatch),
			"error", err)
		return outcome
	}

	e.metrics.MatchRecorded(string(kind), src.Confidence)
	outcome.Status = OutcomeMatched
	outcome.ExternalID = src.ExternalID
	outcome.Confidence = src.Confidence
	outcome.Method = src.Method

	if e.prelabel(ctx, txn, res, src) {
		summary.Prelabeled++
	}
	return outcome
}

// prelabel copies a category hint from a high-confidence primary source
// onto an uncategorized transaction so enrichment can skip it.
func (e *Engine) prelabel(ctx context.Context, txn model.BankTransaction, res Result, src *model.EnrichmentSource) bool {
	if !src.IsPrimary || src.Confidence < e.cfg.PrelabelConfidence || txn.IsCategorized() {
		return false
	}
	hint := strings.TrimSpace(res.Candidate.CategoryHint())
	if hint == "" {
		return false
	}

	err := e.store.ApplyCategorization(ctx, txn.ID, model.Categorization{
		Category:     hint,
		MerchantName: merchantName(res.Candidate),
		Provider:     PrelabelProvider,
		Model:        string(src.Kind),
		Confidence:   float64(src.Confidence) / 100,
		EnrichedAt:   e.now().UTC(),
	})
	if err != nil {
		e.logger.Warn("Failed to pre-label transaction", "transaction_id", txn.ID, "error", err)
		return false
	}
	return true
}

func merchantName(c model.CandidateRecord) string {
	switch p := c.Payload.(type) {
	case model.RetailOrderPayload:
		if p.Merchant != "" {
			return p.Merchant
		}
	case model.AppPurchasePayload:
		if p.AppName != "" {
			return p.AppName
		}
	}
	return c.Description
}

// shouldMarkUnmatched keeps a match recorded by another kind visible.
func shouldMarkUnmatched(current model.PreEnrichmentStatus, kind model.SourceKind) bool {
	s := string(current)
	if !strings.HasPrefix(s, "matched:") {
		return true
	}
	return current == model.MatchedStatus(kind)
}

// Link records a user-chosen pairing. It replaces an unverified source of
// the same kind and refuses to replace a verified one.
func (e *Engine) Link(ctx context.Context, transactionID string, kind model.SourceKind, externalID string) (*model.EnrichmentSource, error) {
	if !kind.Valid() {
		return nil, common.NewValidationError("kind", fmt.Sprintf("unknown source kind %q", kind))
	}
	if _, err := e.store.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	cand, err := e.store.GetCandidate(ctx, kind, externalID)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.ListSources(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	for _, src := range existing {
		if src.Kind != kind {
			continue
		}
		if src.UserVerified {
			return nil, fmt.Errorf("%w: transaction %s already has a verified %s source",
				common.ErrDuplicateMatch, transactionID, kind)
		}
		if err := e.store.DeleteSource(ctx, src.ID); err != nil {
			return nil, fmt.Errorf("failed to replace source %d: %w", src.ID, err)
		}
	}

	src, err := e.store.RecordMatch(ctx, model.EnrichmentSource{
		TransactionID: transactionID,
		Kind:          kind,
		ExternalID:    cand.ExternalID,
		Description:   cand.Description,
		Confidence:    100,
		Method:        model.MethodUserLinked,
		UserVerified:  true,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Linked source", "transaction_id", transactionID, "kind", kind, "external_id", externalID)
	return src, nil
}
