package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/llm"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/observability"
	"github.com/Veraticus/the-spice-must-match/internal/service"
)

// Store is the persistence the orchestrator reads and writes.
type Store interface {
	service.TransactionStore
	service.SourceStore
	service.FailureStore
}

// Options bounds provider calls and retries.
type Options struct {
	// MaxRetries is the retry_count at which a failure is permanent.
	MaxRetries  int
	CallTimeout time.Duration
}

// DefaultOptions returns the built-in limits.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, CallTimeout: 30 * time.Second}
}

// ProgressFunc receives every update of a run, including the final one.
type ProgressFunc func(model.ProgressUpdate)

// Orchestrator categorizes transactions through the cache and an AI provider.
type Orchestrator struct {
	store    Store
	cache    *Cache
	provider llm.Provider
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	opts     Options
}

// NewOrchestrator creates an orchestrator. logger and metrics may be nil.
func NewOrchestrator(store Store, cache *Cache, provider llm.Provider, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	defaults := DefaultOptions()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaults.CallTimeout
	}
	return &Orchestrator{
		store:    store,
		cache:    cache,
		provider: provider,
		opts:     opts,
		logger:   common.Component(logger, "enrichment"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for enriched_at.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Cache returns the cache consulted before provider calls.
func (o *Orchestrator) Cache() *Cache {
	return o.cache
}

// ValidateSelection rejects a malformed selection request.
func ValidateSelection(req model.SelectionRequest) error {
	switch req.Mode {
	case model.SelectAll, model.SelectUnenriched:
		if req.Limit < 0 {
			return common.NewValidationError("limit", "must not be negative")
		}
	case model.SelectLimit:
		if req.Limit <= 0 {
			return common.NewValidationError("limit", "must be positive in limit mode")
		}
	default:
		return common.NewValidationError("mode", fmt.Sprintf("unknown selection mode %q", req.Mode))
	}
	if !req.Direction.Valid() {
		return common.NewValidationError("direction", fmt.Sprintf("must be %q or %q", model.DirectionOut, model.DirectionIn))
	}
	return nil
}

// Enrich validates and selects synchronously, then processes the selection
// in the background. Every update is delivered on the returned channel; the
// last one has Done set and the channel is closed after it.
func (o *Orchestrator) Enrich(ctx context.Context, req model.SelectionRequest) (<-chan model.ProgressUpdate, error) {
	if err := ValidateSelection(req); err != nil {
		return nil, err
	}
	txns, err := o.selectTransactions(ctx, req)
	if err != nil {
		return nil, err
	}

	// Room for the initial update, one per transaction and the final one,
	// so sends never block on a slow reader.
	updates := make(chan model.ProgressUpdate, len(txns)+2)
	go func() {
		defer close(updates)
		_, _ = o.process(ctx, txns, req.ForceRefresh, func(u model.ProgressUpdate) {
			updates <- u
		})
	}()
	return updates, nil
}

// Run enriches the selection and blocks until it finishes. Per-transaction
// failures are counted in the summary; only selection errors and
// cancellation are returned.
func (o *Orchestrator) Run(ctx context.Context, req model.SelectionRequest, onProgress ProgressFunc) (*model.EnrichmentSummary, error) {
	if err := ValidateSelection(req); err != nil {
		return nil, err
	}
	txns, err := o.selectTransactions(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.process(ctx, txns, req.ForceRefresh, onProgress)
}

// selectTransactions returns the run's work list ordered by date, then id.
func (o *Orchestrator) selectTransactions(ctx context.Context, req model.SelectionRequest) ([]model.BankTransaction, error) {
	filter := service.TransactionFilter{
		Direction:     req.Direction,
		Uncategorized: req.Mode != model.SelectAll && !req.ForceRefresh,
	}
	if req.Mode == model.SelectLimit {
		filter.Limit = req.Limit
	}

	txns, err := o.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to select transactions: %w", err)
	}
	return txns, nil
}

// itemResult is what happened to one transaction.
type itemResult struct {
	err      error
	result   llm.Result
	cacheHit bool
	called   bool
}

// process walks txns in order and emits one update per item plus a final
// one. It stops early only when ctx is canceled.
func (o *Orchestrator) process(ctx context.Context, txns []model.BankTransaction, force bool, onProgress ProgressFunc) (*model.EnrichmentSummary, error) {
	emit := func(u model.ProgressUpdate) {
		if onProgress != nil {
			onProgress(u)
		}
	}

	o.logger.Info("Starting enrichment run",
		"transactions", len(txns),
		"force_refresh", force,
		"provider", o.provider.Name(),
		"model", o.provider.Model())

	summary := &model.EnrichmentSummary{}
	progress := model.ProgressUpdate{Total: len(txns)}
	emit(progress)

	var runErr error
	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		res := o.enrichOne(ctx, txn, force)
		summary.Processed++
		progress.Processed++
		progress.Current = txn.RawDescription
		if res.called {
			summary.APICallsMade++
			progress.APICallsMade++
		}
		switch {
		case res.err != nil:
			summary.Failed++
			progress.Failed++
		case res.cacheHit:
			summary.CacheHits++
			summary.Successful++
			progress.CacheHits++
			progress.Successful++
		default:
			summary.Successful++
			summary.TotalTokens += res.result.Usage.Total()
			summary.TotalCost = summary.TotalCost.Add(res.result.Cost)
			progress.Successful++
			progress.TotalTokens = summary.TotalTokens
			progress.TotalCost = summary.TotalCost
		}
		emit(progress)
	}

	progress.Current = ""
	progress.Done = true
	emit(progress)

	o.logger.Info("Enrichment run finished",
		"processed", summary.Processed,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"cache_hits", summary.CacheHits,
		"api_calls", summary.APICallsMade,
		"tokens", summary.TotalTokens,
		"cost", summary.TotalCost.StringFixed(4))
	return summary, runErr
}

// enrichOne categorizes txn from the cache or the provider and records any
// failure. It never returns an error to the batch; failures are in the result.
func (o *Orchestrator) enrichOne(ctx context.Context, txn model.BankTransaction, force bool) itemResult {
	fp := Fingerprint(txn.RawDescription, txn.Direction, o.provider.Name(), o.provider.Model())

	if !force {
		entry, err := o.cache.Get(ctx, fp)
		switch {
		case err == nil:
			o.metrics.CacheLookup(true)
			o.logger.Debug("Cache hit", "transaction_id", txn.ID, "fingerprint", fp[:12])
			cat := entry.Categorization
			cat.EnrichedAt = o.now()
			if err := o.store.ApplyCategorization(ctx, txn.ID, cat); err != nil {
				return itemResult{err: o.recordFailure(ctx, txn.ID, model.ErrorKindStorage, err)}
			}
			o.clearFailure(ctx, txn.ID)
			return itemResult{cacheHit: true}
		case errors.Is(err, common.ErrCacheMiss):
			o.metrics.CacheLookup(false)
		default:
			o.metrics.CacheLookup(false)
			o.logger.Warn("Cache lookup failed, calling provider", "transaction_id", txn.ID, "error", err)
		}
	}

	result, err := o.callProvider(ctx, txn)
	if err != nil {
		kind := model.ErrorKind(common.ProviderErrorKindOf(err))
		return itemResult{called: true, err: o.recordFailure(ctx, txn.ID, kind, err)}
	}

	cat := result.Categorization
	cat.EnrichedAt = o.now()
	if err := o.cache.Put(ctx, model.CacheEntry{
		Fingerprint:    fp,
		Provider:       o.provider.Name(),
		Model:          o.provider.Model(),
		Categorization: cat,
		Cost:           result.Cost,
		Tokens:         result.Usage.Total(),
		CreatedAt:      cat.EnrichedAt,
	}); err != nil {
		o.logger.Warn("Failed to write cache entry", "transaction_id", txn.ID, "error", err)
	}

	if err := o.store.ApplyCategorization(ctx, txn.ID, cat); err != nil {
		return itemResult{called: true, result: result, err: o.recordFailure(ctx, txn.ID, model.ErrorKindStorage, err)}
	}
	o.clearFailure(ctx, txn.ID)
	return itemResult{called: true, result: result}
}

// callProvider makes one bounded provider call. The primary source
// description, when present, is passed as richer context.
func (o *Orchestrator) callProvider(ctx context.Context, txn model.BankTransaction) (llm.Result, error) {
	req := llm.Request{
		Amount:      txn.Amount,
		Description: txn.RawDescription,
		Direction:   txn.Direction,
	}
	primary, err := o.store.GetPrimarySource(ctx, txn.ID)
	switch {
	case err == nil:
		req.Context = primary.Description
	case !errors.Is(err, common.ErrNotFound):
		o.logger.Warn("Failed to load primary source", "transaction_id", txn.ID, "error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	result, err := o.provider.Categorize(callCtx, req)
	o.metrics.ProviderCall(o.provider.Name(), time.Since(start).Seconds(), result.Usage.Total(), result.Cost, err)
	return result, err
}

// recordFailure persists a failed attempt and returns the original error.
func (o *Orchestrator) recordFailure(ctx context.Context, txnID string, kind model.ErrorKind, cause error) error {
	o.metrics.EnrichFailure(string(kind))

	stored, err := o.store.RecordFailure(ctx, model.FailedEnrichment{
		TransactionID: txnID,
		ErrorKind:     kind,
		ErrorMessage:  cause.Error(),
		Provider:      o.provider.Name(),
		LastAttemptAt: o.now(),
	})
	if err != nil {
		o.logger.Error("Failed to record enrichment failure", "transaction_id", txnID, "error", err)
		return cause
	}
	o.logger.Warn("Enrichment failed",
		"transaction_id", txnID,
		"error_kind", kind,
		"retry_count", stored.RetryCount,
		"error", cause)
	return cause
}

func (o *Orchestrator) clearFailure(ctx context.Context, txnID string) {
	if err := o.store.DeleteFailure(ctx, txnID); err != nil {
		o.logger.Warn("Failed to clear enrichment failure", "transaction_id", txnID, "error", err)
	}
}

// RetryFailed re-attempts up to limit failure records whose retry_count is
// still below MaxRetries. A success deletes the record; another failure
// bumps its retry_count by one. A non-positive limit retries all of them.
func (o *Orchestrator) RetryFailed(ctx context.Context, limit int, onProgress ProgressFunc) (*model.EnrichmentSummary, error) {
	if limit < 0 {
		return nil, common.NewValidationError("limit", "must not be negative")
	}

	failures, err := o.store.ListFailures(ctx, o.opts.MaxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrichment failures: %w", err)
	}

	txns := make([]model.BankTransaction, 0, len(failures))
	skipped := 0
	for _, f := range failures {
		txn, err := o.store.GetTransaction(ctx, f.TransactionID)
		if errors.Is(err, common.ErrNotFound) {
			o.logger.Warn("Dropping failure for missing transaction", "transaction_id", f.TransactionID)
			o.clearFailure(ctx, f.TransactionID)
			skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load transaction %s: %w", f.TransactionID, err)
		}
		txns = append(txns, *txn)
	}

	// Cached answers still apply to retries.
	summary, runErr := o.process(ctx, txns, false, onProgress)
	summary.Skipped = skipped

	permanent, err := o.store.CountFailures(ctx, o.opts.MaxRetries)
	if err != nil {
		return summary, fmt.Errorf("failed to count permanent failures: %w", err)
	}
	summary.PermanentlyFailed = permanent
	return summary, runErr
}

// Clear wipes every categorization, cache entry and failure record.
func (o *Orchestrator) Clear(ctx context.Context) (*model.ClearReport, error) {
	report := &model.ClearReport{}

	n, err := o.store.ClearCategorizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to clear categorizations: %w", err)
	}
	report.Transactions = n

	if report.CacheEntries, err = o.cache.Clear(ctx); err != nil {
		return report, fmt.Errorf("failed to clear cache: %w", err)
	}
	if report.FailedRecords, err = o.store.ClearFailures(ctx); err != nil {
		return report, fmt.Errorf("failed to clear failures: %w", err)
	}

	o.logger.Info("Cleared enrichment state",
		"transactions", report.Transactions,
		"cache_entries", report.CacheEntries,
		"failed_records", report.FailedRecords)
	return report, nil
}
