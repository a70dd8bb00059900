// Package app wires storage, matching, enrichment and the job manager into
// the submit-and-poll surface shared by the CLI and the HTTP API.
package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/enrichment"
	"github.com/Veraticus/the-spice-must-match/internal/feed/candidates"
	"github.com/Veraticus/the-spice-must-match/internal/feed/gmail"
	"github.com/Veraticus/the-spice-must-match/internal/feed/ofx"
	"github.com/Veraticus/the-spice-must-match/internal/jobs"
	"github.com/Veraticus/the-spice-must-match/internal/llm"
	"github.com/Veraticus/the-spice-must-match/internal/matching"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/observability"
	"github.com/Veraticus/the-spice-must-match/internal/service"
)

// EnrichResource is the resource shared by every job that writes
// categorizations, so enrich and retry runs never overlap.
const EnrichResource = "transactions"

// BankFeed fetches bank transactions for a date range.
type BankFeed interface {
	GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.BankTransaction, error)
}

// Feeds are the optional external data sources. A nil feed makes its sync
// submission fail validation.
type Feeds struct {
	Plaid     BankFeed
	SimpleFIN BankFeed
	Gmail     gmail.MessageSource
}

// Options configures the application.
type Options struct {
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Matching   matching.Config
	Enrichment enrichment.Options
	Jobs       jobs.Options
	Gmail      gmail.Config
}

// App is the composition root.
type App struct {
	store        service.Storage
	engine       *matching.Engine
	orchestrator *enrichment.Orchestrator
	jobs         *jobs.Manager
	feeds        Feeds
	logger       *slog.Logger
	metrics      *observability.Metrics
	gmail        gmail.Config
}

// New builds an App over store. provider may be nil when only matching and
// sync jobs are needed; enrich submissions then fail validation.
func New(store service.Storage, provider llm.Provider, feeds Feeds, opts Options) *App {
	jobOpts := opts.Jobs
	jobOpts.Logger = opts.Logger
	jobOpts.Metrics = opts.Metrics

	a := &App{
		store:   store,
		engine:  matching.NewEngine(opts.Matching, store, opts.Logger, opts.Metrics),
		jobs:    jobs.NewManager(store, jobOpts),
		feeds:   feeds,
		logger:  common.Component(opts.Logger, "app"),
		metrics: opts.Metrics,
		gmail:   opts.Gmail,
	}
	if provider != nil {
		a.orchestrator = enrichment.NewOrchestrator(store, enrichment.NewCache(store), provider, opts.Enrichment, opts.Logger, opts.Metrics)
	}
	return a
}

// Start recovers stale jobs and starts the workers.
func (a *App) Start(ctx context.Context) error {
	return a.jobs.Start(ctx)
}

// Shutdown drains the worker pool.
func (a *App) Shutdown(ctx context.Context) error {
	return a.jobs.Shutdown(ctx)
}

// Metrics returns the collectors, possibly nil.
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// Engine exposes the matching engine for synchronous callers.
func (a *App) Engine() *matching.Engine {
	return a.engine
}

// SubmitMatch queues a matching run for one candidate kind. Runs for the
// same kind conflict because they share the candidate pool.
func (a *App) SubmitMatch(ctx context.Context, kind model.SourceKind) (model.JobView, error) {
	if !kind.Valid() {
		return model.JobView{}, common.NewValidationError("kind", fmt.Sprintf("unknown source kind %q", kind))
	}
	return a.jobs.Submit(ctx, jobs.Request{
		Kind:     model.JobMatch,
		Resource: string(kind),
		Run: func(ctx context.Context, p *jobs.Progress) error {
			summary, err := a.engine.Run(ctx, kind, func(processed, total int) {
				p.Set(processed, total)
			})
			if err != nil {
				return err
			}
			p.Record(jobs.Stats{Successful: summary.Matched, Failed: summary.Failed})
			return nil
		},
	})
}

// SubmitEnrich validates req and queues an enrichment run.
func (a *App) SubmitEnrich(ctx context.Context, req model.SelectionRequest) (model.JobView, error) {
	if a.orchestrator == nil {
		return model.JobView{}, common.NewValidationError("provider", "no AI provider configured")
	}
	if err := enrichment.ValidateSelection(req); err != nil {
		return model.JobView{}, err
	}
	return a.jobs.Submit(ctx, jobs.Request{
		Kind:     model.JobEnrich,
		Resource: EnrichResource,
		Run: func(ctx context.Context, p *jobs.Progress) error {
			_, err := a.orchestrator.Run(ctx, req, reportEnrichment(p))
			return err
		},
	})
}

// SubmitRetry queues a retry of failed enrichments. limit 0 retries all.
func (a *App) SubmitRetry(ctx context.Context, limit int) (model.JobView, error) {
	if a.orchestrator == nil {
		return model.JobView{}, common.NewValidationError("provider", "no AI provider configured")
	}
	if limit < 0 {
		return model.JobView{}, common.NewValidationError("limit", "must not be negative")
	}
	return a.jobs.Submit(ctx, jobs.Request{
		Kind:     model.JobEnrich,
		Resource: EnrichResource,
		Run: func(ctx context.Context, p *jobs.Progress) error {
			summary, err := a.orchestrator.RetryFailed(ctx, limit, reportEnrichment(p))
			if err != nil {
				return err
			}
			if summary.PermanentlyFailed > 0 {
				a.logger.Warn("Enrichment failures exhausted their retries", "count", summary.PermanentlyFailed)
			}
			return nil
		},
	})
}

func reportEnrichment(p *jobs.Progress) enrichment.ProgressFunc {
	return func(u model.ProgressUpdate) {
		p.Set(u.Processed, u.Total)
		p.Record(jobs.Stats{
			Successful:  u.Successful,
			Failed:      u.Failed,
			TotalTokens: u.TotalTokens,
			TotalCost:   u.TotalCost,
		})
	}
}

// SubmitOFXImport queues an import of an OFX/QFX statement. The file is
// read before the job is queued.
func (a *App) SubmitOFXImport(ctx context.Context, name string, r io.Reader) (model.JobView, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.JobView{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return model.JobView{}, common.NewValidationError("file", "statement is empty")
	}
	parser := ofx.NewParser(a.logger)
	return a.jobs.Submit(ctx, jobs.Request{
		Kind:     model.JobSync,
		Resource: "ofx:" + filepath.Base(name),
		Run: func(ctx context.Context, p *jobs.Progress) error {
			txns, err := parser.ParseFile(ctx, bytes.NewReader(data))
			if err != nil {
				return err
			}
			return a.saveTransactions(ctx, p, txns)
		},
	})
}

// SubmitPlaidSync queues a Plaid fetch for the date range.
func (a *App) SubmitPlaidSync(ctx context.Context, start, end time.Time) (model.JobView, error) {
	return a.submitFeedSync(ctx, "plaid", a.feeds.Plaid, start, end)
}

// SubmitSimpleFINSync queues a SimpleFIN fetch for the date range.
func (a *App) SubmitSimpleFINSync(ctx context.Context, start, end time.Time) (model.JobView, error) {
	return a.submitFeedSync(ctx, "simplefin", a.feeds.SimpleFIN, start, end)
}

func (a *App) submitFeedSync(ctx context.Context, name string, feed BankFeed, start, end time.Time) (model.JobView, error) {
	if feed == nil {
		return model.JobView{}, common.NewValidationError("source", name+" is not configured")
	}
	if start.After(end) {
		return model.JobView{}, common.NewValidationError("start_date", "must be before end date")
	}
	return a.jobs.Submit(ctx, jobs.Request{
		Kind:     model.JobSync,
		Resource: name,
		Run: func(ctx context.Context, p *jobs.Progress) error {
			txns, err := feed.GetTransactions(ctx, start, end)
			if err != nil {
				return err
			}
			return a.saveTransactions(ctx, p, txns)
		},
	})
}

func (a *App) saveTransactions(ctx context.Context, p *jobs.Progress, txns []model.BankTransaction) error {
	p.SetTotal(len(txns))
	if len(txns) == 0 {
		return nil
	}
	added, err := a.store.SaveTransactions(ctx, txns)
	if err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	p.Set(len(txns), len(txns))
	p.Record(jobs.Stats{Successful: added})
	a.logger.Info("Imported bank transactions", "received", len(txns), "new", added)
	return nil
}

// SubmitGmailSync queues a receipt scan of the configured mailbox.
func (a *App) SubmitGmailSync(ctx context.Context) (model.JobView, error) {
	if a.feeds.Gmail == nil {
		return model.JobView{}, common.NewValidationError("source", "gmail is not configured")
	}
	importer := gmail.NewImporter(a.feeds.Gmail, a.gmail.Query, a.gmail.Concurrency, a.logger)
	return a.jobs.Submit(ctx, jobs.Request{
		Kind:     model.JobSync,
		Resource: gmail.Resource(a.gmail),
		Run: func(ctx context.Context, p *jobs.Progress) error {
			result, err := importer.Import(ctx, func(processed, total int) {
				p.Set(processed, total)
			})
			if err != nil {
				return err
			}
			p.SetTotal(result.Scanned)
			if len(result.Candidates) > 0 {
				if _, err := a.store.SaveCandidates(ctx, result.Candidates); err != nil {
					return fmt.Errorf("failed to save receipts: %w", err)
				}
			}
			p.Record(jobs.Stats{Successful: len(result.Candidates), Failed: result.Skipped})
			return nil
		},
	})
}

// ImportCandidates stores normalized candidate records synchronously.
func (a *App) ImportCandidates(ctx context.Context, r io.Reader) (int, error) {
	records, err := candidates.Decode(r)
	if err != nil {
		return 0, common.NewValidationError("candidates", err.Error())
	}
	if len(records) == 0 {
		return 0, nil
	}
	return a.store.SaveCandidates(ctx, records)
}

// GetJob returns the polling view of a job.
func (a *App) GetJob(ctx context.Context, id string) (model.JobView, error) {
	return a.jobs.GetStatus(ctx, id)
}

// ListJobs returns recent jobs, newest first.
func (a *App) ListJobs(ctx context.Context, limit int) ([]model.JobView, error) {
	return a.jobs.List(ctx, limit)
}

// Subscribe streams job events until cancel is called.
func (a *App) Subscribe() (<-chan jobs.Event, func()) {
	return a.jobs.Subscribe()
}

// CacheStats reports the enrichment cache.
func (a *App) CacheStats(ctx context.Context) (model.CacheStats, error) {
	return a.store.CacheStats(ctx)
}

// ClearEnrichment wipes categorizations, the cache and failure records.
func (a *App) ClearEnrichment(ctx context.Context) (*model.ClearReport, error) {
	if a.orchestrator == nil {
		return nil, common.NewValidationError("provider", "no AI provider configured")
	}
	return a.orchestrator.Clear(ctx)
}

// Transaction returns one bank transaction.
func (a *App) Transaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	return a.store.GetTransaction(ctx, id)
}

// Sources lists the enrichment sources of a transaction, primary first.
func (a *App) Sources(ctx context.Context, transactionID string) ([]model.EnrichmentSource, error) {
	if _, err := a.store.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return a.store.ListSources(ctx, transactionID)
}

// VerifySource marks a source as confirmed by the user.
func (a *App) VerifySource(ctx context.Context, id int64) error {
	return a.store.VerifySource(ctx, id)
}

// SetPrimarySource pins the user's choice of primary source.
func (a *App) SetPrimarySource(ctx context.Context, transactionID string, sourceID int64) error {
	return a.store.SetPrimarySource(ctx, transactionID, sourceID)
}

// UnlinkSource removes an unverified source and releases its candidate.
func (a *App) UnlinkSource(ctx context.Context, id int64) error {
	return a.store.DeleteSource(ctx, id)
}

// LinkSource records a user-chosen match.
func (a *App) LinkSource(ctx context.Context, transactionID string, kind model.SourceKind, externalID string) (*model.EnrichmentSource, error) {
	return a.engine.Link(ctx, transactionID, kind, externalID)
}
