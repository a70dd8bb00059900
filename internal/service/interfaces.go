// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
)

// TransactionFilter narrows transaction queries.
// Results are always ordered by date, then id.
type TransactionFilter struct {
	Direction     model.Direction
	Limit         int
	Uncategorized bool
}

// TransactionStore persists the bank ledger.
type TransactionStore interface {
	SaveTransactions(ctx context.Context, transactions []model.BankTransaction) (int, error)
	GetTransaction(ctx context.Context, id string) (*model.BankTransaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.BankTransaction, error)
	UpdatePreEnrichmentStatus(ctx context.Context, id string, status model.PreEnrichmentStatus) error
	ApplyCategorization(ctx context.Context, id string, categorization model.Categorization) error
	ClearCategorizations(ctx context.Context) (int64, error)
}

// CandidateStore persists imported candidate records.
type CandidateStore interface {
	SaveCandidates(ctx context.Context, candidates []model.CandidateRecord) (int, error)
	GetCandidate(ctx context.Context, kind model.SourceKind, externalID string) (*model.CandidateRecord, error)
	ListCandidates(ctx context.Context, kind model.SourceKind, unconsumedOnly bool) ([]model.CandidateRecord, error)
}

// SourceStore persists enrichment sources.
// RecordMatch inserts the source, consumes the candidate and marks the
// transaction matched in one database transaction; a conflicting write
// returns common.ErrDuplicateMatch and leaves no partial state.
type SourceStore interface {
	ClearUnverifiedSources(ctx context.Context, kind model.SourceKind) (int64, error)
	RecordMatch(ctx context.Context, source model.EnrichmentSource) (*model.EnrichmentSource, error)
	GetSource(ctx context.Context, id int64) (*model.EnrichmentSource, error)
	ListSources(ctx context.Context, transactionID string) ([]model.EnrichmentSource, error)
	ListSourcesByKind(ctx context.Context, kind model.SourceKind) ([]model.EnrichmentSource, error)
	GetPrimarySource(ctx context.Context, transactionID string) (*model.EnrichmentSource, error)
	RecomputePrimary(ctx context.Context, transactionID string) error
	VerifySource(ctx context.Context, id int64) error
	SetPrimarySource(ctx context.Context, transactionID string, sourceID int64) error
	DeleteSource(ctx context.Context, id int64) error
}

// CacheStore persists AI categorization results by fingerprint.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry model.CacheEntry) error
	CacheStats(ctx context.Context) (model.CacheStats, error)
	ClearCache(ctx context.Context) (int64, error)
}

// FailureStore persists failed enrichment attempts.
type FailureStore interface {
	RecordFailure(ctx context.Context, failure model.FailedEnrichment) (*model.FailedEnrichment, error)
	DeleteFailure(ctx context.Context, transactionID string) error
	ListFailures(ctx context.Context, maxRetryCount, limit int) ([]model.FailedEnrichment, error)
	CountFailures(ctx context.Context, minRetryCount int) (int, error)
	ClearFailures(ctx context.Context) (int64, error)
}

// JobStore persists async job records.
type JobStore interface {
	CreateJob(ctx context.Context, job model.Job) error
	UpdateJob(ctx context.Context, job model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	FindActiveJob(ctx context.Context, kind model.JobKind, resource string) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)
	TouchJobs(ctx context.Context, owner string, at time.Time) (int64, error)
	FailStaleJobs(ctx context.Context, message string, staleBefore, at time.Time) (int64, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	TransactionStore
	CandidateStore
	SourceStore
	CacheStore
	FailureStore
	JobStore

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
