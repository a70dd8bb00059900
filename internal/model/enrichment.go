package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchMethod names the rule that produced an enrichment source.
type MatchMethod string

// Match methods.
const (
	MethodExactAmountDate     MatchMethod = "exact_amount_date"
	MethodToleranceAmountDate MatchMethod = "tolerance_amount_date"
	MethodUserLinked          MatchMethod = "user_linked"
)

// EnrichmentSource links a bank transaction to one candidate record.
type EnrichmentSource struct {
	CreatedAt     time.Time
	TransactionID string
	Kind          SourceKind
	ExternalID    string
	Method        MatchMethod
	Description   string
	ID            int64
	Confidence    int
	IsPrimary     bool
	UserVerified  bool
	PrimaryPinned bool
}

// PrelabelProvider is the provider name stamped on categorizations copied
// from a matched source. The source kind is stored as the model.
const PrelabelProvider = "match"

// Categorization holds the fields written by enrichment.
type Categorization struct {
	EnrichedAt   time.Time
	Category     string
	Subcategory  string
	MerchantName string
	Provider     string
	Model        string
	Confidence   float64
	IsEssential  bool
}

// IsEmpty reports whether no category has been assigned.
func (c Categorization) IsEmpty() bool {
	return c.Category == ""
}

// CacheEntry is a stored AI categorization keyed by description fingerprint.
type CacheEntry struct {
	CreatedAt      time.Time
	Fingerprint    string
	Provider       string
	Model          string
	Categorization Categorization
	Cost           decimal.Decimal
	Tokens         int
}

// CacheStats summarizes the enrichment cache.
type CacheStats struct {
	Providers      map[string]int `json:"providers"`
	TotalCached    int            `json:"total_cached"`
	PendingRetries int            `json:"pending_retries"`
	SizeBytes      int64          `json:"cache_size_bytes"`
}

// ErrorKind classifies a failed enrichment attempt.
type ErrorKind string

// Failure kinds.
const (
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindMalformed ErrorKind = "malformed_response"
	ErrorKindProvider  ErrorKind = "api_error"
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindStorage   ErrorKind = "storage"
)

// FailedEnrichment records a transaction whose AI call failed.
type FailedEnrichment struct {
	LastAttemptAt time.Time
	TransactionID string
	ErrorKind     ErrorKind
	ErrorMessage  string
	Provider      string
	RetryCount    int
}

// SelectionMode chooses which transactions an enrichment run visits.
type SelectionMode string

// Selection modes.
const (
	SelectAll        SelectionMode = "all"
	SelectUnenriched SelectionMode = "unenriched"
	SelectLimit      SelectionMode = "limit"
)

// SelectionRequest is the input to an enrichment run.
type SelectionRequest struct {
	Mode         SelectionMode `json:"mode"`
	Direction    Direction     `json:"direction"`
	Limit        int           `json:"limit,omitempty"`
	ForceRefresh bool          `json:"force_refresh"`
}

// ProgressUpdate is emitted while an enrichment run advances.
type ProgressUpdate struct {
	Current      string
	TotalCost    decimal.Decimal
	Processed    int
	Total        int
	Successful   int
	Failed       int
	CacheHits    int
	APICallsMade int
	TotalTokens  int
	Done         bool
}

// Percentage returns completion in [0, 100].
func (p ProgressUpdate) Percentage() float64 {
	if p.Total == 0 {
		if p.Done {
			return 100
		}
		return 0
	}
	return float64(p.Processed) * 100 / float64(p.Total)
}

// EnrichmentSummary holds the totals of a finished enrichment or retry run.
type EnrichmentSummary struct {
	TotalCost         decimal.Decimal
	Processed         int
	Successful        int
	Failed            int
	Skipped           int
	CacheHits         int
	APICallsMade      int
	TotalTokens       int
	PermanentlyFailed int
}

// ClearReport counts rows touched by a full enrichment reset.
type ClearReport struct {
	Transactions  int64 `json:"transactions"`
	CacheEntries  int64 `json:"cache_entries"`
	FailedRecords int64 `json:"failed_records"`
}
