package llm

import (
	"context"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
)

// Provider categorizes one transaction description per call.
type Provider interface {
	Name() string
	Model() string
	Categorize(ctx context.Context, req Request) (Result, error)
}

// Request describes the transaction sent to the provider.
type Request struct {
	Amount      decimal.Decimal
	Description string
	// Context is the primary enrichment source description, when one exists.
	Context   string
	Direction model.Direction
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Result is a parsed categorization with its cost.
type Result struct {
	Categorization model.Categorization
	Cost           decimal.Decimal
	Usage          Usage
	Latency        time.Duration
}

// Config holds configuration for the LLM providers.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}
