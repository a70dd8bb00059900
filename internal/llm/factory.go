package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/service"
)

// NewProvider creates a rate-limited, retrying provider from cfg.
func NewProvider(cfg Config) (Provider, error) {
	var (
		inner Provider
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case openAIName:
		inner, err = newOpenAIClient(cfg)
	case anthropicName:
		inner, err = newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &managedProvider{
		inner:       inner,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		retryOpts:   retryOpts,
	}, nil
}

// managedProvider adds rate limiting and bounded retries around a client.
type managedProvider struct {
	inner       Provider
	rateLimiter *rateLimiter
	retryOpts   service.RetryOptions
}

func (p *managedProvider) Name() string  { return p.inner.Name() }
func (p *managedProvider) Model() string { return p.inner.Model() }

// Categorize waits for a rate-limit token before every attempt.
func (p *managedProvider) Categorize(ctx context.Context, req Request) (Result, error) {
	var result Result
	err := common.WithRetry(ctx, func() error {
		if err := p.rateLimiter.wait(ctx); err != nil {
			return transportError(p.inner.Name(), err)
		}
		var callErr error
		result, callErr = p.inner.Categorize(ctx, req)
		return callErr
	}, p.retryOpts)
	return result, err
}
