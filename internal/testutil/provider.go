package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/llm"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
)

// MockProvider is a deterministic llm.Provider. It categorizes by keyword
// and can be told to fail for descriptions containing a marker.
type MockProvider struct {
	failures map[string]common.ProviderErrorKind
	calls    []llm.Request
	mu       sync.Mutex
}

// NewMockProvider creates a provider that always succeeds.
func NewMockProvider() *MockProvider {
	return &MockProvider{failures: make(map[string]common.ProviderErrorKind)}
}

// Name implements llm.Provider.
func (m *MockProvider) Name() string { return "mock" }

// Model implements llm.Provider.
func (m *MockProvider) Model() string { return "mock-1" }

// FailOn makes every request whose description contains marker fail with kind.
func (m *MockProvider) FailOn(marker string, kind common.ProviderErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[strings.ToLower(marker)] = kind
}

// Recover clears all configured failures.
func (m *MockProvider) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]common.ProviderErrorKind)
}

// Calls returns a copy of every request received.
func (m *MockProvider) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// CallCount returns the number of requests received.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Categorize implements llm.Provider.
func (m *MockProvider) Categorize(ctx context.Context, req llm.Request) (llm.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	failures := m.failures
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.Result{}, common.NewProviderError(m.Name(), common.ProviderTimeout, err)
	}

	desc := strings.ToLower(req.Description)
	for marker, kind := range failures {
		if strings.Contains(desc, marker) {
			return llm.Result{}, common.NewProviderError(m.Name(), kind, fmt.Errorf("mock failure for %q", req.Description))
		}
	}

	category, merchant := "Shopping", ""
	switch {
	case req.Direction == model.DirectionIn:
		category = "Salary"
	case strings.Contains(desc, "coffee") || strings.Contains(desc, "cafe"):
		category, merchant = "Dining", "Cafe"
	case strings.Contains(desc, "safeway") || strings.Contains(desc, "grocery"):
		category, merchant = "Groceries", "Safeway"
	case strings.Contains(desc, "amzn") || strings.Contains(desc, "amazon"):
		merchant = "Amazon"
	}

	return llm.Result{
		Categorization: model.Categorization{
			Category:     category,
			MerchantName: merchant,
			Confidence:   0.9,
			Provider:     m.Name(),
			Model:        m.Model(),
		},
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 20},
		Cost:  decimal.RequireFromString("0.001"),
	}, nil
}
