package llm

import (
	"testing"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategorization(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		direction     model.Direction
		wantCategory  string
		wantEssential bool
		wantConf      float64
		wantErr       bool
	}{
		{
			name:          "plain json",
			content:       `{"category": "Groceries", "subcategory": "Supermarket", "merchant_name": "Safeway", "confidence": 0.8}`,
			direction:     model.DirectionOut,
			wantCategory:  "Groceries",
			wantEssential: true,
			wantConf:      0.8,
		},
		{
			name:          "fenced with prose",
			content:       "Here you go:\n```json\n{\"category\": \"Dining\", \"confidence\": 0.7, \"is_essential\": true}\n```",
			direction:     model.DirectionOut,
			wantCategory:  "Dining",
			wantEssential: true,
			wantConf:      0.7,
		},
		{
			name:         "percent confidence",
			content:      `{"category": "Refunds", "confidence": 85}`,
			direction:    model.DirectionIn,
			wantCategory: "Refunds",
			wantConf:     0.85,
		},
		{
			name:      "income category for expense",
			content:   `{"category": "Salary", "confidence": 0.9}`,
			direction: model.DirectionOut,
			wantErr:   true,
		},
		{
			name:      "missing category",
			content:   `{"confidence": 0.9}`,
			direction: model.DirectionOut,
			wantErr:   true,
		},
		{
			name:      "garbage",
			content:   "Shopping",
			direction: model.DirectionOut,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCategorization(tt.content, tt.direction)
			if tt.wantErr {
				require.ErrorIs(t, err, errMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, tt.wantEssential, got.IsEssential)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(Request{
		Description: "AMZN MKTPLACE",
		Context:     "Order 113-55 USB-C cable",
		Amount:      decimal.RequireFromString("-54.99"),
		Direction:   model.DirectionOut,
	})

	assert.Contains(t, prompt, "expense transaction")
	assert.Contains(t, prompt, "AMZN MKTPLACE")
	assert.Contains(t, prompt, "Amount: 54.99")
	assert.Contains(t, prompt, "Order 113-55 USB-C cable")
	assert.Contains(t, prompt, "Groceries")
	assert.NotContains(t, prompt, "Salary")
}

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost("gpt-4o-mini-2024-07-18", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	assert.True(t, cost.Equal(decimal.RequireFromString("0.75")), cost.String())

	assert.True(t, EstimateCost("local-llama", Usage{InputTokens: 500}).IsZero())
}
