package llm

import (
	"strings"

	"github.com/shopspring/decimal"
)

// modelPrice is the list price in dollars per million tokens.
type modelPrice struct {
	prefix string
	input  decimal.Decimal
	output decimal.Decimal
}

// Longer prefixes must come first.
var priceTable = []modelPrice{
	{"claude-3-5-haiku", decimal.RequireFromString("0.80"), decimal.RequireFromString("4.00")},
	{"claude-3-haiku", decimal.RequireFromString("0.25"), decimal.RequireFromString("1.25")},
	{"claude-3-5-sonnet", decimal.RequireFromString("3.00"), decimal.RequireFromString("15.00")},
	{"claude-sonnet-4", decimal.RequireFromString("3.00"), decimal.RequireFromString("15.00")},
	{"claude-3-opus", decimal.RequireFromString("15.00"), decimal.RequireFromString("75.00")},
	{"claude-opus-4", decimal.RequireFromString("15.00"), decimal.RequireFromString("75.00")},
	{"gpt-4o-mini", decimal.RequireFromString("0.15"), decimal.RequireFromString("0.60")},
	{"gpt-4o", decimal.RequireFromString("2.50"), decimal.RequireFromString("10.00")},
	{"gpt-4-turbo", decimal.RequireFromString("10.00"), decimal.RequireFromString("30.00")},
	{"gpt-3.5-turbo", decimal.RequireFromString("0.50"), decimal.RequireFromString("1.50")},
}

var perMillion = decimal.NewFromInt(1_000_000)

// EstimateCost prices usage for modelName. Unknown models cost zero.
func EstimateCost(modelName string, usage Usage) decimal.Decimal {
	name := strings.ToLower(modelName)
	for _, p := range priceTable {
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		in := p.input.Mul(decimal.NewFromInt(int64(usage.InputTokens)))
		out := p.output.Mul(decimal.NewFromInt(int64(usage.OutputTokens)))
		return in.Add(out).Div(perMillion)
	}
	return decimal.Zero
}
