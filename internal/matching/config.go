package matching

import (
	"github.com/Veraticus/the-spice-must-match/internal/config"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
)

// exactTolerance is the amount difference still treated as an exact match.
var exactTolerance = decimal.RequireFromString("0.01")

// Weights controls how the three score components combine.
type Weights struct {
	Amount float64
	Date   float64
	Text   float64
}

// KindConfig is the matching window for one source kind.
type KindConfig struct {
	AmountTolerance        decimal.Decimal
	AmountTolerancePercent decimal.Decimal
	DaysBefore             int
	DaysAfter              int
	MatchIncome            bool
}

// Config holds the thresholds used by Engine.
type Config struct {
	Kinds              map[model.SourceKind]KindConfig
	Weights            Weights
	MinConfidence      int
	PrelabelConfidence int
}

// DefaultConfig returns the built-in thresholds and windows.
func DefaultConfig() Config {
	v := config.MatchingConfig{
		Kinds:              config.DefaultKindTolerances(),
		MinConfidence:      60,
		PrelabelConfidence: 95,
		AmountWeight:       0.60,
		DateWeight:         0.25,
		TextWeight:         0.15,
	}
	return ConfigFrom(v)
}

// ConfigFrom converts the loaded configuration into engine settings.
func ConfigFrom(c config.MatchingConfig) Config {
	out := Config{
		Kinds:              make(map[model.SourceKind]KindConfig, len(c.Kinds)),
		MinConfidence:      c.MinConfidence,
		PrelabelConfidence: c.PrelabelConfidence,
		Weights: Weights{
			Amount: c.AmountWeight,
			Date:   c.DateWeight,
			Text:   c.TextWeight,
		},
	}
	for kind, tol := range c.Kinds {
		out.Kinds[kind] = KindConfig{
			AmountTolerance:        decimal.NewFromFloat(tol.AmountTolerance),
			AmountTolerancePercent: decimal.NewFromFloat(tol.AmountTolerancePercent),
			DaysBefore:             tol.DaysBefore,
			DaysAfter:              tol.DaysAfter,
			MatchIncome:            tol.MatchIncome,
		}
	}
	return out
}

// kind returns the window for k, falling back to the built-in default.
func (c Config) kind(k model.SourceKind) KindConfig {
	if kc, ok := c.Kinds[k]; ok {
		return kc
	}
	tol := config.DefaultKindTolerances()[k]
	return KindConfig{
		AmountTolerance:        decimal.NewFromFloat(tol.AmountTolerance),
		AmountTolerancePercent: decimal.NewFromFloat(tol.AmountTolerancePercent),
		DaysBefore:             tol.DaysBefore,
		DaysAfter:              tol.DaysAfter,
		MatchIncome:            tol.MatchIncome,
	}
}

// tolerance returns the widest allowed amount difference for magnitude.
func (kc KindConfig) tolerance(magnitude decimal.Decimal) decimal.Decimal {
	tol := kc.AmountTolerance
	if kc.AmountTolerancePercent.IsPositive() {
		pct := magnitude.Mul(kc.AmountTolerancePercent).Div(decimal.NewFromInt(100))
		if pct.GreaterThan(tol) {
			tol = pct
		}
	}
	if tol.LessThan(exactTolerance) {
		tol = exactTolerance
	}
	return tol
}
