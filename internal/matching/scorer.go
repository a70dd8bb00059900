package matching

import (
	"math"
	"strings"
	"unicode"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// minTokenSimilarity is the normalized edit similarity at which two words count as the same.
const minTokenSimilarity = 0.8

// score is the breakdown for one transaction/candidate pairing.
type score struct {
	amount     float64
	date       float64
	text       float64
	exact      bool
	confidence int
}

// scoreCandidate rates a candidate that already passed the window filter.
func scoreCandidate(w Weights, kc KindConfig, txn model.BankTransaction, c model.CandidateRecord) score {
	magnitude := txn.Magnitude()
	diff := magnitude.Sub(c.Amount).Abs()

	s := score{
		exact:  diff.LessThanOrEqual(exactTolerance),
		amount: amountScore(diff, kc.tolerance(magnitude)),
		date:   dateScore(daysBetween(txn.Date, c.Date), kc.DaysBefore, kc.DaysAfter),
		text:   textScore(txn.RawDescription, candidateTerms(c)),
	}

	total := w.Amount + w.Date + w.Text
	if total <= 0 {
		return s
	}
	weighted := (w.Amount*s.amount + w.Date*s.date + w.Text*s.text) / total
	s.confidence = clampConfidence(int(math.Round(weighted * 100)))
	return s
}

// amountScore is 1 for an exact amount and decays linearly to 0.5 at the
// tolerance edge.
func amountScore(diff, tolerance decimal.Decimal) float64 {
	if diff.LessThanOrEqual(exactTolerance) {
		return 1
	}
	if !tolerance.IsPositive() {
		return 0
	}
	ratio := diff.Div(tolerance).InexactFloat64()
	if ratio > 1 {
		return 0
	}
	return 1 - 0.5*ratio
}

// dateScore favors candidates close to the posting date. delta is
// candidate day minus transaction day; each side of the window decays
// over its own length.
func dateScore(delta, daysBefore, daysAfter int) float64 {
	side := daysAfter
	if delta < 0 {
		side = daysBefore
		delta = -delta
	}
	if delta > side {
		return 0
	}
	return 1 - float64(delta)/float64(side+1)
}

// textScore returns the best similarity between any description word and
// any candidate term, or 0 when nothing clears minTokenSimilarity.
func textScore(description string, terms []string) float64 {
	words := tokenize(description)
	if len(words) == 0 || len(terms) == 0 {
		return 0
	}

	best := 0.0
	for _, w := range words {
		for _, t := range terms {
			if sim := similarity(w, t); sim > best {
				best = sim
			}
		}
	}
	if best < minTokenSimilarity {
		return 0
	}
	return best
}

func candidateTerms(c model.CandidateRecord) []string {
	terms := tokenize(c.Description)
	for _, hint := range c.MerchantHints() {
		terms = append(terms, tokenize(hint)...)
	}
	return terms
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 0
	}
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.Options{
		InsCost: 1,
		DelCost: 1,
		SubCost: 1,
		Matches: levenshtein.IdenticalRunes,
	})
	return 1 - float64(dist)/float64(longest)
}

// tokenize lowercases s and splits it into words of three or more runes,
// dropping purely numeric words such as store numbers.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 || isNumeric(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
