// Package candidates reads normalized candidate records exported by the
// source importers.
package candidates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
)

type record struct {
	Kind        string          `json:"kind"`
	ExternalID  string          `json:"external_id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
	Amount      decimal.Decimal `json:"amount"`
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// Decode reads a JSON array of candidate records. Every record is checked
// and all problems are reported together; nothing is returned unless the
// whole file is valid. Amounts are stored as magnitudes.
func Decode(r io.Reader) ([]model.CandidateRecord, error) {
	var raw []record
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}

	var (
		out  = make([]model.CandidateRecord, 0, len(raw))
		errs []error
		seen = make(map[string]int, len(raw))
	)
	for i, rec := range raw {
		c, err := convert(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		key := string(c.Kind) + "/" + c.ExternalID
		if first, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("record %d: duplicate of record %d (%s)", i, first, key))
			continue
		}
		seen[key] = i
		out = append(out, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func convert(rec record) (model.CandidateRecord, error) {
	kind, err := model.ParseSourceKind(rec.Kind)
	if err != nil {
		return model.CandidateRecord{}, err
	}
	date, err := parseDate(rec.Date)
	if err != nil {
		return model.CandidateRecord{}, err
	}
	if rec.Amount.IsZero() {
		return model.CandidateRecord{}, fmt.Errorf("amount is required")
	}
	payload, err := model.UnmarshalPayload(kind, rec.Payload)
	if err != nil {
		return model.CandidateRecord{}, err
	}

	c := model.CandidateRecord{
		Kind:        kind,
		ExternalID:  strings.TrimSpace(rec.ExternalID),
		Date:        date,
		Amount:      rec.Amount.Abs(),
		Description: strings.TrimSpace(rec.Description),
		Payload:     payload,
	}
	if err := c.Validate(); err != nil {
		return model.CandidateRecord{}, err
	}
	return c, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
