// Package gmail turns receipt emails into receipt_email candidate records.
package gmail

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultQuery selects likely receipts when none is configured.
const DefaultQuery = "subject:(receipt OR order OR invoice) newer_than:1y"

const defaultConcurrency = 4

var (
	// Labelled totals win over bare dollar amounts.
	totalRegex  = regexp.MustCompile(`(?i)(?:grand total|order total|total charged|amount paid|amount charged|total)\s*:?\s*(?:USD\s*)?\$\s?([0-9][0-9,]*\.[0-9]{2})`)
	amountRegex = regexp.MustCompile(`\$\s?([0-9][0-9,]*\.[0-9]{2})`)
	tagRegex    = regexp.MustCompile(`<[^>]*>`)
)

// Message is the part of an email the importer reads.
type Message struct {
	Date    time.Time
	ID      string
	From    string
	Subject string
	Body    string
}

// MessageSource lists and fetches mailbox messages.
type MessageSource interface {
	ListMessageIDs(ctx context.Context, query string) ([]string, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
}

// ImportResult summarizes one mailbox scan.
type ImportResult struct {
	Candidates []model.CandidateRecord
	Scanned    int
	Skipped    int
}

// Importer scans a mailbox for receipts.
type Importer struct {
	source      MessageSource
	logger      *slog.Logger
	query       string
	concurrency int
}

// NewImporter creates an importer. Zero values fall back to defaults.
func NewImporter(source MessageSource, query string, concurrency int, logger *slog.Logger) *Importer {
	if query == "" {
		query = DefaultQuery
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Importer{
		source:      source,
		query:       query,
		concurrency: concurrency,
		logger:      common.Component(logger, "gmail"),
	}
}

// Import fetches matching messages concurrently and parses each into a
// candidate. Messages without a recognizable total are skipped. progress,
// if set, is called after every message.
func (im *Importer) Import(ctx context.Context, progress func(processed, total int)) (*ImportResult, error) {
	ids, err := im.source.ListMessageIDs(ctx, im.query)
	if err != nil {
		return nil, err
	}

	im.logger.Info("Scanning mailbox", "query", im.query, "messages", len(ids))

	var (
		mu        sync.Mutex
		processed int
		parsed    = make([]*model.CandidateRecord, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			msg, err := im.source.GetMessage(gctx, id)
			if err != nil {
				return err
			}
			if candidate, ok := ParseReceipt(msg); ok {
				parsed[i] = &candidate
			}

			mu.Lock()
			defer mu.Unlock()
			processed++
			if progress != nil {
				progress(processed, len(ids))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ImportResult{Scanned: len(ids)}
	for _, c := range parsed {
		if c == nil {
			result.Skipped++
			continue
		}
		result.Candidates = append(result.Candidates, *c)
	}

	im.logger.Info("Mailbox scan complete",
		"scanned", result.Scanned,
		"receipts", len(result.Candidates),
		"skipped", result.Skipped)
	return result, nil
}

// ParseReceipt extracts the charged total from a receipt email.
func ParseReceipt(msg *Message) (model.CandidateRecord, bool) {
	if msg == nil || msg.ID == "" {
		return model.CandidateRecord{}, false
	}
	body := tagRegex.ReplaceAllString(msg.Body, " ")

	amount, ok := findAmount(totalRegex, body)
	if !ok {
		amount, ok = findAmount(totalRegex, msg.Subject)
	}
	if !ok {
		amount, ok = findAmount(amountRegex, body)
	}
	if !ok || !amount.IsPositive() {
		return model.CandidateRecord{}, false
	}

	description := strings.TrimSpace(msg.Subject)
	if description == "" {
		description = msg.From
	}

	return model.CandidateRecord{
		Kind:        model.KindReceiptEmail,
		ExternalID:  "gmail:" + msg.ID,
		Amount:      amount,
		Date:        msg.Date,
		Description: description,
		Payload: model.ReceiptEmailPayload{
			Sender:    msg.From,
			Subject:   msg.Subject,
			MessageID: msg.ID,
		},
	}, true
}

// findAmount returns the last labelled match; receipts list subtotals first.
func findAmount(re *regexp.Regexp, text string) (decimal.Decimal, bool) {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return decimal.Decimal{}, false
	}
	raw := strings.ReplaceAll(matches[len(matches)-1][1], ",", "")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// Resource names the mailbox for job conflict checks.
func Resource(cfg Config) string {
	if cfg.Mailbox == "" {
		return "gmail:me"
	}
	return "gmail:" + cfg.Mailbox
}
