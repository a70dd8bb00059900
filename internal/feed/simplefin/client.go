// Package simplefin imports bank transactions from a SimpleFIN bridge.
package simplefin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/service"
	"github.com/shopspring/decimal"
)

type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// Config locates the SimpleFIN credentials.
type Config struct {
	// Token is the one-time setup token, claimed on first use.
	Token string
	// StateFile stores the claimed access URL.
	StateFile string
}

// Validate ensures the client can authenticate.
func (c Config) Validate() error {
	if c.StateFile == "" {
		return fmt.Errorf("simplefin state file is required")
	}
	return nil
}

// Client fetches posted transactions from the bridge.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	accessURL  string
	retryOpts  service.RetryOptions
}

// NewClient loads the saved access URL, claiming cfg.Token when none is saved.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	auth, err := LoadOrClaim(ctx, httpClient, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newClient(auth.AccessURL, httpClient, logger), nil
}

func newClient(accessURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		accessURL:  accessURL,
		httpClient: httpClient,
		logger:     common.Component(logger, "simplefin"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// GetTransactions fetches posted transactions between the two days,
// inclusive. Pending rows are skipped.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.BankTransaction, error) {
	if startDate.After(endDate) {
		return nil, common.NewValidationError("start_date", "must be before end date")
	}
	// end-date is exclusive on the bridge.
	set, err := c.accounts(ctx, url.Values{
		"start-date": {strconv.FormatInt(startDate.Unix(), 10)},
		"end-date":   {strconv.FormatInt(endDate.AddDate(0, 0, 1).Unix(), 10)},
	})
	if err != nil {
		return nil, err
	}

	var out []model.BankTransaction
	for _, acct := range set.Accounts {
		for _, tx := range acct.Transactions {
			if tx.Pending {
				continue
			}
			txn, err := mapTransaction(acct.ID, tx)
			if err != nil {
				c.logger.Warn("Skipping SimpleFIN transaction", "account", acct.ID, "transaction_id", tx.ID, "error", err)
				continue
			}
			if txn.Date.Before(startDate) || txn.Date.After(endDate.AddDate(0, 0, 1)) {
				continue
			}
			out = append(out, txn)
		}
	}
	c.logger.Info("Fetched SimpleFIN transactions", "accounts", len(set.Accounts), "count", len(out))
	return out, nil
}

// GetAccounts returns the account IDs visible to the access URL.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	set, err := c.accounts(ctx, url.Values{"balances-only": {"1"}})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(set.Accounts))
	for _, acct := range set.Accounts {
		ids = append(ids, acct.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *Client) accounts(ctx context.Context, query url.Values) (*accountSet, error) {
	u, err := url.Parse(c.accessURL + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("invalid SimpleFIN access URL: %w", err)
	}
	u.RawQuery = query.Encode()

	var set accountSet
	err = common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to fetch accounts: %w", err), Retryable: true}
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return &common.RetryableError{
				Err:       statusError(resp),
				After:     retryAfter(resp.Header.Get("Retry-After")),
				Retryable: true,
			}
		case resp.StatusCode != http.StatusOK:
			return statusError(resp)
		}
		set = accountSet{}
		if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
			return fmt.Errorf("failed to decode SimpleFIN response: %w", err)
		}
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}
	for _, msg := range set.Errors {
		c.logger.Warn("SimpleFIN bridge reported a problem", "message", msg)
	}
	return &set, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("SimpleFIN API error: %d - %s", resp.StatusCode, body)
}

// mapTransaction keeps the bridge's sign: debits are already negative.
func mapTransaction(accountID string, tx transaction) (model.BankTransaction, error) {
	if tx.ID == "" {
		return model.BankTransaction{}, fmt.Errorf("transaction has no id")
	}
	amount, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return model.BankTransaction{}, fmt.Errorf("invalid amount %q: %w", tx.Amount, err)
	}
	desc := tx.Description
	if desc == "" {
		desc = tx.Payee
	}
	return model.BankTransaction{
		ID:             accountID + ":" + tx.ID,
		AccountID:      accountID,
		Date:           time.Unix(tx.Posted, 0).UTC(),
		RawDescription: desc,
		Amount:         amount,
		Direction:      model.DirectionFromAmount(amount),
	}, nil
}

// retryAfter reads a Retry-After header given in seconds. Dates and garbage yield zero.
func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
