// Package plaid imports bank transactions through the Plaid API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/service"
	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"
)

const (
	dateLayout = "2006-01-02"
	// Plaid's max page size.
	pageSize = 500
)

// TransactionFetcher fetches bank transactions for a date range.
type TransactionFetcher interface {
	GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.BankTransaction, error)
	GetAccounts(ctx context.Context) ([]string, error)
}

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("plaid access token is required")
	}
	switch c.Environment {
	case "":
		return fmt.Errorf("plaid environment is required")
	case "sandbox", "production":
		return nil
	default:
		return fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}
}

// pageFunc returns one page of transactions and the total the server reports.
type pageFunc func(ctx context.Context, start, end string, offset int32) ([]plaid.Transaction, int32, error)

// Client implements TransactionFetcher.
type Client struct {
	api         *plaid.APIClient
	fetchPage   pageFunc
	logger      *slog.Logger
	retryOpts   service.RetryOptions
	accessToken string
}

// NewClient creates a Plaid client from a validated configuration.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	if cfg.Environment == "production" {
		configuration.UseEnvironment(plaid.Production)
	} else {
		configuration.UseEnvironment(plaid.Sandbox)
	}

	c := &Client{
		api:         plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		logger:      common.Component(logger, "plaid"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
	c.fetchPage = c.transactionsPage
	return c, nil
}

// GetTransactions fetches settled transactions within the date range.
// Plaid reports outflows as positive amounts; they are negated so debits
// are negative like every other feed.
func (c *Client) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.BankTransaction, error) {
	if startDate.After(endDate) {
		return nil, common.NewValidationError("start_date", "must be before end date")
	}
	start, end := startDate.Format(dateLayout), endDate.Format(dateLayout)

	c.logger.Info("Fetching transactions from Plaid", "start_date", start, "end_date", end)

	var (
		transactions []model.BankTransaction
		offset       int32
	)
	for {
		var (
			page  []plaid.Transaction
			total int32
		)
		err := common.WithRetry(ctx, func() error {
			var err error
			page, total, err = c.fetchPage(ctx, start, end, offset)
			return err
		}, c.retryOpts)
		if err != nil {
			return nil, err
		}

		for _, pt := range page {
			if pt.GetPending() {
				continue
			}
			txn, err := mapTransaction(pt)
			if err != nil {
				c.logger.Warn("Skipping Plaid transaction", "transaction_id", pt.GetTransactionId(), "error", err)
				continue
			}
			transactions = append(transactions, txn)
		}

		c.logger.Debug("Fetched transaction batch", "count", len(page), "offset", offset, "total", total)

		offset += int32(len(page))
		if len(page) < pageSize || offset >= total {
			break
		}
	}

	c.logger.Info("Fetched all transactions", "count", len(transactions))
	return transactions, nil
}

func (c *Client) transactionsPage(ctx context.Context, start, end string, offset int32) ([]plaid.Transaction, int32, error) {
	request := plaid.NewTransactionsGetRequest(c.accessToken, start, end)
	request.SetOptions(plaid.TransactionsGetRequestOptions{
		Count:  plaid.PtrInt32(pageSize),
		Offset: plaid.PtrInt32(offset),
	})

	resp, _, err := c.api.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
	if err != nil {
		return nil, 0, c.classify(err, "failed to fetch transactions")
	}
	return resp.GetTransactions(), resp.GetTotalTransactions(), nil
}

// GetAccounts fetches account IDs from Plaid.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	var accounts []plaid.AccountBase
	err := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(c.accessToken)
		resp, _, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return c.classify(err, "failed to fetch accounts")
		}
		accounts = resp.GetAccounts()
		return nil
	}, c.retryOpts)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.GetAccountId())
	}
	return ids, nil
}

// classify turns rate limits into retryable errors and keeps the Plaid
// error code in everything else.
func (c *Client) classify(err error, action string) error {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" {
		c.logger.Warn("Rate limit hit, will retry", "error", plaidErr.ErrorMessage)
		return &common.RetryableError{Err: err, Retryable: true}
	}
	return fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage)
}

// mapTransaction converts a Plaid transaction to a bank transaction.
func mapTransaction(pt plaid.Transaction) (model.BankTransaction, error) {
	date, err := time.Parse(dateLayout, pt.GetDate())
	if err != nil {
		return model.BankTransaction{}, fmt.Errorf("invalid date %q: %w", pt.GetDate(), err)
	}
	if pt.GetTransactionId() == "" {
		return model.BankTransaction{}, fmt.Errorf("missing transaction id")
	}

	amount := decimal.NewFromFloat(pt.GetAmount()).Neg().Round(2)
	description := pt.GetName()
	if description == "" {
		description = pt.GetMerchantName()
	}

	return model.BankTransaction{
		ID:             pt.GetTransactionId(),
		AccountID:      pt.GetAccountId(),
		Date:           date,
		Amount:         amount,
		RawDescription: description,
		Direction:      model.DirectionFromAmount(amount),
	}, nil
}

var _ TransactionFetcher = (*Client)(nil)
