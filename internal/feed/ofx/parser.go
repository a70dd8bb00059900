// Package ofx imports bank transactions from OFX/QFX statement files.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags at end of line that lost their closing bracket.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new OFX parser. logger may be nil.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: common.Component(logger, "ofx")}
}

// preprocessOFX fixes common formatting issues in bank exports.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseFile parses an OFX/QFX file into bank transactions. Amounts keep the
// file's sign, so debits are negative and outgoing.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.BankTransaction, error) {
	resp, err := parse(reader)
	if err != nil {
		return nil, err
	}

	var (
		transactions      []model.BankTransaction
		bankStmts, ccStmt int
	)
	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		bankStmts++
		txns, err := p.convertList(ctx, stmt.BankTranList.Transactions, string(stmt.BankAcctFrom.AcctID))
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txns...)
	}
	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		ccStmt++
		txns, err := p.convertList(ctx, stmt.BankTranList.Transactions, string(stmt.CCAcctFrom.AcctID))
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txns...)
	}

	p.logger.Info("Parsed OFX file",
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmt)
	return transactions, nil
}

func (p *Parser) convertList(ctx context.Context, list []ofxgo.Transaction, accountID string) ([]model.BankTransaction, error) {
	out := make([]model.BankTransaction, 0, len(list))
	for _, ofxTx := range list {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txn, err := convertTransaction(ofxTx, accountID)
		if err != nil {
			p.logger.Warn("Skipping OFX transaction", "fitid", ofxTx.FiTID, "error", err)
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

// convertTransaction maps one statement line. Ids are scoped by account
// since FITIDs are only unique per account.
func convertTransaction(ofxTx ofxgo.Transaction, accountID string) (model.BankTransaction, error) {
	if ofxTx.FiTID == "" {
		return model.BankTransaction{}, fmt.Errorf("missing FITID")
	}
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.FloatString(2))
	if err != nil {
		return model.BankTransaction{}, fmt.Errorf("invalid amount: %w", err)
	}

	return model.BankTransaction{
		ID:             accountID + ":" + string(ofxTx.FiTID),
		AccountID:      accountID,
		Date:           ofxTx.DtPosted.UTC(),
		Amount:         amount,
		RawDescription: description(ofxTx),
		Direction:      model.DirectionFromAmount(amount),
	}, nil
}

// description keeps the bank's own text, using PAYEE when NAME is empty and
// appending MEMO when NAME is too generic to identify the merchant.
func description(tx ofxgo.Transaction) string {
	name := strings.TrimSpace(string(tx.Name))
	if name == "" && tx.Payee != nil {
		name = strings.TrimSpace(string(tx.Payee.Name))
	}
	if memo := strings.TrimSpace(string(tx.Memo)); memo != "" && (name == "" || isGenericDescription(name)) {
		if name == "" {
			return memo
		}
		return name + " " + memo
	}
	return name
}

// isGenericDescription checks if a transaction name is too generic.
func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

// GetAccounts extracts unique account IDs from the OFX file, sorted.
func (p *Parser) GetAccounts(_ context.Context, reader io.Reader) ([]string, error) {
	resp, err := parse(reader)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankAcctFrom.AcctID != "" {
			seen[string(stmt.BankAcctFrom.AcctID)] = true
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.CCAcctFrom.AcctID != "" {
			seen[string(stmt.CCAcctFrom.AcctID)] = true
		}
	}

	accounts := make([]string, 0, len(seen))
	for acct := range seen {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)
	return accounts, nil
}

func parse(reader io.Reader) (*ofxgo.Response, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}
	return resp, nil
}
