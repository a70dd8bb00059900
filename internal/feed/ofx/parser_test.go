package ofx

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ofxHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
`

func stmtTrn(fitid, posted, amount, name, memo string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<STMTTRN>\n<TRNTYPE>OTHER\n<DTPOSTED>%s120000[0:GMT]\n<TRNAMT>%s\n<FITID>%s\n", posted, amount, fitid)
	if name != "" {
		fmt.Fprintf(&b, "<NAME>%s\n", name)
	}
	if memo != "" {
		fmt.Fprintf(&b, "<MEMO>%s\n", memo)
	}
	b.WriteString("</STMTTRN>\n")
	return b.String()
}

func bankOFX(acct string, txns ...string) string {
	return ofxHeader + `<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>` + acct + `
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
` + strings.Join(txns, "") + `</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`
}

func cardOFX(acct string, txns ...string) string {
	return ofxHeader + `<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>` + acct + `
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
` + strings.Join(txns, "") + `</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`
}

func TestParseFile(t *testing.T) {
	tests := []struct {
		name          string
		ofxData       string
		expectedCount int
		expectedError bool
	}{
		{
			name: "bank statement",
			ofxData: bankOFX("1234567890",
				stmtTrn("2024011501", "20240115", "-25.50", "STARBUCKS STORE #1234", ""),
				stmtTrn("2024012001", "20240120", "-125.00", "Whole Foods Market", "")),
			expectedCount: 2,
		},
		{
			name: "credit card statement",
			ofxData: cardOFX("4111111111111111",
				stmtTrn("CC2024011001", "20240110", "-45.99", "AMAZON.COM*RT4Y7HG2", "")),
			expectedCount: 1,
		},
		{
			name:          "empty statement",
			ofxData:       bankOFX("1234567890"),
			expectedCount: 0,
		},
		{
			name:          "invalid OFX data",
			ofxData:       "not valid OFX",
			expectedError: true,
		},
		{
			name:          "empty input",
			ofxData:       "",
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transactions, err := NewParser(nil).ParseFile(context.Background(), strings.NewReader(tt.ofxData))
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, transactions, tt.expectedCount)
		})
	}
}

func TestParseFileKeepsSignAndScopesIDs(t *testing.T) {
	data := bankOFX("1234567890",
		stmtTrn("2024011501", "20240115", "-25.50", "STARBUCKS STORE #1234", ""),
		stmtTrn("2024013101", "20240131", "3200.00", "ACME PAYROLL", "DIRECT DEP"))

	transactions, err := NewParser(nil).ParseFile(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, transactions, 2)

	coffee := transactions[0]
	assert.Equal(t, "1234567890:2024011501", coffee.ID)
	assert.Equal(t, "1234567890", coffee.AccountID)
	assert.Equal(t, "STARBUCKS STORE #1234", coffee.RawDescription)
	assert.True(t, decimal.RequireFromString("-25.50").Equal(coffee.Amount))
	assert.Equal(t, model.DirectionOut, coffee.Direction)
	assert.Equal(t, time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), coffee.Date)
	assert.Nil(t, coffee.Categorization)

	pay := transactions[1]
	assert.Equal(t, "ACME PAYROLL", pay.RawDescription, "memo is only appended to generic names")
	assert.True(t, decimal.RequireFromString("3200").Equal(pay.Amount))
	assert.Equal(t, model.DirectionIn, pay.Direction)
}

func TestConvertTransactionRequiresFITID(t *testing.T) {
	_, err := convertTransaction(ofxgo.Transaction{Name: "NETFLIX.COM"}, "4111111111111111")
	assert.Error(t, err)

	txn, err := convertTransaction(ofxgo.Transaction{FiTID: "CC1", Name: "NETFLIX.COM"}, "4111111111111111")
	require.NoError(t, err)
	assert.Equal(t, "4111111111111111:CC1", txn.ID)
	assert.True(t, txn.Amount.IsZero())
	assert.Equal(t, model.DirectionOut, txn.Direction)
}

func TestParseFileHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := bankOFX("1", stmtTrn("A", "20240115", "-1.00", "X", ""))
	_, err := NewParser(nil).ParseFile(ctx, strings.NewReader(data))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescription(t *testing.T) {
	tests := []struct {
		name     string
		tx       ofxgo.Transaction
		expected string
	}{
		{
			name:     "name only",
			tx:       ofxgo.Transaction{Name: "NETFLIX.COM"},
			expected: "NETFLIX.COM",
		},
		{
			name:     "generic name gets memo",
			tx:       ofxgo.Transaction{Name: "DEBIT", Memo: "SQ *BLUE BOTTLE"},
			expected: "DEBIT SQ *BLUE BOTTLE",
		},
		{
			name:     "payee when name is missing",
			tx:       ofxgo.Transaction{Payee: &ofxgo.Payee{Name: "City Water"}},
			expected: "City Water",
		},
		{
			name:     "memo alone",
			tx:       ofxgo.Transaction{Memo: "  TRANSFER 0042  "},
			expected: "TRANSFER 0042",
		},
		{
			name:     "specific name ignores memo",
			tx:       ofxgo.Transaction{Name: "Whole Foods Market", Memo: "POS 4411"},
			expected: "Whole Foods Market",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, description(tt.tx))
		})
	}
}

func TestPreprocessOFX(t *testing.T) {
	in := "\n\n<OFX>\n<SEVERITY>Info</SEVERITY>\n<CODE\n"
	out := preprocessOFX(in)
	assert.True(t, strings.HasPrefix(out, "<OFX>"))
	assert.Contains(t, out, "<SEVERITY>INFO</SEVERITY>")
	assert.Contains(t, out, "<CODE>")
}

func TestGetAccounts(t *testing.T) {
	parser := NewParser(nil)

	accounts, err := parser.GetAccounts(context.Background(), strings.NewReader(bankOFX("1234567890")))
	require.NoError(t, err)
	assert.Equal(t, []string{"1234567890"}, accounts)

	accounts, err = parser.GetAccounts(context.Background(), strings.NewReader(cardOFX("4111111111111111")))
	require.NoError(t, err)
	assert.Equal(t, []string{"4111111111111111"}, accounts)
}
