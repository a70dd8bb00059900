package gmail

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeSource struct {
	messages map[string]*Message
	failOn   string
	order    []string
	query    string
	mu       sync.Mutex
}

func (f *fakeSource) ListMessageIDs(_ context.Context, query string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	return f.order, nil
}

func (f *fakeSource) GetMessage(_ context.Context, id string) (*Message, error) {
	if id == f.failOn {
		return nil, errors.New("backend error")
	}
	return f.messages[id], nil
}

func newFakeSource(msgs ...*Message) *fakeSource {
	f := &fakeSource{messages: make(map[string]*Message)}
	for _, m := range msgs {
		f.messages[m.ID] = m
		f.order = append(f.order, m.ID)
	}
	return f
}

var received = time.Date(2024, 3, 2, 15, 4, 0, 0, time.UTC)

func TestParseReceipt(t *testing.T) {
	tests := []struct {
		msg    *Message
		name   string
		amount string
		ok     bool
	}{
		{
			name:   "labelled total wins over line items",
			msg:    &Message{ID: "m1", Subject: "Your receipt", Body: "Latte $5.25\nSubtotal: $5.25\nTax: $0.47\nTotal: $5.72"},
			amount: "5.72",
			ok:     true,
		},
		{
			name:   "html body with thousands separator",
			msg:    &Message{ID: "m2", Subject: "Order confirmation", Body: "<td>Order Total:</td><td>$1,249.00</td>"},
			amount: "1249.00",
			ok:     true,
		},
		{
			name:   "total in subject",
			msg:    &Message{ID: "m3", Subject: "Amount paid $12.00", Body: "Thanks for riding"},
			amount: "12.00",
			ok:     true,
		},
		{
			name:   "bare amount fallback",
			msg:    &Message{ID: "m4", Subject: "Thanks", Body: "You were charged $30.10 today"},
			amount: "30.10",
			ok:     true,
		},
		{
			name: "no amount",
			msg:  &Message{ID: "m5", Subject: "Your order shipped", Body: "Track your package"},
		},
		{
			name: "zero total",
			msg:  &Message{ID: "m6", Subject: "Free trial", Body: "Total: $0.00"},
		},
		{
			name: "nil message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := ParseReceipt(tt.msg)
			require.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(c.Amount), "got %s", c.Amount)
			assert.Equal(t, model.KindReceiptEmail, c.Kind)
			assert.Equal(t, "gmail:"+tt.msg.ID, c.ExternalID)
		})
	}
}

func TestParseReceiptPayload(t *testing.T) {
	c, ok := ParseReceipt(&Message{
		ID:      "abc",
		Date:    received,
		From:    "Blue Bottle <receipts@bluebottle.com>",
		Subject: "Receipt from Blue Bottle",
		Body:    "Total $6.50",
	})
	require.True(t, ok)

	assert.Equal(t, received, c.Date)
	assert.Equal(t, "Receipt from Blue Bottle", c.Description)
	assert.Equal(t, model.ReceiptEmailPayload{
		Sender:    "Blue Bottle <receipts@bluebottle.com>",
		Subject:   "Receipt from Blue Bottle",
		MessageID: "abc",
	}, c.Payload)
	assert.Contains(t, c.MerchantHints(), "bluebottle")
}

func TestImport(t *testing.T) {
	var msgs []*Message
	for i := 0; i < 10; i++ {
		body := fmt.Sprintf("Total: $%d.99", i+1)
		if i%3 == 0 {
			body = "Your package is on its way"
		}
		msgs = append(msgs, &Message{ID: fmt.Sprintf("m%02d", i), Date: received, Subject: "Order", Body: body})
	}
	src := newFakeSource(msgs...)

	var (
		mu    sync.Mutex
		calls []int
	)
	im := NewImporter(src, "", 3, nil)
	result, err := im.Import(context.Background(), func(processed, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 10, total)
		calls = append(calls, processed)
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultQuery, src.query)
	assert.Equal(t, 10, result.Scanned)
	assert.Equal(t, 4, result.Skipped)
	require.Len(t, result.Candidates, 6)
	assert.Equal(t, "gmail:m01", result.Candidates[0].ExternalID, "mailbox order is kept")
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, calls)
}

func TestImportStopsOnFetchError(t *testing.T) {
	src := newFakeSource(
		&Message{ID: "a", Body: "Total: $1.00"},
		&Message{ID: "b", Body: "Total: $2.00"},
	)
	src.failOn = "b"

	_, err := NewImporter(src, "from:shop", 1, nil).Import(context.Background(), nil)
	assert.ErrorContains(t, err, "backend error")
	assert.Equal(t, "from:shop", src.query)
}

func TestResource(t *testing.T) {
	assert.Equal(t, "gmail:me", Resource(Config{}))
	assert.Equal(t, "gmail:me@example.com", Resource(Config{Mailbox: "me@example.com"}))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{ClientID: "id", ClientSecret: "s"}.Validate())
	assert.NoError(t, Config{ClientID: "id", ClientSecret: "s", TokenFile: "/tmp/t.json"}.Validate())
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	token := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}

	require.NoError(t, SaveToken(path, token))
	loaded, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "refresh", loaded.RefreshToken)

	_, err = LoadToken(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
