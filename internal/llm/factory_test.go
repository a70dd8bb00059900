package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{Provider: "Anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = NewProvider(Config{Provider: "openai", APIKey: "k", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.Model())

	_, err = NewProvider(Config{Provider: "claudecode", APIKey: "k"})
	assert.Error(t, err)
}

func TestManagedProvider_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"category\":\"Fees\",\"confidence\":0.6}"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{Provider: "anthropic", APIKey: "k", BaseURL: server.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	// Rate-limit retries wait MaxDelay; keep it short for the test.
	p.(*managedProvider).retryOpts.MaxDelay = 5 * time.Millisecond

	res, err := p.Categorize(context.Background(), Request{Description: "MONTHLY FEE", Direction: model.DirectionOut})
	require.NoError(t, err)
	assert.Equal(t, "Fees", res.Categorization.Category)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManagedProvider_DoesNotRetryMalformed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"no idea"}]}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{Provider: "anthropic", APIKey: "k", BaseURL: server.URL, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	_, err = p.Categorize(context.Background(), Request{Description: "X", Direction: model.DirectionOut})
	assert.Equal(t, common.ProviderMalformed, common.ProviderErrorKindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}
