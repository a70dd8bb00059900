package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobSubmitted("match")
		m.JobFinished("match", "completed", 1)
		m.MatchRecorded("retail_order", 80)
		m.ProviderCall("anthropic", 0.2, 10, decimal.NewFromFloat(0.01), nil)
		m.CacheLookup(true)
		m.EnrichFailure("timeout")
	})
}

func TestMetrics_JobLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.JobSubmitted("enrich")
	m.JobSubmitted("enrich")
	assert.InDelta(t, 2, testutil.ToFloat64(m.JobsActive.WithLabelValues("enrich")), 0)

	m.JobFinished("enrich", "completed", 3)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsActive.WithLabelValues("enrich")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsFinished.WithLabelValues("enrich", "completed")), 0)
}

func TestMetrics_ProviderCall(t *testing.T) {
	m := NewMetrics(nil)

	m.ProviderCall("openai", 0.5, 150, decimal.RequireFromString("0.002"), nil)
	m.ProviderCall("openai", 0.5, 0, decimal.Zero, errors.New("boom"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("openai", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("openai", "error")), 0)
	assert.InDelta(t, 150, testutil.ToFloat64(m.ProviderTokens.WithLabelValues("openai")), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.CacheLookup(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `spice_enrichment_cache_lookups_total{result="miss"} 1`)
}
