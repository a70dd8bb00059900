package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/app"
	"github.com/Veraticus/the-spice-must-match/internal/feed/plaid"
	"github.com/Veraticus/the-spice-must-match/internal/matching"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/observability"
	"github.com/Veraticus/the-spice-must-match/internal/testutil"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, feeds app.Feeds) *fiber.App {
	t.Helper()
	db := testutil.SetupTestDB(t)
	db.Seed(testutil.NewLedger().
		WithTransaction("t1", "-54.99", testutil.Day(10), "AMZN MKTPLACE").
		WithOrder("o1", "54.99", testutil.Day(8)))

	a := app.New(db.Storage, testutil.NewMockProvider(), feeds, app.Options{
		Metrics:  observability.NewMetrics(nil),
		Matching: matching.DefaultConfig(),
	})
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return NewServer(a, nil).Handler()
}

func do(t *testing.T, srv *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func pollJob(t *testing.T, srv *fiber.App, id string) model.JobView {
	t.Helper()
	var view model.JobView
	require.Eventually(t, func() bool {
		status, body := do(t, srv, http.MethodGet, "/api/jobs/"+id, "")
		if status != http.StatusOK {
			return false
		}
		view = decode[model.JobView](t, body)
		return view.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t, app.Feeds{})
	status, body := do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", decode[map[string]string](t, body)["status"])
}

func TestMatchJobLifecycle(t *testing.T) {
	srv := setupTestServer(t, app.Feeds{})

	status, body := do(t, srv, http.MethodPost, "/api/jobs/match", `{"kind": "retail_order"}`)
	require.Equal(t, http.StatusAccepted, status, string(body))
	submitted := decode[model.JobView](t, body)
	assert.NotEmpty(t, submitted.JobID)

	final := pollJob(t, srv, submitted.JobID)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.InDelta(t, 100.0, final.ProgressPercentage, 0.001)

	status, body = do(t, srv, http.MethodGet, "/api/transactions/t1/sources", "")
	require.Equal(t, http.StatusOK, status)
	sources := decode[[]sourceView](t, body)
	require.Len(t, sources, 1)
	assert.Equal(t, "o1", sources[0].ExternalID)
	assert.Equal(t, model.MethodExactAmountDate, sources[0].Method)

	status, _ = do(t, srv, http.MethodPost, "/api/sources/"+itoa(sources[0].ID)+"/verify", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, body = do(t, srv, http.MethodDelete, "/api/sources/"+itoa(sources[0].ID), "")
	assert.Equal(t, http.StatusConflict, status, "verified sources cannot be unlinked")
	assert.NotEmpty(t, decode[errorResponse](t, body).Error)

	status, body = do(t, srv, http.MethodGet, "/api/jobs?limit=5", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]model.JobView](t, body), 1)
}

func TestEnrichJobAndCacheStats(t *testing.T) {
	srv := setupTestServer(t, app.Feeds{})

	status, body := do(t, srv, http.MethodPost, "/api/jobs/enrich", `{"mode": "all", "direction": "out"}`)
	require.Equal(t, http.StatusAccepted, status, string(body))
	final := pollJob(t, srv, decode[model.JobView](t, body).JobID)
	assert.Equal(t, 1, final.Successful)
	assert.Equal(t, 120, final.TotalTokens)

	status, body = do(t, srv, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, status)
	stats := decode[model.CacheStats](t, body)
	assert.Equal(t, 1, stats.TotalCached)
	assert.Equal(t, 1, stats.Providers["mock"])
}

func TestErrorMapping(t *testing.T) {
	srv := setupTestServer(t, app.Feeds{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		field  string
		status int
	}{
		{name: "unknown kind", method: http.MethodPost, path: "/api/jobs/match", body: `{"kind": "fax"}`, status: http.StatusBadRequest, field: "kind"},
		{name: "bad selection", method: http.MethodPost, path: "/api/jobs/enrich", body: `{"mode": "limit", "direction": "out"}`, status: http.StatusBadRequest, field: "limit"},
		{name: "bad direction", method: http.MethodPost, path: "/api/jobs/enrich", body: `{"mode": "all", "direction": "sideways"}`, status: http.StatusBadRequest, field: "direction"},
		{name: "negative retry", method: http.MethodPost, path: "/api/jobs/retry", body: `{"limit": -1}`, status: http.StatusBadRequest, field: "limit"},
		{name: "unknown sync source", method: http.MethodPost, path: "/api/jobs/sync", body: `{"source": "fax"}`, status: http.StatusBadRequest, field: "source"},
		{name: "plaid not configured", method: http.MethodPost, path: "/api/jobs/sync", body: `{"source": "plaid"}`, status: http.StatusBadRequest, field: "source"},
		{name: "bad sync date", method: http.MethodPost, path: "/api/jobs/sync", body: `{"source": "plaid", "start_date": "March"}`, status: http.StatusBadRequest, field: "start_date"},
		{name: "malformed body", method: http.MethodPost, path: "/api/jobs/match", body: `{"kind": `, status: http.StatusBadRequest, field: "body"},
		{name: "unknown job", method: http.MethodGet, path: "/api/jobs/nope", status: http.StatusNotFound},
		{name: "unknown transaction", method: http.MethodGet, path: "/api/transactions/nope/sources", status: http.StatusNotFound},
		{name: "unknown source", method: http.MethodPost, path: "/api/sources/999/verify", status: http.StatusNotFound},
		{name: "non-numeric source", method: http.MethodPost, path: "/api/sources/abc/verify", status: http.StatusBadRequest, field: "id"},
		{name: "missing primary source id", method: http.MethodPost, path: "/api/transactions/t1/primary", body: `{}`, status: http.StatusBadRequest, field: "source_id"},
		{name: "bad jobs limit", method: http.MethodGet, path: "/api/jobs?limit=0", status: http.StatusBadRequest, field: "limit"},
		{name: "missing statement", method: http.MethodPost, path: "/api/jobs/sync/ofx", status: http.StatusBadRequest, field: "statement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, string(body))
			if tt.field != "" {
				assert.Equal(t, tt.field, decode[errorResponse](t, body).Field)
			}
		})
	}
}

func TestSyncConflict(t *testing.T) {
	release := make(chan struct{})
	fetcher := &plaid.MockClient{
		GetTransactionsFn: func(ctx context.Context, _, _ time.Time) ([]model.BankTransaction, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, nil
		},
	}
	srv := setupTestServer(t, app.Feeds{Plaid: fetcher})
	defer close(release)

	body := `{"source": "plaid", "start_date": "2025-03-01", "end_date": "2025-03-31"}`
	status, _ := do(t, srv, http.MethodPost, "/api/jobs/sync", body)
	require.Equal(t, http.StatusAccepted, status)

	status, resp := do(t, srv, http.MethodPost, "/api/jobs/sync", body)
	assert.Equal(t, http.StatusConflict, status, string(resp))
}

func TestLinkAndPrimary(t *testing.T) {
	srv := setupTestServer(t, app.Feeds{})

	status, body := do(t, srv, http.MethodPost, "/api/transactions/t1/links", `{"kind": "retail_order", "external_id": "o1"}`)
	require.Equal(t, http.StatusCreated, status, string(body))
	linked := decode[sourceView](t, body)
	assert.Equal(t, model.MethodUserLinked, linked.Method)
	assert.Equal(t, 100, linked.Confidence)
	assert.True(t, linked.UserVerified)

	status, body = do(t, srv, http.MethodPost, "/api/transactions/t1/primary", `{"source_id": `+itoa(linked.ID)+`}`)
	assert.Equal(t, http.StatusNoContent, status, string(body))

	status, _ = do(t, srv, http.MethodPost, "/api/transactions/t1/links", `{"kind": "retail_order", "external_id": "missing"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestImportCandidatesAndOFX(t *testing.T) {
	srv := setupTestServer(t, app.Feeds{})

	status, body := do(t, srv, http.MethodPost, "/api/candidates",
		`[{"kind": "manual", "external_id": "cash-1", "amount": "20.00", "date": "2025-03-02"}]`)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.EqualValues(t, 1, decode[map[string]int](t, body)["imported"])

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("statement", "march.qfx")
	require.NoError(t, err)
	_, err = part.Write([]byte("OFXHEADER:100\n\n<OFX></OFX>"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/sync/ofx", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	resp, err := srv.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var view model.JobView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "ofx:march.qfx", view.Resource)
	assert.Equal(t, model.JobFailed, pollJob(t, srv, view.JobID).Status, "an unparsable statement fails the job")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t, app.Feeds{})

	status, body := do(t, srv, http.MethodPost, "/api/jobs/match", `{"kind": "retail_order"}`)
	require.Equal(t, http.StatusAccepted, status)
	pollJob(t, srv, decode[model.JobView](t, body).JobID)

	status, body = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "spice_jobs_submitted_total")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
