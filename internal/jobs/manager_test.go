package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/observability"
	"github.com/Veraticus/the-spice-must-match/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startManager(t *testing.T, opts Options) (*Manager, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	m := NewManager(db.Storage, opts)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, db
}

func waitTerminal(t *testing.T, m *Manager, id string) model.JobView {
	t.Helper()
	var view model.JobView
	require.Eventually(t, func() bool {
		v, err := m.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		view = v
		return v.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return view
}

func TestManager_CompletesJob(t *testing.T) {
	m, db := startManager(t, Options{PersistEvery: 2})

	view, err := m.Submit(context.Background(), Request{
		Kind:     model.JobEnrich,
		Resource: "out",
		Run: func(_ context.Context, p *Progress) error {
			p.SetTotal(5)
			for i := 1; i <= 5; i++ {
				p.Advance(1)
				p.Record(Stats{Successful: i, TotalTokens: i * 100, TotalCost: decimal.NewFromInt(int64(i))})
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, view.Status)
	assert.NotEmpty(t, view.JobID)

	final := waitTerminal(t, m, view.JobID)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 5, final.Processed)
	assert.Equal(t, 5, final.Total)
	assert.Equal(t, 5, final.Successful)
	assert.Equal(t, 500, final.TotalTokens)
	assert.InDelta(t, 100, final.ProgressPercentage, 0)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)

	stored, err := db.Storage.GetJob(context.Background(), view.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.Status)
	assert.Equal(t, 5, stored.Processed)
	assert.True(t, stored.TotalCost.Equal(decimal.NewFromInt(5)))
}

func TestManager_FatalErrorFailsJob(t *testing.T) {
	m, _ := startManager(t, Options{})

	view, err := m.Submit(context.Background(), Request{
		Kind:     model.JobMatch,
		Resource: "retail_order",
		Run: func(context.Context, *Progress) error {
			return errors.New("failed to load candidate pool: disk I/O error")
		},
	})
	require.NoError(t, err)

	final := waitTerminal(t, m, view.JobID)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Equal(t, "failed to load candidate pool: disk I/O error", final.Error)
}

func TestManager_PanicFailsJob(t *testing.T) {
	m, _ := startManager(t, Options{})

	view, err := m.Submit(context.Background(), Request{
		Kind:     model.JobSync,
		Resource: "ofx",
		Run: func(context.Context, *Progress) error {
			panic("boom")
		},
	})
	require.NoError(t, err)

	final := waitTerminal(t, m, view.JobID)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Contains(t, final.Error, "boom")
}

func TestManager_RejectsConcurrentJobOnSameResource(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	m, _ := startManager(t, Options{Metrics: metrics})

	release := make(chan struct{})
	running := make(chan struct{})
	blocking := func(context.Context, *Progress) error {
		close(running)
		<-release
		return nil
	}

	first, err := m.Submit(context.Background(), Request{Kind: model.JobMatch, Resource: "retail_order", Run: blocking})
	require.NoError(t, err)
	<-running

	_, err = m.Submit(context.Background(), Request{
		Kind:     model.JobMatch,
		Resource: "retail_order",
		Run:      func(context.Context, *Progress) error { return nil },
	})
	require.ErrorIs(t, err, common.ErrJobConflict)
	assert.InDelta(t, 1, promtest.ToFloat64(metrics.JobsRejected.WithLabelValues("match")), 0)

	// A different resource or kind is independent.
	other, err := m.Submit(context.Background(), Request{
		Kind:     model.JobMatch,
		Resource: "app_purchase",
		Run:      func(context.Context, *Progress) error { return nil },
	})
	require.NoError(t, err)
	waitTerminal(t, m, other.JobID)

	close(release)
	waitTerminal(t, m, first.JobID)

	// Once the first job finished the resource is free again.
	again, err := m.Submit(context.Background(), Request{
		Kind:     model.JobMatch,
		Resource: "retail_order",
		Run:      func(context.Context, *Progress) error { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, waitTerminal(t, m, again.JobID).Status)
}

func TestManager_RejectsPersistedActiveJob(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	m := NewManager(db.Storage, Options{})
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Shutdown(ctx) }()

	// Another process holds the resource and is still beating.
	require.NoError(t, db.Storage.CreateJob(ctx, model.Job{
		ID:          "foreign",
		Owner:       "other-process",
		Kind:        model.JobSync,
		Resource:    "gmail:me@example.com",
		Status:      model.JobRunning,
		HeartbeatAt: time.Now().UTC(),
	}))

	_, err := m.Submit(ctx, Request{
		Kind:     model.JobSync,
		Resource: "gmail:me@example.com",
		Run:      func(context.Context, *Progress) error { return nil },
	})
	assert.ErrorIs(t, err, common.ErrJobConflict)
}

func TestManager_StartRecoversStaleJobs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	stale := time.Now().UTC().Add(-time.Hour)

	for _, status := range []model.JobStatus{model.JobPending, model.JobQueued, model.JobRunning, model.JobCompleted} {
		require.NoError(t, db.Storage.CreateJob(ctx, model.Job{
			ID:          "job-" + string(status),
			Owner:       "crashed",
			Kind:        model.JobEnrich,
			Resource:    string(status),
			Status:      status,
			HeartbeatAt: stale,
		}))
	}
	require.NoError(t, db.Storage.CreateJob(ctx, model.Job{
		ID:          "job-live",
		Owner:       "elsewhere",
		Kind:        model.JobMatch,
		Resource:    "retail_order",
		Status:      model.JobRunning,
		HeartbeatAt: time.Now().UTC(),
	}))

	metrics := observability.NewMetrics(nil)
	m := NewManager(db.Storage, Options{Metrics: metrics})
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Shutdown(ctx) }()

	for _, id := range []string{"job-pending", "job-queued", "job-running"} {
		view, err := m.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.JobFailed, view.Status, id)
		assert.Equal(t, RecoveredMessage, view.Error, id)
	}
	done, err := m.GetStatus(ctx, "job-completed")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)

	live, err := m.GetStatus(ctx, "job-live")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, live.Status)
	assert.InDelta(t, 3, promtest.ToFloat64(metrics.JobsRecovered), 0)
}

func TestManager_SubmitReplacesOrphanedHolder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := NewManager(db.Storage, Options{})
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Shutdown(ctx) }()

	// The holder dies after this manager started.
	require.NoError(t, db.Storage.CreateJob(ctx, model.Job{
		ID:          "orphan",
		Owner:       "crashed",
		Kind:        model.JobSync,
		Resource:    "plaid",
		Status:      model.JobRunning,
		HeartbeatAt: time.Now().UTC().Add(-time.Hour),
	}))

	view, err := m.Submit(ctx, Request{
		Kind:     model.JobSync,
		Resource: "plaid",
		Run:      func(context.Context, *Progress) error { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, waitTerminal(t, m, view.JobID).Status)

	orphan, err := db.Storage.GetJob(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, orphan.Status)
}

func TestManager_SharedStoreKeepsLiveJobs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	opts := Options{HeartbeatInterval: 20 * time.Millisecond, StaleAfter: 200 * time.Millisecond}

	first := NewManager(db.Storage, opts)
	require.NoError(t, first.Start(ctx))
	defer func() { _ = first.Shutdown(ctx) }()

	release := make(chan struct{})
	running := make(chan struct{})
	view, err := first.Submit(ctx, Request{
		Kind:     model.JobMatch,
		Resource: "retail_order",
		Run: func(context.Context, *Progress) error {
			close(running)
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	<-running

	// Outlive StaleAfter so only the heartbeat keeps the row fresh.
	time.Sleep(3 * opts.StaleAfter)

	second := NewManager(db.Storage, opts)
	require.NoError(t, second.Start(ctx))
	defer func() { _ = second.Shutdown(ctx) }()
	assert.NotEqual(t, first.Owner(), second.Owner())

	stored, err := db.Storage.GetJob(ctx, view.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, stored.Status)
	assert.Equal(t, first.Owner(), stored.Owner)

	var ran bool
	_, err = second.Submit(ctx, Request{
		Kind:     model.JobMatch,
		Resource: "retail_order",
		Run: func(context.Context, *Progress) error {
			ran = true
			return nil
		},
	})
	require.ErrorIs(t, err, common.ErrJobConflict)

	// Reads through either manager leave the row untouched.
	for range 3 {
		got, err := second.GetStatus(ctx, view.JobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobRunning, got.Status)
		_, err = second.List(ctx, 10)
		require.NoError(t, err)
	}
	after, err := db.Storage.GetJob(ctx, view.JobID)
	require.NoError(t, err)
	assert.Equal(t, stored.Status, after.Status)
	assert.Equal(t, stored.Processed, after.Processed)
	assert.Empty(t, after.ErrorMessage)

	close(release)
	final := waitTerminal(t, first, view.JobID)
	assert.Equal(t, model.JobCompleted, final.Status)

	persisted, err := db.Storage.GetJob(ctx, view.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, persisted.Status)
	assert.False(t, ran)
}

func TestManager_ProgressIsMonotonic(t *testing.T) {
	m, _ := startManager(t, Options{PersistEvery: 1})

	step := make(chan struct{})
	proceed := make(chan struct{})

	view, err := m.Submit(context.Background(), Request{
		Kind:     model.JobEnrich,
		Resource: "in",
		Run: func(_ context.Context, p *Progress) error {
			p.SetTotal(4)
			p.Set(3, 4)
			p.Set(1, 4)   // lower than current
			p.SetTotal(2) // totals never shrink
			p.Advance(10) // clamped to the total
			step <- struct{}{}
			<-proceed
			return nil
		},
	})
	require.NoError(t, err)

	<-step
	mid, err := m.GetStatus(context.Background(), view.JobID)
	require.NoError(t, err)
	close(proceed)

	assert.Equal(t, model.JobRunning, mid.Status)
	assert.Equal(t, 4, mid.Processed)
	assert.Equal(t, 4, mid.Total)

	final := waitTerminal(t, m, view.JobID)
	assert.Equal(t, 4, final.Processed)
}

func TestManager_ProgressIgnoredAfterFinish(t *testing.T) {
	m, _ := startManager(t, Options{})

	leaked := make(chan *Progress, 1)
	view, err := m.Submit(context.Background(), Request{
		Kind:     model.JobEnrich,
		Resource: "out",
		Run: func(_ context.Context, p *Progress) error {
			p.SetTotal(2)
			p.Advance(1)
			leaked <- p
			return nil
		},
	})
	require.NoError(t, err)
	final := waitTerminal(t, m, view.JobID)

	p := <-leaked
	p.Advance(1)
	p.Record(Stats{Successful: 9})

	after, err := m.GetStatus(context.Background(), view.JobID)
	require.NoError(t, err)
	assert.Equal(t, final.Processed, after.Processed)
	assert.Equal(t, 1, after.Processed)
	assert.Zero(t, after.Successful)
}

func TestManager_EventsAndList(t *testing.T) {
	m, _ := startManager(t, Options{})
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	view, err := m.Submit(context.Background(), Request{
		Kind:     model.JobMatch,
		Resource: "manual",
		Run: func(_ context.Context, p *Progress) error {
			p.Set(1, 1)
			p.Record(Stats{Successful: 1})
			return nil
		},
	})
	require.NoError(t, err)

	var (
		statuses []model.JobStatus
		updated  *TransactionsUpdated
	)
	timeout := time.After(5 * time.Second)
	for updated == nil {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case JobEvent:
				assert.Equal(t, view.JobID, e.JobID)
				statuses = append(statuses, e.Status)
			case TransactionsUpdated:
				updated = &e
			}
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, model.JobQueued, statuses[0])
	assert.Contains(t, statuses, model.JobRunning)
	assert.Equal(t, model.JobCompleted, statuses[len(statuses)-1])
	assert.Equal(t, 1, updated.Count)

	jobs, err := m.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, view.JobID, jobs[0].JobID)
}

func TestManager_SubmitValidation(t *testing.T) {
	m, _ := startManager(t, Options{})
	noop := func(context.Context, *Progress) error { return nil }

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"unknown kind", Request{Kind: "export", Resource: "x", Run: noop}, "kind"},
		{"blank resource", Request{Kind: model.JobMatch, Resource: "  ", Run: noop}, "resource"},
		{"missing operation", Request{Kind: model.JobMatch, Resource: "x"}, "run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tt.req)
			var vErr *common.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestManager_GetStatusUnknown(t *testing.T) {
	m, _ := startManager(t, Options{})
	_, err := m.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestManager_ShutdownDrainsAndRejects(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := NewManager(db.Storage, Options{Workers: 1})
	require.NoError(t, m.Start(ctx))

	view, err := m.Submit(ctx, Request{
		Kind:     model.JobEnrich,
		Resource: "out",
		Run: func(context.Context, *Progress) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))

	stored, err := db.Storage.GetJob(ctx, view.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.Status)

	_, err = m.Submit(ctx, Request{Kind: model.JobEnrich, Resource: "out", Run: func(context.Context, *Progress) error { return nil }})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestManager_QueueFull(t *testing.T) {
	m, db := startManager(t, Options{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	running := make(chan struct{})
	_, err := m.Submit(context.Background(), Request{
		Kind:     model.JobSync,
		Resource: "a",
		Run: func(context.Context, *Progress) error {
			close(running)
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	<-running
	defer close(release)

	_, err = m.Submit(context.Background(), Request{Kind: model.JobSync, Resource: "b", Run: func(context.Context, *Progress) error { return nil }})
	require.NoError(t, err)

	rejected, err := m.Submit(context.Background(), Request{Kind: model.JobSync, Resource: "c", Run: func(context.Context, *Progress) error { return nil }})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Empty(t, rejected.JobID)

	// Nothing is persisted for a rejected submission.
	jobs, err := db.Storage.ListJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
