// Package jobs runs long operations in the background and tracks them
// through a persisted pending, queued, running, completed/failed lifecycle.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/observability"
	"github.com/Veraticus/the-spice-must-match/internal/service"
	"github.com/google/uuid"
)

// RecoveredMessage is the error recorded on jobs whose manager stopped beating.
const RecoveredMessage = "interrupted: process restarted"

// Heartbeat defaults. A job is orphaned once its heartbeat is older than
// StaleAfter, which must cover several missed beats.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleAfter        = time.Minute
)

var (
	// ErrQueueFull is returned when every queue slot is taken.
	ErrQueueFull = errors.New("job queue full")
	// ErrShutdown is returned for submissions after Shutdown.
	ErrShutdown = errors.New("job manager shut down")
)

// Operation is the work wrapped by a job. A returned error fails the job;
// per-item failures belong in the Progress counters instead.
type Operation func(ctx context.Context, p *Progress) error

// Request describes a job to submit.
type Request struct {
	Run      Operation
	Kind     model.JobKind
	Resource string
}

// Options sizes the worker pool and the liveness heartbeat.
type Options struct {
	Logger            *slog.Logger
	Metrics           *observability.Metrics
	Now               func() time.Time
	Workers           int
	QueueSize         int
	PersistEvery      int
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

// entry is a live job in the registry.
type entry struct {
	run       Operation
	job       model.Job
	persisted int
	persistMu sync.Mutex
}

type resourceKey struct {
	kind     model.JobKind
	resource string
}

// Manager owns the job registry and the worker pool. Several managers,
// possibly in different processes, may share one store: each stamps its jobs
// with its owner id and keeps their heartbeat fresh while it runs.
type Manager struct {
	store    service.JobStore
	broker   *Broker
	logger   *slog.Logger
	jobs     map[string]*entry
	active   map[resourceKey]string
	queue    chan *entry
	ctx      context.Context
	cancel   context.CancelFunc
	beatDone chan struct{}
	owner    string
	opts     Options
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	closed   bool
}

// NewManager creates a manager persisting to store. Call Start before Submit.
func NewManager(store service.JobStore, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.PersistEvery <= 0 {
		opts.PersistEvery = 25
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.StaleAfter < 2*opts.HeartbeatInterval {
		opts.StaleAfter = 2 * opts.HeartbeatInterval
	}

	return &Manager{
		store:  store,
		opts:   opts,
		owner:  uuid.New().String(),
		broker: NewBroker(),
		logger: common.Component(opts.Logger, "jobs"),
		jobs:   make(map[string]*entry),
		active: make(map[resourceKey]string),
		queue:  make(chan *entry, opts.QueueSize),
	}
}

// Owner is the id stamped on jobs this manager runs.
func (m *Manager) Owner() string {
	return m.owner
}

// Start fails jobs orphaned by a dead manager and launches the workers and the
// heartbeat. Jobs of managers that are still beating are not touched. Workers
// stop when Shutdown is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if err := m.recoverStale(ctx); err != nil {
		return err
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go func(workerID int) {
			defer m.wg.Done()
			m.worker(workerID)
		}(i)
	}
	m.beatDone = make(chan struct{})
	go m.heartbeat()
	m.started = true

	m.logger.Info("Job manager started",
		"owner", m.owner,
		"workers", m.opts.Workers,
		"queue_size", m.opts.QueueSize)
	return nil
}

// recoverStale fails active jobs whose heartbeat is older than StaleAfter.
func (m *Manager) recoverStale(ctx context.Context) error {
	now := m.opts.Now()
	n, err := m.store.FailStaleJobs(ctx, RecoveredMessage, now.Add(-m.opts.StaleAfter), now)
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if n > 0 {
		m.logger.Warn("Marked orphaned jobs failed", "count", n)
		m.opts.Metrics.JobsRecoveredAdd(n)
	}
	return nil
}

// heartbeat keeps this manager's active rows fresh until the manager stops.
func (m *Manager) heartbeat() {
	defer close(m.beatDone)
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, m.opts.HeartbeatInterval)
			if _, err := m.store.TouchJobs(ctx, m.owner, m.opts.Now()); err != nil {
				m.logger.Warn("Failed to refresh job heartbeat", "owner", m.owner, "error", err)
			}
			cancel()
		}
	}
}

// Submit registers a job and queues it. A second job for an active
// (kind, resource) pair is rejected with common.ErrJobConflict.
func (m *Manager) Submit(ctx context.Context, req Request) (model.JobView, error) {
	if !req.Kind.Valid() {
		return model.JobView{}, common.NewValidationError("kind", fmt.Sprintf("unknown job kind %q", req.Kind))
	}
	req.Resource = strings.TrimSpace(req.Resource)
	if req.Resource == "" {
		return model.JobView{}, common.NewValidationError("resource", "must not be empty")
	}
	if req.Run == nil {
		return model.JobView{}, common.NewValidationError("run", "operation is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return model.JobView{}, ErrShutdown
	}
	if !m.started {
		return model.JobView{}, fmt.Errorf("job manager not started")
	}

	key := resourceKey{kind: req.Kind, resource: req.Resource}
	if id, busy := m.active[key]; busy {
		m.opts.Metrics.JobRejected(string(req.Kind))
		return model.JobView{}, fmt.Errorf("%w: %s job %s holds %q", common.ErrJobConflict, req.Kind, id, req.Resource)
	}
	if len(m.queue) == cap(m.queue) {
		m.opts.Metrics.JobRejected(string(req.Kind))
		return model.JobView{}, ErrQueueFull
	}
	// A holder that stopped beating must not block the resource forever.
	if err := m.recoverStale(ctx); err != nil {
		return model.JobView{}, err
	}
	existing, err := m.store.FindActiveJob(ctx, req.Kind, req.Resource)
	switch {
	case err == nil:
		m.opts.Metrics.JobRejected(string(req.Kind))
		return model.JobView{}, fmt.Errorf("%w: %s job %s holds %q", common.ErrJobConflict, req.Kind, existing.ID, req.Resource)
	case !errors.Is(err, common.ErrNotFound):
		return model.JobView{}, fmt.Errorf("failed to check active jobs: %w", err)
	}

	now := m.opts.Now().UTC()
	e := &entry{
		run: req.Run,
		job: model.Job{
			ID:          uuid.New().String(),
			Owner:       m.owner,
			Kind:        req.Kind,
			Resource:    req.Resource,
			Status:      model.JobPending,
			CreatedAt:   now,
			HeartbeatAt: now,
		},
	}
	if err := m.store.CreateJob(ctx, e.job); err != nil {
		return model.JobView{}, err
	}

	// Mark queued before the send so a worker never sees a pending job.
	e.job.Status = model.JobQueued
	if err := m.store.UpdateJob(ctx, e.job); err != nil {
		return model.JobView{}, err
	}

	// Only Submit sends, under m.mu, and capacity was checked above.
	m.queue <- e

	m.jobs[e.job.ID] = e
	m.active[key] = e.job.ID
	m.opts.Metrics.JobSubmitted(string(req.Kind))
	m.logger.Info("Job queued", "job_id", e.job.ID, "kind", req.Kind, "resource", req.Resource)
	m.publishLocked(e)
	return e.job.View(), nil
}

// GetStatus returns a point-in-time view of a job. Live jobs are read from
// memory; finished ones from the store.
func (m *Manager) GetStatus(ctx context.Context, id string) (model.JobView, error) {
	m.mu.Lock()
	if e, ok := m.jobs[id]; ok {
		view := e.job.View()
		m.mu.Unlock()
		return view, nil
	}
	m.mu.Unlock()

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return model.JobView{}, err
	}
	return job.View(), nil
}

// List returns recent jobs, newest first, with live counters for running ones.
func (m *Manager) List(ctx context.Context, limit int) ([]model.JobView, error) {
	jobs, err := m.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]model.JobView, len(jobs))
	for i, job := range jobs {
		if e, ok := m.jobs[job.ID]; ok {
			views[i] = e.job.View()
			continue
		}
		views[i] = job.View()
	}
	return views, nil
}

// Subscribe returns future job events. Call the returned function to stop.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.broker.Subscribe()
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	close(m.queue)
	m.mu.Unlock()

	if !started {
		m.broker.Close()
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		<-m.beatDone
		m.broker.Close()
		m.logger.Info("Job manager stopped")
		return nil
	case <-ctx.Done():
		// Running operations see their context canceled; they finish as failed.
		m.cancel()
		return fmt.Errorf("job manager shutdown: %w", ctx.Err())
	}
}

func (m *Manager) worker(workerID int) {
	for e := range m.queue {
		m.execute(workerID, e)
	}
}

func (m *Manager) execute(workerID int, e *entry) {
	started := m.opts.Now().UTC()
	if !m.transition(e, model.JobRunning, func(j *model.Job) {
		j.StartedAt = &started
	}) {
		return
	}
	m.logger.Info("Job started", "job_id", e.job.ID, "kind", e.job.Kind, "worker_id", workerID)

	err := m.runOperation(e)

	finished := m.opts.Now().UTC()
	status := model.JobCompleted
	if err != nil {
		status = model.JobFailed
	}
	m.transition(e, status, func(j *model.Job) {
		j.CompletedAt = &finished
		if err != nil {
			j.ErrorMessage = err.Error()
		}
	})

	m.mu.Lock()
	job := e.job
	delete(m.jobs, job.ID)
	delete(m.active, resourceKey{kind: job.Kind, resource: job.Resource})
	m.mu.Unlock()

	m.opts.Metrics.JobFinished(string(job.Kind), string(job.Status), finished.Sub(started).Seconds())
	if err != nil {
		m.logger.Error("Job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		return
	}
	m.logger.Info("Job completed",
		"job_id", job.ID,
		"kind", job.Kind,
		"processed", job.Processed,
		"successful", job.Successful,
		"failed", job.Failed)
	if job.Successful > 0 {
		m.broker.Publish(TransactionsUpdated{JobID: job.ID, Kind: job.Kind, Count: job.Successful})
	}
}

// runOperation runs the job's operation, turning a panic into an error.
func (m *Manager) runOperation(e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.run(m.ctx, &Progress{m: m, e: e})
}

// transition moves e to next if the state machine allows it, persists the
// change and publishes it.
func (m *Manager) transition(e *entry, next model.JobStatus, mutate func(*model.Job)) bool {
	m.mu.Lock()
	if !e.job.Status.CanTransition(next) {
		m.mu.Unlock()
		m.logger.Error("Illegal job transition", "job_id", e.job.ID, "from", e.job.Status, "to", next)
		return false
	}
	e.job.Status = next
	if mutate != nil {
		mutate(&e.job)
	}
	m.mu.Unlock()

	m.persist(e)
	return true
}

// persist writes the latest state of e. Writes for one job are serialized
// and always carry the newest snapshot.
func (m *Manager) persist(e *entry) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	m.mu.Lock()
	job := e.job
	m.mu.Unlock()
	job.HeartbeatAt = m.opts.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		m.logger.Error("Failed to persist job", "job_id", job.ID, "status", job.Status, "error", err)
	}

	m.broker.Publish(jobEvent(job))
}

func (m *Manager) publishLocked(e *entry) {
	m.broker.Publish(jobEvent(e.job))
}

func jobEvent(job model.Job) JobEvent {
	return JobEvent{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Processed: job.Processed,
		Total:     job.Total,
	}
}
