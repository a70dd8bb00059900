package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/model"
)

const jobColumns = `id, kind, resource, status, processed, total, successful, failed,
	total_tokens, total_cost, error_message, created_at, started_at, completed_at,
	owner, heartbeat_at`

const activeJobStatuses = `('pending', 'queued', 'running')`

// CreateJob inserts a new job record.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(&job); err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.HeartbeatAt.IsZero() {
		job.HeartbeatAt = job.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.Resource, string(job.Status),
		job.Processed, job.Total, job.Successful, job.Failed,
		job.TotalTokens, job.TotalCost.String(), nullString(job.ErrorMessage),
		job.CreatedAt.UTC(), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.Owner, job.HeartbeatAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob overwrites a job's mutable columns. Terminal rows are never changed.
// A zero HeartbeatAt keeps the stored heartbeat.
func (s *SQLiteStorage) UpdateJob(ctx context.Context, job model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(&job); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, processed = ?, total = ?, successful = ?, failed = ?,
			total_tokens = ?, total_cost = ?, error_message = ?, started_at = ?, completed_at = ?,
			heartbeat_at = MAX(heartbeat_at, ?)
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		string(job.Status), job.Processed, job.Total, job.Successful, job.Failed,
		job.TotalTokens, job.TotalCost.String(), nullString(job.ErrorMessage),
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		heartbeatMillis(job.HeartbeatAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetJob(ctx, job.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s is terminal", ErrInvalidJob, job.ID)
	}
	return nil
}

// GetJob loads a job by id.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("job", id)
	}
	return job, err
}

// FindActiveJob returns the non-terminal job holding (kind, resource), if any.
func (s *SQLiteStorage) FindActiveJob(ctx context.Context, kind model.JobKind, resource string) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE kind = ? AND resource = ? AND status IN `+activeJobStatuses+`
		ORDER BY created_at LIMIT 1`, string(kind), resource))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("active job", string(kind)+"/"+resource)
	}
	return job, err
}

// ListJobs returns the most recent jobs first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// TouchJobs refreshes the heartbeat of every active job held by owner.
func (s *SQLiteStorage) TouchJobs(ctx context.Context, owner string, at time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(owner, "owner"); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = MAX(heartbeat_at, ?)
		WHERE owner = ? AND status IN `+activeJobStatuses, at.UnixMilli(), owner)
	if err != nil {
		return 0, fmt.Errorf("failed to touch jobs: %w", err)
	}
	return res.RowsAffected()
}

// FailStaleJobs fails active jobs whose heartbeat is older than staleBefore.
// Those were orphaned by a process that exited or hung; jobs whose manager is
// still beating are left alone.
func (s *SQLiteStorage) FailStaleJobs(ctx context.Context, message string, staleBefore, at time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error_message = ?, completed_at = ?
		WHERE status IN `+activeJobStatuses+` AND heartbeat_at < ?`,
		message, at.UTC(), staleBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func heartbeatMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func validateJob(job *model.Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	if !job.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidJob, job.Kind)
	}
	if job.Processed < 0 || job.Total < 0 || (job.Total > 0 && job.Processed > job.Total) {
		return fmt.Errorf("%w: progress %d/%d", ErrInvalidJob, job.Processed, job.Total)
	}
	return nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                model.Job
		kind, status, cost string
		errMsg             sql.NullString
		started, completed sql.NullTime
		heartbeat          int64
	)
	err := row.Scan(&job.ID, &kind, &job.Resource, &status,
		&job.Processed, &job.Total, &job.Successful, &job.Failed,
		&job.TotalTokens, &cost, &errMsg, &job.CreatedAt, &started, &completed,
		&job.Owner, &heartbeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.Kind = model.JobKind(kind)
	job.Status = model.JobStatus(status)
	job.ErrorMessage = errMsg.String
	job.CreatedAt = job.CreatedAt.UTC()
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	job.HeartbeatAt = time.UnixMilli(heartbeat).UTC()
	if job.TotalCost, err = parseDecimal(cost); err != nil {
		return nil, err
	}
	return &job, nil
}
