package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/vidforge/vidforge/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// JobRepo persists the per-job state machine in PostgreSQL. Status changes
// run under a row lock so exactly one writer performs any given transition.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, user_id, prompt, model_id, provider_id, params, priority, status, progress,
	retry_count, max_retries, operation_id, cost_estimate, clarifications, result, error,
	created_at, updated_at, started_at, completed_at, failed_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var params, clar, result []byte
	err := row.Scan(&j.ID, &j.UserID, &j.Prompt, &j.ModelID, &j.ProviderID, &params, &j.Priority,
		&j.Status, &j.Progress, &j.RetryCount, &j.MaxRetries, &j.OperationID, &j.CostEstimate,
		&clar, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt, &j.FailedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return domain.Job{}, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(clar) > 0 {
		if err := json.Unmarshal(clar, &j.Clarifications); err != nil {
			return domain.Job{}, fmt.Errorf("decode clarifications: %w", err)
		}
	}
	if len(result) > 0 {
		j.Result = &domain.JobResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return domain.Job{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return j, nil
}

// Create inserts a new job with a created history entry and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()

	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.MaxRetries <= 0 {
		j.MaxRetries = domain.DefaultMaxRetries
	}
	if !domain.ValidStatus(j.Status) {
		return "", fmt.Errorf("op=job.create: status %q: %w", j.Status, domain.ErrInvalidArgument)
	}
	params, err := json.Marshal(j.Params)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	clar, err := json.Marshal(append([]string{}, j.Clarifications...))
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	now := time.Now().UTC()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO jobs (id, user_id, prompt, model_id, provider_id, params, priority, status,
		progress, retry_count, max_retries, operation_id, cost_estimate, clarifications, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)`
	_, err = tx.Exec(ctx, q, j.ID, j.UserID, j.Prompt, j.ModelID, j.ProviderID, params, j.Priority,
		j.Status, j.Progress, j.RetryCount, j.MaxRetries, j.OperationID, j.CostEstimate, clar, j.Error, now)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	if err := appendHistory(ctx, tx, j.ID, domain.HistoryCreated, "job created", map[string]any{"model_id": j.ModelID}); err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return j.ID, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()

	j, err := scanJob(r.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// ListByUser returns the user's jobs, newest first.
func (r *JobRepo) ListByUser(ctx domain.Context, userID string, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListByUser")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()
	jobs := []domain.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list: %w", err)
	}
	return jobs, nil
}

// Transition moves the job to the target status. Invalid edges are rejected
// with a conflict; per-status timestamps and the error column are maintained
// here so callers never write them directly.
func (r *JobRepo) Transition(ctx domain.Context, id string, to domain.JobStatus, message string) (domain.Job, error) {
	return r.mutate(ctx, "job.transition", id, func(j *domain.Job) error {
		return applyTransition(j, to, message)
	}, domain.ActionForStatus(to), message, nil)
}

// UpdateProgress records provider-reported progress with a history entry.
func (r *JobRepo) UpdateProgress(ctx domain.Context, id string, progress int) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateProgress")
	defer span.End()

	if progress < 0 || progress > 100 {
		return fmt.Errorf("op=job.update_progress: progress %d out of range: %w", progress, domain.ErrInvalidArgument)
	}
	_, err := r.mutate(ctx, "job.update_progress", id, func(j *domain.Job) error {
		if domain.IsTerminal(j.Status) {
			return fmt.Errorf("job %s is %s: %w", j.ID, j.Status, domain.ErrConflict)
		}
		j.Progress = progress
		return nil
	}, domain.HistoryProgress, fmt.Sprintf("progress %d%%", progress), map[string]any{"progress": progress})
	return err
}

// SetOperation stamps the provider operation id on the job.
func (r *JobRepo) SetOperation(ctx domain.Context, id, operationID string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetOperation")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `UPDATE jobs SET operation_id=$2, updated_at=$3 WHERE id=$1`, id, operationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.set_operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.set_operation: %w", domain.ErrNotFound)
	}
	return nil
}

// AppendClarification appends a clarification answer to the job.
func (r *JobRepo) AppendClarification(ctx domain.Context, id, response string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.AppendClarification")
	defer span.End()

	q := `UPDATE jobs SET clarifications = clarifications || to_jsonb($2::text), updated_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, response, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.append_clarification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.append_clarification: %w", domain.ErrNotFound)
	}
	return nil
}

// Complete finishes an active job with its result.
func (r *JobRepo) Complete(ctx domain.Context, id string, result domain.JobResult) error {
	_, err := r.mutate(ctx, "job.complete", id, func(j *domain.Job) error {
		if err := applyTransition(j, domain.JobCompleted, ""); err != nil {
			return err
		}
		j.Result = &result
		return nil
	}, domain.HistoryCompleted, "generation completed", map[string]any{"video_url": result.VideoURL})
	return err
}

// Fail marks the job failed with the given error message.
func (r *JobRepo) Fail(ctx domain.Context, id, errMsg string) error {
	_, err := r.mutate(ctx, "job.fail", id, func(j *domain.Job) error {
		return applyTransition(j, domain.JobFailed, errMsg)
	}, domain.HistoryFailed, errMsg, nil)
	return err
}

// Cancel marks the job cancelled. Terminal jobs are rejected with a conflict.
func (r *JobRepo) Cancel(ctx domain.Context, id, reason string) error {
	_, err := r.mutate(ctx, "job.cancel", id, func(j *domain.Job) error {
		return applyTransition(j, domain.JobCancelled, reason)
	}, domain.HistoryCancelled, reason, nil)
	return err
}

// Retry moves a failed job through retrying to the target status if its
// retry budget allows. The target is queued, or pending_clarification when
// answers should be collected again. Both hops commit in one transaction so
// the retrying state shows up in history.
func (r *JobRepo) Retry(ctx domain.Context, id string, to domain.JobStatus) (domain.Job, error) {
	const op = "job.retry"
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Retry")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if j.Status != domain.JobFailed {
		return domain.Job{}, fmt.Errorf("op=%s: job %s is %s, only failed jobs retry: %w", op, j.ID, j.Status, domain.ErrConflict)
	}
	if j.RetryCount >= j.MaxRetries {
		return domain.Job{}, fmt.Errorf("op=%s: job %s exhausted %d retries: %w", op, j.ID, j.MaxRetries, domain.ErrConflict)
	}
	if !domain.CanTransition(domain.JobRetrying, to) {
		return domain.Job{}, fmt.Errorf("op=%s: retry target %s: %w", op, to, domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status='retrying', updated_at=$2 WHERE id=$1`, id, now); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := appendHistory(ctx, tx, id, domain.HistoryRetried, "retry scheduled", map[string]any{"attempt": j.RetryCount + 1}); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}

	j.Status = to
	j.RetryCount++
	j.Progress = 0
	j.Error = ""
	j.FailedAt = nil
	j.UpdatedAt = now
	if _, err := tx.Exec(ctx, `UPDATE jobs SET status=$2, progress=0, retry_count=$3, error='', updated_at=$4, failed_at=NULL WHERE id=$1`,
		id, j.Status, j.RetryCount, now); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := appendHistory(ctx, tx, id, domain.HistoryRetried, "job retried", map[string]any{"target": string(to)}); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return j, nil
}

// History returns the job's append-only history, oldest first.
func (r *JobRepo) History(ctx domain.Context, id string) ([]domain.JobHistory, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.History")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT id, job_id, action, message, data, created_at FROM job_history WHERE job_id=$1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("op=job.history: %w", err)
	}
	defer rows.Close()
	entries := []domain.JobHistory{}
	for rows.Next() {
		var h domain.JobHistory
		var rowID int64
		var data []byte
		if err := rows.Scan(&rowID, &h.JobID, &h.Action, &h.Message, &data, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=job.history: %w", err)
		}
		h.ID = strconv.FormatInt(rowID, 10)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &h.Data); err != nil {
				return nil, fmt.Errorf("op=job.history: %w", err)
			}
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.history: %w", err)
	}
	return entries, nil
}

// Stats aggregates lifecycle counts and the mean active-to-completed time.
func (r *JobRepo) Stats(ctx domain.Context) (domain.QueueStats, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Stats")
	defer span.End()

	q := `SELECT
		COUNT(*) FILTER (WHERE status = 'queued'),
		COUNT(*) FILTER (WHERE status = 'active'),
		COUNT(*) FILTER (WHERE status = 'completed'),
		COUNT(*) FILTER (WHERE status = 'failed'),
		COUNT(*) FILTER (WHERE status IN ('pending_clarification','pending_confirmation','retrying')),
		COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
			FILTER (WHERE status = 'completed' AND started_at IS NOT NULL), 0)
	FROM jobs`
	var s domain.QueueStats
	if err := r.Pool.QueryRow(ctx, q).Scan(&s.Waiting, &s.Active, &s.Completed, &s.Failed, &s.Delayed, &s.AvgProcessingTime); err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=job.stats: %w", err)
	}
	s.TotalProcessed = s.Completed + s.Failed
	return s, nil
}

// Cleanup deletes terminal jobs whose last relevant timestamp is older than
// the retention window. History rows cascade with their job.
func (r *JobRepo) Cleanup(ctx domain.Context, olderThan time.Duration) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Cleanup")
	defer span.End()

	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.Pool.Exec(ctx, `DELETE FROM jobs WHERE COALESCE(completed_at, failed_at, updated_at) < $1 AND status IN ('completed','failed','cancelled')`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=job.cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// applyTransition validates the edge and maintains per-status fields.
func applyTransition(j *domain.Job, to domain.JobStatus, message string) error {
	if !domain.ValidStatus(to) {
		return fmt.Errorf("status %q: %w", to, domain.ErrInvalidArgument)
	}
	if !domain.CanTransition(j.Status, to) {
		return fmt.Errorf("cannot transition %s to %s: %w", j.Status, to, domain.ErrConflict)
	}
	now := time.Now().UTC()
	j.Status = to
	switch to {
	case domain.JobActive:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.Error = ""
	case domain.JobCompleted:
		j.CompletedAt = &now
		j.Progress = 100
	case domain.JobFailed:
		j.FailedAt = &now
		j.Error = message
	case domain.JobCancelled:
		j.Error = message
	}
	return nil
}

// mutate runs a locked read-modify-write on one job plus a history append in
// a single transaction.
func (r *JobRepo) mutate(ctx domain.Context, op, id string, fn func(*domain.Job) error, action domain.HistoryAction, message string, data map[string]any) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs."+op)
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := fn(&j); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}

	var result []byte
	if j.Result != nil {
		if result, err = json.Marshal(j.Result); err != nil {
			return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
		}
	}
	now := time.Now().UTC()
	j.UpdatedAt = now
	q := `UPDATE jobs SET status=$2, progress=$3, retry_count=$4, result=$5, error=$6,
		updated_at=$7, started_at=$8, completed_at=$9, failed_at=$10 WHERE id=$1`
	_, err = tx.Exec(ctx, q, j.ID, j.Status, j.Progress, j.RetryCount, result, j.Error,
		now, j.StartedAt, j.CompletedAt, j.FailedAt)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := appendHistory(ctx, tx, j.ID, action, message, data); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Job{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return j, nil
}

func appendHistory(ctx domain.Context, tx pgx.Tx, jobID string, action domain.HistoryAction, message string, data map[string]any) error {
	var payload []byte
	if data != nil {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return err
		}
	}
	_, err := tx.Exec(ctx, `INSERT INTO job_history (job_id, action, message, data, created_at) VALUES ($1,$2,$3,$4,$5)`,
		jobID, action, message, payload, time.Now().UTC())
	return err
}
