package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/vidforge/internal/domain"
)

type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// fakeTx scripts one locked row and records every statement the repo runs.
type fakeTx struct {
	row     rowStub
	execs   []string
	commits int
	execErr error
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error          { t.commits++; return nil }
func (t *fakeTx) Rollback(context.Context) error        { return nil }
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.CommandTag{}, t.execErr
}
func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row  { return t.row }
func (t *fakeTx) Conn() *pgx.Conn                                         { return nil }

type poolStub struct {
	tx      *fakeTx
	row     rowStub
	execs   []string
	execTag pgconn.CommandTag
	execErr error
}

func (p *poolStub) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, sql)
	return p.execTag, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row { return p.row }

func (p *poolStub) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (p *poolStub) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { return p.tx, nil }

func jobRow(j domain.Job) rowStub {
	return rowStub{scan: func(dest ...any) error {
		params, _ := json.Marshal(j.Params)
		clar, _ := json.Marshal(append([]string{}, j.Clarifications...))
		var result []byte
		if j.Result != nil {
			result, _ = json.Marshal(j.Result)
		}
		*dest[0].(*string) = j.ID
		*dest[1].(*string) = j.UserID
		*dest[2].(*string) = j.Prompt
		*dest[3].(*string) = j.ModelID
		*dest[4].(*string) = j.ProviderID
		*dest[5].(*[]byte) = params
		*dest[6].(*int) = j.Priority
		*dest[7].(*domain.JobStatus) = j.Status
		*dest[8].(*int) = j.Progress
		*dest[9].(*int) = j.RetryCount
		*dest[10].(*int) = j.MaxRetries
		*dest[11].(*string) = j.OperationID
		*dest[12].(*float64) = j.CostEstimate
		*dest[13].(*[]byte) = clar
		*dest[14].(*[]byte) = result
		*dest[15].(*string) = j.Error
		*dest[16].(*time.Time) = j.CreatedAt
		*dest[17].(*time.Time) = j.UpdatedAt
		*dest[18].(**time.Time) = j.StartedAt
		*dest[19].(**time.Time) = j.CompletedAt
		*dest[20].(**time.Time) = j.FailedAt
		return nil
	}}
}

func baseJob(status domain.JobStatus) domain.Job {
	now := time.Now().UTC().Add(-time.Minute)
	return domain.Job{
		ID:         "job-1",
		UserID:     "u1",
		Prompt:     "a cat surfing at sunset",
		ModelID:    "veo-3.0-generate-001",
		Status:     status,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestGetNotFound(t *testing.T) {
	repo := NewJobRepo(&poolStub{row: rowStub{scan: func(...any) error { return pgx.ErrNoRows }}})
	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitionInvalidEdgeIsConflict(t *testing.T) {
	tx := &fakeTx{row: jobRow(baseJob(domain.JobCompleted))}
	repo := NewJobRepo(&poolStub{tx: tx})

	_, err := repo.Transition(context.Background(), "job-1", domain.JobActive, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, tx.commits)
}

func TestTransitionToActiveStampsStart(t *testing.T) {
	tx := &fakeTx{row: jobRow(baseJob(domain.JobQueued))}
	repo := NewJobRepo(&poolStub{tx: tx})

	j, err := repo.Transition(context.Background(), "job-1", domain.JobActive, "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobActive, j.Status)
	require.NotNil(t, j.StartedAt)
	assert.Equal(t, 1, tx.commits)

	require.Len(t, tx.execs, 2)
	assert.Contains(t, tx.execs[0], "UPDATE jobs")
	assert.Contains(t, tx.execs[1], "job_history")
}

func TestCompleteRequiresActive(t *testing.T) {
	tx := &fakeTx{row: jobRow(baseJob(domain.JobQueued))}
	repo := NewJobRepo(&poolStub{tx: tx})
	err := repo.Complete(context.Background(), "job-1", domain.JobResult{VideoURL: "https://cdn/v.mp4"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	started := time.Now().UTC()
	active := baseJob(domain.JobActive)
	active.StartedAt = &started
	tx = &fakeTx{row: jobRow(active)}
	repo = NewJobRepo(&poolStub{tx: tx})
	require.NoError(t, repo.Complete(context.Background(), "job-1", domain.JobResult{VideoURL: "https://cdn/v.mp4"}))
	assert.Equal(t, 1, tx.commits)
}

func TestRetryBudget(t *testing.T) {
	exhausted := baseJob(domain.JobFailed)
	exhausted.RetryCount = 3
	repo := NewJobRepo(&poolStub{tx: &fakeTx{row: jobRow(exhausted)}})
	_, err := repo.Retry(context.Background(), "job-1", domain.JobQueued)
	assert.ErrorIs(t, err, domain.ErrConflict)

	failedAt := time.Now().UTC()
	failed := baseJob(domain.JobFailed)
	failed.Error = "provider exploded"
	failed.FailedAt = &failedAt
	failed.Progress = 40
	tx := &fakeTx{row: jobRow(failed)}
	repo = NewJobRepo(&poolStub{tx: tx})
	j, err := repo.Retry(context.Background(), "job-1", domain.JobQueued)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, j.Status)
	assert.Equal(t, 1, j.RetryCount)
	assert.Empty(t, j.Error)
	assert.Nil(t, j.FailedAt)
	assert.Zero(t, j.Progress)
}

func TestRetryPersistsIntermediateState(t *testing.T) {
	failedAt := time.Now().UTC()
	failed := baseJob(domain.JobFailed)
	failed.FailedAt = &failedAt
	tx := &fakeTx{row: jobRow(failed)}
	repo := NewJobRepo(&poolStub{tx: tx})

	_, err := repo.Retry(context.Background(), "job-1", domain.JobQueued)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.commits)

	// Two hops, each with its own history row, in one transaction.
	require.Len(t, tx.execs, 4)
	assert.Contains(t, tx.execs[0], "status='retrying'")
	assert.Contains(t, tx.execs[1], "job_history")
	assert.Contains(t, tx.execs[2], "UPDATE jobs")
	assert.Contains(t, tx.execs[3], "job_history")
}

func TestRetryOnlyFromFailed(t *testing.T) {
	repo := NewJobRepo(&poolStub{tx: &fakeTx{row: jobRow(baseJob(domain.JobActive))}})
	_, err := repo.Retry(context.Background(), "job-1", domain.JobQueued)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdateProgressBounds(t *testing.T) {
	repo := NewJobRepo(&poolStub{tx: &fakeTx{row: jobRow(baseJob(domain.JobActive))}})
	assert.ErrorIs(t, repo.UpdateProgress(context.Background(), "job-1", 101), domain.ErrInvalidArgument)
	assert.ErrorIs(t, repo.UpdateProgress(context.Background(), "job-1", -1), domain.ErrInvalidArgument)
	assert.NoError(t, repo.UpdateProgress(context.Background(), "job-1", 55))

	repo = NewJobRepo(&poolStub{tx: &fakeTx{row: jobRow(baseJob(domain.JobCompleted))}})
	assert.ErrorIs(t, repo.UpdateProgress(context.Background(), "job-1", 55), domain.ErrConflict)
}

func TestSetOperationNotFound(t *testing.T) {
	repo := NewJobRepo(&poolStub{execTag: pgconn.NewCommandTag("UPDATE 0")})
	assert.ErrorIs(t, repo.SetOperation(context.Background(), "nope", "operations/x"), domain.ErrNotFound)

	repo = NewJobRepo(&poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")})
	assert.NoError(t, repo.SetOperation(context.Background(), "job-1", "operations/x"))
}

func TestCleanupCountsDeletes(t *testing.T) {
	pool := &poolStub{execTag: pgconn.NewCommandTag("DELETE 4")}
	repo := NewJobRepo(pool)
	n, err := repo.Cleanup(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestCleanupKeysOnLastRelevantTimestamp(t *testing.T) {
	// Retention must measure from when the job finished, not when it was
	// created: an old job that completed an hour ago has to survive the sweep.
	pool := &poolStub{execTag: pgconn.NewCommandTag("DELETE 0")}
	repo := NewJobRepo(pool)
	_, err := repo.Cleanup(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)

	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0], "COALESCE(completed_at, failed_at, updated_at) < $1")
	assert.NotContains(t, pool.execs[0], "created_at")
	assert.Contains(t, pool.execs[0], "status IN ('completed','failed','cancelled')")
}

func TestCreateValidatesStatus(t *testing.T) {
	repo := NewJobRepo(&poolStub{tx: &fakeTx{}})
	_, err := repo.Create(context.Background(), domain.Job{Status: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreateWritesJobAndHistory(t *testing.T) {
	tx := &fakeTx{}
	repo := NewJobRepo(&poolStub{tx: tx})
	id, err := repo.Create(context.Background(), domain.Job{
		UserID:  "u1",
		Prompt:  "a red panda drinking tea",
		ModelID: "veo-3.0-generate-001",
		Status:  domain.JobPendingClarification,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, tx.commits)
	require.Len(t, tx.execs, 2)
	assert.True(t, strings.Contains(tx.execs[0], "INSERT INTO jobs"))
	assert.True(t, strings.Contains(tx.execs[1], "job_history"))
}

func TestScanJobRoundTrip(t *testing.T) {
	started := time.Now().UTC().Add(-2 * time.Minute)
	src := baseJob(domain.JobActive)
	src.StartedAt = &started
	src.Params = domain.GenerationParams{DurationSeconds: 8, AspectRatio: "16:9"}
	src.Clarifications = []string{"8 seconds", "cinematic"}
	src.Result = &domain.JobResult{VideoURL: "https://cdn/v.mp4", DurationSeconds: 8}

	j, err := scanJob(jobRow(src))
	require.NoError(t, err)
	assert.Equal(t, src.Params, j.Params)
	assert.Equal(t, src.Clarifications, j.Clarifications)
	require.NotNil(t, j.Result)
	assert.Equal(t, src.Result.VideoURL, j.Result.VideoURL)
	require.NotNil(t, j.StartedAt)
}
