package redisq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/vidforge/internal/adapter/queue/redisq"
	"github.com/vidforge/vidforge/internal/domain"
)

func newManager(t *testing.T, maxSize int) (*redisq.Manager, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisq.New(rdb, maxSize), rdb
}

func entry(jobID string, priority int) domain.QueueEntry {
	return domain.QueueEntry{JobID: jobID, Priority: priority, EnqueuedAt: time.Now().UTC()}
}

func registerWorker(t *testing.T, q *redisq.Manager, id string) {
	t.Helper()
	require.NoError(t, q.RegisterWorker(context.Background(), domain.WorkerInfo{ID: id, Name: id}))
}

func TestPriorityOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	registerWorker(t, q, "w1")

	for _, e := range []domain.QueueEntry{entry("low", 1), entry("high", 5), entry("mid", 3)} {
		_, err := q.Add(ctx, e)
		require.NoError(t, err)
	}

	var got []string
	for {
		e, err := q.Next(ctx, "w1")
		require.NoError(t, err)
		if e == nil {
			break
		}
		got = append(got, e.JobID)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, got)
}

func TestEqualPriorityIsFIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	registerWorker(t, q, "w1")

	base := time.Now().UTC()
	for i, id := range []string{"first", "second", "third"} {
		_, err := q.Add(ctx, domain.QueueEntry{JobID: id, Priority: 2, EnqueuedAt: base.Add(time.Duration(i) * time.Millisecond)})
		require.NoError(t, err)
	}
	e, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "first", e.JobID)
}

func TestAddReturnsPosition(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)

	pos, err := q.Add(ctx, entry("j1", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	// Higher priority jumps the line.
	pos, err = q.Add(ctx, entry("j2", 5))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = q.Add(ctx, entry("j3", 3))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
}

func TestAddRejections(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 2)

	_, err := q.Add(ctx, entry("j1", 1))
	require.NoError(t, err)

	_, err = q.Add(ctx, entry("j1", 1))
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = q.Add(ctx, entry("j2", 1))
	require.NoError(t, err)
	_, err = q.Add(ctx, entry("j3", 1))
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	require.NoError(t, q.Pause(ctx))
	require.NoError(t, q.Clear(ctx))
	_, err = q.Add(ctx, entry("j4", 1))
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestNoDoubleLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	registerWorker(t, q, "w1")
	registerWorker(t, q, "w2")

	_, err := q.Add(ctx, entry("only", 1))
	require.NoError(t, err)

	e1, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, e1)

	e2, err := q.Next(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, e2)

	// A leased job cannot be re-added either.
	_, err = q.Add(ctx, entry("only", 1))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestNextRequiresRegisteredWorker(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	_, err := q.Next(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPausedQueueLeasesNothing(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	registerWorker(t, q, "w1")
	_, err := q.Add(ctx, entry("j1", 1))
	require.NoError(t, err)

	require.NoError(t, q.Pause(ctx))
	e, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, q.Resume(ctx))
	e, err = q.Next(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestCompleteAndFail(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	registerWorker(t, q, "w1")

	_, err := q.Add(ctx, entry("j1", 4))
	require.NoError(t, err)
	e, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.ErrorIs(t, q.Complete(ctx, "j1", "w2"), domain.ErrConflict)
	assert.ErrorIs(t, q.Complete(ctx, "unknown", "w1"), domain.ErrNotFound)
	require.NoError(t, q.Complete(ctx, "j1", "w1"))

	workers, err := q.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, 1, workers[0].ProcessedCount)
	assert.Empty(t, workers[0].CurrentJobs)

	// Failure with retry puts the entry back at its original priority.
	_, err = q.Add(ctx, entry("j2", 4))
	require.NoError(t, err)
	_, err = q.Next(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, "j2", "w1", true))

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.QueueLength)
	assert.Zero(t, st.ActiveJobs)

	e, err = q.Next(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "j2", e.JobID)
	assert.Equal(t, 4, e.Priority)
	require.NoError(t, q.Fail(ctx, "j2", "w1", false))

	st, err = q.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.QueueLength)
}

func TestClearEmptiesActiveSet(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	registerWorker(t, q, "w1")

	_, err := q.Add(ctx, entry("leased", 5))
	require.NoError(t, err)
	_, err = q.Add(ctx, entry("waiting", 1))
	require.NoError(t, err)

	e, err := q.Next(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "leased", e.JobID)

	require.NoError(t, q.Clear(ctx))

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.QueueLength)
	assert.Zero(t, st.ActiveJobs)

	workers, err := q.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Empty(t, workers[0].CurrentJobs)

	// The dropped lease is gone for good; the job can be re-added.
	_, err = q.Add(ctx, entry("leased", 5))
	require.NoError(t, err)
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for i, id := range ids {
		wg.Add(1)
		go func(id string, prio int) {
			defer wg.Done()
			_, err := q.Add(ctx, entry(id, prio))
			assert.NoError(t, err)
		}(id, i%3)
	}
	wg.Wait()

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ids), st.QueueLength)
}

func TestCrashedWorkerRecovery(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	registerWorker(t, q, "dead")

	_, err := q.Add(ctx, entry("j1", 5))
	require.NoError(t, err)
	_, err = q.Add(ctx, entry("j2", 1))
	require.NoError(t, err)

	e, err := q.Next(ctx, "dead")
	require.NoError(t, err)
	require.Equal(t, "j1", e.JobID)

	time.Sleep(5 * time.Millisecond)
	removed, err := q.CleanupInactiveWorkers(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The re-queued high-priority job is leased before the lower one.
	registerWorker(t, q, "fresh")
	e, err = q.Next(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "j1", e.JobID)

	e, err = q.Next(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "j2", e.JobID)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	q, rdb := newManager(t, 0)
	registerWorker(t, q, "w1")

	_, err := q.Add(ctx, entry("j1", 2))
	require.NoError(t, err)
	_, err = q.Add(ctx, entry("j2", 7))
	require.NoError(t, err)
	require.NoError(t, q.Pause(ctx))

	q2 := redisq.New(rdb, 0)
	require.NoError(t, q2.Load(ctx))

	st, err := q2.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsPaused)
	assert.Equal(t, 2, st.QueueLength)
	assert.Equal(t, 1, st.WorkerCount)

	require.NoError(t, q2.Resume(ctx))
	e, err := q2.Next(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "j2", e.JobID)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	q, _ := newManager(t, 0)
	assert.ErrorIs(t, q.Heartbeat(ctx, "ghost"), domain.ErrNotFound)

	registerWorker(t, q, "w1")
	require.NoError(t, q.Heartbeat(ctx, "w1"))

	workers, err := q.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.True(t, workers[0].IsActive)
}
