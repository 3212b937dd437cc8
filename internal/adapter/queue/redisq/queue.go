// Package redisq is the ready-job priority queue and worker registry. The
// working set lives in memory behind one mutex; every mutation is written
// through to Redis so a restarted server resumes with the same queue.
package redisq

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/domain"
)

const (
	stateKey     = "queue:state"
	workerPrefix = "worker:"
)

// lease records which worker holds an in-flight job, keeping the original
// entry so a crash or failure can re-queue at the original priority.
type lease struct {
	Entry    domain.QueueEntry `json:"entry"`
	WorkerID string            `json:"worker_id"`
}

// queueState is the persisted snapshot.
type queueState struct {
	Paused  bool                `json:"paused"`
	Entries []domain.QueueEntry `json:"entries"`
	Active  map[string]lease    `json:"active"`
}

// Manager implements domain.Queue.
type Manager struct {
	mu      chanMutex
	rdb     *redis.Client
	maxSize int

	ready   entryHeap
	active  map[string]lease
	workers map[string]*domain.WorkerInfo
	paused  bool
}

// chanMutex is a context-aware mutex so lock waits respect cancellation.
type chanMutex chan struct{}

func (m chanMutex) lock(ctx domain.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) unlock() { <-m }

// New constructs a Manager. maxSize bounds the ready queue; zero means 1000.
func New(rdb *redis.Client, maxSize int) *Manager {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Manager{
		mu:      make(chanMutex, 1),
		rdb:     rdb,
		maxSize: maxSize,
		active:  map[string]lease{},
		workers: map[string]*domain.WorkerInfo{},
	}
}

// Load restores the queue and worker registry from Redis. Missing keys mean
// a fresh start.
func (m *Manager) Load(ctx domain.Context) error {
	if err := m.mu.lock(ctx); err != nil {
		return err
	}
	defer m.mu.unlock()

	raw, err := m.rdb.Get(ctx, stateKey).Bytes()
	switch {
	case err == redis.Nil:
		// fresh start
	case err != nil:
		return fmt.Errorf("op=queue.load: %w: %w", domain.ErrUnavailable, err)
	default:
		var st queueState
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("op=queue.load: %w", err)
		}
		m.paused = st.Paused
		m.ready = entryHeap(st.Entries)
		heap.Init(&m.ready)
		if st.Active != nil {
			m.active = st.Active
		}
	}

	iter := m.rdb.Scan(ctx, 0, workerPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := m.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var w domain.WorkerInfo
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		m.workers[w.ID] = &w
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("op=queue.load: %w: %w", domain.ErrUnavailable, err)
	}
	slog.Info("queue state restored",
		slog.Int("ready", len(m.ready)),
		slog.Int("active", len(m.active)),
		slog.Int("workers", len(m.workers)),
		slog.Bool("paused", m.paused))
	observability.QueueDepth.Set(float64(len(m.ready)))
	return nil
}

// Add enqueues a ready job and returns its 1-based position. Duplicates,
// a paused queue and a full queue are rejected.
func (m *Manager) Add(ctx domain.Context, entry domain.QueueEntry) (int, error) {
	if err := m.mu.lock(ctx); err != nil {
		return 0, err
	}
	defer m.mu.unlock()

	if m.paused {
		return 0, fmt.Errorf("op=queue.add: queue is paused: %w", domain.ErrUnavailable)
	}
	if _, leased := m.active[entry.JobID]; leased || m.ready.contains(entry.JobID) {
		return 0, fmt.Errorf("op=queue.add: job %s already queued: %w", entry.JobID, domain.ErrConflict)
	}
	if len(m.ready) >= m.maxSize {
		return 0, fmt.Errorf("op=queue.add: queue full (%d): %w", m.maxSize, domain.ErrUnavailable)
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}
	heap.Push(&m.ready, entry)
	if err := m.persist(ctx); err != nil {
		return 0, err
	}
	observability.QueueDepth.Set(float64(len(m.ready)))
	return m.ready.rank(entry.JobID), nil
}

// Next leases the highest-priority entry to the worker. A paused or empty
// queue returns nil without error.
func (m *Manager) Next(ctx domain.Context, workerID string) (*domain.QueueEntry, error) {
	if err := m.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer m.mu.unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("op=queue.next: worker %s not registered: %w", workerID, domain.ErrNotFound)
	}
	if m.paused || len(m.ready) == 0 {
		return nil, nil
	}
	entry := heap.Pop(&m.ready).(domain.QueueEntry)
	m.active[entry.JobID] = lease{Entry: entry, WorkerID: workerID}
	w.CurrentJobs = append(w.CurrentJobs, entry.JobID)
	w.LastHeartbeat = time.Now().UTC()
	if err := m.persistWorker(ctx, w); err != nil {
		return nil, err
	}
	if err := m.persist(ctx); err != nil {
		return nil, err
	}
	observability.QueueDepth.Set(float64(len(m.ready)))
	return &entry, nil
}

// Complete releases the lease after a successful run.
func (m *Manager) Complete(ctx domain.Context, jobID, workerID string) error {
	return m.release(ctx, "queue.complete", jobID, workerID, func(w *domain.WorkerInfo) {
		w.ProcessedCount++
	}, false)
}

// Fail releases the lease after a failed run, optionally re-queueing the job
// at its original priority.
func (m *Manager) Fail(ctx domain.Context, jobID, workerID string, shouldRetry bool) error {
	return m.release(ctx, "queue.fail", jobID, workerID, func(w *domain.WorkerInfo) {
		w.FailedCount++
	}, shouldRetry)
}

func (m *Manager) release(ctx domain.Context, op, jobID, workerID string, update func(*domain.WorkerInfo), requeue bool) error {
	if err := m.mu.lock(ctx); err != nil {
		return err
	}
	defer m.mu.unlock()

	l, ok := m.active[jobID]
	if !ok {
		return fmt.Errorf("op=%s: job %s has no active lease: %w", op, jobID, domain.ErrNotFound)
	}
	if l.WorkerID != workerID {
		return fmt.Errorf("op=%s: job %s leased by %s not %s: %w", op, jobID, l.WorkerID, workerID, domain.ErrConflict)
	}
	delete(m.active, jobID)
	if w, ok := m.workers[workerID]; ok {
		w.CurrentJobs = removeString(w.CurrentJobs, jobID)
		update(w)
		if err := m.persistWorker(ctx, w); err != nil {
			return err
		}
	}
	if requeue {
		heap.Push(&m.ready, l.Entry)
	}
	if err := m.persist(ctx); err != nil {
		return err
	}
	observability.QueueDepth.Set(float64(len(m.ready)))
	return nil
}

// Pause stops leasing; queued entries are kept.
func (m *Manager) Pause(ctx domain.Context) error {
	return m.setPaused(ctx, true)
}

// Resume re-enables leasing.
func (m *Manager) Resume(ctx domain.Context) error {
	return m.setPaused(ctx, false)
}

func (m *Manager) setPaused(ctx domain.Context, paused bool) error {
	if err := m.mu.lock(ctx); err != nil {
		return err
	}
	defer m.mu.unlock()
	m.paused = paused
	slog.Info("queue pause state changed", slog.Bool("paused", paused))
	return m.persist(ctx)
}

// Clear empties the ready queue and the active set. External provider
// operations are not touched; cancelling those is the caller's job.
func (m *Manager) Clear(ctx domain.Context) error {
	if err := m.mu.lock(ctx); err != nil {
		return err
	}
	defer m.mu.unlock()
	m.ready = entryHeap{}
	for jobID, l := range m.active {
		delete(m.active, jobID)
		if w, ok := m.workers[l.WorkerID]; ok {
			w.CurrentJobs = removeString(w.CurrentJobs, jobID)
			if err := m.persistWorker(ctx, w); err != nil {
				return err
			}
		}
	}
	observability.QueueDepth.Set(0)
	return m.persist(ctx)
}

// Status reports the operational snapshot.
func (m *Manager) Status(ctx domain.Context) (domain.QueueStatus, error) {
	if err := m.mu.lock(ctx); err != nil {
		return domain.QueueStatus{}, err
	}
	defer m.mu.unlock()
	return domain.QueueStatus{
		IsPaused:    m.paused,
		QueueLength: len(m.ready),
		ActiveJobs:  len(m.active),
		WorkerCount: len(m.workers),
	}, nil
}

// RegisterWorker adds or refreshes a worker. Re-registration keeps counters.
func (m *Manager) RegisterWorker(ctx domain.Context, w domain.WorkerInfo) error {
	if err := m.mu.lock(ctx); err != nil {
		return err
	}
	defer m.mu.unlock()

	if w.ID == "" {
		return fmt.Errorf("op=queue.register_worker: worker id required: %w", domain.ErrInvalidArgument)
	}
	if w.MaxConcurrency <= 0 {
		w.MaxConcurrency = 3
	}
	w.IsActive = true
	w.LastHeartbeat = time.Now().UTC()
	if prev, ok := m.workers[w.ID]; ok {
		w.ProcessedCount = prev.ProcessedCount
		w.FailedCount = prev.FailedCount
		w.CurrentJobs = prev.CurrentJobs
	}
	m.workers[w.ID] = &w
	slog.Info("worker registered", slog.String("worker_id", w.ID), slog.String("name", w.Name))
	return m.persistWorker(ctx, &w)
}

// Heartbeat refreshes the worker's liveness timestamp.
func (m *Manager) Heartbeat(ctx domain.Context, workerID string) error {
	if err := m.mu.lock(ctx); err != nil {
		return err
	}
	defer m.mu.unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return fmt.Errorf("op=queue.heartbeat: worker %s not registered: %w", workerID, domain.ErrNotFound)
	}
	w.IsActive = true
	w.LastHeartbeat = time.Now().UTC()
	return m.persistWorker(ctx, w)
}

// Workers lists registered workers sorted by id.
func (m *Manager) Workers(ctx domain.Context) ([]domain.WorkerInfo, error) {
	if err := m.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer m.mu.unlock()

	out := make([]domain.WorkerInfo, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CleanupInactiveWorkers drops workers whose heartbeat is older than the
// threshold, re-queueing their leased jobs at original priority.
func (m *Manager) CleanupInactiveWorkers(ctx domain.Context, threshold time.Duration) (int, error) {
	if err := m.mu.lock(ctx); err != nil {
		return 0, err
	}
	defer m.mu.unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	removed := 0
	for id, w := range m.workers {
		if !w.LastHeartbeat.Before(cutoff) {
			continue
		}
		for _, jobID := range w.CurrentJobs {
			l, ok := m.active[jobID]
			if !ok {
				continue
			}
			delete(m.active, jobID)
			heap.Push(&m.ready, l.Entry)
			slog.Warn("re-queued job from dead worker",
				slog.String("job_id", jobID),
				slog.String("worker_id", id),
				slog.Int("priority", l.Entry.Priority))
		}
		delete(m.workers, id)
		if err := m.rdb.Del(ctx, workerPrefix+id).Err(); err != nil {
			slog.Warn("worker key delete failed", slog.String("worker_id", id), slog.Any("error", err))
		}
		removed++
	}
	if removed > 0 {
		if err := m.persist(ctx); err != nil {
			return removed, err
		}
		observability.QueueDepth.Set(float64(len(m.ready)))
	}
	return removed, nil
}

// persist writes the queue snapshot through to Redis. Callers hold the lock.
func (m *Manager) persist(ctx domain.Context) error {
	st := queueState{
		Paused:  m.paused,
		Entries: append([]domain.QueueEntry{}, m.ready...),
		Active:  m.active,
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("op=queue.persist: %w", err)
	}
	if err := m.rdb.Set(ctx, stateKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("op=queue.persist: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func (m *Manager) persistWorker(ctx domain.Context, w *domain.WorkerInfo) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("op=queue.persist_worker: %w", err)
	}
	if err := m.rdb.Set(ctx, workerPrefix+w.ID, raw, 0).Err(); err != nil {
		return fmt.Errorf("op=queue.persist_worker: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
