package usecase

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/domain"
)

// memJobs is an in-memory JobStore enforcing the same transition rules as
// the Postgres repo.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*domain.Job{}}
}

func (s *memJobs) Create(_ domain.Context, j domain.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !domain.ValidStatus(j.Status) {
		return "", fmt.Errorf("bad status %s: %w", j.Status, domain.ErrInvalidArgument)
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	j.CreatedAt = time.Now().UTC()
	j.UpdatedAt = j.CreatedAt
	cp := j
	s.jobs[j.ID] = &cp
	return j.ID, nil
}

func (s *memJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return *j, nil
}

func (s *memJobs) ListByUser(_ domain.Context, userID string, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memJobs) transition(id string, to domain.JobStatus, message string) (domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if !domain.CanTransition(j.Status, to) {
		return domain.Job{}, fmt.Errorf("%s -> %s: %w", j.Status, to, domain.ErrConflict)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	switch to {
	case domain.JobActive:
		if j.StartedAt == nil {
			now := time.Now().UTC()
			j.StartedAt = &now
		}
	case domain.JobCompleted:
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Progress = 100
	case domain.JobFailed:
		now := time.Now().UTC()
		j.FailedAt = &now
		j.Error = message
	case domain.JobCancelled:
		j.Error = message
	}
	return *j, nil
}

func (s *memJobs) Transition(_ domain.Context, id string, to domain.JobStatus, message string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(id, to, message)
}

func (s *memJobs) UpdateProgress(_ domain.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if progress < 0 || progress > 100 {
		return domain.ErrInvalidArgument
	}
	if domain.IsTerminal(j.Status) {
		return domain.ErrConflict
	}
	j.Progress = progress
	return nil
}

func (s *memJobs) SetOperation(_ domain.Context, id, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.OperationID = operationID
	return nil
}

func (s *memJobs) AppendClarification(_ domain.Context, id, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Clarifications = append(j.Clarifications, response)
	return nil
}

func (s *memJobs) Complete(_ domain.Context, id string, result domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.transition(id, domain.JobCompleted, ""); err != nil {
		return err
	}
	s.jobs[id].Result = &result
	return nil
}

func (s *memJobs) Fail(_ domain.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.transition(id, domain.JobFailed, errMsg)
	return err
}

func (s *memJobs) Cancel(_ domain.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.transition(id, domain.JobCancelled, reason)
	return err
}

func (s *memJobs) Retry(_ domain.Context, id string, to domain.JobStatus) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if j.Status != domain.JobFailed || j.RetryCount >= j.MaxRetries || !domain.CanTransition(domain.JobRetrying, to) {
		return domain.Job{}, domain.ErrConflict
	}
	j.Status = to
	j.RetryCount++
	j.Error = ""
	j.FailedAt = nil
	j.Progress = 0
	return *j, nil
}

func (s *memJobs) History(domain.Context, string) ([]domain.JobHistory, error) {
	return nil, nil
}

func (s *memJobs) Stats(domain.Context) (domain.QueueStats, error) {
	return domain.QueueStats{}, nil
}

func (s *memJobs) Cleanup(domain.Context, time.Duration) (int, error) {
	return 0, nil
}

// memQueue records queue interactions instead of enforcing lease semantics.
type memQueue struct {
	mu       sync.Mutex
	entries  []domain.QueueEntry
	addErr   error
	completed []string
	failed   []string
	requeued map[string]bool
}

func newMemQueue() *memQueue {
	return &memQueue{requeued: map[string]bool{}}
}

func (q *memQueue) Add(_ domain.Context, e domain.QueueEntry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.addErr != nil {
		return 0, q.addErr
	}
	for _, have := range q.entries {
		if have.JobID == e.JobID {
			return 0, domain.ErrConflict
		}
	}
	q.entries = append(q.entries, e)
	return len(q.entries), nil
}

func (q *memQueue) Next(domain.Context, string) (*domain.QueueEntry, error) { return nil, nil }

func (q *memQueue) Complete(_ domain.Context, jobID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *memQueue) Fail(_ domain.Context, jobID, _ string, shouldRetry bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, jobID)
	q.requeued[jobID] = shouldRetry
	return nil
}

func (q *memQueue) Pause(domain.Context) error  { return nil }
func (q *memQueue) Resume(domain.Context) error { return nil }
func (q *memQueue) Clear(domain.Context) error  { return nil }
func (q *memQueue) Status(domain.Context) (domain.QueueStatus, error) {
	return domain.QueueStatus{}, nil
}
func (q *memQueue) RegisterWorker(domain.Context, domain.WorkerInfo) error { return nil }
func (q *memQueue) Heartbeat(domain.Context, string) error                 { return nil }
func (q *memQueue) Workers(domain.Context) ([]domain.WorkerInfo, error)    { return nil, nil }
func (q *memQueue) CleanupInactiveWorkers(domain.Context, time.Duration) (int, error) {
	return 0, nil
}

// memArtifacts stores uploads in memory.
type memArtifacts struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	thumbs    map[string][]byte
	uploadErr error
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{uploads: map[string][]byte{}, thumbs: map[string][]byte{}}
}

func (a *memArtifacts) Upload(_ domain.Context, art domain.VideoArtifact, data []byte) (domain.VideoArtifact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploadErr != nil {
		return domain.VideoArtifact{}, a.uploadErr
	}
	art.Filename = art.ID + ".mp4"
	art.SizeBytes = int64(len(data))
	art.UploadedAt = time.Now().UTC()
	a.uploads[art.ID] = data
	return art, nil
}

func (a *memArtifacts) UploadThumbnail(_ domain.Context, userID, videoID string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thumbs[videoID] = data
	return "thumbnails/" + userID + "/" + videoID + "/thumbnail.jpg", nil
}

func (a *memArtifacts) Download(domain.Context, string, string) ([]byte, domain.VideoArtifact, error) {
	return nil, domain.VideoArtifact{}, domain.ErrNotFound
}

func (a *memArtifacts) SignedURL(domain.Context, string, string, time.Duration) (string, error) {
	return "", domain.ErrNotFound
}

func (a *memArtifacts) List(domain.Context, string) ([]domain.VideoArtifact, error) {
	return nil, nil
}

func (a *memArtifacts) Delete(domain.Context, string, string) error { return nil }

func (a *memArtifacts) Cleanup(domain.Context, time.Duration) (int, error) { return 0, nil }

// stubProvider returns scripted responses and records calls.
type stubProvider struct {
	mu         sync.Mutex
	id         string
	validation domain.ValidationResult
	submitErr  error
	polls      []domain.OperationStatus
	pollIdx    int
	pollErr    error
	fetch      domain.VideoResult
	estimate   domain.CostEstimate

	submitted []domain.GenerationRequest
	cancelled []string
}

func (p *stubProvider) ID() string {
	if p.id == "" {
		return "veo"
	}
	return p.id
}

func (p *stubProvider) Validate(domain.Context, domain.GenerationRequest) (domain.ValidationResult, error) {
	if p.validation.Error == "" && !p.validation.Valid {
		return domain.ValidationResult{Valid: true}, nil
	}
	return p.validation, nil
}

func (p *stubProvider) Submit(_ domain.Context, req domain.GenerationRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return "", p.submitErr
	}
	p.submitted = append(p.submitted, req)
	return "op-" + strconv.Itoa(len(p.submitted)), nil
}

func (p *stubProvider) Poll(domain.Context, string) (domain.OperationStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollErr != nil {
		return domain.OperationStatus{}, p.pollErr
	}
	if len(p.polls) == 0 {
		return domain.OperationStatus{State: domain.OperationPending}, nil
	}
	st := p.polls[p.pollIdx]
	if p.pollIdx < len(p.polls)-1 {
		p.pollIdx++
	}
	return st, nil
}

func (p *stubProvider) FetchResult(domain.Context, string) (domain.VideoResult, error) {
	return p.fetch, nil
}

func (p *stubProvider) Cancel(_ domain.Context, operationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, operationID)
	return nil
}

func (p *stubProvider) EstimateCost(domain.Context, domain.GenerationRequest) (domain.CostEstimate, error) {
	return p.estimate, nil
}

func (p *stubProvider) Health(domain.Context) error { return nil }

// memEvents collects published lifecycle events.
type memEvents struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (e *memEvents) PublishJobEvent(_ domain.Context, ev domain.JobEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *memEvents) actions() []domain.HistoryAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.HistoryAction, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Action)
	}
	return out
}

// staticCatalog serves one model.
type staticCatalog struct{ m domain.Model }

func (c staticCatalog) Get(id string) (domain.Model, error) {
	if id != c.m.ID {
		return domain.Model{}, domain.ErrNotFound
	}
	return c.m, nil
}

func (c staticCatalog) Default() (domain.Model, error) { return c.m, nil }

func testModel() domain.Model {
	return domain.Model{
		ID:       "veo-3.0-generate-001",
		Provider: "veo",
		Capabilities: domain.ModelCapabilities{
			MaxDurationSec:         8,
			AspectRatios:           []string{"16:9", "9:16"},
			SupportsNegativePrompt: true,
		},
		Parameters: domain.ModelParameters{
			Duration:    domain.IntRange{Min: 4, Max: 8, Default: 6},
			AspectRatio: domain.OptionSet{Options: []string{"16:9", "9:16"}, Default: "16:9"},
			Quality:     domain.OptionSet{Options: []string{"standard", "high"}, Default: "standard"},
		},
		Pricing:     domain.ModelPricing{CostPerSecond: 0.35, Currency: "USD"},
		IsAvailable: true,
	}
}

func fullParams() domain.GenerationParams {
	return domain.GenerationParams{DurationSeconds: 6, AspectRatio: "16:9", Quality: "standard"}
}

type workflowEnv struct {
	svc      *WorkflowService
	jobs     *memJobs
	queue    *memQueue
	arts     *memArtifacts
	provider *stubProvider
	events   *memEvents
}

func newWorkflowEnv(clarifications bool) *workflowEnv {
	env := &workflowEnv{
		jobs:     newMemJobs(),
		queue:    newMemQueue(),
		arts:     newMemArtifacts(),
		provider: &stubProvider{},
		events:   &memEvents{},
	}
	env.svc = &WorkflowService{
		Jobs:      env.jobs,
		Queue:     env.queue,
		Artifacts: env.arts,
		Models:    staticCatalog{m: testModel()},
		Providers: map[string]domain.VideoProvider{"veo": env.provider},
		Events:    env.events,
		VideoURL: func(a domain.VideoArtifact) string {
			return "/api/storage/videos/" + a.ID
		},
		ClarificationsEnabled: clarifications,
		ThumbnailsEnabled:     true,
	}
	return env
}
