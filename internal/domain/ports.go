package domain

import "time"

// GenerationRequest is the canonical request shaped for a provider.
type GenerationRequest struct {
	ModelID string
	Prompt  string
	Params  GenerationParams
}

// ValidationResult reports provider-side request validation.
type ValidationResult struct {
	Valid       bool
	Error       string
	Suggestions []string
}

// OperationState enumerates the normalized provider operation states.
type OperationState string

const (
	OperationPending    OperationState = "pending"
	OperationProcessing OperationState = "processing"
	OperationCompleted  OperationState = "completed"
	OperationFailed     OperationState = "failed"
	OperationCancelled  OperationState = "cancelled"
)

// OperationStatus is the normalized poll response shared by all adapters.
type OperationStatus struct {
	State               OperationState
	Progress            int
	Result              *VideoResult
	Error               string
	EstimatedCompletion *time.Time
}

// VideoResult describes a finished provider-side generation.
type VideoResult struct {
	VideoURL        string
	ThumbnailURL    string
	DurationSeconds int
	Resolution      string
	FileSizeBytes   int64
	Format          string
}

// CostEstimate is a provider's projected charge for a request.
type CostEstimate struct {
	Cost     float64
	Currency string
}

// VideoProvider is the uniform contract over external generation APIs.
// Implementations retry transient failures with capped exponential backoff,
// bound every call with a per-request timeout, and never panic on network
// failure.
type VideoProvider interface {
	ID() string
	Validate(ctx Context, req GenerationRequest) (ValidationResult, error)
	Submit(ctx Context, req GenerationRequest) (operationID string, err error)
	Poll(ctx Context, operationID string) (OperationStatus, error)
	FetchResult(ctx Context, operationID string) (VideoResult, error)
	Cancel(ctx Context, operationID string) error
	EstimateCost(ctx Context, req GenerationRequest) (CostEstimate, error)
	Health(ctx Context) error
}

// JobStore is the durable per-job state machine (C4).
type JobStore interface {
	Create(ctx Context, j Job) (string, error)
	Get(ctx Context, id string) (Job, error)
	ListByUser(ctx Context, userID string, limit int) ([]Job, error)
	Transition(ctx Context, id string, to JobStatus, message string) (Job, error)
	UpdateProgress(ctx Context, id string, progress int) error
	SetOperation(ctx Context, id, operationID string) error
	AppendClarification(ctx Context, id, response string) error
	Complete(ctx Context, id string, result JobResult) error
	Fail(ctx Context, id, errMsg string) error
	Cancel(ctx Context, id, reason string) error
	Retry(ctx Context, id string, to JobStatus) (Job, error)
	History(ctx Context, id string) ([]JobHistory, error)
	Stats(ctx Context) (QueueStats, error)
	Cleanup(ctx Context, olderThan time.Duration) (int, error)
}

// Queue manages the ready-job priority queue and the worker registry (C5).
type Queue interface {
	Add(ctx Context, entry QueueEntry) (position int, err error)
	Next(ctx Context, workerID string) (*QueueEntry, error)
	Complete(ctx Context, jobID, workerID string) error
	Fail(ctx Context, jobID, workerID string, shouldRetry bool) error
	Pause(ctx Context) error
	Resume(ctx Context) error
	Clear(ctx Context) error
	Status(ctx Context) (QueueStatus, error)
	RegisterWorker(ctx Context, w WorkerInfo) error
	Heartbeat(ctx Context, workerID string) error
	Workers(ctx Context) ([]WorkerInfo, error)
	CleanupInactiveWorkers(ctx Context, threshold time.Duration) (int, error)
}

// ArtifactStore is durable object storage for finished videos (C3).
type ArtifactStore interface {
	Upload(ctx Context, a VideoArtifact, data []byte) (VideoArtifact, error)
	UploadThumbnail(ctx Context, userID, videoID string, data []byte) (string, error)
	Download(ctx Context, userID, videoID string) ([]byte, VideoArtifact, error)
	SignedURL(ctx Context, userID, videoID string, ttl time.Duration) (string, error)
	List(ctx Context, userID string) ([]VideoArtifact, error)
	Delete(ctx Context, userID, videoID string) error
	Cleanup(ctx Context, olderThan time.Duration) (int, error)
}

// EventPublisher emits job lifecycle events to the event stream. A nil
// publisher is valid and drops events.
type EventPublisher interface {
	PublishJobEvent(ctx Context, ev JobEvent) error
}
