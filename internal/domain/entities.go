// Package domain holds the core entities, ports and error taxonomy of the
// video-generation orchestration service.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnavailable     = errors.New("service unavailable")
	ErrExternal        = errors.New("external service error")
	ErrInternal        = errors.New("internal error")
)

// JobStatus enumerates the lifecycle states of a generation job.
type JobStatus string

const (
	JobPendingClarification JobStatus = "pending_clarification"
	JobPendingConfirmation  JobStatus = "pending_confirmation"
	JobQueued               JobStatus = "queued"
	JobActive               JobStatus = "active"
	JobCompleted            JobStatus = "completed"
	JobFailed               JobStatus = "failed"
	JobCancelled            JobStatus = "cancelled"
	JobRetrying             JobStatus = "retrying"
)

// DefaultMaxRetries bounds automatic retries of failed jobs.
const DefaultMaxRetries = 3

// GenerationParams are the canonical, provider-independent generation
// options. Adapters map these onto each provider's wire vocabulary.
type GenerationParams struct {
	DurationSeconds int     `json:"duration_seconds,omitempty"`
	AspectRatio     string  `json:"aspect_ratio,omitempty"`
	Quality         string  `json:"quality,omitempty"`
	NegativePrompt  string  `json:"negative_prompt,omitempty"`
	GuidanceScale   float64 `json:"guidance_scale,omitempty"`
	InferenceSteps  int     `json:"inference_steps,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
}

// JobResult is present iff the job completed.
type JobResult struct {
	VideoURL        string `json:"video_url"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	FileSizeBytes   int64  `json:"file_size_bytes,omitempty"`
	Format          string `json:"format,omitempty"`
}

// Job is the unit of work tracked end-to-end.
// Invariants: Result set iff status=completed; Error set iff status in
// {failed, cancelled}; OperationID set once the job has been active;
// RetryCount <= MaxRetries; transitions limited to the table in
// transitions.go.
type Job struct {
	ID             string
	UserID         string
	Prompt         string
	ModelID        string
	ProviderID     string
	Params         GenerationParams
	Priority       int
	Status         JobStatus
	Progress       int
	RetryCount     int
	MaxRetries     int
	OperationID    string
	CostEstimate   float64
	Clarifications []string
	Result         *JobResult
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
}

// HistoryAction enumerates job history entry kinds.
type HistoryAction string

const (
	HistoryCreated   HistoryAction = "created"
	HistoryStarted   HistoryAction = "started"
	HistoryProgress  HistoryAction = "progress"
	HistoryCompleted HistoryAction = "completed"
	HistoryFailed    HistoryAction = "failed"
	HistoryCancelled HistoryAction = "cancelled"
	HistoryRetried   HistoryAction = "retried"
)

// JobHistory is an append-only log entry; one per transition or progress
// update, retained and pruned with its job.
type JobHistory struct {
	ID        string
	JobID     string
	Action    HistoryAction
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

// QueueEntry exists only while its job is not terminal.
type QueueEntry struct {
	JobID      string    `json:"job_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WorkerInfo describes a registered worker and its lease state.
type WorkerInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Capabilities   []string  `json:"capabilities,omitempty"`
	IsActive       bool      `json:"is_active"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	MaxConcurrency int       `json:"max_concurrency"`
	ProcessedCount int       `json:"processed_count"`
	FailedCount    int       `json:"failed_count"`
	CurrentJobs    []string  `json:"current_jobs,omitempty"`
}

// QueueStats summarizes queue throughput for the stats endpoint.
type QueueStats struct {
	Waiting           int     `json:"waiting"`
	Active            int     `json:"active"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	Delayed           int     `json:"delayed"`
	TotalProcessed    int     `json:"totalProcessed"`
	AvgProcessingTime float64 `json:"avgProcessingTime"`
}

// QueueStatus is the operational snapshot for the status endpoint.
type QueueStatus struct {
	IsPaused    bool `json:"isPaused"`
	QueueLength int  `json:"queueLength"`
	ActiveJobs  int  `json:"activeJobs"`
	WorkerCount int  `json:"workerCount"`
}

// VideoArtifact is the metadata record of a stored video. Artifacts are
// immutable after upload; only access stats mutate.
type VideoArtifact struct {
	ID              string     `json:"id"`
	GenerationID    string     `json:"generation_id"`
	UserID          string     `json:"user_id"`
	Filename        string     `json:"filename"`
	ContentType     string     `json:"content_type"`
	SizeBytes       int64      `json:"size_bytes"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	UploadedAt      time.Time  `json:"uploaded_at"`
	LastAccessedAt  *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount     int        `json:"access_count"`
}

// Model describes a catalog entry: a named generator with capability bounds
// and pricing, owned by one provider.
type Model struct {
	ID           string            `json:"id" yaml:"id"`
	Provider     string            `json:"provider" yaml:"provider"`
	Capabilities ModelCapabilities `json:"capabilities" yaml:"capabilities"`
	Parameters   ModelParameters   `json:"parameters" yaml:"parameters"`
	Pricing      ModelPricing      `json:"pricing" yaml:"pricing"`
	IsAvailable  bool              `json:"is_available" yaml:"is_available"`
}

// ModelCapabilities bound what a model can generate.
type ModelCapabilities struct {
	MaxDurationSec        int      `json:"max_duration_sec" yaml:"max_duration_sec"`
	AspectRatios          []string `json:"aspect_ratios" yaml:"aspect_ratios"`
	Resolutions           []string `json:"resolutions" yaml:"resolutions"`
	SupportsAudio         bool     `json:"supports_audio" yaml:"supports_audio"`
	SupportsImageInput    bool     `json:"supports_image_input" yaml:"supports_image_input"`
	SupportsNegativePrompt bool    `json:"supports_negative_prompt" yaml:"supports_negative_prompt"`
}

// IntRange declares an inclusive numeric parameter range with a default.
type IntRange struct {
	Min     int `json:"min" yaml:"min"`
	Max     int `json:"max" yaml:"max"`
	Default int `json:"default" yaml:"default"`
}

// OptionSet declares an enumerated parameter with a default.
type OptionSet struct {
	Options []string `json:"options" yaml:"options"`
	Default string   `json:"default" yaml:"default"`
}

// FloatRange declares an inclusive float parameter range with a default.
type FloatRange struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Default float64 `json:"default" yaml:"default"`
}

// ModelParameters declare the per-model tunables and their bounds.
type ModelParameters struct {
	Duration       IntRange    `json:"duration" yaml:"duration"`
	AspectRatio    OptionSet   `json:"aspect_ratio" yaml:"aspect_ratio"`
	Quality        OptionSet   `json:"quality" yaml:"quality"`
	GuidanceScale  *FloatRange `json:"guidance_scale,omitempty" yaml:"guidance_scale,omitempty"`
	InferenceSteps *IntRange   `json:"inference_steps,omitempty" yaml:"inference_steps,omitempty"`
}

// ModelPricing carries the declared cost model.
type ModelPricing struct {
	CostPerSecond float64 `json:"cost_per_second" yaml:"cost_per_second"`
	Currency      string  `json:"currency" yaml:"currency"`
	Tier          string  `json:"tier" yaml:"tier"`
}

// JobEvent is published to the lifecycle event stream on every transition.
type JobEvent struct {
	JobID     string        `json:"job_id"`
	UserID    string        `json:"user_id"`
	Action    HistoryAction `json:"action"`
	Status    JobStatus     `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// Context is an alias so adapters and usecases share the std context without
// the domain package reaching into transport concerns.
type Context = context.Context
