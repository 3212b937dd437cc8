// Package usecase contains the orchestration workflow tying providers, job
// store, queue and artifact store together. The workflow owns no state; all
// mutation goes through the job store and queue ports.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/domain"
	"github.com/vidforge/vidforge/pkg/textx"
)

// ModelCatalog is the slice of the registry the workflow needs.
type ModelCatalog interface {
	Get(id string) (domain.Model, error)
	Default() (domain.Model, error)
}

// WorkflowService drives a generation job through its phases: start,
// clarify, confirm, dispatch, poll, ingest.
type WorkflowService struct {
	Jobs      domain.JobStore
	Queue     domain.Queue
	Artifacts domain.ArtifactStore
	Models    ModelCatalog
	Providers map[string]domain.VideoProvider
	Events    domain.EventPublisher
	HTTP      *http.Client

	// VideoURL renders the externally visible URL of a stored artifact.
	VideoURL func(domain.VideoArtifact) string
	// Thumbnail produces placeholder thumbnail bytes for a video id.
	Thumbnail func(videoID string) ([]byte, error)

	ClarificationsEnabled bool
	ThumbnailsEnabled     bool
}

// StartResult is the outcome of starting a generation.
type StartResult struct {
	Job                    domain.Job
	ClarificationRequired  bool
	ClarificationQuestions []string
	QueuePosition          int
}

// Start validates the request, creates the job and either returns
// clarification questions or queues the job directly.
func (s *WorkflowService) Start(ctx domain.Context, userID, prompt, modelID string, params domain.GenerationParams, priority int) (StartResult, error) {
	prompt = textx.SanitizePrompt(prompt)
	if err := domain.ValidatePrompt(prompt); err != nil {
		return StartResult{}, err
	}
	if priority < 0 || priority > 10 {
		return StartResult{}, fmt.Errorf("op=workflow.start: priority %d out of range [0,10]: %w", priority, domain.ErrInvalidArgument)
	}

	var m domain.Model
	var err error
	if modelID == "" {
		m, err = s.Models.Default()
	} else {
		m, err = s.Models.Get(modelID)
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("op=workflow.start: %w", err)
	}
	if !m.IsAvailable {
		return StartResult{}, fmt.Errorf("op=workflow.start: model %s unavailable: %w", m.ID, domain.ErrUnavailable)
	}
	if err := params.ValidateAgainst(m); err != nil {
		return StartResult{}, err
	}
	provider, err := s.providerFor(m)
	if err != nil {
		return StartResult{}, err
	}

	req := domain.GenerationRequest{ModelID: m.ID, Prompt: prompt, Params: params.WithDefaults(m)}
	vr, err := provider.Validate(ctx, req)
	if err != nil {
		return StartResult{}, err
	}
	if !vr.Valid {
		msg := vr.Error
		if len(vr.Suggestions) > 0 {
			msg += " (" + strings.Join(vr.Suggestions, "; ") + ")"
		}
		return StartResult{}, fmt.Errorf("op=workflow.start: %s: %w", msg, domain.ErrInvalidArgument)
	}
	est, err := provider.EstimateCost(ctx, req)
	if err != nil {
		slog.Warn("cost estimate failed", slog.String("model", m.ID), slog.Any("error", err))
	}

	questions := ClarificationQuestions(m, prompt, params)
	needsClarify := s.ClarificationsEnabled && len(questions) > 0

	j := domain.Job{
		UserID:       userID,
		Prompt:       prompt,
		ModelID:      m.ID,
		ProviderID:   m.Provider,
		Params:       params,
		Priority:     priority,
		Status:       domain.JobPendingClarification,
		MaxRetries:   domain.DefaultMaxRetries,
		CostEstimate: est.Cost,
	}
	if !needsClarify {
		j.Status = domain.JobQueued
	}
	id, err := s.Jobs.Create(ctx, j)
	if err != nil {
		return StartResult{}, err
	}
	j.ID = id
	s.publish(ctx, j, domain.HistoryCreated)

	res := StartResult{Job: j, ClarificationRequired: needsClarify, ClarificationQuestions: questions}
	if needsClarify {
		return res, nil
	}

	pos, err := s.Queue.Add(ctx, domain.QueueEntry{JobID: id, Priority: priority, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		_ = s.Jobs.Cancel(ctx, id, "queue admission failed")
		return StartResult{}, err
	}
	observability.JobsEnqueuedTotal.WithLabelValues(m.ID).Inc()
	res.QueuePosition = pos
	return res, nil
}

// SubmitClarification records the user's answer and moves the job to
// pending_confirmation.
func (s *WorkflowService) SubmitClarification(ctx domain.Context, jobID, response string) (domain.Job, error) {
	response = textx.SanitizePrompt(response)
	if l := len(response); l < 1 || l > 2000 {
		return domain.Job{}, fmt.Errorf("op=workflow.clarify: response must be 1-2000 characters: %w", domain.ErrInvalidArgument)
	}
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.Status != domain.JobPendingClarification {
		return domain.Job{}, fmt.Errorf("op=workflow.clarify: job %s is %s: %w", jobID, j.Status, domain.ErrConflict)
	}
	if err := s.Jobs.AppendClarification(ctx, jobID, response); err != nil {
		return domain.Job{}, err
	}
	return s.Jobs.Transition(ctx, jobID, domain.JobPendingConfirmation, "clarification received")
}

// ConfirmGeneration rebuilds the canonical request from the job, submits it
// to the provider, stamps the operation id and activates the job.
func (s *WorkflowService) ConfirmGeneration(ctx domain.Context, jobID string) (domain.Job, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	switch j.Status {
	case domain.JobPendingClarification, domain.JobPendingConfirmation, domain.JobQueued:
	default:
		return domain.Job{}, fmt.Errorf("op=workflow.confirm: job %s is %s: %w", jobID, j.Status, domain.ErrConflict)
	}

	m, err := s.Models.Get(j.ModelID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=workflow.confirm: %w", err)
	}
	provider, err := s.providerFor(m)
	if err != nil {
		return domain.Job{}, err
	}

	opID, err := provider.Submit(ctx, buildRequest(j, m))
	if err != nil {
		return domain.Job{}, err
	}
	if err := s.Jobs.SetOperation(ctx, jobID, opID); err != nil {
		return domain.Job{}, err
	}
	updated, err := s.Jobs.Transition(ctx, jobID, domain.JobActive, "submitted to provider")
	if err != nil {
		return domain.Job{}, err
	}
	s.publish(ctx, updated, domain.HistoryStarted)

	// The start path may have queued the job already; a duplicate add is fine.
	if _, err := s.Queue.Add(ctx, domain.QueueEntry{JobID: jobID, Priority: j.Priority, EnqueuedAt: time.Now().UTC()}); err != nil && !isConflict(err) {
		slog.Warn("queue add after confirm failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	return updated, nil
}

// CancelGeneration cancels at the provider best-effort, then commits the
// local cancel. Leased queue entries are released lazily by their worker once
// it observes the terminal status.
func (s *WorkflowService) CancelGeneration(ctx domain.Context, jobID, reason string) error {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if domain.IsTerminal(j.Status) {
		return fmt.Errorf("op=workflow.cancel: job %s is %s: %w", jobID, j.Status, domain.ErrConflict)
	}
	if j.OperationID != "" {
		if provider, perr := s.providerByID(j.ProviderID); perr == nil {
			if cerr := provider.Cancel(ctx, j.OperationID); cerr != nil {
				slog.Warn("provider cancel failed",
					slog.String("job_id", jobID),
					slog.String("operation_id", j.OperationID),
					slog.Any("error", cerr))
			}
		}
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	if err := s.Jobs.Cancel(ctx, jobID, reason); err != nil {
		return err
	}
	j.Status = domain.JobCancelled
	s.publish(ctx, j, domain.HistoryCancelled)
	return nil
}

// buildRequest folds the clarification answers back into the prompt and
// applies model defaults to unset parameters.
func buildRequest(j domain.Job, m domain.Model) domain.GenerationRequest {
	prompt := j.Prompt
	if len(j.Clarifications) > 0 {
		prompt += "\n\nAdditional details: " + strings.Join(j.Clarifications, ". ")
	}
	return domain.GenerationRequest{
		ModelID: j.ModelID,
		Prompt:  prompt,
		Params:  j.Params.WithDefaults(m),
	}
}

func (s *WorkflowService) providerFor(m domain.Model) (domain.VideoProvider, error) {
	return s.providerByID(m.Provider)
}

func (s *WorkflowService) providerByID(id string) (domain.VideoProvider, error) {
	p, ok := s.Providers[id]
	if !ok {
		return nil, fmt.Errorf("op=workflow: provider %s not configured: %w", id, domain.ErrUnavailable)
	}
	return p, nil
}

func (s *WorkflowService) publish(ctx domain.Context, j domain.Job, action domain.HistoryAction) {
	if s.Events == nil {
		return
	}
	ev := domain.JobEvent{
		JobID:     j.ID,
		UserID:    j.UserID,
		Action:    action,
		Status:    j.Status,
		Timestamp: time.Now().UTC(),
	}
	if err := s.Events.PublishJobEvent(ctx, ev); err != nil {
		slog.Warn("job event publish failed", slog.String("job_id", j.ID), slog.Any("error", err))
	}
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
