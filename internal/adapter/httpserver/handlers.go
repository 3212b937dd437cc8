package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vidforge/vidforge/internal/config"
	"github.com/vidforge/vidforge/internal/domain"
	"github.com/vidforge/vidforge/internal/service/ratelimiter"
	"github.com/vidforge/vidforge/internal/usecase"
)

// Server bundles the handler dependencies. Routing is assembled in
// internal/app so tests can mount subsets.
type Server struct {
	cfg       config.Config
	workflow  *usecase.WorkflowService
	jobs      domain.JobStore
	queue     domain.Queue
	artifacts domain.ArtifactStore
	models    usecase.ModelCatalog
	limiter   ratelimiter.Limiter
	apiKeys   map[string]string
	validate  *validator.Validate
}

// NewServer builds a Server over the workflow and its ports.
func NewServer(cfg config.Config, wf *usecase.WorkflowService, limiter ratelimiter.Limiter) *Server {
	return &Server{
		cfg:       cfg,
		workflow:  wf,
		jobs:      wf.Jobs,
		queue:     wf.Queue,
		artifacts: wf.Artifacts,
		models:    wf.Models,
		limiter:   limiter,
		apiKeys:   cfg.APIKeyTable(),
		validate:  validator.New(),
	}
}

// HealthHandler reports liveness; readiness is served separately.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": s.cfg.AppEnv,
		"version":     s.cfg.Version,
	})
}

// CreateGeneration starts a new generation job.
func (s *Server) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	var params domain.GenerationParams
	if req.Parameters != nil {
		params = *req.Parameters
	}
	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	res, err := s.workflow.Start(r.Context(), UserIDFrom(r.Context()), req.Prompt, req.Model, params, priority)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	body := map[string]any{
		"success":      true,
		"generationId": res.Job.ID,
	}
	if res.ClarificationRequired {
		body["clarificationRequired"] = true
		body["clarificationQuestions"] = res.ClarificationQuestions
	} else {
		body["queuePosition"] = res.QueuePosition
	}
	if res.Job.CostEstimate > 0 {
		body["estimatedCost"] = res.Job.CostEstimate
	}
	writeJSON(w, http.StatusCreated, body)
}

// ListGenerations returns the caller's recent jobs, newest first.
func (s *Server) ListGenerations(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListByUser(r.Context(), UserIDFrom(r.Context()), 50)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "generations": views})
}

// GetGeneration returns one job; pending clarifications include the open
// question set.
func (s *Server) GetGeneration(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"generation": toJobView(j, s.openQuestions(j)),
	})
}

// Clarify records a clarification answer.
func (s *Server) Clarify(w http.ResponseWriter, r *http.Request) {
	var req clarifyRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	updated, err := s.workflow.SubmitClarification(r.Context(), j.ID, req.Response)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "generation": toJobView(updated, nil)})
}

// Confirm submits the job to its provider and activates it.
func (s *Server) Confirm(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	updated, err := s.workflow.ConfirmGeneration(r.Context(), j.ID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "generation": toJobView(updated, nil)})
}

// CancelGeneration cancels a job, best-effort at the provider first.
func (s *Server) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := s.workflow.CancelGeneration(r.Context(), j.ID, ""); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// QueueJob returns the queue-facing view of a job.
func (s *Server) QueueJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": toJobView(j, nil)})
}

// QueueStats returns aggregate throughput counters.
func (s *Server) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

// QueueStatus returns the operational queue snapshot.
func (s *Server) QueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.queue.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": st})
}

// ListVideos lists the caller's stored artifacts.
func (s *Server) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.artifacts.List(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if videos == nil {
		videos = []domain.VideoArtifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

// GetVideo returns a time-bounded signed download URL.
func (s *Server) GetVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	url, err := s.artifacts.SignedURL(r.Context(), UserIDFrom(r.Context()), videoID, s.cfg.SignedURLTTL)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videoUrl": url})
}

// DeleteVideo removes a stored artifact with its thumbnail and metadata.
func (s *Server) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if err := s.artifacts.Delete(r.Context(), UserIDFrom(r.Context()), videoID); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RegisterWorker registers (or re-registers) a worker.
func (s *Server) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	info := domain.WorkerInfo{
		ID:             req.WorkerID,
		Name:           req.WorkerInfo.Name,
		Capabilities:   req.WorkerInfo.Capabilities,
		MaxConcurrency: req.WorkerInfo.MaxConcurrency,
		IsActive:       true,
		LastHeartbeat:  time.Now().UTC(),
	}
	if err := s.queue.RegisterWorker(r.Context(), info); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "worker": info})
}

// Heartbeat refreshes a worker's liveness timestamp.
func (s *Server) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := s.queue.Heartbeat(r.Context(), req.WorkerID); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CronCleanup prunes old terminal jobs, expired artifacts and dead workers.
func (s *Server) CronCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	days := s.cfg.CleanupRetentionDays
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}
	retention := time.Duration(days) * 24 * time.Hour

	ctx := r.Context()
	jobsCleaned, err := s.jobs.Cleanup(ctx, retention)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	videosCleaned, err := s.artifacts.Cleanup(ctx, retention)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	workersCleaned, err := s.queue.CleanupInactiveWorkers(ctx, s.cfg.WorkerInactiveAfter)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobsCleaned":    jobsCleaned,
		"videosCleaned":  videosCleaned,
		"workersCleaned": workersCleaned,
	})
}

// ownedJob loads the route's job and enforces ownership.
func (s *Server) ownedJob(r *http.Request) (domain.Job, error) {
	id := chi.URLParam(r, "id")
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := requireOwner(r.Context(), j.UserID); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// openQuestions regenerates the pending clarification question set.
func (s *Server) openQuestions(j domain.Job) []string {
	if j.Status != domain.JobPendingClarification {
		return nil
	}
	m, err := s.models.Get(j.ModelID)
	if err != nil {
		return nil
	}
	return usecase.ClarificationQuestions(m, j.Prompt, j.Params)
}
