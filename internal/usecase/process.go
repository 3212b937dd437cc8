package usecase

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/domain"
)

// ProcessGeneration advances one leased job by a single poll step. It is
// idempotent for terminal states and safe to call repeatedly; done reports
// whether the worker can drop the job from its in-flight set.
func (s *WorkflowService) ProcessGeneration(ctx domain.Context, jobID, workerID string) (done bool, err error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Job pruned underneath its lease; just release it.
			_ = s.Queue.Complete(ctx, jobID, workerID)
			return true, nil
		}
		return false, err
	}
	if domain.IsTerminal(j.Status) || j.Status == domain.JobFailed {
		// Failed jobs with retry budget left were already moved back to
		// queued; one still failed here is finished.
		_ = s.Queue.Complete(ctx, jobID, workerID)
		return true, nil
	}
	if j.OperationID == "" {
		// Queued but not yet confirmed; keep the lease and check again on
		// the next poll tick.
		return false, nil
	}

	provider, err := s.providerByID(j.ProviderID)
	if err != nil {
		s.handleFailure(ctx, j, workerID, fmt.Sprintf("provider %s not configured", j.ProviderID))
		return true, nil
	}
	st, err := provider.Poll(ctx, j.OperationID)
	if err != nil {
		// The adapter already retried transients; what reaches here is final.
		s.handleFailure(ctx, j, workerID, err.Error())
		return true, nil
	}

	switch st.State {
	case domain.OperationPending, domain.OperationProcessing:
		if st.Progress > j.Progress {
			if uerr := s.Jobs.UpdateProgress(ctx, jobID, st.Progress); uerr != nil {
				slog.Warn("progress update failed", slog.String("job_id", jobID), slog.Any("error", uerr))
			}
		}
		return false, nil
	case domain.OperationCompleted:
		if ierr := s.ingest(ctx, j, workerID, st.Result); ierr != nil {
			s.handleFailure(ctx, j, workerID, ierr.Error())
		}
		return true, nil
	case domain.OperationCancelled:
		if cerr := s.Jobs.Cancel(ctx, jobID, "cancelled at provider"); cerr != nil && !isConflict(cerr) {
			slog.Warn("cancel after provider cancellation failed", slog.String("job_id", jobID), slog.Any("error", cerr))
		}
		_ = s.Queue.Fail(ctx, jobID, workerID, false)
		j.Status = domain.JobCancelled
		s.publish(ctx, j, domain.HistoryCancelled)
		return true, nil
	case domain.OperationFailed:
		s.handleFailure(ctx, j, workerID, st.Error)
		return true, nil
	default:
		s.handleFailure(ctx, j, workerID, fmt.Sprintf("unknown provider status %q", st.State))
		return true, nil
	}
}

// ingest downloads the finished video from the provider and moves it into
// the artifact store, then commits completion.
func (s *WorkflowService) ingest(ctx domain.Context, j domain.Job, workerID string, res *domain.VideoResult) error {
	if res == nil {
		provider, err := s.providerByID(j.ProviderID)
		if err != nil {
			return err
		}
		r, err := provider.FetchResult(ctx, j.OperationID)
		if err != nil {
			return err
		}
		res = &r
	}
	data, err := s.download(ctx, res.VideoURL)
	if err != nil {
		return fmt.Errorf("op=workflow.ingest: download video: %w", err)
	}
	a, err := s.Artifacts.Upload(ctx, domain.VideoArtifact{
		ID:              j.ID,
		GenerationID:    j.ID,
		UserID:          j.UserID,
		DurationSeconds: res.DurationSeconds,
		Resolution:      res.Resolution,
	}, data)
	if err != nil {
		return fmt.Errorf("op=workflow.ingest: %w", err)
	}

	thumbKey := s.storeThumbnail(ctx, j, res)

	result := domain.JobResult{
		VideoURL:        s.artifactURL(a),
		ThumbnailURL:    thumbKey,
		DurationSeconds: res.DurationSeconds,
		Resolution:      res.Resolution,
		FileSizeBytes:   a.SizeBytes,
		Format:          res.Format,
	}
	if err := s.Jobs.Complete(ctx, j.ID, result); err != nil {
		return err
	}
	_ = s.Queue.Complete(ctx, j.ID, workerID)
	observability.JobsCompletedTotal.WithLabelValues(j.ModelID).Inc()
	j.Status = domain.JobCompleted
	s.publish(ctx, j, domain.HistoryCompleted)
	slog.Info("generation completed",
		slog.String("job_id", j.ID),
		slog.String("user_id", j.UserID),
		slog.Int64("size_bytes", a.SizeBytes))
	return nil
}

// storeThumbnail prefers the provider's thumbnail, falling back to the
// generated placeholder. Thumbnails are never fatal.
func (s *WorkflowService) storeThumbnail(ctx domain.Context, j domain.Job, res *domain.VideoResult) string {
	var data []byte
	if res.ThumbnailURL != "" {
		if b, err := s.download(ctx, res.ThumbnailURL); err == nil {
			data = b
		} else {
			slog.Warn("thumbnail download failed", slog.String("job_id", j.ID), slog.Any("error", err))
		}
	}
	if data == nil && s.ThumbnailsEnabled && s.Thumbnail != nil {
		if b, err := s.Thumbnail(j.ID); err == nil {
			data = b
		}
	}
	if data == nil {
		return ""
	}
	key, err := s.Artifacts.UploadThumbnail(ctx, j.UserID, j.ID, data)
	if err != nil {
		slog.Warn("thumbnail upload failed", slog.String("job_id", j.ID), slog.Any("error", err))
		return ""
	}
	return key
}

// handleFailure fails the job, then retries within budget: back to queued,
// or back to clarification when that flow is enabled.
func (s *WorkflowService) handleFailure(ctx domain.Context, j domain.Job, workerID, msg string) {
	if msg == "" {
		msg = "generation failed"
	}
	if err := s.Jobs.Fail(ctx, j.ID, msg); err != nil {
		slog.Error("job fail transition rejected", slog.String("job_id", j.ID), slog.Any("error", err))
		_ = s.Queue.Fail(ctx, j.ID, workerID, false)
		return
	}
	observability.JobsFailedTotal.WithLabelValues(j.ModelID).Inc()

	if j.RetryCount < j.MaxRetries {
		target := domain.JobQueued
		requeue := true
		if s.ClarificationsEnabled {
			target = domain.JobPendingClarification
			requeue = false
		}
		if retried, err := s.Jobs.Retry(ctx, j.ID, target); err == nil {
			_ = s.Queue.Fail(ctx, j.ID, workerID, requeue)
			s.publish(ctx, retried, domain.HistoryRetried)
			slog.Info("job retried",
				slog.String("job_id", j.ID),
				slog.Int("retry_count", retried.RetryCount),
				slog.String("target", string(target)))
			return
		}
	}
	_ = s.Queue.Fail(ctx, j.ID, workerID, false)
	j.Status = domain.JobFailed
	s.publish(ctx, j, domain.HistoryFailed)
	slog.Warn("generation failed", slog.String("job_id", j.ID), slog.String("error", msg))
}

func (s *WorkflowService) download(ctx domain.Context, url string) ([]byte, error) {
	hc := s.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExternal, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d fetching %s", domain.ErrExternal, resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

func (s *WorkflowService) artifactURL(a domain.VideoArtifact) string {
	if s.VideoURL != nil {
		return s.VideoURL(a)
	}
	return fmt.Sprintf("videos/%s/%s/%s", a.UserID, a.ID, a.Filename)
}
