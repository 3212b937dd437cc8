package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/vidforge/internal/domain"
)

func TestStartQueuesDirectlyWhenFullySpecified(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)
	env.provider.estimate = domain.CostEstimate{Cost: 2.1, Currency: "USD"}

	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	require.NoError(t, err)
	assert.False(t, res.ClarificationRequired)
	assert.Equal(t, 1, res.QueuePosition)
	assert.Equal(t, domain.JobQueued, res.Job.Status)
	assert.Equal(t, "veo-3.0-generate-001", res.Job.ModelID)
	assert.Equal(t, "veo", res.Job.ProviderID)
	assert.InDelta(t, 2.1, res.Job.CostEstimate, 1e-9)

	require.Len(t, env.queue.entries, 1)
	assert.Equal(t, res.Job.ID, env.queue.entries[0].JobID)
	assert.Equal(t, 5, env.queue.entries[0].Priority)
	assert.Equal(t, []domain.HistoryAction{domain.HistoryCreated}, env.events.actions())
}

func TestStartAsksForClarification(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(true)

	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", domain.GenerationParams{}, 5)
	require.NoError(t, err)
	assert.True(t, res.ClarificationRequired)
	require.Len(t, res.ClarificationQuestions, 3)
	assert.Contains(t, res.ClarificationQuestions[0], "4-8 seconds")
	assert.Equal(t, domain.JobPendingClarification, res.Job.Status)
	assert.Empty(t, env.queue.entries)
}

func TestStartClarificationsDisabledSkipsQuestions(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)

	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", domain.GenerationParams{}, 0)
	require.NoError(t, err)
	assert.False(t, res.ClarificationRequired)
	assert.Equal(t, domain.JobQueued, res.Job.Status)
	assert.Len(t, env.queue.entries, 1)
}

func TestStartRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)

	_, err := env.svc.Start(ctx, "u1", "ab", "", fullParams(), 5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.svc.Start(ctx, "u1", strings.Repeat("x", 5001), "", fullParams(), 5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	for _, prio := range []int{-1, 11} {
		_, err = env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", fullParams(), prio)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, "priority %d", prio)
	}

	_, err = env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "no-such-model", fullParams(), 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bad := fullParams()
	bad.DurationSeconds = 99
	_, err = env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", bad, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStartUnavailableModel(t *testing.T) {
	env := newWorkflowEnv(false)
	m := testModel()
	m.IsAvailable = false
	env.svc.Models = staticCatalog{m: m}

	_, err := env.svc.Start(context.Background(), "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestStartProviderValidationRejection(t *testing.T) {
	env := newWorkflowEnv(false)
	env.provider.validation = domain.ValidationResult{
		Valid:       false,
		Error:       "prompt violates content policy",
		Suggestions: []string{"remove branded content"},
	}

	_, err := env.svc.Start(context.Background(), "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "content policy")
	assert.Contains(t, err.Error(), "remove branded content")
}

func TestStartQueueFailureCancelsJob(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)
	env.queue.addErr = domain.ErrUnavailable

	_, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	require.ErrorIs(t, err, domain.ErrUnavailable)

	jobs, err := env.jobs.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobCancelled, jobs[0].Status)
}

func TestSubmitClarificationMovesToConfirmation(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(true)
	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", domain.GenerationParams{}, 5)
	require.NoError(t, err)

	j, err := env.svc.SubmitClarification(ctx, res.Job.ID, "6 seconds, 16:9, standard quality")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPendingConfirmation, j.Status)

	stored, err := env.jobs.Get(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"6 seconds, 16:9, standard quality"}, stored.Clarifications)

	// Answering again after the move is a conflict.
	_, err = env.svc.SubmitClarification(ctx, res.Job.ID, "again")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSubmitClarificationValidatesResponse(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(true)
	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", domain.GenerationParams{}, 5)
	require.NoError(t, err)

	_, err = env.svc.SubmitClarification(ctx, res.Job.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.svc.SubmitClarification(ctx, res.Job.ID, strings.Repeat("y", 2001))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.svc.SubmitClarification(ctx, "missing", "an answer")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfirmSubmitsAndActivates(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(true)
	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", domain.GenerationParams{}, 5)
	require.NoError(t, err)
	_, err = env.svc.SubmitClarification(ctx, res.Job.ID, "6 seconds please")
	require.NoError(t, err)

	j, err := env.svc.ConfirmGeneration(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobActive, j.Status)
	assert.Equal(t, "op-1", j.OperationID)
	require.NotNil(t, j.StartedAt)

	require.Len(t, env.provider.submitted, 1)
	req := env.provider.submitted[0]
	assert.Contains(t, req.Prompt, "Additional details: 6 seconds please")
	assert.Equal(t, 6, req.Params.DurationSeconds)
	assert.Equal(t, "16:9", req.Params.AspectRatio)

	assert.Len(t, env.queue.entries, 1)
	assert.Equal(t, []domain.HistoryAction{domain.HistoryCreated, domain.HistoryStarted}, env.events.actions())
}

func TestConfirmFromQueuedToleratesExistingEntry(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)
	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	require.NoError(t, err)
	require.Len(t, env.queue.entries, 1)

	j, err := env.svc.ConfirmGeneration(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobActive, j.Status)
	assert.Len(t, env.queue.entries, 1)
}

func TestConfirmTerminalJobIsConflict(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)
	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	require.NoError(t, err)
	require.NoError(t, env.svc.CancelGeneration(ctx, res.Job.ID, ""))

	_, err = env.svc.ConfirmGeneration(ctx, res.Job.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCancelActiveJobCancelsAtProvider(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)
	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	require.NoError(t, err)
	_, err = env.svc.ConfirmGeneration(ctx, res.Job.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.CancelGeneration(ctx, res.Job.ID, "changed my mind"))
	assert.Equal(t, []string{"op-1"}, env.provider.cancelled)

	j, err := env.jobs.Get(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, j.Status)
	assert.Equal(t, "changed my mind", j.Error)

	// Cancelling twice is a conflict.
	err = env.svc.CancelGeneration(ctx, res.Job.ID, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCancelQueuedJobSkipsProvider(t *testing.T) {
	ctx := context.Background()
	env := newWorkflowEnv(false)
	res, err := env.svc.Start(ctx, "u1", "a red fox running through snowy woods", "", fullParams(), 5)
	require.NoError(t, err)

	require.NoError(t, env.svc.CancelGeneration(ctx, res.Job.ID, ""))
	assert.Empty(t, env.provider.cancelled)

	j, err := env.jobs.Get(ctx, res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled by user", j.Error)
}
