// Package mock provides a deterministic in-memory video provider for
// development and tests. Operations advance a fixed number of polls before
// completing, so workflows can be exercised without external credentials.
package mock

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vidforge/vidforge/internal/adapter/provider"
	"github.com/vidforge/vidforge/internal/domain"
)

// ProviderID identifies this adapter in the model catalog.
const ProviderID = "mock"

type operation struct {
	req       domain.GenerationRequest
	polls     int
	cancelled bool
}

// Client implements domain.VideoProvider entirely in memory.
type Client struct {
	mu  sync.Mutex
	ops map[string]*operation

	catalog provider.Catalog
	// PollsToComplete is how many polls an operation takes to finish.
	PollsToComplete int
	// ResultBaseURL prefixes the synthetic video URLs handed back on
	// completion. Tests point this at an httptest server.
	ResultBaseURL string
	// FailSubmits makes Submit return a provider failure; used to drive
	// retry paths in tests.
	FailSubmits bool
}

// New constructs a mock provider.
func New(catalog provider.Catalog) *Client {
	return &Client{
		ops:             map[string]*operation{},
		catalog:         catalog,
		PollsToComplete: 2,
		ResultBaseURL:   "https://mock.vidforge.invalid/videos",
	}
}

func (c *Client) ID() string { return ProviderID }

// Validate applies the shared capability checks.
func (c *Client) Validate(_ domain.Context, req domain.GenerationRequest) (domain.ValidationResult, error) {
	m, err := c.catalog.Get(req.ModelID)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("op=mock.validate: %w", err)
	}
	return provider.ValidateRequest(m, req), nil
}

// Submit records a new operation.
func (c *Client) Submit(_ domain.Context, req domain.GenerationRequest) (string, error) {
	if c.FailSubmits {
		return "", fmt.Errorf("op=mock.submit: %w: submit disabled", domain.ErrExternal)
	}
	id := "operations/mock-" + uuid.New().String()
	c.mu.Lock()
	c.ops[id] = &operation{req: req}
	c.mu.Unlock()
	return id, nil
}

// Poll advances the operation one step.
func (c *Client) Poll(_ domain.Context, operationID string) (domain.OperationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[operationID]
	if !ok {
		return domain.OperationStatus{}, fmt.Errorf("op=mock.poll: operation %s: %w", operationID, domain.ErrNotFound)
	}
	if op.cancelled {
		return domain.OperationStatus{State: domain.OperationCancelled, Error: "operation cancelled"}, nil
	}
	op.polls++
	if op.polls < c.PollsToComplete {
		progress := op.polls * 100 / c.PollsToComplete
		return domain.OperationStatus{State: domain.OperationProcessing, Progress: progress}, nil
	}
	return domain.OperationStatus{State: domain.OperationCompleted, Progress: 100, Result: c.result(op)}, nil
}

// FetchResult returns the synthetic result for a completed operation.
func (c *Client) FetchResult(_ domain.Context, operationID string) (domain.VideoResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[operationID]
	if !ok {
		return domain.VideoResult{}, fmt.Errorf("op=mock.fetch_result: operation %s: %w", operationID, domain.ErrNotFound)
	}
	if op.cancelled || op.polls < c.PollsToComplete {
		return domain.VideoResult{}, fmt.Errorf("op=mock.fetch_result: operation %s not completed: %w", operationID, domain.ErrConflict)
	}
	return *c.result(op), nil
}

// Cancel marks the operation cancelled.
func (c *Client) Cancel(_ domain.Context, operationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[operationID]
	if !ok {
		return fmt.Errorf("op=mock.cancel: operation %s: %w", operationID, domain.ErrNotFound)
	}
	op.cancelled = true
	return nil
}

// EstimateCost projects from declared pricing, default rate when absent.
func (c *Client) EstimateCost(_ domain.Context, req domain.GenerationRequest) (domain.CostEstimate, error) {
	m, err := c.catalog.Get(req.ModelID)
	if err != nil {
		return domain.CostEstimate{}, fmt.Errorf("op=mock.estimate_cost: %w", err)
	}
	return provider.EstimateCost(m, req), nil
}

// Health always succeeds.
func (c *Client) Health(domain.Context) error { return nil }

func (c *Client) result(op *operation) *domain.VideoResult {
	dur := op.req.Params.DurationSeconds
	if dur <= 0 {
		dur = 5
	}
	return &domain.VideoResult{
		VideoURL:        fmt.Sprintf("%s/%s.mp4", c.ResultBaseURL, sanitizeOpID(op)),
		DurationSeconds: dur,
		Resolution:      "720p",
		Format:          "mp4",
	}
}

func sanitizeOpID(op *operation) string {
	// Derive a stable name from the prompt length and duration so repeated
	// polls return the same URL.
	return fmt.Sprintf("gen-%d-%d", len(op.req.Prompt), op.req.Params.DurationSeconds)
}
