// Package veo adapts the Google Veo long-running-operation API to the
// provider contract.
//
// A generation is submitted with predictLongRunning, then polled via the
// returned operation name. The operation is complete when done=true; a done
// operation carrying an error maps to a failed state, otherwise the first
// generated sample yields the video result.
package veo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidforge/vidforge/internal/adapter/observability"
	"github.com/vidforge/vidforge/internal/adapter/provider"
	"github.com/vidforge/vidforge/internal/domain"
)

// ProviderID identifies this adapter in the model catalog.
const ProviderID = "google-veo"

const apiKeyHeader = "x-goog-api-key"

// Client implements domain.VideoProvider against the Veo API.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	catalog provider.Catalog
	retry   provider.RetryPolicy
}

// New constructs a Veo client. baseURL has no trailing slash.
func New(baseURL, apiKey string, catalog provider.Catalog, retry provider.RetryPolicy) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: retry.RequestTimeout},
		catalog: catalog,
		retry:   retry,
	}
}

// ID returns the provider id.
func (c *Client) ID() string { return ProviderID }

// submitRequest is the predictLongRunning wire shape. Parameter keys use the
// provider's vocabulary; the adapter owns the canonical-to-wire mapping.
type submitRequest struct {
	Instances  []submitInstance `json:"instances"`
	Parameters wireParams       `json:"parameters"`
}

type submitInstance struct {
	Prompt string `json:"prompt"`
}

type wireParams struct {
	DurationSeconds   int     `json:"durationSeconds,omitempty"`
	AspectRatio       string  `json:"aspectRatio,omitempty"`
	NegativePrompt    string  `json:"negativePrompt,omitempty"`
	GuidanceScale     float64 `json:"guidanceScale,omitempty"`
	NumInferenceSteps int     `json:"numInferenceSteps,omitempty"`
	Seed              int64   `json:"seed,omitempty"`
}

type operationResponse struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata *struct {
		ProgressPercent         int    `json:"progressPercent"`
		EstimatedCompletionTime string `json:"estimatedCompletionTime"`
	} `json:"metadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					Encoding string `json:"encoding"`
				} `json:"video"`
				ThumbnailURI    string `json:"thumbnailUri"`
				DurationSeconds int    `json:"durationSeconds"`
				Resolution      string `json:"resolution"`
				FileSizeBytes   int64  `json:"fileSizeBytes"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func wireParamsFrom(p domain.GenerationParams) wireParams {
	return wireParams{
		DurationSeconds:   p.DurationSeconds,
		AspectRatio:       p.AspectRatio,
		NegativePrompt:    p.NegativePrompt,
		GuidanceScale:     p.GuidanceScale,
		NumInferenceSteps: p.InferenceSteps,
		Seed:              p.Seed,
	}
}

// Validate checks the request against the model's declared capability set.
// Veo exposes no validation endpoint; only the long-running-operation path
// is normative, so validation is local.
func (c *Client) Validate(_ domain.Context, req domain.GenerationRequest) (domain.ValidationResult, error) {
	m, err := c.catalog.Get(req.ModelID)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("op=veo.validate: %w", err)
	}
	return provider.ValidateRequest(m, req), nil
}

// Submit starts a long-running generation and returns the operation name.
func (c *Client) Submit(ctx domain.Context, req domain.GenerationRequest) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:predictLongRunning", c.baseURL, req.ModelID)
	body := submitRequest{
		Instances:  []submitInstance{{Prompt: req.Prompt}},
		Parameters: wireParamsFrom(req.Params),
	}
	var op operationResponse
	err := c.retry.Do(ctx, "veo.submit", func() error {
		return c.postJSON(ctx, url, body, &op)
	})
	if err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("op=veo.submit: %w: operation name missing in response", domain.ErrExternal)
	}
	slog.Info("veo operation submitted", slog.String("operation", op.Name), slog.String("model", req.ModelID))
	return op.Name, nil
}

// Poll fetches the operation and normalizes it to the common status shape.
func (c *Client) Poll(ctx domain.Context, operationID string) (domain.OperationStatus, error) {
	url := fmt.Sprintf("%s/v1beta/%s", c.baseURL, operationID)
	var op operationResponse
	err := c.retry.Do(ctx, "veo.poll", func() error {
		return c.getJSON(ctx, url, &op)
	})
	if err != nil {
		return domain.OperationStatus{}, err
	}
	return decodeOperation(op), nil
}

// FetchResult returns the finished video for a done operation.
func (c *Client) FetchResult(ctx domain.Context, operationID string) (domain.VideoResult, error) {
	st, err := c.Poll(ctx, operationID)
	if err != nil {
		return domain.VideoResult{}, err
	}
	if st.State != domain.OperationCompleted || st.Result == nil {
		return domain.VideoResult{}, fmt.Errorf("op=veo.fetch_result: operation %s not completed: %w", operationID, domain.ErrConflict)
	}
	return *st.Result, nil
}

// Cancel requests provider-side cancellation of an operation.
func (c *Client) Cancel(ctx domain.Context, operationID string) error {
	url := fmt.Sprintf("%s/v1beta/%s:cancel", c.baseURL, operationID)
	return c.retry.Do(ctx, "veo.cancel", func() error {
		return c.postJSON(ctx, url, struct{}{}, &struct{}{})
	})
}

// EstimateCost projects the charge from the model's declared pricing.
func (c *Client) EstimateCost(_ domain.Context, req domain.GenerationRequest) (domain.CostEstimate, error) {
	m, err := c.catalog.Get(req.ModelID)
	if err != nil {
		return domain.CostEstimate{}, fmt.Errorf("op=veo.estimate_cost: %w", err)
	}
	return provider.EstimateCost(m, req), nil
}

// Health probes the models listing endpoint.
func (c *Client) Health(ctx domain.Context) error {
	url := fmt.Sprintf("%s/v1beta/models?pageSize=1", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("op=veo.health: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=veo.health: %w: %w", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=veo.health: %w: status %d", domain.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func decodeOperation(op operationResponse) domain.OperationStatus {
	if !op.Done {
		st := domain.OperationStatus{State: domain.OperationProcessing}
		if op.Metadata != nil {
			st.Progress = op.Metadata.ProgressPercent
			if op.Metadata.EstimatedCompletionTime != "" {
				if ts, err := time.Parse(time.RFC3339, op.Metadata.EstimatedCompletionTime); err == nil {
					st.EstimatedCompletion = &ts
				}
			}
		}
		if st.Progress == 0 {
			st.State = domain.OperationPending
		}
		return st
	}
	if op.Error != nil {
		return domain.OperationStatus{State: domain.OperationFailed, Error: op.Error.Message}
	}
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return domain.OperationStatus{State: domain.OperationFailed, Error: "done operation carried no samples"}
	}
	s := op.Response.GenerateVideoResponse.GeneratedSamples[0]
	format := "mp4"
	if s.Video.Encoding != "" {
		format = s.Video.Encoding
	}
	return domain.OperationStatus{
		State:    domain.OperationCompleted,
		Progress: 100,
		Result: &domain.VideoResult{
			VideoURL:        s.Video.URI,
			ThumbnailURL:    s.ThumbnailURI,
			DurationSeconds: s.DurationSeconds,
			Resolution:      s.Resolution,
			FileSizeBytes:   s.FileSizeBytes,
			Format:          format,
		},
	}
}

func (c *Client) postJSON(ctx domain.Context, url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.roundTrip(req, "submit", out)
}

func (c *Client) getJSON(ctx domain.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.roundTrip(req, "poll", out)
}

func (c *Client) roundTrip(req *http.Request, operation string, out any) error {
	req.Header.Set(apiKeyHeader, c.apiKey)
	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.ObserveProviderRequest(ProviderID, operation, time.Since(start))
	if err != nil {
		// Network failures surface as tagged results, never panics.
		return fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &provider.StatusError{Code: resp.StatusCode, Message: providerMessage(snippet)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// providerMessage extracts the error message from a Google error envelope,
// falling back to the raw body.
func providerMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return string(body)
}
