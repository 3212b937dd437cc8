package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vidforge/vidforge/internal/domain"
)

type createGenerationRequest struct {
	Prompt     string                   `json:"prompt" validate:"required,min=3,max=5000"`
	Parameters *domain.GenerationParams `json:"parameters"`
	Provider   string                   `json:"provider" validate:"omitempty,max=64"`
	Model      string                   `json:"model" validate:"omitempty,max=128"`
	Priority   *int                     `json:"priority" validate:"omitempty,min=0,max=10"`
}

type clarifyRequest struct {
	Response   string `json:"response" validate:"required,min=1,max=2000"`
	QuestionID string `json:"questionId" validate:"omitempty,max=64"`
}

type registerWorkerRequest struct {
	WorkerID   string `json:"workerId" validate:"required,max=128"`
	WorkerInfo struct {
		Name           string   `json:"name" validate:"omitempty,max=128"`
		Capabilities   []string `json:"capabilities" validate:"omitempty,dive,max=64"`
		MaxConcurrency int      `json:"maxConcurrency" validate:"omitempty,min=1,max=64"`
	} `json:"workerInfo"`
}

type heartbeatRequest struct {
	WorkerID string `json:"workerId" validate:"required,max=128"`
}

type cleanupRequest struct {
	OlderThanDays *int `json:"olderThanDays" validate:"omitempty,min=1,max=365"`
}

// decodeJSON parses and validates a request body. A missing body is treated
// as an empty object so bodiless POSTs like confirm still decode.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidArgument, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, describeFirst(verrs))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func describeFirst(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s is below the minimum of %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds the maximum of %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// jobView is the wire representation of a job.
type jobView struct {
	ID                     string                  `json:"id"`
	Prompt                 string                  `json:"prompt"`
	Model                  string                  `json:"model"`
	Provider               string                  `json:"provider"`
	Parameters             domain.GenerationParams `json:"parameters"`
	Priority               int                     `json:"priority"`
	Status                 domain.JobStatus        `json:"status"`
	Progress               int                     `json:"progress"`
	RetryCount             int                     `json:"retryCount"`
	MaxRetries             int                     `json:"maxRetries"`
	OperationID            string                  `json:"operationId,omitempty"`
	CostEstimate           float64                 `json:"costEstimate,omitempty"`
	Clarifications         []string                `json:"clarifications,omitempty"`
	ClarificationQuestions []string                `json:"clarificationQuestions,omitempty"`
	Result                 *domain.JobResult       `json:"result,omitempty"`
	Error                  string                  `json:"error,omitempty"`
	CreatedAt              time.Time               `json:"createdAt"`
	UpdatedAt              time.Time               `json:"updatedAt"`
	StartedAt              *time.Time              `json:"startedAt,omitempty"`
	CompletedAt            *time.Time              `json:"completedAt,omitempty"`
	FailedAt               *time.Time              `json:"failedAt,omitempty"`
}

func toJobView(j domain.Job, questions []string) jobView {
	return jobView{
		ID:                     j.ID,
		Prompt:                 j.Prompt,
		Model:                  j.ModelID,
		Provider:               j.ProviderID,
		Parameters:             j.Params,
		Priority:               j.Priority,
		Status:                 j.Status,
		Progress:               j.Progress,
		RetryCount:             j.RetryCount,
		MaxRetries:             j.MaxRetries,
		OperationID:            j.OperationID,
		CostEstimate:           j.CostEstimate,
		Clarifications:         j.Clarifications,
		ClarificationQuestions: questions,
		Result:                 j.Result,
		Error:                  j.Error,
		CreatedAt:              j.CreatedAt,
		UpdatedAt:              j.UpdatedAt,
		StartedAt:              j.StartedAt,
		CompletedAt:            j.CompletedAt,
		FailedAt:               j.FailedAt,
	}
}
