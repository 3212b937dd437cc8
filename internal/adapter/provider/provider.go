// Package provider holds the shared pieces of the video-provider adapters:
// the retry policy applied to every outbound call and the catalog lookup
// used for validation and cost estimation.
package provider

import (
	"strings"

	"github.com/vidforge/vidforge/internal/domain"
)

// Catalog is the slice of the model registry adapters need.
type Catalog interface {
	Get(id string) (domain.Model, error)
}

// DefaultCostPerSecond is charged when a model declares no pricing.
const DefaultCostPerSecond = 0.05

// EstimateCost computes costPerSecond x chosenDuration against the model's
// declared pricing, falling back to the documented default rate.
func EstimateCost(m domain.Model, req domain.GenerationRequest) domain.CostEstimate {
	rate := m.Pricing.CostPerSecond
	currency := m.Pricing.Currency
	if rate <= 0 {
		rate = DefaultCostPerSecond
	}
	if currency == "" {
		currency = "USD"
	}
	dur := req.Params.DurationSeconds
	if dur <= 0 {
		dur = m.Parameters.Duration.Default
	}
	return domain.CostEstimate{Cost: rate * float64(dur), Currency: currency}
}

// ValidateRequest performs the provider-independent checks shared by all
// adapters: prompt bounds and parameter ranges against the model's declared
// capability set. Suggestions name the accepted values.
func ValidateRequest(m domain.Model, req domain.GenerationRequest) domain.ValidationResult {
	if err := domain.ValidatePrompt(req.Prompt); err != nil {
		return domain.ValidationResult{Valid: false, Error: trimSentinel(err),
			Suggestions: []string{"Describe the scene in at least a few words"}}
	}
	if err := req.Params.ValidateAgainst(m); err != nil {
		var suggestions []string
		if len(m.Parameters.AspectRatio.Options) > 0 {
			suggestions = append(suggestions, "Supported aspect ratios: "+strings.Join(m.Parameters.AspectRatio.Options, ", "))
		}
		if len(m.Parameters.Quality.Options) > 0 {
			suggestions = append(suggestions, "Supported quality levels: "+strings.Join(m.Parameters.Quality.Options, ", "))
		}
		return domain.ValidationResult{Valid: false, Error: trimSentinel(err), Suggestions: suggestions}
	}
	return domain.ValidationResult{Valid: true}
}

// trimSentinel strips the wrapped sentinel prefix so the provider error
// message reads like a user-facing validation message.
func trimSentinel(err error) string {
	return strings.TrimPrefix(err.Error(), "invalid argument: ")
}
