package domain

import "fmt"

// Prompt length bounds enforced at creation time.
const (
	PromptMinLen = 3
	PromptMaxLen = 5000
)

// ValidatePrompt checks the creation-time prompt bounds.
func ValidatePrompt(p string) error {
	if len(p) < PromptMinLen {
		return fmt.Errorf("%w: Prompt must be at least %d characters long", ErrInvalidArgument, PromptMinLen)
	}
	if len(p) > PromptMaxLen {
		return fmt.Errorf("%w: Prompt must be at most %d characters long", ErrInvalidArgument, PromptMaxLen)
	}
	return nil
}

// ValidateAgainst rejects any parameter outside the model's declared bounds.
// Out-of-range values are a creation-time rejection, never a silent clamp.
func (p GenerationParams) ValidateAgainst(m Model) error {
	if p.DurationSeconds != 0 {
		if p.DurationSeconds < m.Parameters.Duration.Min || p.DurationSeconds > m.Parameters.Duration.Max {
			return fmt.Errorf("%w: duration %d outside [%d,%d] for model %s",
				ErrInvalidArgument, p.DurationSeconds, m.Parameters.Duration.Min, m.Parameters.Duration.Max, m.ID)
		}
	}
	if p.AspectRatio != "" && !contains(m.Parameters.AspectRatio.Options, p.AspectRatio) {
		return fmt.Errorf("%w: aspect ratio %q not supported by model %s", ErrInvalidArgument, p.AspectRatio, m.ID)
	}
	if p.Quality != "" && !contains(m.Parameters.Quality.Options, p.Quality) {
		return fmt.Errorf("%w: quality %q not supported by model %s", ErrInvalidArgument, p.Quality, m.ID)
	}
	if p.NegativePrompt != "" && !m.Capabilities.SupportsNegativePrompt {
		return fmt.Errorf("%w: model %s does not support negative prompts", ErrInvalidArgument, m.ID)
	}
	if p.GuidanceScale != 0 {
		r := m.Parameters.GuidanceScale
		if r == nil {
			return fmt.Errorf("%w: model %s does not support guidance scale", ErrInvalidArgument, m.ID)
		}
		if p.GuidanceScale < r.Min || p.GuidanceScale > r.Max {
			return fmt.Errorf("%w: guidance scale %.2f outside [%.2f,%.2f]", ErrInvalidArgument, p.GuidanceScale, r.Min, r.Max)
		}
	}
	if p.InferenceSteps != 0 {
		r := m.Parameters.InferenceSteps
		if r == nil {
			return fmt.Errorf("%w: model %s does not support inference steps", ErrInvalidArgument, m.ID)
		}
		if p.InferenceSteps < r.Min || p.InferenceSteps > r.Max {
			return fmt.Errorf("%w: inference steps %d outside [%d,%d]", ErrInvalidArgument, p.InferenceSteps, r.Min, r.Max)
		}
	}
	return nil
}

// WithDefaults fills unset parameters from the model's declared defaults.
func (p GenerationParams) WithDefaults(m Model) GenerationParams {
	out := p
	if out.DurationSeconds == 0 {
		out.DurationSeconds = m.Parameters.Duration.Default
	}
	if out.AspectRatio == "" {
		out.AspectRatio = m.Parameters.AspectRatio.Default
	}
	if out.Quality == "" {
		out.Quality = m.Parameters.Quality.Default
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
