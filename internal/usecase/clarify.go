package usecase

import (
	"fmt"
	"strings"

	"github.com/vidforge/vidforge/internal/domain"
)

// minDescriptivePrompt is the prompt length below which more detail is asked.
const minDescriptivePrompt = 20

// ClarificationQuestions derives the question set from missing or ambiguous
// inputs. Questions are generated deterministically so repeated starts for
// the same input ask the same things.
func ClarificationQuestions(m domain.Model, prompt string, p domain.GenerationParams) []string {
	var qs []string
	if p.DurationSeconds == 0 {
		qs = append(qs, fmt.Sprintf("How long should the video be? (%d-%d seconds)",
			m.Parameters.Duration.Min, m.Parameters.Duration.Max))
	}
	if p.AspectRatio == "" {
		qs = append(qs, fmt.Sprintf("What aspect ratio do you prefer? (%s)",
			strings.Join(m.Parameters.AspectRatio.Options, ", ")))
	}
	if p.Quality == "" {
		qs = append(qs, fmt.Sprintf("What quality level do you want? (%s)",
			strings.Join(m.Parameters.Quality.Options, ", ")))
	}
	if len(strings.TrimSpace(prompt)) < minDescriptivePrompt {
		qs = append(qs, "Could you describe the scene in more detail?")
	}
	return qs
}
