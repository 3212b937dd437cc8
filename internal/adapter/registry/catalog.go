package registry

import "github.com/vidforge/vidforge/internal/domain"

// Provider ids known to the service.
const (
	ProviderGoogleVeo = "google-veo"
	ProviderMock      = "mock"
)

func builtinPreferred() []string {
	return []string{"veo-3.0-generate-001", "veo-2.0-generate-001", "mock-video-001"}
}

// builtinCatalog is the default model set shipped with the service. A
// deployment can replace it wholesale via MODELS_FILE.
func builtinCatalog() []domain.Model {
	stdQuality := domain.OptionSet{Options: []string{"draft", "standard", "high"}, Default: "standard"}
	return []domain.Model{
		{
			ID:       "veo-3.0-generate-001",
			Provider: ProviderGoogleVeo,
			Capabilities: domain.ModelCapabilities{
				MaxDurationSec:         60,
				AspectRatios:           []string{"16:9", "9:16", "1:1"},
				Resolutions:            []string{"720p", "1080p"},
				SupportsAudio:          true,
				SupportsImageInput:     true,
				SupportsNegativePrompt: true,
			},
			Parameters: domain.ModelParameters{
				Duration:      domain.IntRange{Min: 1, Max: 60, Default: 5},
				AspectRatio:   domain.OptionSet{Options: []string{"16:9", "9:16", "1:1"}, Default: "16:9"},
				Quality:       stdQuality,
				GuidanceScale: &domain.FloatRange{Min: 1, Max: 20, Default: 7.5},
			},
			Pricing:     domain.ModelPricing{CostPerSecond: 0.35, Currency: "USD", Tier: "premium"},
			IsAvailable: true,
		},
		{
			ID:       "veo-2.0-generate-001",
			Provider: ProviderGoogleVeo,
			Capabilities: domain.ModelCapabilities{
				MaxDurationSec:         8,
				AspectRatios:           []string{"16:9", "9:16"},
				Resolutions:            []string{"720p"},
				SupportsNegativePrompt: true,
			},
			Parameters: domain.ModelParameters{
				Duration:    domain.IntRange{Min: 1, Max: 8, Default: 5},
				AspectRatio: domain.OptionSet{Options: []string{"16:9", "9:16"}, Default: "16:9"},
				Quality:     stdQuality,
			},
			Pricing:     domain.ModelPricing{CostPerSecond: 0.1, Currency: "USD", Tier: "standard"},
			IsAvailable: true,
		},
		{
			ID:       "mock-video-001",
			Provider: ProviderMock,
			Capabilities: domain.ModelCapabilities{
				MaxDurationSec: 120,
				AspectRatios:   []string{"16:9", "9:16", "1:1", "4:3"},
				Resolutions:    []string{"480p", "720p"},
				SupportsAudio:  true,
				SupportsNegativePrompt: true,
			},
			Parameters: domain.ModelParameters{
				Duration:       domain.IntRange{Min: 1, Max: 120, Default: 5},
				AspectRatio:    domain.OptionSet{Options: []string{"16:9", "9:16", "1:1", "4:3"}, Default: "16:9"},
				Quality:        stdQuality,
				InferenceSteps: &domain.IntRange{Min: 1, Max: 100, Default: 25},
			},
			// Zero pricing: cost estimation falls back to the documented default.
			Pricing:     domain.ModelPricing{Currency: "USD", Tier: "free"},
			IsAvailable: true,
		},
	}
}
