// Package registry holds the process-wide model catalog.
//
// The catalog is populated once at startup from the built-in defaults or an
// optional YAML file; availability may be flipped at runtime under a write
// lock.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vidforge/vidforge/internal/domain"
)

// Registry resolves model ids to models and providers.
type Registry struct {
	mu     sync.RWMutex
	models map[string]domain.Model
	// preferred is the fallback chain consulted by Default.
	preferred []string
}

// RecommendFilter narrows Recommend candidates.
type RecommendFilter struct {
	MaxDuration int
	NeedsAudio  bool
	// Budget caps cost per second; zero means unconstrained. When set,
	// candidates are sorted cheapest first, otherwise highest quality
	// (most expensive) first.
	Budget  float64
	Quality string
}

// New builds a registry from the given models. The preferred chain is used
// by Default in order.
func New(models []domain.Model, preferred []string) *Registry {
	r := &Registry{models: make(map[string]domain.Model, len(models)), preferred: preferred}
	for _, m := range models {
		r.models[m.ID] = m
	}
	return r
}

// Load builds the registry from a YAML catalog file, or the built-in
// catalog when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(builtinCatalog(), builtinPreferred()), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=registry.Load: %w", err)
	}
	var doc struct {
		Models    []domain.Model `yaml:"models"`
		Preferred []string       `yaml:"preferred"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("op=registry.Load: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("op=registry.Load: catalog %s declares no models", path)
	}
	if len(doc.Preferred) == 0 {
		for _, m := range doc.Models {
			doc.Preferred = append(doc.Preferred, m.ID)
		}
	}
	return New(doc.Models, doc.Preferred), nil
}

// All returns every registered model, ordered by id for stable output.
func (r *Registry) All() []domain.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByProvider returns the models owned by one provider.
func (r *Registry) ByProvider(provider string) []domain.Model {
	var out []domain.Model
	for _, m := range r.All() {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// Get resolves a model id.
func (r *Registry) Get(id string) (domain.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return domain.Model{}, fmt.Errorf("op=registry.Get: model %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// Default returns the first available model in the preferred chain, falling
// back to any available model. An empty registry is a hard failure.
func (r *Registry) Default() (domain.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.models) == 0 {
		return domain.Model{}, fmt.Errorf("op=registry.Default: empty model registry: %w", domain.ErrInternal)
	}
	for _, id := range r.preferred {
		if m, ok := r.models[id]; ok && m.IsAvailable {
			return m, nil
		}
	}
	for _, m := range r.models {
		if m.IsAvailable {
			return m, nil
		}
	}
	return domain.Model{}, fmt.Errorf("op=registry.Default: no available models: %w", domain.ErrUnavailable)
}

// Recommend filters available models by the requested constraints and sorts
// by cost: ascending under a budget, descending otherwise.
func (r *Registry) Recommend(f RecommendFilter) (domain.Model, error) {
	var candidates []domain.Model
	for _, m := range r.All() {
		if !m.IsAvailable {
			continue
		}
		if f.MaxDuration > 0 && m.Capabilities.MaxDurationSec < f.MaxDuration {
			continue
		}
		if f.NeedsAudio && !m.Capabilities.SupportsAudio {
			continue
		}
		if f.Budget > 0 && m.Pricing.CostPerSecond > f.Budget {
			continue
		}
		if f.Quality != "" && !containsOption(m.Parameters.Quality.Options, f.Quality) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return domain.Model{}, fmt.Errorf("op=registry.Recommend: no model satisfies constraints: %w", domain.ErrNotFound)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if f.Budget > 0 {
			return candidates[i].Pricing.CostPerSecond < candidates[j].Pricing.CostPerSecond
		}
		return candidates[i].Pricing.CostPerSecond > candidates[j].Pricing.CostPerSecond
	})
	return candidates[0], nil
}

// IsAvailable reports whether a model exists and is currently serving.
func (r *Registry) IsAvailable(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return ok && m.IsAvailable
}

// Register installs or replaces a model.
func (r *Registry) Register(m domain.Model) error {
	if m.ID == "" || m.Provider == "" {
		return fmt.Errorf("op=registry.Register: id and provider required: %w", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
	return nil
}

// SetAvailable flips a model's availability at runtime.
func (r *Registry) SetAvailable(id string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return fmt.Errorf("op=registry.SetAvailable: model %s: %w", id, domain.ErrNotFound)
	}
	m.IsAvailable = available
	r.models[id] = m
	return nil
}

func containsOption(opts []string, v string) bool {
	for _, o := range opts {
		if o == v {
			return true
		}
	}
	return false
}
