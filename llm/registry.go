package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Registry holds the configured providers and resolves qualified model
// identifiers of the form "provider/model" (a bare model name resolves
// against the default provider).
type Registry struct {
	providers map[string]Provider
	defaultP  string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. The first registered provider becomes the default.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if len(r.providers) == 0 {
		r.defaultP = name
	}
	r.providers[name] = p
}

// Provider returns a provider by name
func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve splits a qualified model identifier into its provider and model.
// "ollama/llama3" resolves to the ollama provider and model "llama3";
// "llama3" resolves against the default provider.
func (r *Registry) Resolve(qualified string) (Provider, string, error) {
	if qualified == "" {
		return nil, "", fmt.Errorf("empty model identifier")
	}

	providerName := r.defaultP
	model := qualified
	if idx := strings.Index(qualified, "/"); idx > 0 {
		providerName = qualified[:idx]
		model = qualified[idx+1:]
	}

	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", fmt.Errorf("unknown provider %q in model identifier %q", providerName, qualified)
	}
	if model == "" {
		return nil, "", fmt.Errorf("missing model name in identifier %q", qualified)
	}

	return p, model, nil
}

// ListAllModels aggregates ListModels across every registered provider.
// A provider that cannot be reached contributes nothing rather than
// failing the whole listing.
func (r *Registry) ListAllModels(ctx context.Context) []ModelInfo {
	var all []ModelInfo
	for _, name := range r.Names() {
		models, err := r.providers[name].ListModels(ctx)
		if err != nil {
			continue
		}
		all = append(all, models...)
	}
	return all
}
