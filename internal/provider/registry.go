package provider

import (
	"os"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
)

// Registry holds the configured adapters. Immutable after construction and
// safe for concurrent use.
type Registry struct {
	byName  map[string]Provider
	ordered []Provider
}

// NewRegistryFromEnv builds a registry from the per-provider API key
// environment variables. Providers without credentials are still
// registered; they fail with InvalidProviderConfig when selected, which
// the fallback chain treats as non-recoverable.
func NewRegistryFromEnv() *Registry {
	providers := []Provider{
		NewOpenAI(os.Getenv("OPENAI_API_KEY")),
		NewAnthropic(os.Getenv("ANTHROPIC_API_KEY")),
		NewGemini(os.Getenv("GEMINI_API_KEY")),
		NewGroq(os.Getenv("GROQ_API_KEY")),
		NewXAI(os.Getenv("XAI_API_KEY")),
		NewMistral(os.Getenv("MISTRAL_API_KEY")),
		NewFireworks(os.Getenv("FIREWORKS_API_KEY")),
		NewAzure(os.Getenv("AZURE_OPENAI_API_KEY"), os.Getenv("AZURE_OPENAI_ENDPOINT")),
		NewBedrock(os.Getenv("AWS_BEDROCK_REGION"), os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")),
	}
	return NewRegistry(providers...)
}

// NewRegistry builds a registry over explicit adapters, first one wins on
// model routing ties.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, exists := r.byName[p.Name()]; exists {
			continue
		}
		r.byName[p.Name()] = p
		r.ordered = append(r.ordered, p)
	}
	return r
}

// Get returns the adapter by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// ForModel resolves the provider for a model: the catalog's default
// provider first, then any registered adapter claiming support.
func (r *Registry) ForModel(model string) (Provider, bool) {
	if data, ok := modelcatalog.Get(model); ok {
		if p, ok := r.byName[data.Provider]; ok {
			return p, true
		}
	}
	for _, p := range r.ordered {
		if p.SupportsModel(model) {
			return p, true
		}
	}
	return nil, false
}

// Names lists registered provider names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, p := range r.ordered {
		names = append(names, p.Name())
	}
	return names
}
