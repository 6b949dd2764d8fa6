// Package modelcatalog holds the static table of known models: provider
// routing, context limits, pricing, and fallback chains.
package modelcatalog

import (
	"sort"
	"strings"
	"sync"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// ModelData describes one model the gateway can route to.
type ModelData struct {
	// ID is the model identifier used in API calls.
	ID string `json:"id"`

	// Name is a human-readable name.
	Name string `json:"name,omitempty"`

	// Provider is the default provider for the model.
	Provider string `json:"provider"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`

	// MaxOutputTokens is the maximum output size.
	MaxOutputTokens int `json:"max_output_tokens"`

	// Pricing is per-million-token USD pricing.
	Pricing models.ModelPricing `json:"pricing"`

	// SupportsReasoning reports whether the model accepts a reasoning
	// effort or budget.
	SupportsReasoning bool `json:"supports_reasoning,omitempty"`

	// SupportsStructuredGeneration reports native JSON-schema output support.
	SupportsStructuredGeneration bool `json:"supports_structured_generation,omitempty"`

	// SupportsVision reports image input support.
	SupportsVision bool `json:"supports_vision,omitempty"`

	// Fallback is the ordered chain of model ids tried on recoverable
	// failures when use_fallback=auto.
	Fallback []string `json:"fallback,omitempty"`

	// Aliases are alternative ids resolving to this model.
	Aliases []string `json:"aliases,omitempty"`
}

var (
	mu      sync.RWMutex
	byID    = map[string]*ModelData{}
	ordered []*ModelData
)

func register(m ModelData) {
	entry := m
	byID[entry.ID] = &entry
	for _, alias := range entry.Aliases {
		byID[alias] = &entry
	}
	ordered = append(ordered, &entry)
}

func init() {
	register(ModelData{
		ID: "gpt-4.1", Name: "GPT-4.1", Provider: "openai",
		ContextWindow: 1_047_576, MaxOutputTokens: 32_768,
		Pricing:                      models.ModelPricing{PromptUSDPerMillion: 2.0, CachedPromptUSDPerMillion: 0.5, CompletionUSDPerMillion: 8.0},
		SupportsStructuredGeneration: true, SupportsVision: true,
		Fallback: []string{"gpt-4.1-mini", "claude-sonnet-4-20250514"},
	})
	register(ModelData{
		ID: "gpt-4.1-mini", Name: "GPT-4.1 mini", Provider: "openai",
		ContextWindow: 1_047_576, MaxOutputTokens: 32_768,
		Pricing:                      models.ModelPricing{PromptUSDPerMillion: 0.4, CachedPromptUSDPerMillion: 0.1, CompletionUSDPerMillion: 1.6},
		SupportsStructuredGeneration: true, SupportsVision: true,
		Fallback: []string{"gemini-2.5-flash"},
	})
	register(ModelData{
		ID: "gpt-4o", Name: "GPT-4o", Provider: "openai",
		ContextWindow: 128_000, MaxOutputTokens: 16_384,
		Pricing:                      models.ModelPricing{PromptUSDPerMillion: 2.5, CachedPromptUSDPerMillion: 1.25, CompletionUSDPerMillion: 10.0},
		SupportsStructuredGeneration: true, SupportsVision: true,
		Fallback: []string{"gpt-4.1"},
	})
	register(ModelData{
		ID: "o3", Name: "o3", Provider: "openai",
		ContextWindow: 200_000, MaxOutputTokens: 100_000,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 2.0, CachedPromptUSDPerMillion: 0.5, CompletionUSDPerMillion: 8.0},
		SupportsReasoning: true, SupportsStructuredGeneration: true, SupportsVision: true,
		Fallback: []string{"o4-mini", "claude-opus-4-20250514"},
	})
	register(ModelData{
		ID: "o4-mini", Name: "o4-mini", Provider: "openai",
		ContextWindow: 200_000, MaxOutputTokens: 100_000,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 1.1, CachedPromptUSDPerMillion: 0.275, CompletionUSDPerMillion: 4.4},
		SupportsReasoning: true, SupportsStructuredGeneration: true, SupportsVision: true,
	})
	register(ModelData{
		ID: "claude-opus-4-20250514", Name: "Claude Opus 4", Provider: "anthropic",
		ContextWindow: 200_000, MaxOutputTokens: 32_000,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 15.0, CachedPromptUSDPerMillion: 1.5, CompletionUSDPerMillion: 75.0},
		SupportsReasoning: true, SupportsVision: true,
		Fallback: []string{"claude-sonnet-4-20250514"},
		Aliases:  []string{"claude-opus-4"},
	})
	register(ModelData{
		ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: "anthropic",
		ContextWindow: 200_000, MaxOutputTokens: 64_000,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 3.0, CachedPromptUSDPerMillion: 0.3, CompletionUSDPerMillion: 15.0},
		SupportsReasoning: true, SupportsVision: true,
		Fallback: []string{"gpt-4.1", "gemini-2.5-pro"},
		Aliases:  []string{"claude-sonnet-4"},
	})
	register(ModelData{
		ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Provider: "anthropic",
		ContextWindow: 200_000, MaxOutputTokens: 8_192,
		Pricing:        models.ModelPricing{PromptUSDPerMillion: 0.8, CachedPromptUSDPerMillion: 0.08, CompletionUSDPerMillion: 4.0},
		SupportsVision: true,
		Fallback:       []string{"gpt-4.1-mini"},
		Aliases:        []string{"claude-3-5-haiku"},
	})
	register(ModelData{
		ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: "gemini",
		ContextWindow: 1_048_576, MaxOutputTokens: 65_536,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 1.25, CachedPromptUSDPerMillion: 0.31, CompletionUSDPerMillion: 10.0},
		SupportsReasoning: true, SupportsStructuredGeneration: true, SupportsVision: true,
		Fallback: []string{"gemini-2.5-flash", "gpt-4.1"},
	})
	register(ModelData{
		ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "gemini",
		ContextWindow: 1_048_576, MaxOutputTokens: 65_536,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 0.3, CachedPromptUSDPerMillion: 0.075, CompletionUSDPerMillion: 2.5},
		SupportsReasoning: true, SupportsStructuredGeneration: true, SupportsVision: true,
		Fallback: []string{"gpt-4.1-mini"},
	})
	register(ModelData{
		ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", Provider: "groq",
		ContextWindow: 131_072, MaxOutputTokens: 32_768,
		Pricing:  models.ModelPricing{PromptUSDPerMillion: 0.59, CompletionUSDPerMillion: 0.79},
		Fallback: []string{"gpt-4.1-mini"},
	})
	register(ModelData{
		ID: "grok-3", Name: "Grok 3", Provider: "xai",
		ContextWindow: 131_072, MaxOutputTokens: 16_384,
		Pricing:  models.ModelPricing{PromptUSDPerMillion: 3.0, CachedPromptUSDPerMillion: 0.75, CompletionUSDPerMillion: 15.0},
		Fallback: []string{"gpt-4.1"},
	})
	register(ModelData{
		ID: "grok-3-mini", Name: "Grok 3 mini", Provider: "xai",
		ContextWindow: 131_072, MaxOutputTokens: 16_384,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 0.3, CachedPromptUSDPerMillion: 0.075, CompletionUSDPerMillion: 0.5},
		SupportsReasoning: true,
	})
	register(ModelData{
		ID: "mistral-large-latest", Name: "Mistral Large", Provider: "mistral",
		ContextWindow: 131_072, MaxOutputTokens: 16_384,
		Pricing:  models.ModelPricing{PromptUSDPerMillion: 2.0, CompletionUSDPerMillion: 6.0},
		Fallback: []string{"gpt-4.1"},
	})
	register(ModelData{
		ID: "mistral-small-latest", Name: "Mistral Small", Provider: "mistral",
		ContextWindow: 131_072, MaxOutputTokens: 16_384,
		Pricing: models.ModelPricing{PromptUSDPerMillion: 0.1, CompletionUSDPerMillion: 0.3},
	})
	register(ModelData{
		ID: "accounts/fireworks/models/deepseek-r1", Name: "DeepSeek R1", Provider: "fireworks",
		ContextWindow: 163_840, MaxOutputTokens: 16_384,
		Pricing:           models.ModelPricing{PromptUSDPerMillion: 3.0, CompletionUSDPerMillion: 8.0},
		SupportsReasoning: true,
		Fallback:          []string{"o4-mini"},
		Aliases:           []string{"deepseek-r1"},
	})
	register(ModelData{
		ID: "accounts/fireworks/models/llama4-maverick-instruct-basic", Name: "Llama 4 Maverick", Provider: "fireworks",
		ContextWindow: 1_000_000, MaxOutputTokens: 16_384,
		Pricing: models.ModelPricing{PromptUSDPerMillion: 0.22, CompletionUSDPerMillion: 0.88},
		Aliases: []string{"llama4-maverick"},
	})
	register(ModelData{
		ID: "anthropic.claude-sonnet-4-20250514-v1:0", Name: "Claude Sonnet 4 (Bedrock)", Provider: "bedrock",
		ContextWindow: 200_000, MaxOutputTokens: 64_000,
		Pricing:        models.ModelPricing{PromptUSDPerMillion: 3.0, CompletionUSDPerMillion: 15.0},
		SupportsVision: true,
		Fallback:       []string{"claude-sonnet-4-20250514"},
	})
}

// Get looks up a model by id or alias.
func Get(id string) (*ModelData, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := byID[id]
	return m, ok
}

// All returns the catalog sorted by id.
func All() []*ModelData {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]*ModelData, len(ordered))
	copy(out, ordered)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns every canonical model id sorted.
func IDs() []string {
	all := All()
	ids := make([]string, 0, len(all))
	for _, m := range all {
		ids = append(ids, m.ID)
	}
	return ids
}

// DefaultModelForProvider returns the first catalog entry owned by the
// provider, in id order.
func DefaultModelForProvider(provider string) (*ModelData, bool) {
	for _, m := range All() {
		if m.Provider == provider {
			return m, true
		}
	}
	return nil, false
}

// IsOpenAIFamily reports whether the model id belongs to a model that uses
// OpenAI-style tokenization.
func IsOpenAIFamily(model string) bool {
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4")
}
