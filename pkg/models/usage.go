package models

// LLMUsage accumulates token counts and per-stage cost for one provider call.
// Token counts are floats: some providers report fractional image-token
// equivalents.
type LLMUsage struct {
	PromptTokens          float64 `json:"prompt_token_count,omitempty"`
	PromptAudioTokens     float64 `json:"prompt_audio_token_count,omitempty"`
	CachedPromptTokens    float64 `json:"prompt_cached_token_count,omitempty"`
	CompletionTokens      float64 `json:"completion_token_count,omitempty"`
	ReasoningTokens       float64 `json:"reasoning_token_count,omitempty"`
	PromptCostUSD         float64 `json:"prompt_cost_usd,omitempty"`
	CompletionCostUSD     float64 `json:"completion_cost_usd,omitempty"`
	ModelContextWindow    int     `json:"model_context_window_size,omitempty"`
	ModelMaxOutputTokens  int     `json:"model_max_generation_tokens,omitempty"`
}

// Apply folds another usage report additively into u. Scalar model metadata
// takes the latest non-zero value.
func (u *LLMUsage) Apply(other LLMUsage) {
	u.PromptTokens += other.PromptTokens
	u.PromptAudioTokens += other.PromptAudioTokens
	u.CachedPromptTokens += other.CachedPromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.ReasoningTokens += other.ReasoningTokens
	u.PromptCostUSD += other.PromptCostUSD
	u.CompletionCostUSD += other.CompletionCostUSD
	if other.ModelContextWindow != 0 {
		u.ModelContextWindow = other.ModelContextWindow
	}
	if other.ModelMaxOutputTokens != 0 {
		u.ModelMaxOutputTokens = other.ModelMaxOutputTokens
	}
}

// ModelPricing is per-million-token USD pricing for a model.
type ModelPricing struct {
	PromptUSDPerMillion       float64 `json:"prompt_usd_per_million"`
	CachedPromptUSDPerMillion float64 `json:"cached_prompt_usd_per_million,omitempty"`
	CompletionUSDPerMillion   float64 `json:"completion_usd_per_million"`
	ReasoningUSDPerMillion    float64 `json:"reasoning_usd_per_million,omitempty"`
}

// ComputeCost fills the per-stage costs from pricing and returns the total.
// Cached prompt tokens are billed at the cached rate and subtracted from the
// regular prompt count.
func (u *LLMUsage) ComputeCost(pricing ModelPricing) float64 {
	const million = 1_000_000

	billablePrompt := u.PromptTokens - u.CachedPromptTokens
	if billablePrompt < 0 {
		billablePrompt = 0
	}
	u.PromptCostUSD = billablePrompt * pricing.PromptUSDPerMillion / million
	u.PromptCostUSD += u.CachedPromptTokens * pricing.CachedPromptUSDPerMillion / million

	reasoningRate := pricing.ReasoningUSDPerMillion
	if reasoningRate == 0 {
		reasoningRate = pricing.CompletionUSDPerMillion
	}
	u.CompletionCostUSD = u.CompletionTokens*pricing.CompletionUSDPerMillion/million +
		u.ReasoningTokens*reasoningRate/million

	return u.PromptCostUSD + u.CompletionCostUSD
}

// TotalCostUSD returns the already-computed cost total.
func (u *LLMUsage) TotalCostUSD() float64 {
	return u.PromptCostUSD + u.CompletionCostUSD
}
