// Package provider defines the contract every upstream LLM adapter
// implements and the concrete adapters for OpenAI, Anthropic, Gemini,
// Bedrock, Groq, XAI, Mistral, Fireworks and Azure.
//
// Adapters own request construction, URLs, headers, unary and stream-event
// parsing, and error-taxonomy mapping. They are immutable after construction
// and safe for concurrent use; the runner owns the HTTP call itself.
package provider

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// Options carries the per-request generation parameters handed to an
// adapter when building a request.
type Options struct {
	Model                   string
	ModelData               *modelcatalog.ModelData
	Temperature             *float64
	TopP                    *float64
	MaxOutputTokens         *int
	PresencePenalty         *float64
	FrequencyPenalty        *float64
	ToolChoice              models.ToolChoice
	Tools                   []models.Tool
	ParallelToolCalls       *bool
	ReasoningEffort         models.ReasoningEffort
	ReasoningBudget         *int
	OutputSchema            json.RawMessage
	UseStructuredGeneration bool
}

// EffectiveMaxTokens resolves the max-token budget per the reasoning rules:
// with both a requested max and a reasoning budget the effective value is
// min(requested+budget, model max); with only a budget it is
// min(budget+8192, model max).
func (o *Options) EffectiveMaxTokens() int {
	modelMax := 0
	if o.ModelData != nil {
		modelMax = o.ModelData.MaxOutputTokens
	}
	budget := 0
	if o.ReasoningBudget != nil {
		budget = *o.ReasoningBudget
	}
	var effective int
	switch {
	case o.MaxOutputTokens != nil && budget > 0:
		effective = *o.MaxOutputTokens + budget
	case o.MaxOutputTokens != nil:
		effective = *o.MaxOutputTokens
	case budget > 0:
		effective = budget + 8192
	default:
		return modelMax
	}
	if modelMax > 0 && effective > modelMax {
		return modelMax
	}
	return effective
}

// Provider is the capability contract each upstream satisfies.
type Provider interface {
	// Name returns the lowercase provider identifier.
	Name() string

	// BuildRequest converts domain messages plus options into the
	// provider-specific request body. Returns InvalidRunOptions errors
	// (kind ModelDoesNotSupportMode) for unsupported combinations.
	BuildRequest(messages []models.Message, opts Options, stream bool) (any, error)

	// RequestURL returns the endpoint for the model, streaming or unary.
	RequestURL(model string, stream bool) (string, error)

	// RequestHeaders returns the headers for a serialized request body.
	RequestHeaders(body []byte, url, model string) (http.Header, error)

	// ParseResponse parses a unary response body into the unified chunk
	// model; the aggregator folds it exactly like a stream chunk.
	ParseResponse(body []byte, opts Options) (*models.ParsedResponse, error)

	// ParseStreamDelta parses one SSE event payload.
	ParseStreamDelta(event []byte, opts Options) (*models.ParsedResponse, error)

	// WrapSSE turns the raw HTTP body into an iterator of SSE payloads.
	WrapSSE(r io.Reader) *SSEReader

	// WrapError maps an upstream error response to the provider error
	// taxonomy.
	WrapError(status int, body []byte, model string) error

	// SupportsModel reports whether the adapter can serve the model.
	SupportsModel(model string) bool

	// RequiresDownloadingFile reports whether the file must be
	// materialized to bytes before BuildRequest.
	RequiresDownloadingFile(f *models.File, model string) bool

	// MaxNumberOfFileURLs is how many files may be passed by URL; files
	// beyond the cap are downloaded instead.
	MaxNumberOfFileURLs() int

	// IsStreamable reports whether the model supports streaming,
	// optionally considering tool use.
	IsStreamable(model string, hasTools bool) bool

	// DefaultModel returns the adapter's default model id.
	DefaultModel() string

	// SanitizeModelData adjusts catalog metadata in place for
	// provider-specific quirks.
	SanitizeModelData(m *modelcatalog.ModelData)

	// ComputePromptTokenCount estimates the prompt token count, or fails
	// with kind UnpriceableRun when the model cannot be counted.
	ComputePromptTokenCount(messages []models.Message, model string) (float64, error)

	// ObserveResponseHeaders records rate-limit quota headers as metrics.
	ObserveResponseHeaders(h http.Header)
}
