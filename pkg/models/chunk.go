package models

// FinishReason is the provider-neutral stream termination cause.
type FinishReason string

const (
	FinishReasonStop                  FinishReason = "stop"
	FinishReasonLength                FinishReason = "length"
	FinishReasonMaxContext            FinishReason = "max_context"
	FinishReasonToolCalls             FinishReason = "tool_calls"
	FinishReasonMalformedFunctionCall FinishReason = "malformed_function_call"
	FinishReasonRecitation            FinishReason = "recitation"
)

// ToolCallRequestDelta is one streamed fragment of a tool call. Idx, ID and
// ToolName may each be absent; the aggregator routes fragments to buffers by
// whichever keys are present.
type ToolCallRequestDelta struct {
	Idx       *int   `json:"idx,omitempty"`
	ID        string `json:"id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ParsedResponse is the unified chunk model every provider adapter parses
// its stream events into.
type ParsedResponse struct {
	ToolCallRequests []ToolCallRequestDelta `json:"tool_call_requests,omitempty"`
	Reasoning        string                 `json:"reasoning,omitempty"`
	Delta            string                 `json:"delta,omitempty"`
	Usage            *LLMUsage              `json:"usage,omitempty"`
	FinishReason     FinishReason           `json:"finish_reason,omitempty"`
}

// IsEmpty reports whether the chunk carries no information.
func (p *ParsedResponse) IsEmpty() bool {
	return len(p.ToolCallRequests) == 0 && p.Reasoning == "" && p.Delta == "" &&
		p.Usage == nil && p.FinishReason == ""
}

// RunnerOutputChunk is what the runner streams to the HTTP client: one entry
// per provider chunk, plus a final entry carrying the assembled completion.
type RunnerOutputChunk struct {
	Delta            string                 `json:"delta,omitempty"`
	Reasoning        string                 `json:"reasoning,omitempty"`
	ToolCallRequests []ToolCallRequestDelta `json:"tool_call_requests,omitempty"`
	FinalChunk       *AgentCompletion       `json:"final_chunk,omitempty"`
}
