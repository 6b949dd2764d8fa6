package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// CompletionSource records which surface initiated a completion.
type CompletionSource string

const (
	SourceWeb CompletionSource = "web"
	SourceAPI CompletionSource = "api"
	SourceMCP CompletionSource = "mcp"
)

// CompletionStatus is the lifecycle state of a completion.
type CompletionStatus string

const (
	CompletionStatusInProgress CompletionStatus = "in_progress"
	CompletionStatusSuccess    CompletionStatus = "success"
	CompletionStatusFailure    CompletionStatus = "failure"
)

// AgentCompletion is the immutable record of one completion: request,
// response, and metrics. CreatedAt is carried by the UUIDv7 id.
type AgentCompletion struct {
	ID              string            `json:"id"`
	Agent           Agent             `json:"agent"`
	AgentInput      AgentInput        `json:"agent_input"`
	AgentOutput     AgentOutput       `json:"agent_output"`
	Messages        []Message         `json:"messages,omitempty"`
	Version         Version           `json:"version"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	CostUSD         float64           `json:"cost_usd,omitempty"`
	Traces          []Trace           `json:"traces,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Source          CompletionSource  `json:"source,omitempty"`
	Stream          bool              `json:"stream,omitempty"`
	FromCache       bool              `json:"from_cache,omitempty"`
	Status          CompletionStatus  `json:"status,omitempty"`
	ConversationID  string            `json:"conversation_id,omitempty"`
}

// CreatedAt extracts the creation time from the UUIDv7 id.
func (c *AgentCompletion) CreatedAt() time.Time { return IDTime(c.ID) }

// TraceKind discriminates the trace union.
type TraceKind string

const (
	TraceKindLLM  TraceKind = "llm"
	TraceKindTool TraceKind = "tool"
)

// Trace is one sub-step of a completion: a provider call or a tool run.
// Exactly one of LLM or Tool is set, discriminated by Kind.
type Trace struct {
	Kind TraceKind  `json:"kind"`
	LLM  *LLMTrace  `json:"-"`
	Tool *ToolTrace `json:"-"`
}

// LLMTrace records one provider attempt.
type LLMTrace struct {
	Model           string   `json:"model"`
	Provider        string   `json:"provider"`
	Usage           LLMUsage `json:"usage,omitzero"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	CostUSD         float64  `json:"cost_usd,omitempty"`
}

// ToolTrace records one hosted tool invocation.
type ToolTrace struct {
	Name              string  `json:"name"`
	ToolInputPreview  string  `json:"tool_input_preview,omitempty"`
	ToolOutputPreview string  `json:"tool_output_preview,omitempty"`
	DurationSeconds   float64 `json:"duration_seconds,omitempty"`
	CostUSD           float64 `json:"cost_usd,omitempty"`
}

// NewLLMTrace wraps an LLMTrace into the union.
func NewLLMTrace(t LLMTrace) Trace { return Trace{Kind: TraceKindLLM, LLM: &t} }

// NewToolTrace wraps a ToolTrace into the union.
func NewToolTrace(t ToolTrace) Trace { return Trace{Kind: TraceKindTool, Tool: &t} }

// MarshalJSON flattens the active variant alongside the kind tag.
func (t Trace) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TraceKindLLM:
		if t.LLM == nil {
			return nil, fmt.Errorf("llm trace payload missing")
		}
		type alias LLMTrace
		return json.Marshal(struct {
			Kind TraceKind `json:"kind"`
			*alias
		}{Kind: TraceKindLLM, alias: (*alias)(t.LLM)})
	case TraceKindTool:
		if t.Tool == nil {
			return nil, fmt.Errorf("tool trace payload missing")
		}
		type alias ToolTrace
		return json.Marshal(struct {
			Kind TraceKind `json:"kind"`
			*alias
		}{Kind: TraceKindTool, alias: (*alias)(t.Tool)})
	}
	return nil, fmt.Errorf("unknown trace kind %q", t.Kind)
}

// UnmarshalJSON dispatches on the kind tag.
func (t *Trace) UnmarshalJSON(data []byte) error {
	var probe struct {
		Kind TraceKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Kind {
	case TraceKindLLM:
		var llm LLMTrace
		if err := json.Unmarshal(data, &llm); err != nil {
			return err
		}
		*t = Trace{Kind: TraceKindLLM, LLM: &llm}
	case TraceKindTool:
		var tool ToolTrace
		if err := json.Unmarshal(data, &tool); err != nil {
			return err
		}
		*t = Trace{Kind: TraceKindTool, Tool: &tool}
	default:
		return fmt.Errorf("unknown trace kind %q", probe.Kind)
	}
	return nil
}

// EncodeMetadataValue renders a metadata value for the analytics store:
// strings pass through, everything else is JSON-encoded.
func EncodeMetadataValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
