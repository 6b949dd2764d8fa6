package models

import (
	"encoding/json"
)

// ToolChoice selects how the model may use tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// ReasoningEffort is the provider-neutral reasoning intensity knob.
type ReasoningEffort string

const (
	ReasoningEffortDisabled ReasoningEffort = "disabled"
	ReasoningEffortLow      ReasoningEffort = "low"
	ReasoningEffortMedium   ReasoningEffort = "medium"
	ReasoningEffortHigh     ReasoningEffort = "high"
)

// Tool describes a caller-defined tool exposed to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Version is the full prompt configuration for a completion. Its ID is
// content-addressed: identical configurations always share an id.
type Version struct {
	ID                      string          `json:"id,omitempty"`
	Model                   string          `json:"model"`
	Provider                string          `json:"provider,omitempty"`
	Prompt                  []Message       `json:"prompt,omitempty"`
	Temperature             *float64        `json:"temperature,omitempty"`
	TopP                    *float64        `json:"top_p,omitempty"`
	MaxOutputTokens         *int            `json:"max_output_tokens,omitempty"`
	PresencePenalty         *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty        *float64        `json:"frequency_penalty,omitempty"`
	ToolChoice              ToolChoice      `json:"tool_choice,omitempty"`
	Tools                   []Tool          `json:"tools,omitempty"`
	EnabledTools            []string        `json:"enabled_tools,omitempty"`
	InputVariablesSchema    json.RawMessage `json:"input_variables_schema,omitempty"`
	OutputSchema            json.RawMessage `json:"output_schema,omitempty"`
	ReasoningEffort         ReasoningEffort `json:"reasoning_effort,omitempty"`
	ReasoningBudget         *int            `json:"reasoning_budget,omitempty"`
	ParallelToolCalls       *bool           `json:"parallel_tool_calls,omitempty"`
	UseStructuredGeneration bool            `json:"use_structured_generation,omitempty"`
}

// AssignID derives the content address from every field except ID itself
// and stores it on the version.
func (v *Version) AssignID() string {
	clone := *v
	clone.ID = ""
	v.ID = HashContent(clone)
	return v.ID
}

// ShouldUseAutoCache reports whether an auto-cache lookup is worthwhile:
// deterministic generations only (temperature absent or zero) and no tools.
func (v *Version) ShouldUseAutoCache() bool {
	if len(v.Tools) > 0 || len(v.EnabledTools) > 0 {
		return false
	}
	return v.Temperature == nil || *v.Temperature == 0
}

// HasStructuredOutput reports whether an output schema is configured.
func (v *Version) HasStructuredOutput() bool { return len(v.OutputSchema) > 0 }

// FieldNames lists the override-able version fields, used to validate
// experiment version overrides.
func VersionFieldNames() map[string]bool {
	return map[string]bool{
		"model":                     true,
		"provider":                  true,
		"prompt":                    true,
		"temperature":               true,
		"top_p":                     true,
		"max_output_tokens":         true,
		"presence_penalty":          true,
		"frequency_penalty":         true,
		"tool_choice":               true,
		"tools":                     true,
		"enabled_tools":             true,
		"input_variables_schema":    true,
		"output_schema":             true,
		"reasoning_effort":          true,
		"reasoning_budget":          true,
		"parallel_tool_calls":       true,
		"use_structured_generation": true,
	}
}
