package provider

import (
	"encoding/json"
	"testing"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

func TestAnthropicBuildRequestSystemLifting(t *testing.T) {
	p := NewAnthropic("key")
	built, err := p.BuildRequest([]models.Message{
		models.NewTextMessage(models.RoleSystem, "first instruction"),
		models.NewTextMessage(models.RoleUser, "hello"),
		models.NewTextMessage(models.RoleSystem, "second instruction"),
	}, Options{Model: "claude-sonnet-4-20250514"}, false)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	req := built.(*anthropicRequest)
	if req.System != "first instruction\n\nsecond instruction" {
		t.Fatalf("System = %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages mangled: %+v", req.Messages)
	}
	if req.MaxTokens != anthropicDefaultMaxTokens {
		t.Fatalf("MaxTokens = %d, want default %d", req.MaxTokens, anthropicDefaultMaxTokens)
	}
}

func TestAnthropicBuildRequestThinking(t *testing.T) {
	p := NewAnthropic("key")
	budget := 2048

	built, err := p.BuildRequest(
		[]models.Message{models.NewTextMessage(models.RoleUser, "hi")},
		Options{Model: "claude-sonnet-4-20250514", ReasoningBudget: &budget}, false)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	req := built.(*anthropicRequest)
	if req.Thinking == nil || req.Thinking.BudgetTokens != 2048 {
		t.Fatalf("thinking mangled: %+v", req.Thinking)
	}

	built, err = p.BuildRequest(
		[]models.Message{models.NewTextMessage(models.RoleUser, "hi")},
		Options{Model: "claude-sonnet-4-20250514", ReasoningEffort: models.ReasoningEffortHigh}, false)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	req = built.(*anthropicRequest)
	maxTokens := float64(anthropicDefaultMaxTokens)
	want := int(maxTokens * 0.8)
	if req.Thinking == nil || req.Thinking.BudgetTokens != want {
		t.Fatalf("effort budget = %+v, want %d", req.Thinking, want)
	}
}

func TestAnthropicRejectsStructuredGeneration(t *testing.T) {
	p := NewAnthropic("key")
	_, err := p.BuildRequest(
		[]models.Message{models.NewTextMessage(models.RoleUser, "hi")},
		Options{Model: "claude-sonnet-4-20250514", OutputSchema: json.RawMessage(`{}`), UseStructuredGeneration: true},
		false)
	if !IsKind(err, KindModelDoesNotSupportMode) {
		t.Fatalf("err = %v, want model_does_not_support_mode", err)
	}
}

func TestAnthropicToolResultRidesUserRole(t *testing.T) {
	p := NewAnthropic("key")
	built, err := p.BuildRequest([]models.Message{
		{Role: models.RoleAssistant, Content: []models.ContentPart{
			{ToolCallResult: &models.ToolCallResult{ID: "toolu_1", Error: "no such city"}},
		}},
	}, Options{Model: "claude-sonnet-4-20250514"}, false)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	req := built.(*anthropicRequest)
	if len(req.Messages) != 1 {
		t.Fatalf("messages = %+v", req.Messages)
	}
	m := req.Messages[0]
	if m.Role != "user" {
		t.Fatalf("role = %q, tool results must ride in a user message", m.Role)
	}
	block := m.Content[0]
	if block.Type != "tool_result" || block.ToolUseID != "toolu_1" || !block.IsError {
		t.Fatalf("block mangled: %+v", block)
	}
}

func TestAnthropicParseStreamDelta(t *testing.T) {
	p := NewAnthropic("key")

	tests := []struct {
		name  string
		event string
		check func(t *testing.T, parsed *models.ParsedResponse)
	}{
		{
			name:  "message start carries usage",
			event: `{"type":"message_start","message":{"usage":{"input_tokens":100,"cache_read_input_tokens":40}}}`,
			check: func(t *testing.T, parsed *models.ParsedResponse) {
				if parsed.Usage == nil || parsed.Usage.PromptTokens != 140 || parsed.Usage.CachedPromptTokens != 40 {
					t.Fatalf("usage = %+v", parsed.Usage)
				}
			},
		},
		{
			name:  "tool use block start",
			event: `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
			check: func(t *testing.T, parsed *models.ParsedResponse) {
				if len(parsed.ToolCallRequests) != 1 {
					t.Fatalf("tool requests = %+v", parsed.ToolCallRequests)
				}
				d := parsed.ToolCallRequests[0]
				if d.Idx == nil || *d.Idx != 1 || d.ID != "toolu_1" || d.ToolName != "get_weather" {
					t.Fatalf("delta mangled: %+v", d)
				}
			},
		},
		{
			name:  "partial json delta",
			event: `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"cit"}}`,
			check: func(t *testing.T, parsed *models.ParsedResponse) {
				if len(parsed.ToolCallRequests) != 1 || parsed.ToolCallRequests[0].Arguments != `{"cit` {
					t.Fatalf("tool requests = %+v", parsed.ToolCallRequests)
				}
			},
		},
		{
			name:  "text delta",
			event: `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
			check: func(t *testing.T, parsed *models.ParsedResponse) {
				if parsed.Delta != "Hi" {
					t.Fatalf("Delta = %q", parsed.Delta)
				}
			},
		},
		{
			name:  "thinking delta",
			event: `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`,
			check: func(t *testing.T, parsed *models.ParsedResponse) {
				if parsed.Reasoning != "hmm" {
					t.Fatalf("Reasoning = %q", parsed.Reasoning)
				}
			},
		},
		{
			name:  "message delta maps stop reason",
			event: `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":42}}`,
			check: func(t *testing.T, parsed *models.ParsedResponse) {
				if parsed.FinishReason != models.FinishReasonToolCalls {
					t.Fatalf("FinishReason = %q", parsed.FinishReason)
				}
				if parsed.Usage == nil || parsed.Usage.CompletionTokens != 42 {
					t.Fatalf("usage = %+v", parsed.Usage)
				}
			},
		},
		{
			name:  "ping is empty",
			event: `{"type":"ping"}`,
			check: func(t *testing.T, parsed *models.ParsedResponse) {
				if !parsed.IsEmpty() {
					t.Fatalf("ping should parse empty: %+v", parsed)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := p.ParseStreamDelta([]byte(tt.event), Options{Model: "claude-sonnet-4-20250514"})
			if err != nil {
				t.Fatalf("ParseStreamDelta: %v", err)
			}
			tt.check(t, parsed)
		})
	}
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	p := NewAnthropic("key")
	_, err := p.ParseStreamDelta([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`), Options{})
	if !IsKind(err, KindProviderInternal) {
		t.Fatalf("err = %v, want provider_internal", err)
	}
}

func TestAnthropicMapStopReason(t *testing.T) {
	p := NewAnthropic("key")
	tests := []struct {
		in   string
		want models.FinishReason
	}{
		{"end_turn", models.FinishReasonStop},
		{"stop_sequence", models.FinishReasonStop},
		{"max_tokens", models.FinishReasonLength},
		{"tool_use", models.FinishReasonToolCalls},
		{"refusal", models.FinishReasonRecitation},
		{"", ""},
	}
	for _, tt := range tests {
		if got := p.mapStopReason(tt.in); got != tt.want {
			t.Errorf("mapStopReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnthropicWrapError(t *testing.T) {
	p := NewAnthropic("key")
	err := p.WrapError(400, []byte(`{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens"}}`), "claude-sonnet-4-20250514")
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindMaxTokensExceeded {
		t.Fatalf("err = %v, want max_tokens_exceeded", err)
	}
	if pe.Code != "invalid_request_error" {
		t.Fatalf("Code = %q", pe.Code)
	}
}
