package models

import (
	"encoding/json"
	"testing"
)

func TestTraceRoundTrip(t *testing.T) {
	traces := []Trace{
		NewLLMTrace(LLMTrace{
			Model:    "gpt-4.1",
			Provider: "openai",
			Usage: LLMUsage{
				PromptTokens:     120,
				CompletionTokens: 42,
			},
			DurationSeconds: 1.5,
			CostUSD:         0.0021,
		}),
		NewToolTrace(ToolTrace{
			Name:              "@search",
			ToolInputPreview:  `{"q":"weather"}`,
			ToolOutputPreview: "sunny",
			DurationSeconds:   0.3,
		}),
	}

	raw, err := json.Marshal(traces)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded []Trace
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("got %d traces", len(decoded))
	}
	if decoded[0].Kind != TraceKindLLM || decoded[0].LLM == nil {
		t.Fatalf("first trace not llm: %+v", decoded[0])
	}
	if decoded[0].LLM.Model != "gpt-4.1" || decoded[0].LLM.Usage.CompletionTokens != 42 {
		t.Fatalf("llm trace mangled: %+v", decoded[0].LLM)
	}
	if decoded[1].Kind != TraceKindTool || decoded[1].Tool == nil || decoded[1].Tool.Name != "@search" {
		t.Fatalf("tool trace mangled: %+v", decoded[1])
	}
}

func TestTraceUnknownKind(t *testing.T) {
	var tr Trace
	if err := json.Unmarshal([]byte(`{"kind":"mystery"}`), &tr); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestUsageApply(t *testing.T) {
	u := LLMUsage{PromptTokens: 100, CompletionTokens: 10, ModelContextWindow: 128000}
	u.Apply(LLMUsage{PromptTokens: 50, CompletionTokens: 5, ReasoningTokens: 7})
	if u.PromptTokens != 150 || u.CompletionTokens != 15 || u.ReasoningTokens != 7 {
		t.Fatalf("apply mangled counts: %+v", u)
	}
	if u.ModelContextWindow != 128000 {
		t.Fatalf("context window lost: %+v", u)
	}
}

func TestUsageComputeCost(t *testing.T) {
	u := LLMUsage{PromptTokens: 1_000_000, CachedPromptTokens: 500_000, CompletionTokens: 1_000_000}
	pricing := ModelPricing{
		PromptUSDPerMillion:       2.0,
		CachedPromptUSDPerMillion: 0.5,
		CompletionUSDPerMillion:   8.0,
	}
	total := u.ComputeCost(pricing)

	// 0.5M billable prompt at $2 + 0.5M cached at $0.5 + 1M completion at $8.
	wantPrompt := 1.0 + 0.25
	if u.PromptCostUSD != wantPrompt {
		t.Fatalf("PromptCostUSD = %v, want %v", u.PromptCostUSD, wantPrompt)
	}
	if u.CompletionCostUSD != 8.0 {
		t.Fatalf("CompletionCostUSD = %v", u.CompletionCostUSD)
	}
	if total != wantPrompt+8.0 {
		t.Fatalf("total = %v", total)
	}
}

func TestUsageReasoningBilledAtCompletionRate(t *testing.T) {
	u := LLMUsage{CompletionTokens: 1_000_000, ReasoningTokens: 1_000_000}
	total := u.ComputeCost(ModelPricing{CompletionUSDPerMillion: 4.0})
	if total != 8.0 {
		t.Fatalf("total = %v, want 8.0", total)
	}
}

func TestEncodeMetadataValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string passthrough", "plain", "plain"},
		{"number", 3.5, "3.5"},
		{"bool", true, "true"},
		{"object", map[string]any{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeMetadataValue(tt.in); got != tt.want {
				t.Fatalf("EncodeMetadataValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestComputePreview(t *testing.T) {
	in := "  a\n\nb\t c  "
	if got := ComputePreview(in); got != "a b c" {
		t.Fatalf("ComputePreview = %q", got)
	}
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	if got := ComputePreview(string(long)); len(got) > 255 {
		t.Fatalf("preview too long: %d", len(got))
	}
}

func TestAgentInputAssignID(t *testing.T) {
	a := AgentInput{Variables: json.RawMessage(`{"name":"Toulouse"}`)}
	b := AgentInput{Variables: json.RawMessage(`{"name":"Toulouse"}`), Preview: "different preview"}
	a.AssignID()
	b.AssignID()
	if a.ID != b.ID {
		t.Fatal("preview must not contribute to the content address")
	}

	c := AgentInput{Variables: json.RawMessage(`{"name":"Paris"}`)}
	c.AssignID()
	if c.ID == a.ID {
		t.Fatal("different variables produced the same id")
	}
}
