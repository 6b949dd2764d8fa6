package provider

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

func TestOpenAIConvertMessages(t *testing.T) {
	p := NewOpenAI("sk-test")

	tests := []struct {
		name     string
		messages []models.Message
		wantLen  int
		check    func(t *testing.T, out []openAIMessage)
	}{
		{
			name: "system and user text",
			messages: []models.Message{
				models.NewTextMessage(models.RoleSystem, "be helpful"),
				models.NewTextMessage(models.RoleUser, "hello"),
			},
			wantLen: 2,
			check: func(t *testing.T, out []openAIMessage) {
				if out[0].Role != "system" || out[0].Content != "be helpful" {
					t.Errorf("system message mangled: %+v", out[0])
				}
			},
		},
		{
			name: "assistant tool call",
			messages: []models.Message{
				{Role: models.RoleAssistant, Content: []models.ContentPart{
					{ToolCallRequest: &models.ToolCallRequest{ID: "call_1", ToolName: "get_weather", Arguments: json.RawMessage(`{"city":"NYC"}`)}},
				}},
			},
			wantLen: 1,
			check: func(t *testing.T, out []openAIMessage) {
				if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].Function.Name != "get_weather" {
					t.Errorf("tool call mangled: %+v", out[0])
				}
			},
		},
		{
			name: "hosted tool name is translated",
			messages: []models.Message{
				{Role: models.RoleAssistant, Content: []models.ContentPart{
					{ToolCallRequest: &models.ToolCallRequest{ID: "c", ToolName: "@search"}},
				}},
			},
			wantLen: 1,
			check: func(t *testing.T, out []openAIMessage) {
				if out[0].ToolCalls[0].Function.Name != "search_documents" {
					t.Errorf("hosted name not translated: %q", out[0].ToolCalls[0].Function.Name)
				}
			},
		},
		{
			name: "tool results become one message each",
			messages: []models.Message{
				{Role: models.RoleUser, Content: []models.ContentPart{
					{ToolCallResult: &models.ToolCallResult{ID: "a", Result: json.RawMessage(`"sunny"`)}},
					{ToolCallResult: &models.ToolCallResult{ID: "b", Error: "boom"}},
				}},
			},
			wantLen: 2,
			check: func(t *testing.T, out []openAIMessage) {
				if out[0].Role != "tool" || out[0].ToolCallID != "a" {
					t.Errorf("first tool result mangled: %+v", out[0])
				}
				if out[1].Content != "boom" {
					t.Errorf("tool error not propagated: %+v", out[1])
				}
			},
		},
		{
			name: "image file as data URI",
			messages: []models.Message{
				{Role: models.RoleUser, Content: []models.ContentPart{
					{Text: "look"},
					{File: &models.File{ContentType: "image/png", Data: "aGk="}},
				}},
			},
			wantLen: 1,
			check: func(t *testing.T, out []openAIMessage) {
				parts, ok := out[0].Content.([]openAIContentPart)
				if !ok || len(parts) != 2 {
					t.Fatalf("expected multipart content: %+v", out[0].Content)
				}
				if parts[1].ImageURL == nil || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
					t.Errorf("image part mangled: %+v", parts[1])
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.convertMessages(tt.messages)
			if err != nil {
				t.Fatalf("convertMessages: %v", err)
			}
			if len(out) != tt.wantLen {
				t.Fatalf("got %d messages, want %d", len(out), tt.wantLen)
			}
			tt.check(t, out)
		})
	}
}

func TestOpenAIBuildRequestMaxTokens(t *testing.T) {
	p := NewOpenAI("sk-test")
	data, _ := modelcatalog.Get("o3")
	maxTokens := 1000
	budget := 5000

	tests := []struct {
		name string
		opts Options
		want int
	}{
		{
			name: "requested plus budget",
			opts: Options{Model: "o3", ModelData: data, MaxOutputTokens: &maxTokens, ReasoningBudget: &budget},
			want: 6000,
		},
		{
			name: "budget only adds headroom",
			opts: Options{Model: "o3", ModelData: data, ReasoningBudget: &budget},
			want: 5000 + 8192,
		},
		{
			name: "capped at model max",
			opts: func() Options {
				big := 90_000
				hugeBudget := 50_000
				return Options{Model: "o3", ModelData: data, MaxOutputTokens: &big, ReasoningBudget: &hugeBudget}
			}(),
			want: data.MaxOutputTokens,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			built, err := p.BuildRequest([]models.Message{models.NewTextMessage(models.RoleUser, "hi")}, tt.opts, false)
			if err != nil {
				t.Fatalf("BuildRequest: %v", err)
			}
			req := built.(*openAIRequest)
			if req.MaxCompletionTokens != tt.want {
				t.Fatalf("MaxCompletionTokens = %d, want %d", req.MaxCompletionTokens, tt.want)
			}
		})
	}
}

func TestOpenAIBuildRequestStructuredOutput(t *testing.T) {
	p := NewOpenAI("sk-test")
	schema := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)
	built, err := p.BuildRequest(
		[]models.Message{models.NewTextMessage(models.RoleUser, "hi")},
		Options{Model: "gpt-4.1", OutputSchema: schema, UseStructuredGeneration: true},
		true,
	)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	req := built.(*openAIRequest)
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
		t.Fatalf("response format mangled: %+v", req.ResponseFormat)
	}
	if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
		t.Fatalf("stream options mangled: %+v", req)
	}
}

func TestOpenAIParseStreamDelta(t *testing.T) {
	p := NewOpenAI("sk-test")

	parsed, err := p.ParseStreamDelta([]byte(`{"choices":[{"delta":{"content":"The answer"}}]}`), Options{Model: "gpt-4.1"})
	if err != nil {
		t.Fatalf("ParseStreamDelta: %v", err)
	}
	if parsed.Delta != "The answer" {
		t.Fatalf("Delta = %q", parsed.Delta)
	}

	parsed, err = p.ParseStreamDelta([]byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"get_weather","arguments":"{\"ci"}}]},"finish_reason":null}]}`), Options{})
	if err != nil {
		t.Fatalf("ParseStreamDelta: %v", err)
	}
	if len(parsed.ToolCallRequests) != 1 {
		t.Fatalf("tool call requests = %+v", parsed.ToolCallRequests)
	}
	delta := parsed.ToolCallRequests[0]
	if delta.Idx == nil || *delta.Idx != 0 || delta.ID != "call_9" || delta.Arguments != `{"ci` {
		t.Fatalf("tool delta mangled: %+v", delta)
	}

	parsed, err = p.ParseStreamDelta([]byte(`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7,"completion_tokens_details":{"reasoning_tokens":3}}}`), Options{})
	if err != nil {
		t.Fatalf("ParseStreamDelta: %v", err)
	}
	if parsed.Usage == nil || parsed.Usage.PromptTokens != 12 || parsed.Usage.ReasoningTokens != 3 {
		t.Fatalf("usage mangled: %+v", parsed.Usage)
	}

	parsed, err = p.ParseStreamDelta([]byte(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`), Options{})
	if err != nil {
		t.Fatalf("ParseStreamDelta: %v", err)
	}
	if parsed.FinishReason != models.FinishReasonStop {
		t.Fatalf("FinishReason = %q", parsed.FinishReason)
	}
}

func TestOpenAIParseResponse(t *testing.T) {
	p := NewOpenAI("sk-test")
	body := `{"choices":[{"message":{"content":"The meaning of life is 42","tool_calls":[]},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":8}}`
	parsed, err := p.ParseResponse([]byte(body), Options{Model: "gpt-4.1"})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if parsed.Delta != "The meaning of life is 42" {
		t.Fatalf("Delta = %q", parsed.Delta)
	}
	if parsed.Usage == nil || parsed.Usage.CompletionTokens != 8 {
		t.Fatalf("usage mangled: %+v", parsed.Usage)
	}
}

func TestOpenAIWrapError(t *testing.T) {
	p := NewOpenAI("sk-test")

	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{
			name:   "context length",
			status: 400,
			body:   `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`,
			want:   KindMaxTokensExceeded,
		},
		{
			name:   "moderation",
			status: 400,
			body:   `{"error":{"message":"Your request was rejected by our content management policy","type":"invalid_request_error"}}`,
			want:   KindContentModeration,
		},
		{
			name:   "server error",
			status: 500,
			body:   `{"error":{"message":"internal server error"}}`,
			want:   KindProviderInternal,
		},
		{
			name:   "rate limit",
			status: 429,
			body:   `{"error":{"message":"Rate limit reached for gpt-4.1"}}`,
			want:   KindRateLimit,
		},
		{
			name:   "missing model",
			status: 404,
			body:   `{"error":{"message":"The model 'gpt-9' does not exist","code":"model_not_found"}}`,
			want:   KindMissingModel,
		},
		{
			name:   "unknown keeps raw message",
			status: 418,
			body:   `{"error":{"message":"weird teapot failure"}}`,
			want:   KindUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.WrapError(tt.status, []byte(tt.body), "gpt-4.1")
			pe, ok := AsError(err)
			if !ok {
				t.Fatalf("expected provider error, got %T", err)
			}
			if pe.Kind != tt.want {
				t.Fatalf("Kind = %s, want %s (message %q)", pe.Kind, tt.want, pe.Message)
			}
			if pe.Message == "" {
				t.Fatal("raw message lost")
			}
		})
	}
}

func TestAzureRequestURL(t *testing.T) {
	p := NewAzure("key", "https://myres.openai.azure.com/")
	url, err := p.RequestURL("gpt-4.1", true)
	if err != nil {
		t.Fatalf("RequestURL: %v", err)
	}
	want := "https://myres.openai.azure.com/openai/deployments/gpt-41/chat/completions?api-version=2024-10-21"
	if url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}

	headers, err := p.RequestHeaders(nil, url, "gpt-4.1")
	if err != nil {
		t.Fatalf("RequestHeaders: %v", err)
	}
	if headers.Get("api-key") != "key" {
		t.Fatalf("api-key header missing: %v", headers)
	}
}

func TestCompatProvidersRouteByCatalog(t *testing.T) {
	groq := NewGroq("k")
	if !groq.SupportsModel("llama-3.3-70b-versatile") {
		t.Fatal("groq should support its catalog model")
	}
	if groq.SupportsModel("gpt-4.1") {
		t.Fatal("groq must not claim openai models")
	}
}
