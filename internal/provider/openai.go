package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// openAIRequest is the chat-completions request body. Groq, XAI, Mistral,
// Fireworks and Azure all speak this format.
type openAIRequest struct {
	Model               string               `json:"model,omitempty"`
	Messages            []openAIMessage      `json:"messages"`
	Temperature         *float64             `json:"temperature,omitempty"`
	TopP                *float64             `json:"top_p,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64             `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64             `json:"frequency_penalty,omitempty"`
	Tools               []openAITool         `json:"tools,omitempty"`
	ToolChoice          string               `json:"tool_choice,omitempty"`
	ParallelToolCalls   *bool                `json:"parallel_tool_calls,omitempty"`
	ResponseFormat      *openAIRespFormat    `json:"response_format,omitempty"`
	ReasoningEffort     string               `json:"reasoning_effort,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"` // string or []openAIContentPart
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
	File     *openAIFilePart `json:"file,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIFilePart struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
}

type openAIToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIRespFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			ToolCalls        []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			Reasoning        string           `json:"reasoning"`
			ToolCalls        []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *openAIError `json:"error"`
}

type openAIUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
		AudioTokens  int `json:"audio_tokens"`
	} `json:"prompt_tokens_details"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type openAIErrorEnvelope struct {
	Error *openAIError `json:"error"`
}

// OpenAI is the adapter for api.openai.com, and the wire-format base for
// the compatible providers.
type OpenAI struct {
	base
	defaultModel string

	// supportsReasoningEffort gates the reasoning_effort field; only the
	// native OpenAI API accepts it.
	supportsReasoningEffort bool
}

// NewOpenAI builds the OpenAI adapter.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		base: base{
			name:                    "openai",
			apiKey:                  apiKey,
			baseURL:                 openAIDefaultBaseURL,
			rateLimitHeaderPrefixes: []string{"x-ratelimit"},
			errorTable: []errorPattern{
				pattern(`(?i)string too long|exceeds the maximum|reduce the length`, KindMaxTokensExceeded),
				pattern(`(?i)invalid_api_key|incorrect api key`, KindInvalidProviderConfig),
				pattern(`(?i)image_parse_error|invalid base64 image`, KindProviderInvalidFile),
			},
		},
		defaultModel:            "gpt-4.1",
		supportsReasoningEffort: true,
	}
}

func (p *OpenAI) DefaultModel() string { return p.defaultModel }

func (p *OpenAI) SupportsModel(model string) bool {
	if data, ok := modelcatalog.Get(model); ok {
		return data.Provider == p.name
	}
	return modelcatalog.IsOpenAIFamily(model) && p.name == "openai"
}

func (p *OpenAI) RequestURL(model string, stream bool) (string, error) {
	return p.baseURL + "/chat/completions", nil
}

func (p *OpenAI) RequestHeaders(body []byte, url, model string) (http.Header, error) {
	if p.apiKey == "" {
		return nil, p.invalidConfig("api key is not configured")
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.apiKey)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (p *OpenAI) RequiresDownloadingFile(f *models.File, model string) bool {
	// Images ride as URLs; everything else is inlined as base64.
	return !f.IsImage()
}

func (p *OpenAI) MaxNumberOfFileURLs() int { return 20 }

func (p *OpenAI) IsStreamable(model string, hasTools bool) bool { return true }

func (p *OpenAI) ComputePromptTokenCount(messages []models.Message, model string) (float64, error) {
	return promptTokenCount(messages, p.name, model)
}

func (p *OpenAI) BuildRequest(messages []models.Message, opts Options, stream bool) (any, error) {
	converted, err := p.convertMessages(messages)
	if err != nil {
		return nil, err
	}
	req := &openAIRequest{
		Model:            opts.Model,
		Messages:         converted,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		PresencePenalty:  opts.PresencePenalty,
		FrequencyPenalty: opts.FrequencyPenalty,
		Stream:           stream,
	}
	if opts.MaxOutputTokens != nil || opts.ReasoningBudget != nil {
		req.MaxCompletionTokens = opts.EffectiveMaxTokens()
	}
	if stream {
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	for _, tool := range opts.Tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        NativeToolName(tool.Name),
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	if opts.ToolChoice != "" {
		req.ToolChoice = string(opts.ToolChoice)
	}
	req.ParallelToolCalls = opts.ParallelToolCalls
	if len(opts.OutputSchema) > 0 {
		if opts.UseStructuredGeneration {
			req.ResponseFormat = &openAIRespFormat{
				Type:       "json_schema",
				JSONSchema: &openAIJSONSchema{Name: "output", Schema: opts.OutputSchema, Strict: true},
			}
		} else {
			req.ResponseFormat = &openAIRespFormat{Type: "json_object"}
		}
	}
	if opts.ReasoningEffort != "" && opts.ReasoningEffort != models.ReasoningEffortDisabled {
		if !p.supportsReasoningEffort {
			return nil, NewError(KindModelDoesNotSupportMode, p.name, opts.Model, "reasoning effort is not supported by this provider")
		}
		req.ReasoningEffort = string(opts.ReasoningEffort)
	}
	return req, nil
}

func (p *OpenAI) convertMessages(messages []models.Message) ([]openAIMessage, error) {
	var out []openAIMessage
	for i := range messages {
		m := &messages[i]
		var toolResults []*models.ToolCallResult
		msg := openAIMessage{Role: string(m.Role)}
		var parts []openAIContentPart
		var textOnly strings.Builder
		multipart := false

		for j := range m.Content {
			part := &m.Content[j]
			switch {
			case part.Text != "":
				parts = append(parts, openAIContentPart{Type: "text", Text: part.Text})
				textOnly.WriteString(part.Text)
			case len(part.Object) > 0:
				parts = append(parts, openAIContentPart{Type: "text", Text: string(part.Object)})
				textOnly.WriteString(string(part.Object))
			case part.File != nil:
				converted, err := p.convertFile(part.File)
				if err != nil {
					return nil, err
				}
				parts = append(parts, *converted)
				multipart = true
			case part.ToolCallRequest != nil:
				call := openAIToolCall{ID: part.ToolCallRequest.ID, Type: "function"}
				call.Function.Name = NativeToolName(part.ToolCallRequest.ToolName)
				call.Function.Arguments = string(part.ToolCallRequest.Arguments)
				msg.ToolCalls = append(msg.ToolCalls, call)
			case part.ToolCallResult != nil:
				toolResults = append(toolResults, part.ToolCallResult)
			case part.Reasoning != "":
				// Reasoning is never echoed back to OpenAI.
			}
		}

		if len(toolResults) > 0 {
			// One tool message per result, per the OpenAI contract.
			for _, result := range toolResults {
				content := string(result.Result)
				if result.Error != "" {
					content = result.Error
				}
				out = append(out, openAIMessage{Role: "tool", ToolCallID: result.ID, Content: content})
			}
			continue
		}

		if multipart {
			msg.Content = parts
		} else if textOnly.Len() > 0 {
			msg.Content = textOnly.String()
		}
		if msg.Content == nil && len(msg.ToolCalls) == 0 {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (p *OpenAI) convertFile(f *models.File) (*openAIContentPart, error) {
	if f.IsImage() {
		if f.HasData() {
			return &openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", f.ContentType, f.Data),
			}}, nil
		}
		return &openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: f.URL}}, nil
	}
	if f.IsPDF() {
		if !f.HasData() {
			return nil, &models.InvalidFileError{URL: f.URL, Reason: "pdf requires downloaded data"}
		}
		return &openAIContentPart{Type: "file", File: &openAIFilePart{
			Filename: "document" + f.Extension(),
			FileData: fmt.Sprintf("data:%s;base64,%s", f.ContentType, f.Data),
		}}, nil
	}
	return nil, NewError(KindModelDoesNotSupportMode, p.name, "", fmt.Sprintf("unsupported file content type %q", f.ContentType))
}

func (p *OpenAI) ParseResponse(body []byte, opts Options) (*models.ParsedResponse, error) {
	var envelope openAIErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return nil, p.wrapAPIError(0, envelope.Error, opts.Model, nil)
	}
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, WrapErr(KindFailedGeneration, p.name, opts.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(KindFailedGeneration, p.name, opts.Model, "response has no choices")
	}
	choice := resp.Choices[0]
	parsed := &models.ParsedResponse{
		Delta:        choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: p.mapFinishReason(choice.FinishReason),
		Usage:        convertOpenAIUsage(resp.Usage, opts.ModelData),
	}
	for _, call := range choice.Message.ToolCalls {
		parsed.ToolCallRequests = append(parsed.ToolCallRequests, models.ToolCallRequestDelta{
			Idx:       call.Index,
			ID:        call.ID,
			ToolName:  InternalToolName(call.Function.Name),
			Arguments: call.Function.Arguments,
		})
	}
	return parsed, nil
}

func (p *OpenAI) ParseStreamDelta(event []byte, opts Options) (*models.ParsedResponse, error) {
	var chunk openAIStreamChunk
	if err := json.Unmarshal(event, &chunk); err != nil {
		return nil, WrapErr(KindFailedGeneration, p.name, opts.Model, err)
	}
	if chunk.Error != nil {
		return nil, p.wrapAPIError(0, chunk.Error, opts.Model, nil)
	}
	parsed := &models.ParsedResponse{Usage: convertOpenAIUsage(chunk.Usage, opts.ModelData)}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		parsed.Delta = choice.Delta.Content
		parsed.Reasoning = choice.Delta.ReasoningContent
		if parsed.Reasoning == "" {
			parsed.Reasoning = choice.Delta.Reasoning
		}
		parsed.FinishReason = p.mapFinishReason(choice.FinishReason)
		for _, call := range choice.Delta.ToolCalls {
			parsed.ToolCallRequests = append(parsed.ToolCallRequests, models.ToolCallRequestDelta{
				Idx:       call.Index,
				ID:        call.ID,
				ToolName:  InternalToolName(call.Function.Name),
				Arguments: call.Function.Arguments,
			})
		}
	}
	return parsed, nil
}

func (p *OpenAI) mapFinishReason(reason string) models.FinishReason {
	switch reason {
	case "stop":
		return models.FinishReasonStop
	case "length":
		return models.FinishReasonLength
	case "tool_calls", "function_call":
		return models.FinishReasonToolCalls
	case "content_filter":
		return models.FinishReasonRecitation
	}
	return ""
}

func (p *OpenAI) WrapError(status int, body []byte, model string) error {
	var envelope openAIErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return p.wrapAPIError(status, envelope.Error, model, body)
	}
	return p.wrapHTTPError(status, body, model, "", "")
}

func (p *OpenAI) wrapAPIError(status int, apiErr *openAIError, model string, body []byte) *Error {
	e := p.wrapHTTPError(status, body, model, apiErr.Message, "")
	if apiErr.Code != nil {
		e.Code = fmt.Sprintf("%v", apiErr.Code)
	}
	if apiErr.Type == "insufficient_quota" || e.Code == "insufficient_quota" {
		e.Kind = KindRateLimit
	}
	return e
}

func convertOpenAIUsage(u *openAIUsage, data *modelcatalog.ModelData) *models.LLMUsage {
	if u == nil {
		return nil
	}
	usage := &models.LLMUsage{
		PromptTokens:     float64(u.PromptTokens),
		CompletionTokens: float64(u.CompletionTokens),
	}
	if u.PromptTokensDetails != nil {
		usage.CachedPromptTokens = float64(u.PromptTokensDetails.CachedTokens)
		usage.PromptAudioTokens = float64(u.PromptTokensDetails.AudioTokens)
	}
	if u.CompletionTokensDetails != nil {
		usage.ReasoningTokens = float64(u.CompletionTokensDetails.ReasoningTokens)
	}
	if data != nil {
		usage.ModelContextWindow = data.ContextWindow
		usage.ModelMaxOutputTokens = data.MaxOutputTokens
	}
	return usage
}
