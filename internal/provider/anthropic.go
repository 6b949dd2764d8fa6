package provider

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"

	// anthropicDefaultMaxTokens applies when neither the caller nor the
	// catalog bound the output; the messages API requires max_tokens.
	anthropicDefaultMaxTokens = 8192
)

type anthropicRequest struct {
	Model       string              `json:"model,omitempty"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	Tools       []anthropicTool     `json:"tools,omitempty"`
	ToolChoice  *anthropicChoice    `json:"tool_choice,omitempty"`
	Thinking    *anthropicThinking  `json:"thinking,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	Thinking  string           `json:"thinking,omitempty"`
	Source    *anthropicSource `json:"source,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicChoice struct {
	Type string `json:"type"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      *anthropicUsage  `json:"usage"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index *int   `json:"index"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock *anthropicBlock `json:"content_block"`
	Message      *struct {
		Usage *anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Anthropic is the adapter for the Anthropic messages API.
type Anthropic struct {
	base
}

// NewAnthropic builds the Anthropic adapter.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{base: base{
		name:                    "anthropic",
		apiKey:                  apiKey,
		baseURL:                 anthropicBaseURL,
		rateLimitHeaderPrefixes: []string{"anthropic-ratelimit"},
		errorTable: []errorPattern{
			pattern(`(?i)prompt is too long`, KindMaxTokensExceeded),
			pattern(`(?i)credit balance is too low`, KindRateLimit),
			pattern(`(?i)invalid x-api-key|authentication_error`, KindInvalidProviderConfig),
		},
	}}
}

func (p *Anthropic) DefaultModel() string { return "claude-sonnet-4-20250514" }

func (p *Anthropic) SupportsModel(model string) bool {
	if data, ok := modelcatalog.Get(model); ok {
		return data.Provider == p.name
	}
	return strings.HasPrefix(model, "claude-")
}

func (p *Anthropic) RequestURL(model string, stream bool) (string, error) {
	return p.baseURL + "/messages", nil
}

func (p *Anthropic) RequestHeaders(body []byte, url, model string) (http.Header, error) {
	if p.apiKey == "" {
		return nil, p.invalidConfig("api key is not configured")
	}
	h := http.Header{}
	h.Set("x-api-key", p.apiKey)
	h.Set("anthropic-version", anthropicAPIVersion)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (p *Anthropic) RequiresDownloadingFile(f *models.File, model string) bool {
	// Images and PDFs can ride as URL sources.
	return !f.IsImage() && !f.IsPDF()
}

func (p *Anthropic) MaxNumberOfFileURLs() int { return 20 }

func (p *Anthropic) IsStreamable(model string, hasTools bool) bool { return true }

func (p *Anthropic) ComputePromptTokenCount(messages []models.Message, model string) (float64, error) {
	return promptTokenCount(messages, p.name, model)
}

func (p *Anthropic) BuildRequest(messages []models.Message, opts Options, stream bool) (any, error) {
	if len(opts.OutputSchema) > 0 && opts.UseStructuredGeneration {
		return nil, NewError(KindModelDoesNotSupportMode, p.name, opts.Model, "native structured generation is not supported; use prompt-level schema instead")
	}
	req := &anthropicRequest{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stream:      stream,
	}
	req.MaxTokens = opts.EffectiveMaxTokens()
	if req.MaxTokens == 0 {
		req.MaxTokens = anthropicDefaultMaxTokens
	}

	// System messages lift into the dedicated field.
	var system strings.Builder
	for i := range messages {
		m := &messages[i]
		if m.Role == models.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Text())
			continue
		}
		converted, err := p.convertMessage(m)
		if err != nil {
			return nil, err
		}
		if converted != nil {
			req.Messages = append(req.Messages, *converted)
		}
	}
	req.System = system.String()

	for _, tool := range opts.Tools {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		req.Tools = append(req.Tools, anthropicTool{
			Name:        NativeToolName(tool.Name),
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	switch opts.ToolChoice {
	case models.ToolChoiceAuto:
		req.ToolChoice = &anthropicChoice{Type: "auto"}
	case models.ToolChoiceNone:
		req.ToolChoice = &anthropicChoice{Type: "none"}
	case models.ToolChoiceRequired:
		req.ToolChoice = &anthropicChoice{Type: "any"}
	}

	if opts.ReasoningBudget != nil && *opts.ReasoningBudget > 0 {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: *opts.ReasoningBudget}
	} else if opts.ReasoningEffort != "" && opts.ReasoningEffort != models.ReasoningEffortDisabled {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: effortBudget(opts.ReasoningEffort, req.MaxTokens)}
	}
	return req, nil
}

// effortBudget translates a named effort into a thinking token budget
// proportional to the output cap.
func effortBudget(effort models.ReasoningEffort, maxTokens int) int {
	var share float64
	switch effort {
	case models.ReasoningEffortLow:
		share = 0.2
	case models.ReasoningEffortMedium:
		share = 0.5
	case models.ReasoningEffortHigh:
		share = 0.8
	default:
		return 0
	}
	budget := int(float64(maxTokens) * share)
	if budget < 1024 {
		budget = 1024
	}
	return budget
}

func (p *Anthropic) convertMessage(m *models.Message) (*anthropicMessage, error) {
	out := anthropicMessage{Role: string(m.Role)}
	for i := range m.Content {
		part := &m.Content[i]
		switch {
		case part.Text != "":
			out.Content = append(out.Content, anthropicBlock{Type: "text", Text: part.Text})
		case len(part.Object) > 0:
			out.Content = append(out.Content, anthropicBlock{Type: "text", Text: string(part.Object)})
		case part.Reasoning != "":
			// Thinking blocks are not replayed without signatures; fold
			// into text so context is preserved.
			out.Content = append(out.Content, anthropicBlock{Type: "text", Text: part.Reasoning})
		case part.File != nil:
			block, err := p.convertFile(part.File)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, *block)
		case part.ToolCallRequest != nil:
			input := part.ToolCallRequest.Arguments
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			out.Content = append(out.Content, anthropicBlock{
				Type:  "tool_use",
				ID:    part.ToolCallRequest.ID,
				Name:  NativeToolName(part.ToolCallRequest.ToolName),
				Input: input,
			})
		case part.ToolCallResult != nil:
			content := string(part.ToolCallResult.Result)
			isError := false
			if part.ToolCallResult.Error != "" {
				content = part.ToolCallResult.Error
				isError = true
			}
			// Tool results must ride in a user message.
			out.Role = "user"
			out.Content = append(out.Content, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: part.ToolCallResult.ID,
				Content:   content,
				IsError:   isError,
			})
		}
	}
	if len(out.Content) == 0 {
		return nil, nil
	}
	return &out, nil
}

func (p *Anthropic) convertFile(f *models.File) (*anthropicBlock, error) {
	blockType := "image"
	if f.IsPDF() {
		blockType = "document"
	} else if !f.IsImage() {
		return nil, NewError(KindModelDoesNotSupportMode, p.name, "", "unsupported file content type "+f.ContentType)
	}
	if f.HasData() {
		return &anthropicBlock{Type: blockType, Source: &anthropicSource{
			Type: "base64", MediaType: f.ContentType, Data: f.Data,
		}}, nil
	}
	return &anthropicBlock{Type: blockType, Source: &anthropicSource{Type: "url", URL: f.URL}}, nil
}

func (p *Anthropic) ParseResponse(body []byte, opts Options) (*models.ParsedResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, WrapErr(KindFailedGeneration, p.name, opts.Model, err)
	}
	parsed := &models.ParsedResponse{
		FinishReason: p.mapStopReason(resp.StopReason),
		Usage:        convertAnthropicUsage(resp.Usage, opts.ModelData),
	}
	var text, thinking strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		case "tool_use":
			parsed.ToolCallRequests = append(parsed.ToolCallRequests, models.ToolCallRequestDelta{
				ID:        block.ID,
				ToolName:  InternalToolName(block.Name),
				Arguments: string(block.Input),
			})
		}
	}
	parsed.Delta = text.String()
	parsed.Reasoning = thinking.String()
	return parsed, nil
}

func (p *Anthropic) ParseStreamDelta(event []byte, opts Options) (*models.ParsedResponse, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return nil, WrapErr(KindFailedGeneration, p.name, opts.Model, err)
	}
	parsed := &models.ParsedResponse{}
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			parsed.Usage = convertAnthropicUsage(ev.Message.Usage, opts.ModelData)
		}
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			parsed.ToolCallRequests = append(parsed.ToolCallRequests, models.ToolCallRequestDelta{
				Idx:      ev.Index,
				ID:       ev.ContentBlock.ID,
				ToolName: InternalToolName(ev.ContentBlock.Name),
			})
		}
	case "content_block_delta":
		if ev.Delta != nil {
			switch ev.Delta.Type {
			case "text_delta":
				parsed.Delta = ev.Delta.Text
			case "thinking_delta":
				parsed.Reasoning = ev.Delta.Thinking
			case "input_json_delta":
				parsed.ToolCallRequests = append(parsed.ToolCallRequests, models.ToolCallRequestDelta{
					Idx:       ev.Index,
					Arguments: ev.Delta.PartialJSON,
				})
			}
		}
	case "message_delta":
		if ev.Delta != nil {
			parsed.FinishReason = p.mapStopReason(ev.Delta.StopReason)
		}
		if ev.Usage != nil {
			parsed.Usage = convertAnthropicUsage(ev.Usage, opts.ModelData)
		}
	case "error":
		message := "stream error"
		if ev.Error != nil {
			message = ev.Error.Message
		}
		return nil, &Error{
			Kind:     classify(p.errorTable, 0, message),
			Provider: p.name,
			Model:    opts.Model,
			Message:  message,
		}
	case "message_stop", "ping", "content_block_stop":
	}
	return parsed, nil
}

func (p *Anthropic) mapStopReason(reason string) models.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return models.FinishReasonStop
	case "max_tokens":
		return models.FinishReasonLength
	case "tool_use":
		return models.FinishReasonToolCalls
	case "refusal":
		return models.FinishReasonRecitation
	}
	return ""
}

func (p *Anthropic) WrapError(status int, body []byte, model string) error {
	var envelope struct {
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		message = envelope.Error.Message
	}
	e := p.wrapHTTPError(status, body, model, message, "")
	if envelope.Error != nil {
		e.Code = envelope.Error.Type
	}
	return e
}

func convertAnthropicUsage(u *anthropicUsage, data *modelcatalog.ModelData) *models.LLMUsage {
	if u == nil {
		return nil
	}
	usage := &models.LLMUsage{
		PromptTokens:       float64(u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens),
		CachedPromptTokens: float64(u.CacheReadInputTokens),
		CompletionTokens:   float64(u.OutputTokens),
	}
	if data != nil {
		usage.ModelContextWindow = data.ContextWindow
		usage.ModelMaxOutputTokens = data.MaxOutputTokens
	}
	return usage
}
