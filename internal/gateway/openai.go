package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/runner"
	"github.com/anotherai-dev/anotherai/internal/templates"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// chatCompletionRequest is the OpenAI chat-completions schema plus the
// gateway extension fields.
type chatCompletionRequest struct {
	Model               string            `json:"model"`
	Messages            []chatMessage     `json:"messages"`
	Temperature         *float64          `json:"temperature,omitempty"`
	TopP                *float64          `json:"top_p,omitempty"`
	MaxTokens           *int              `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int              `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64          `json:"frequency_penalty,omitempty"`
	Stream              bool              `json:"stream,omitempty"`
	Tools               []chatTool        `json:"tools,omitempty"`
	ToolChoice          json.RawMessage   `json:"tool_choice,omitempty"`
	ParallelToolCalls   *bool             `json:"parallel_tool_calls,omitempty"`
	ResponseFormat      *responseFormat   `json:"response_format,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`

	// Extension fields.
	Input          json.RawMessage `json:"input,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	UseCache       string          `json:"use_cache,omitempty"`
	UseFallback    json.RawMessage `json:"use_fallback,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	DeploymentID   string          `json:"deployment_id,omitempty"`
	Reasoning      *reasoningOpts  `json:"reasoning,omitempty"`
	Timeout        float64         `json:"timeout,omitempty"`
}

type reasoningOpts struct {
	Effort string `json:"effort,omitempty"`
	Budget *int   `json:"budget,omitempty"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type responseFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Name   string          `json:"name,omitempty"`
		Schema json.RawMessage `json:"schema,omitempty"`
	} `json:"json_schema,omitempty"`
}

// chatMessage is one OpenAI-shaped message. Content is a string or an
// array of typed parts.
type chatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type chatContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
	InputAudio *struct {
		Data   string `json:"data"`
		Format string `json:"format,omitempty"`
	} `json:"input_audio,omitempty"`
	File *struct {
		FileData string `json:"file_data,omitempty"`
		FileID   string `json:"file_id,omitempty"`
	} `json:"file,omitempty"`
}

// toRunnerRequest translates the wire request into a runner request. With
// the input extension set, the messages array acts as the version's prompt
// template; otherwise messages are the literal input conversation.
func (req *chatCompletionRequest) toRunnerRequest() (*runner.Request, error) {
	if req.Model == "" && req.DeploymentID == "" {
		return nil, apierr.BadRequest("model is required")
	}
	if len(req.Messages) == 0 && req.DeploymentID == "" {
		return nil, apierr.BadRequest("messages are required")
	}
	if req.Reasoning != nil && req.Reasoning.Effort == "" && req.Reasoning.Budget == nil {
		return nil, apierr.BadRequest("reasoning requires an effort or a budget")
	}
	if req.UseCache != "" && req.UseCache != "auto" && req.UseCache != "always" && req.UseCache != "never" {
		return nil, apierr.BadRequest("use_cache must be auto, always or never")
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	version := models.Version{
		Model:            req.Model,
		Provider:         req.Provider,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxOutputTokens:  req.MaxCompletionTokens,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
	}
	if version.MaxOutputTokens == nil {
		version.MaxOutputTokens = req.MaxTokens
	}
	if req.Reasoning != nil {
		version.ReasoningEffort = models.ReasoningEffort(req.Reasoning.Effort)
		version.ReasoningBudget = req.Reasoning.Budget
	}
	version.ParallelToolCalls = req.ParallelToolCalls
	for _, tool := range req.Tools {
		version.Tools = append(version.Tools, models.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	if len(req.ToolChoice) > 0 {
		var choice string
		if err := json.Unmarshal(req.ToolChoice, &choice); err == nil {
			version.ToolChoice = models.ToolChoice(choice)
		}
	}
	if req.ResponseFormat != nil && req.ResponseFormat.JSONSchema != nil {
		if err := validateOutputSchema(req.ResponseFormat.JSONSchema.Schema); err != nil {
			return nil, err
		}
		version.OutputSchema = req.ResponseFormat.JSONSchema.Schema
		version.UseStructuredGeneration = true
	}

	input := models.AgentInput{}
	if len(req.Input) > 0 {
		// Template mode: messages become the version prompt, and the schema
		// of the variables they read is recorded on the version.
		version.Prompt = messages
		input.Variables = req.Input
		schema, err := templates.ExtractPromptSchema(messages, version.InputVariablesSchema)
		if err != nil {
			return nil, apierr.Wrap(err, apierr.CodeBadRequest, "invalid prompt template")
		}
		version.InputVariablesSchema = schema
	} else {
		input.Messages = messages
	}

	out := &runner.Request{
		Agent:          models.Agent{ID: req.AgentID},
		Version:        version,
		Input:          input,
		Metadata:       req.Metadata,
		Source:         models.SourceAPI,
		ConversationID: req.ConversationID,
		UseCache:       req.UseCache,
	}
	if out.Agent.ID == "" {
		out.Agent.ID = "default"
	}
	if req.Timeout > 0 {
		out.Timeout = time.Duration(req.Timeout * float64(time.Second))
	}

	fallback, err := parseFallback(req.UseFallback)
	if err != nil {
		return nil, err
	}
	out.Fallback = fallback
	if req.Provider != "" {
		// A pinned provider disables fallback.
		out.Fallback = &runner.Fallback{Never: true}
	}
	return out, nil
}

// validateOutputSchema rejects response_format schemas that providers could
// not be asked to honor.
func validateOutputSchema(schema json.RawMessage) error {
	if len(schema) == 0 {
		return apierr.New(apierr.CodeUnsupportedJSONSchema, "response_format.json_schema.schema is required")
	}
	if _, err := jsonschema.CompileString("response_format.json_schema", string(schema)); err != nil {
		return apierr.Wrap(err, apierr.CodeUnsupportedJSONSchema, "response_format schema does not compile")
	}
	return nil
}

// parseFallback reads use_fallback: "never", "auto" or a model id list.
func parseFallback(raw json.RawMessage) (*runner.Fallback, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "never":
			return &runner.Fallback{Never: true}, nil
		case "auto":
			return nil, nil
		default:
			return nil, apierr.BadRequest("use_fallback must be never, auto or a list of model ids")
		}
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, apierr.BadRequest("use_fallback must be never, auto or a list of model ids")
	}
	return &runner.Fallback{Models: ids}, nil
}

func convertMessages(in []chatMessage) ([]models.Message, error) {
	out := make([]models.Message, 0, len(in))
	for i := range in {
		converted, err := convertMessage(&in[i])
		if err != nil {
			return nil, apierr.BadRequest("messages[%d]: %s", i, err.Error())
		}
		out = append(out, *converted)
	}
	return out, nil
}

func convertMessage(m *chatMessage) (*models.Message, error) {
	role := models.Role(m.Role)
	switch m.Role {
	case "system", "developer":
		role = models.RoleSystem
	case "user", "assistant":
	case "tool":
		// Tool results ride on a user turn in the domain model.
		role = models.RoleUser
	default:
		return nil, apierr.BadRequest("unknown role %q", m.Role)
	}
	out := &models.Message{Role: role}

	if m.Role == "tool" {
		var result json.RawMessage
		var text string
		if err := json.Unmarshal(m.Content, &text); err == nil {
			result, _ = json.Marshal(text)
		} else {
			result = m.Content
		}
		out.Content = append(out.Content, models.ContentPart{
			ToolCallResult: &models.ToolCallResult{ID: m.ToolCallID, Result: result},
		})
		return out, nil
	}

	for _, call := range m.ToolCalls {
		out.Content = append(out.Content, models.ContentPart{
			ToolCallRequest: &models.ToolCallRequest{
				ID:        call.ID,
				ToolName:  call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			},
		})
	}

	if len(m.Content) == 0 {
		if len(out.Content) == 0 {
			return nil, apierr.BadRequest("message has no content")
		}
		return out, nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		if text != "" {
			out.Content = append(out.Content, models.ContentPart{Text: text})
		}
		if len(out.Content) == 0 {
			return nil, apierr.BadRequest("message has no content")
		}
		return out, nil
	}

	var parts []chatContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return nil, apierr.BadRequest("content must be a string or a part list")
	}
	for _, part := range parts {
		switch part.Type {
		case "text":
			out.Content = append(out.Content, models.ContentPart{Text: part.Text})
		case "image_url":
			if part.ImageURL == nil {
				return nil, apierr.BadRequest("image_url part without a url")
			}
			file := &models.File{URL: part.ImageURL.URL}
			if err := file.Sanitize(); err != nil {
				return nil, err
			}
			out.Content = append(out.Content, models.ContentPart{File: file})
		case "input_audio":
			if part.InputAudio == nil {
				return nil, apierr.BadRequest("input_audio part without data")
			}
			contentType := "audio/wav"
			if part.InputAudio.Format == "mp3" {
				contentType = "audio/mpeg"
			}
			out.Content = append(out.Content, models.ContentPart{
				File: &models.File{Data: part.InputAudio.Data, ContentType: contentType},
			})
		case "file":
			if part.File == nil || part.File.FileData == "" {
				return nil, apierr.BadRequest("file part without file_data")
			}
			file := &models.File{URL: part.File.FileData}
			if !strings.HasPrefix(part.File.FileData, "data:") {
				file = &models.File{Data: part.File.FileData, ContentType: "application/pdf"}
			}
			if err := file.Sanitize(); err != nil {
				return nil, err
			}
			out.Content = append(out.Content, models.ContentPart{File: file})
		default:
			return nil, apierr.BadRequest("unsupported content part type %q", part.Type)
		}
	}
	if len(out.Content) == 0 {
		return nil, apierr.BadRequest("message has no content")
	}
	return out, nil
}

// chatCompletionResponse is the OpenAI response shape plus enrichments.
type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`

	VersionID string `json:"version_id,omitempty"`
	URL       string `json:"url,omitempty"`
}

type chatChoice struct {
	Index        int              `json:"index"`
	Message      *responseMessage `json:"message,omitempty"`
	Delta        *responseMessage `json:"delta,omitempty"`
	FinishReason *string          `json:"finish_reason"`

	CostUSD         float64 `json:"cost_usd,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type responseMessage struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	Reasoning string         `json:"reasoning_content,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// toChatResponse maps a finished completion onto the OpenAI wire shape.
func (s *Server) toChatResponse(completion *models.AgentCompletion) *chatCompletionResponse {
	message := &responseMessage{Role: "assistant"}
	for i := range completion.AgentOutput.Messages {
		msg := &completion.AgentOutput.Messages[i]
		message.Content += msg.Text()
		for call := range msg.ToolCallRequests() {
			message.ToolCalls = append(message.ToolCalls, toWireToolCall(call))
		}
		for j := range msg.Content {
			message.Reasoning += msg.Content[j].Reasoning
		}
	}

	finish := "stop"
	if len(message.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	response := &chatCompletionResponse{
		ID:      completion.ID,
		Object:  "chat.completion",
		Created: completion.CreatedAt().Unix(),
		Model:   completion.Version.Model,
		Choices: []chatChoice{{
			Message:         message,
			FinishReason:    &finish,
			CostUSD:         completion.CostUSD,
			DurationSeconds: completion.DurationSeconds,
		}},
		VersionID: completion.Version.ID,
		URL:       s.completionURL(completion.ID),
	}
	if usage := totalUsage(completion.Traces); usage != nil {
		response.Usage = usage
	}
	return response
}

func toWireToolCall(call *models.ToolCallRequest) chatToolCall {
	out := chatToolCall{ID: call.ID, Type: "function"}
	out.Function.Name = call.ToolName
	out.Function.Arguments = string(call.Arguments)
	return out
}

func totalUsage(traces []models.Trace) *chatUsage {
	var usage chatUsage
	found := false
	for _, t := range traces {
		if t.Kind != models.TraceKindLLM || t.LLM == nil {
			continue
		}
		u := t.LLM.Usage
		if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.ReasoningTokens == 0 {
			continue
		}
		found = true
		usage.PromptTokens += int(u.PromptTokens)
		usage.CompletionTokens += int(u.CompletionTokens + u.ReasoningTokens)
	}
	if !found {
		return nil
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &usage
}
