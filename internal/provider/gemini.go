package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiRequest struct {
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Contents          []geminiContent   `json:"contents"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
	Tools             []geminiToolDecls `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	InlineData       *geminiBlob     `json:"inlineData,omitempty"`
	FunctionCall     *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResp `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFuncResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type geminiGenConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	ThinkingConfig   *geminiThinking `json:"thinkingConfig,omitempty"`
}

type geminiThinking struct {
	ThinkingBudget  int  `json:"thinkingBudget,omitempty"`
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

type geminiToolDecls struct {
	FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
}

type geminiFuncDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode string `json:"mode"`
	} `json:"functionCallingConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      *geminiContent `json:"content"`
		FinishReason string         `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiUsage struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

// Gemini is the adapter for the Google generative language API.
type Gemini struct {
	base
}

// NewGemini builds the Gemini adapter.
func NewGemini(apiKey string) *Gemini {
	return &Gemini{base: base{
		name:    "gemini",
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		errorTable: []errorPattern{
			pattern(`(?i)API_KEY_INVALID|API key not valid`, KindInvalidProviderConfig),
			pattern(`(?i)RESOURCE_EXHAUSTED`, KindRateLimit),
			pattern(`(?i)exceeds the maximum number of tokens`, KindMaxTokensExceeded),
		},
	}}
}

func (p *Gemini) DefaultModel() string { return "gemini-2.5-flash" }

func (p *Gemini) SupportsModel(model string) bool {
	if data, ok := modelcatalog.Get(model); ok {
		return data.Provider == p.name
	}
	return strings.HasPrefix(model, "gemini-")
}

func (p *Gemini) RequestURL(model string, stream bool) (string, error) {
	if stream {
		return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model), nil
	}
	return fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model), nil
}

func (p *Gemini) RequestHeaders(body []byte, url, model string) (http.Header, error) {
	if p.apiKey == "" {
		return nil, p.invalidConfig("api key is not configured")
	}
	h := http.Header{}
	h.Set("x-goog-api-key", p.apiKey)
	h.Set("Content-Type", "application/json")
	return h, nil
}

// RequiresDownloadingFile is always true: content rides inline.
func (p *Gemini) RequiresDownloadingFile(f *models.File, model string) bool { return true }

func (p *Gemini) IsStreamable(model string, hasTools bool) bool { return true }

func (p *Gemini) ComputePromptTokenCount(messages []models.Message, model string) (float64, error) {
	return promptTokenCount(messages, p.name, model)
}

func (p *Gemini) BuildRequest(messages []models.Message, opts Options, stream bool) (any, error) {
	req := &geminiRequest{}
	var system []geminiPart
	for i := range messages {
		m := &messages[i]
		if m.Role == models.RoleSystem {
			if t := m.Text(); t != "" {
				system = append(system, geminiPart{Text: t})
			}
			continue
		}
		content, err := p.convertMessage(m)
		if err != nil {
			return nil, err
		}
		if content != nil {
			req.Contents = append(req.Contents, *content)
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: system}
	}

	cfg := &geminiGenConfig{Temperature: opts.Temperature, TopP: opts.TopP}
	if opts.MaxOutputTokens != nil || opts.ReasoningBudget != nil {
		cfg.MaxOutputTokens = opts.EffectiveMaxTokens()
	}
	if opts.ReasoningBudget != nil && *opts.ReasoningBudget > 0 {
		cfg.ThinkingConfig = &geminiThinking{ThinkingBudget: *opts.ReasoningBudget, IncludeThoughts: true}
	}
	if len(opts.OutputSchema) > 0 {
		cfg.ResponseMimeType = "application/json"
		if opts.UseStructuredGeneration {
			cfg.ResponseSchema = sanitizeGeminiSchema(opts.OutputSchema)
		}
	}
	req.GenerationConfig = cfg

	if len(opts.Tools) > 0 {
		decls := geminiToolDecls{}
		for _, tool := range opts.Tools {
			decls.FunctionDeclarations = append(decls.FunctionDeclarations, geminiFuncDecl{
				Name:        NativeToolName(tool.Name),
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			})
		}
		req.Tools = []geminiToolDecls{decls}
		if opts.ToolChoice != "" {
			tc := &geminiToolConfig{}
			switch opts.ToolChoice {
			case models.ToolChoiceNone:
				tc.FunctionCallingConfig.Mode = "NONE"
			case models.ToolChoiceRequired:
				tc.FunctionCallingConfig.Mode = "ANY"
			default:
				tc.FunctionCallingConfig.Mode = "AUTO"
			}
			req.ToolConfig = tc
		}
	}
	return req, nil
}

// sanitizeGeminiSchema strips JSON-schema keywords the API rejects.
func sanitizeGeminiSchema(schema json.RawMessage) json.RawMessage {
	var decoded any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return schema
	}
	cleaned := stripSchemaKeys(decoded, map[string]bool{
		"additionalProperties": true,
		"$schema":              true,
		"$defs":                true,
	})
	out, err := json.Marshal(cleaned)
	if err != nil {
		return schema
	}
	return out
}

func stripSchemaKeys(v any, banned map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if banned[k] {
				continue
			}
			out[k] = stripSchemaKeys(item, banned)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = stripSchemaKeys(item, banned)
		}
		return out
	}
	return v
}

func (p *Gemini) convertMessage(m *models.Message) (*geminiContent, error) {
	role := "user"
	if m.Role == models.RoleAssistant {
		role = "model"
	}
	out := geminiContent{Role: role}
	for i := range m.Content {
		part := &m.Content[i]
		switch {
		case part.Text != "":
			out.Parts = append(out.Parts, geminiPart{Text: part.Text})
		case len(part.Object) > 0:
			out.Parts = append(out.Parts, geminiPart{Text: string(part.Object)})
		case part.Reasoning != "":
			// Dropped on replay.
		case part.File != nil:
			if !part.File.HasData() {
				return nil, &models.InvalidFileError{URL: part.File.URL, Reason: "gemini requires downloaded file data"}
			}
			out.Parts = append(out.Parts, geminiPart{InlineData: &geminiBlob{
				MimeType: part.File.ContentType,
				Data:     part.File.Data,
			}})
		case part.ToolCallRequest != nil:
			out.Parts = append(out.Parts, geminiPart{FunctionCall: &geminiFuncCall{
				Name: NativeToolName(part.ToolCallRequest.ToolName),
				Args: part.ToolCallRequest.Arguments,
			}})
		case part.ToolCallResult != nil:
			response := part.ToolCallResult.Result
			if part.ToolCallResult.Error != "" {
				encoded, _ := json.Marshal(map[string]string{"error": part.ToolCallResult.Error})
				response = encoded
			}
			out.Parts = append(out.Parts, geminiPart{FunctionResponse: &geminiFuncResp{
				Name:     NativeToolName(part.ToolCallResult.ToolName),
				Response: response,
			}})
		}
	}
	if len(out.Parts) == 0 {
		return nil, nil
	}
	return &out, nil
}

func (p *Gemini) ParseResponse(body []byte, opts Options) (*models.ParsedResponse, error) {
	return p.parse(body, opts)
}

func (p *Gemini) ParseStreamDelta(event []byte, opts Options) (*models.ParsedResponse, error) {
	return p.parse(event, opts)
}

// parse handles both unary bodies and stream events: the shapes match.
func (p *Gemini) parse(body []byte, opts Options) (*models.ParsedResponse, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, WrapErr(KindFailedGeneration, p.name, opts.Model, err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, NewError(KindContentModeration, p.name, opts.Model,
			"prompt blocked: "+resp.PromptFeedback.BlockReason)
	}
	parsed := &models.ParsedResponse{Usage: convertGeminiUsage(resp.UsageMetadata, opts.ModelData)}
	if len(resp.Candidates) == 0 {
		return parsed, nil
	}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				parsed.ToolCallRequests = append(parsed.ToolCallRequests, models.ToolCallRequestDelta{
					ToolName:  InternalToolName(part.FunctionCall.Name),
					Arguments: string(part.FunctionCall.Args),
				})
			case part.Thought:
				parsed.Reasoning += part.Text
			case part.Text != "":
				parsed.Delta += part.Text
			}
		}
	}
	switch candidate.FinishReason {
	case "STOP":
		parsed.FinishReason = models.FinishReasonStop
	case "MAX_TOKENS":
		parsed.FinishReason = models.FinishReasonMaxContext
	case "RECITATION":
		parsed.FinishReason = models.FinishReasonRecitation
	case "MALFORMED_FUNCTION_CALL":
		parsed.FinishReason = models.FinishReasonMalformedFunctionCall
	case "SAFETY", "PROHIBITED_CONTENT":
		return nil, NewError(KindContentModeration, p.name, opts.Model, "generation blocked: "+candidate.FinishReason)
	}
	return parsed, nil
}

func (p *Gemini) WrapError(status int, body []byte, model string) error {
	var envelope struct {
		Error *struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	message := ""
	code := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		message = envelope.Error.Message
		code = envelope.Error.Status
	}
	e := p.wrapHTTPError(status, body, model, message, "")
	e.Code = code
	if code == "RESOURCE_EXHAUSTED" {
		e.Kind = KindRateLimit
	}
	return e
}

func convertGeminiUsage(u *geminiUsage, data *modelcatalog.ModelData) *models.LLMUsage {
	if u == nil {
		return nil
	}
	usage := &models.LLMUsage{
		PromptTokens:       float64(u.PromptTokenCount),
		CachedPromptTokens: float64(u.CachedContentTokenCount),
		CompletionTokens:   float64(u.CandidatesTokenCount),
		ReasoningTokens:    float64(u.ThoughtsTokenCount),
	}
	if data != nil {
		usage.ModelContextWindow = data.ContextWindow
		usage.ModelMaxOutputTokens = data.MaxOutputTokens
	}
	return usage
}
