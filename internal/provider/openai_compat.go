package provider

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// compat is an OpenAI-wire-format provider under a different roof. Groq,
// XAI, Mistral and Fireworks differ only in base URL, auth, defaults and
// quirk flags.
type compat struct {
	OpenAI
	requiresFileDownload bool
}

func newCompat(name, apiKey, baseURL, defaultModel string) *compat {
	p := &compat{}
	p.base = base{
		name:                    name,
		apiKey:                  apiKey,
		baseURL:                 baseURL,
		rateLimitHeaderPrefixes: []string{"x-ratelimit"},
	}
	p.defaultModel = defaultModel
	p.supportsReasoningEffort = false
	return p
}

func (p *compat) SupportsModel(model string) bool {
	data, ok := modelcatalog.Get(model)
	return ok && data.Provider == p.name
}

func (p *compat) RequiresDownloadingFile(f *models.File, model string) bool {
	if p.requiresFileDownload {
		return true
	}
	return !f.IsImage()
}

// NewGroq builds the Groq adapter.
func NewGroq(apiKey string) Provider {
	return newCompat("groq", apiKey, "https://api.groq.com/openai/v1", "llama-3.3-70b-versatile")
}

// NewXAI builds the XAI adapter.
func NewXAI(apiKey string) Provider {
	return newCompat("xai", apiKey, "https://api.x.ai/v1", "grok-3")
}

// NewMistral builds the Mistral adapter. Mistral has no remote-URL file
// support, so every file is downloaded.
func NewMistral(apiKey string) Provider {
	p := newCompat("mistral", apiKey, "https://api.mistral.ai/v1", "mistral-large-latest")
	p.requiresFileDownload = true
	return p
}

// Fireworks speaks the OpenAI format but streams open-source models that
// emit inline <think> tags; the runner selects the think-stripping
// aggregator for it.
type Fireworks struct {
	compat
}

// NewFireworks builds the Fireworks adapter.
func NewFireworks(apiKey string) *Fireworks {
	p := &Fireworks{}
	p.base = base{
		name:                    "fireworks",
		apiKey:                  apiKey,
		baseURL:                 "https://api.fireworks.ai/inference/v1",
		rateLimitHeaderPrefixes: []string{"x-ratelimit"},
	}
	p.defaultModel = "accounts/fireworks/models/llama4-maverick-instruct-basic"
	p.requiresFileDownload = true
	return p
}

// EmitsInlineThinkTags reports that stream text may carry <think> blocks.
func (p *Fireworks) EmitsInlineThinkTags() bool { return true }

// Azure serves OpenAI models behind deployment-scoped URLs with api-key
// auth. The deployment name is the model id with dots stripped, the Azure
// portal convention.
type Azure struct {
	compat
	endpoint   string
	apiVersion string
}

// NewAzure builds the Azure OpenAI adapter. endpoint is the resource URL,
// e.g. https://myresource.openai.azure.com.
func NewAzure(apiKey, endpoint string) *Azure {
	p := &Azure{endpoint: strings.TrimSuffix(endpoint, "/"), apiVersion: "2024-10-21"}
	p.base = base{
		name:                    "azure",
		apiKey:                  apiKey,
		rateLimitHeaderPrefixes: []string{"x-ratelimit"},
	}
	p.defaultModel = "gpt-4.1"
	return p
}

func (p *Azure) SupportsModel(model string) bool {
	// Azure hosts the OpenAI model family under customer deployments.
	return modelcatalog.IsOpenAIFamily(model)
}

func (p *Azure) RequestURL(model string, stream bool) (string, error) {
	if p.endpoint == "" {
		return "", p.invalidConfig("azure endpoint is not configured")
	}
	deployment := strings.ReplaceAll(model, ".", "")
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, deployment, p.apiVersion), nil
}

func (p *Azure) RequestHeaders(body []byte, url, model string) (http.Header, error) {
	if p.apiKey == "" {
		return nil, p.invalidConfig("api key is not configured")
	}
	h := http.Header{}
	h.Set("api-key", p.apiKey)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (p *Azure) BuildRequest(messages []models.Message, opts Options, stream bool) (any, error) {
	req, err := p.compat.BuildRequest(messages, opts, stream)
	if err != nil {
		return nil, err
	}
	// The deployment in the URL selects the model.
	if r, ok := req.(*openAIRequest); ok {
		r.Model = ""
	}
	return req, nil
}
