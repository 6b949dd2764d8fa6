// Package streaming aggregates provider stream chunks into the final
// assistant message. Unary responses fold through the same path as a
// one-chunk stream, so downstream code never branches on transport.
package streaming

import (
	"encoding/json"
	"strings"

	"github.com/anotherai-dev/anotherai/internal/provider"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// Aggregator folds ParsedResponse chunks into text, reasoning and tool-call
// buffers. Not safe for concurrent use; one aggregator per request attempt.
type Aggregator interface {
	// Add folds one chunk and returns the outward-facing chunk to stream to
	// the client, or nil when the chunk carried nothing visible.
	Add(parsed *models.ParsedResponse) *models.RunnerOutputChunk

	// Complete validates the accumulated state and assembles the assistant
	// message. Partial or invalid tool-call argument buffers fail with kind
	// invalid_generation.
	Complete() (*models.Message, error)

	// Usage returns the usage folded across all chunks.
	Usage() *models.LLMUsage

	// FinishReason returns the last finish reason seen.
	FinishReason() models.FinishReason
}

// Context is the plain aggregator.
type Context struct {
	providerName string
	model        string

	text      strings.Builder
	reasoning strings.Builder
	usage     models.LLMUsage
	hasUsage  bool
	finish    models.FinishReason

	toolCalls []*toolCallBuffer
}

// toolCallBuffer accumulates one tool call across fragments. Fragments are
// routed by index when present, then by id, then by name; keyless argument
// fragments append to the most recent buffer.
type toolCallBuffer struct {
	idx  *int
	id   string
	name string
	args strings.Builder
}

// New builds an aggregator for one attempt against the given provider.
func New(providerName, model string) *Context {
	return &Context{providerName: providerName, model: model}
}

func (c *Context) Add(parsed *models.ParsedResponse) *models.RunnerOutputChunk {
	if parsed == nil {
		return nil
	}
	c.text.WriteString(parsed.Delta)
	c.reasoning.WriteString(parsed.Reasoning)
	if parsed.Usage != nil {
		c.usage.Apply(*parsed.Usage)
		c.hasUsage = true
	}
	if parsed.FinishReason != "" {
		c.finish = parsed.FinishReason
	}
	for i := range parsed.ToolCallRequests {
		c.route(&parsed.ToolCallRequests[i])
	}
	out := &models.RunnerOutputChunk{
		Delta:            parsed.Delta,
		Reasoning:        parsed.Reasoning,
		ToolCallRequests: parsed.ToolCallRequests,
	}
	if out.Delta == "" && out.Reasoning == "" && len(out.ToolCallRequests) == 0 {
		return nil
	}
	return out
}

func (c *Context) route(delta *models.ToolCallRequestDelta) {
	buf := c.find(delta)
	if buf == nil {
		buf = &toolCallBuffer{idx: delta.Idx}
		c.toolCalls = append(c.toolCalls, buf)
	}
	if buf.id == "" {
		buf.id = delta.ID
	}
	if buf.name == "" {
		buf.name = delta.ToolName
	}
	if buf.idx == nil {
		buf.idx = delta.Idx
	}
	buf.args.WriteString(delta.Arguments)
}

func (c *Context) find(delta *models.ToolCallRequestDelta) *toolCallBuffer {
	if delta.Idx != nil {
		for _, buf := range c.toolCalls {
			if buf.idx != nil && *buf.idx == *delta.Idx {
				return buf
			}
		}
		return nil
	}
	if delta.ID != "" {
		for _, buf := range c.toolCalls {
			if buf.id == delta.ID {
				return buf
			}
		}
		return nil
	}
	if delta.ToolName != "" {
		for _, buf := range c.toolCalls {
			if buf.name == delta.ToolName {
				return buf
			}
		}
		return nil
	}
	// A keyless argument fragment continues the latest call.
	if len(c.toolCalls) > 0 {
		return c.toolCalls[len(c.toolCalls)-1]
	}
	return nil
}

func (c *Context) Complete() (*models.Message, error) {
	switch c.finish {
	case models.FinishReasonMaxContext:
		return nil, provider.NewError(provider.KindMaxTokensExceeded, c.providerName, c.model,
			"model context window exhausted before the response completed")
	case models.FinishReasonMalformedFunctionCall:
		return nil, provider.NewError(provider.KindInvalidGeneration, c.providerName, c.model,
			"model emitted a malformed function call")
	case models.FinishReasonRecitation:
		return nil, provider.NewError(provider.KindFailedGeneration, c.providerName, c.model,
			"generation stopped for recitation")
	}

	msg := &models.Message{Role: models.RoleAssistant}
	if c.reasoning.Len() > 0 {
		msg.Content = append(msg.Content, models.ContentPart{Reasoning: c.reasoning.String()})
	}
	if c.text.Len() > 0 {
		msg.Content = append(msg.Content, models.ContentPart{Text: c.text.String()})
	}
	for _, buf := range c.toolCalls {
		call, err := buf.finish(c.providerName, c.model)
		if err != nil {
			return nil, err
		}
		msg.Content = append(msg.Content, models.ContentPart{ToolCallRequest: call})
	}
	if len(msg.Content) == 0 {
		return nil, provider.NewError(provider.KindFailedGeneration, c.providerName, c.model,
			"stream ended with no content")
	}
	return msg, nil
}

func (b *toolCallBuffer) finish(providerName, model string) (*models.ToolCallRequest, error) {
	args := b.args.String()
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return nil, provider.NewError(provider.KindInvalidGeneration, providerName, model,
			"tool call arguments are not valid JSON").
			WithExtra("tool_name", b.name).
			WithExtra("raw_arguments", args)
	}
	return &models.ToolCallRequest{
		ID:        b.id,
		ToolName:  b.name,
		Arguments: json.RawMessage(args),
	}, nil
}

func (c *Context) Usage() *models.LLMUsage {
	if !c.hasUsage {
		return nil
	}
	u := c.usage
	return &u
}

func (c *Context) FinishReason() models.FinishReason { return c.finish }
