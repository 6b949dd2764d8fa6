package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/internal/provider"
	"github.com/anotherai-dev/anotherai/internal/streaming"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const maxErrorBody = 1 << 20

// attemptModel runs the full loop for one model: file preparation, the
// provider call, and hosted-tool iterations. Every provider call appends an
// LLM trace to the completion; hosted tool runs append tool traces.
func (r *Runner) attemptModel(
	ctx context.Context,
	p provider.Provider,
	model string,
	messages []models.Message,
	version *models.Version,
	completion *models.AgentCompletion,
	emit Emitter,
) ([]models.Message, error) {
	data, _ := modelcatalog.Get(model)
	if data != nil {
		sanitized := *data
		p.SanitizeModelData(&sanitized)
		data = &sanitized
	}
	opts := buildOptions(version, model, data)

	if models.MessagesHaveFiles(messages) {
		if err := sanitizeFiles(messages); err != nil {
			return nil, err
		}
		if err := downloadFiles(ctx, r.client, planFiles(messages, p, model)); err != nil {
			return nil, err
		}
	}

	stream := emit != nil && p.IsStreamable(model, len(opts.Tools) > 0)

	conversation := append([]models.Message(nil), messages...)
	var produced []models.Message
	for iteration := 0; iteration < maxToolCallIterations; iteration++ {
		msg, _, err := r.callOnce(ctx, p, conversation, opts, stream, emit, data, completion)
		if err != nil {
			return nil, err
		}
		produced = append(produced, *msg)
		conversation = append(conversation, *msg)

		pending := hostedCalls(msg, r.tools)
		if len(pending) == 0 {
			return produced, nil
		}
		results, err := r.runHostedTools(ctx, pending, completion)
		if err != nil {
			return nil, err
		}
		produced = append(produced, *results)
		conversation = append(conversation, *results)
	}
	return nil, provider.NewError(provider.KindFailedGeneration, p.Name(), model,
		fmt.Sprintf("tool call iteration limit (%d) reached", maxToolCallIterations))
}

// hostedCalls returns the tool calls the runner can execute itself. Any call
// to a tool the executor does not handle makes the whole turn caller-facing.
func hostedCalls(msg *models.Message, tools ToolExecutor) []*models.ToolCallRequest {
	if tools == nil {
		return nil
	}
	var calls []*models.ToolCallRequest
	for call := range msg.ToolCallRequests() {
		if !provider.IsHostedTool(call.ToolName) || !tools.Handles(call.ToolName) {
			return nil
		}
		calls = append(calls, call)
	}
	return calls
}

func (r *Runner) runHostedTools(ctx context.Context, calls []*models.ToolCallRequest, completion *models.AgentCompletion) (*models.Message, error) {
	results := models.Message{Role: models.RoleUser}
	for _, call := range calls {
		start := time.Now()
		result := models.ToolCallResult{ID: call.ID, ToolName: call.ToolName}
		out, err := r.tools.Execute(ctx, call.ToolName, call.Arguments)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Result = out
		}
		completion.Traces = append(completion.Traces, models.NewToolTrace(models.ToolTrace{
			Name:              call.ToolName,
			ToolInputPreview:  models.ComputePreview(string(call.Arguments)),
			ToolOutputPreview: models.ComputePreview(string(out) + result.Error),
			DurationSeconds:   time.Since(start).Seconds(),
		}))
		results.Content = append(results.Content, models.ContentPart{ToolCallResult: &result})
	}
	return &results, nil
}

// callOnce performs one HTTP round trip against the provider and aggregates
// the response into an assistant message.
func (r *Runner) callOnce(
	ctx context.Context,
	p provider.Provider,
	messages []models.Message,
	opts provider.Options,
	stream bool,
	emit Emitter,
	data *modelcatalog.ModelData,
	completion *models.AgentCompletion,
) (*models.Message, *models.LLMUsage, error) {
	start := time.Now()
	agg := newAggregator(p, opts)

	built, err := p.BuildRequest(messages, opts, stream)
	if err != nil {
		return nil, nil, err
	}
	body, err := json.Marshal(built)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding request: %w", err)
	}
	url, err := p.RequestURL(opts.Model, stream)
	if err != nil {
		return nil, nil, err
	}
	headers, err := p.RequestHeaders(body, url, opts.Model)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header = headers

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("calling %s: %w", p.Name(), err)
	}
	defer resp.Body.Close()
	p.ObserveResponseHeaders(resp.Header)
	attemptDuration.WithLabelValues(p.Name(), opts.Model).Observe(time.Since(start).Seconds())

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		wrapped := p.WrapError(resp.StatusCode, raw, opts.Model)
		if pe, ok := provider.AsError(wrapped); ok && pe.RetryAfter == 0 {
			pe.RetryAfter = retryAfterHeader(resp.Header)
		}
		return nil, nil, wrapped
	}

	if stream {
		sse := p.WrapSSE(resp.Body)
		for {
			payload, ok := sse.Next()
			if !ok {
				break
			}
			parsed, err := p.ParseStreamDelta(payload, opts)
			if err != nil {
				return nil, nil, err
			}
			if err := emitChunk(agg, parsed, emit); err != nil {
				return nil, nil, err
			}
		}
		if err := sse.Err(); err != nil {
			return nil, nil, fmt.Errorf("reading stream from %s: %w", p.Name(), err)
		}
	} else {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("reading response from %s: %w", p.Name(), err)
		}
		parsed, err := p.ParseResponse(raw, opts)
		if err != nil {
			return nil, nil, err
		}
		if err := emitChunk(agg, parsed, emit); err != nil {
			return nil, nil, err
		}
	}

	msg, err := agg.Complete()
	if err != nil {
		return nil, nil, err
	}
	usage := r.resolveUsage(agg.Usage(), p, messages, opts, data)
	trace := models.LLMTrace{
		Model:           opts.Model,
		Provider:        p.Name(),
		DurationSeconds: time.Since(start).Seconds(),
	}
	if usage != nil {
		if data != nil {
			trace.CostUSD = usage.ComputeCost(data.Pricing)
		}
		trace.Usage = *usage
	}
	completion.Traces = append(completion.Traces, models.NewLLMTrace(trace))
	return msg, usage, nil
}

// resolveUsage falls back to a local token estimate when the provider
// reported nothing.
func (r *Runner) resolveUsage(usage *models.LLMUsage, p provider.Provider, messages []models.Message, opts provider.Options, data *modelcatalog.ModelData) *models.LLMUsage {
	if usage != nil {
		return usage
	}
	count, err := p.ComputePromptTokenCount(messages, opts.Model)
	if err != nil {
		r.log.Debug("prompt token estimate unavailable", "model", opts.Model, "error", err)
		return nil
	}
	estimated := &models.LLMUsage{PromptTokens: count}
	if data != nil {
		estimated.ModelContextWindow = data.ContextWindow
		estimated.ModelMaxOutputTokens = data.MaxOutputTokens
	}
	return estimated
}

func emitChunk(agg streaming.Aggregator, parsed *models.ParsedResponse, emit Emitter) error {
	chunk := agg.Add(parsed)
	if chunk == nil || emit == nil {
		return nil
	}
	return emit(chunk)
}

// newAggregator selects the stream aggregator: providers whose models emit
// inline <think> tags get the stripping variant.
func newAggregator(p provider.Provider, opts provider.Options) streaming.Aggregator {
	type thinkTagger interface{ EmitsInlineThinkTags() bool }
	if tagger, ok := p.(thinkTagger); ok && tagger.EmitsInlineThinkTags() {
		return streaming.NewThinkStripping(p.Name(), opts.Model)
	}
	return streaming.New(p.Name(), opts.Model)
}

func retryAfterHeader(h http.Header) time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
