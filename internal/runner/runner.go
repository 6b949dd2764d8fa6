// Package runner executes completions: it renders the prompt, resolves the
// provider, materializes files, calls the model with fallback, aggregates the
// stream and assembles the stored completion record.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/internal/provider"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const (
	// defaultWallBudget bounds one completion end to end, across fallback
	// attempts and tool iterations.
	defaultWallBudget = 240 * time.Second

	// maxToolCallIterations bounds the hosted-tool loop within one attempt.
	maxToolCallIterations = 10

	// cacheLookupTimeout bounds the auto-cache read; a slow cache must not
	// delay the provider call.
	cacheLookupTimeout = 150 * time.Millisecond
)

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anotherai",
		Subsystem: "runner",
		Name:      "completions_total",
		Help:      "Completions by provider, model and outcome.",
	}, []string{"provider", "model", "outcome"})

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "anotherai",
		Subsystem: "runner",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of one provider attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"provider", "model"})
)

// CompletionCache serves previously stored completions by (version id,
// input id). Implementations are tenant-scoped.
type CompletionCache interface {
	CachedCompletion(ctx context.Context, versionID, inputID string) (*models.AgentCompletion, error)
}

// ToolExecutor runs hosted tools server-side. Calls to tools it does not
// handle are returned to the API caller instead.
type ToolExecutor interface {
	Handles(name string) bool
	Execute(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
}

// Emitter receives outward chunks during a streamed completion.
type Emitter func(*models.RunnerOutputChunk) error

// Runner executes completion requests. Safe for concurrent use.
type Runner struct {
	registry *provider.Registry
	client   *http.Client
	cache    CompletionCache
	tools    ToolExecutor
	log      *slog.Logger
}

// New builds a runner. cache and tools may be nil.
func New(registry *provider.Registry, client *http.Client, cache CompletionCache, tools ToolExecutor, log *slog.Logger) *Runner {
	if client == nil {
		client = &http.Client{Timeout: defaultWallBudget}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{registry: registry, client: client, cache: cache, tools: tools, log: log}
}

// Request is one completion to execute.
type Request struct {
	Agent          models.Agent
	Version        models.Version
	Input          models.AgentInput
	Metadata       map[string]string
	Source         models.CompletionSource
	ConversationID string

	// UseCache is "auto" (default: hit when the version is deterministic),
	// "always" or "never".
	UseCache string

	// Fallback configures model fallback; nil means automatic.
	Fallback *Fallback

	// Timeout overrides the default wall budget when positive.
	Timeout time.Duration
}

// Run executes the request without streaming.
func (r *Runner) Run(ctx context.Context, req *Request) (*models.AgentCompletion, error) {
	return r.execute(ctx, req, nil)
}

// Stream executes the request, emitting chunks as they arrive. The last
// emitted chunk carries the assembled completion in FinalChunk; Stream also
// returns it.
func (r *Runner) Stream(ctx context.Context, req *Request, emit Emitter) (*models.AgentCompletion, error) {
	return r.execute(ctx, req, emit)
}

func (r *Runner) execute(ctx context.Context, req *Request, emit Emitter) (*models.AgentCompletion, error) {
	start := time.Now()
	budget := req.Timeout
	if budget <= 0 {
		budget = defaultWallBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	version := req.Version
	version.AssignID()
	input := req.Input
	input.AssignID()
	input.AssignPreview()

	completion := &models.AgentCompletion{
		ID:             models.NewID(),
		Agent:          req.Agent,
		AgentInput:     input,
		Version:        version,
		Metadata:       req.Metadata,
		Source:         req.Source,
		Stream:         emit != nil,
		ConversationID: req.ConversationID,
		Status:         models.CompletionStatusInProgress,
	}

	if cached := r.lookupCache(ctx, req, &version, &input); cached != nil {
		return cached, nil
	}

	messages, err := buildMessages(&version, &input)
	if err != nil {
		return r.fail(completion, start, err), err
	}
	completion.Messages = messages

	candidates := append([]string{version.Model}, fallbackModels(version.Model, req.Fallback)...)
	var lastErr error
	for i, model := range candidates {
		p, ok := r.resolveProvider(model, version.Provider, i == 0)
		if !ok {
			lastErr = provider.NewError(provider.KindMissingModel, version.Provider, model, "no provider serves this model")
			continue
		}
		produced, attemptErr := r.attemptModel(ctx, p, model, messages, &version, completion, emit)
		if attemptErr == nil {
			completion.AgentOutput = models.AgentOutput{Messages: produced}
			completion.AgentOutput.AssignID()
			completion.AgentOutput.AssignPreview()
			completion.Status = models.CompletionStatusSuccess
			completion.DurationSeconds = time.Since(start).Seconds()
			completion.CostUSD = totalTraceCost(completion.Traces)
			completionsTotal.WithLabelValues(p.Name(), model, "success").Inc()
			if emit != nil {
				if err := emit(&models.RunnerOutputChunk{FinalChunk: completion}); err != nil {
					return completion, err
				}
			}
			return completion, nil
		}
		lastErr = attemptErr
		completionsTotal.WithLabelValues(p.Name(), model, "failure").Inc()
		if !isRecoverable(attemptErr) {
			r.log.Warn("completion attempt failed",
				"provider", p.Name(), "model", model, "recoverable", false, "error", attemptErr)
			break
		}
		r.log.Warn("completion attempt failed, falling back",
			"provider", p.Name(), "model", model, "remaining", len(candidates)-i-1, "error", attemptErr)
		if ctx.Err() != nil {
			break
		}
	}
	return r.fail(completion, start, lastErr), lastErr
}

// resolveProvider picks the adapter: an explicit version provider binds the
// first attempt only; fallback models route through the catalog.
func (r *Runner) resolveProvider(model, explicit string, primary bool) (provider.Provider, bool) {
	if primary && explicit != "" {
		p, ok := r.registry.Get(explicit)
		if ok && p.SupportsModel(model) {
			return p, true
		}
		return nil, false
	}
	return r.registry.ForModel(model)
}

func (r *Runner) fail(completion *models.AgentCompletion, start time.Time, err error) *models.AgentCompletion {
	message := "completion failed"
	if err != nil {
		message = err.Error()
	}
	completion.AgentOutput = models.AgentOutput{Error: message}
	completion.AgentOutput.AssignID()
	completion.AgentOutput.AssignPreview()
	completion.Status = models.CompletionStatusFailure
	completion.DurationSeconds = time.Since(start).Seconds()
	completion.CostUSD = totalTraceCost(completion.Traces)
	return completion
}

func (r *Runner) lookupCache(ctx context.Context, req *Request, version *models.Version, input *models.AgentInput) *models.AgentCompletion {
	if r.cache == nil || req.UseCache == "never" {
		return nil
	}
	if req.UseCache != "always" && !version.ShouldUseAutoCache() {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, cacheLookupTimeout)
	defer cancel()
	hit, err := r.cache.CachedCompletion(cctx, version.ID, input.ID)
	if err != nil {
		r.log.Debug("cache lookup failed", "version_id", version.ID, "error", err)
		return nil
	}
	if hit == nil {
		return nil
	}
	hit.FromCache = true
	return hit
}

func totalTraceCost(traces []models.Trace) float64 {
	var total float64
	for _, t := range traces {
		switch t.Kind {
		case models.TraceKindLLM:
			total += t.LLM.CostUSD
		case models.TraceKindTool:
			total += t.Tool.CostUSD
		}
	}
	return total
}

// buildOptions maps version parameters onto provider options for a specific
// model, which may be a fallback rather than the version's own.
func buildOptions(version *models.Version, model string, data *modelcatalog.ModelData) provider.Options {
	return provider.Options{
		Model:                   model,
		ModelData:               data,
		Temperature:             version.Temperature,
		TopP:                    version.TopP,
		MaxOutputTokens:         version.MaxOutputTokens,
		PresencePenalty:         version.PresencePenalty,
		FrequencyPenalty:        version.FrequencyPenalty,
		ToolChoice:              version.ToolChoice,
		Tools:                   allTools(version),
		ParallelToolCalls:       version.ParallelToolCalls,
		ReasoningEffort:         version.ReasoningEffort,
		ReasoningBudget:         version.ReasoningBudget,
		OutputSchema:            version.OutputSchema,
		UseStructuredGeneration: version.UseStructuredGeneration,
	}
}

// allTools merges caller-defined tools with enabled hosted builtins.
func allTools(version *models.Version) []models.Tool {
	tools := make([]models.Tool, 0, len(version.Tools)+len(version.EnabledTools))
	tools = append(tools, version.Tools...)
	for _, name := range version.EnabledTools {
		tools = append(tools, models.Tool{Name: name})
	}
	return tools
}
