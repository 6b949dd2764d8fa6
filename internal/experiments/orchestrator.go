// Package experiments orchestrates matrix experiments: a set of versions
// crossed with a set of inputs, each tuple run once and compared.
package experiments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/events"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/internal/templates"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const defaultPollInterval = 5 * time.Second

// Orchestrator drives the experiment lifecycle. Completions are produced
// asynchronously by completion_request handlers; the orchestrator only
// schedules tuples and assembles results.
type Orchestrator struct {
	store     storage.ExperimentStore
	agents    storage.AgentStore
	analytics storage.Analytics
	router    *events.Router
	log       *slog.Logger

	pollInterval time.Duration
}

// New creates an orchestrator on the given stores and event router.
func New(store storage.ExperimentStore, agents storage.AgentStore, analytics storage.Analytics, router *events.Router, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:        store,
		agents:       agents,
		analytics:    analytics,
		router:       router,
		log:          log.With("component", "experiments"),
		pollInterval: defaultPollInterval,
	}
}

// Create persists a new experiment. A caller-supplied id must be unique;
// without one a UUIDv7 is generated.
func (o *Orchestrator) Create(ctx context.Context, tenantUID string, exp *models.Experiment) error {
	if exp.AgentID == "" {
		return apierr.BadRequest("experiment requires an agent_id")
	}
	if exp.ID == "" {
		exp.ID = models.NewID()
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
	if _, err := o.agents.GetOrCreate(ctx, tenantUID, exp.AgentID); err != nil {
		return fmt.Errorf("ensure agent: %w", err)
	}
	if err := o.store.Create(ctx, tenantUID, exp); err != nil {
		if err == storage.ErrAlreadyExists {
			return apierr.New(apierr.CodeDuplicateValue, "experiment %q already exists", exp.ID)
		}
		return fmt.Errorf("create experiment: %w", err)
	}
	o.mirrorToAnalytics(ctx, tenantUID, exp)
	return nil
}

// AddInputs appends inputs to the experiment, deduplicating by content
// hash. It returns the full ordered id list and the subset that is new;
// only new ids should be scheduled.
func (o *Orchestrator) AddInputs(ctx context.Context, tenantUID, expID string, inputs []models.AgentInput) (all, added []string, err error) {
	exp, err := o.get(ctx, tenantUID, expID)
	if err != nil {
		return nil, nil, err
	}
	for i := range inputs {
		input := inputs[i]
		input.AssignID()
		input.AssignPreview()
		if exp.HasInput(input.ID) {
			continue
		}
		exp.Inputs = append(exp.Inputs, input)
		added = append(added, input.ID)
	}
	if len(added) > 0 {
		if err := o.store.Update(ctx, tenantUID, exp); err != nil {
			return nil, nil, fmt.Errorf("update experiment inputs: %w", err)
		}
		o.mirrorToAnalytics(ctx, tenantUID, exp)
	}
	for i := range exp.Inputs {
		all = append(all, exp.Inputs[i].ID)
	}
	return all, added, nil
}

// AddVersions materializes one version per override by deep-merging onto
// the base version, then appends the versions that are new. Without
// overrides the base version itself is added.
func (o *Orchestrator) AddVersions(ctx context.Context, tenantUID, expID string, base models.Version, overrides []map[string]any) (all, added []string, err error) {
	if len(base.Prompt) == 0 {
		return nil, nil, apierr.BadRequest("experiment versions require an explicit prompt")
	}
	versions, err := materializeVersions(base, overrides)
	if err != nil {
		return nil, nil, err
	}

	exp, err := o.get(ctx, tenantUID, expID)
	if err != nil {
		return nil, nil, err
	}
	for i := range versions {
		if exp.HasVersion(versions[i].ID) {
			continue
		}
		exp.Versions = append(exp.Versions, versions[i])
		added = append(added, versions[i].ID)
	}
	if len(added) > 0 {
		if err := o.store.Update(ctx, tenantUID, exp); err != nil {
			return nil, nil, fmt.Errorf("update experiment versions: %w", err)
		}
		o.mirrorToAnalytics(ctx, tenantUID, exp)
	}
	for i := range exp.Versions {
		all = append(all, exp.Versions[i].ID)
	}
	return all, added, nil
}

// materializeVersions builds the concrete version set. Override keys must
// exist on the version schema.
func materializeVersions(base models.Version, overrides []map[string]any) ([]models.Version, error) {
	if err := assignVariablesSchema(&base); err != nil {
		return nil, err
	}
	base.AssignID()
	if len(overrides) == 0 {
		return []models.Version{base}, nil
	}
	valid := models.VersionFieldNames()
	out := make([]models.Version, 0, len(overrides))
	for _, override := range overrides {
		for key := range override {
			if !valid[key] {
				return nil, apierr.BadRequest("unknown version field %q in override", key)
			}
		}
		merged, err := mergeVersion(base, override)
		if err != nil {
			return nil, err
		}
		if err := assignVariablesSchema(&merged); err != nil {
			return nil, err
		}
		merged.AssignID()
		out = append(out, merged)
	}
	return out, nil
}

// assignVariablesSchema derives the version's input schema from its prompt,
// keeping authored constraints. It must run before the id is assigned.
func assignVariablesSchema(v *models.Version) error {
	schema, err := templates.ExtractPromptSchema(v.Prompt, v.InputVariablesSchema)
	if err != nil {
		return apierr.Wrap(err, apierr.CodeBadRequest, "invalid prompt template")
	}
	v.InputVariablesSchema = schema
	return nil
}

// mergeVersion deep-merges the override onto the base version through its
// JSON form, so nested objects merge key by key.
func mergeVersion(base models.Version, override map[string]any) (models.Version, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return models.Version{}, fmt.Errorf("encode version: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return models.Version{}, fmt.Errorf("decode version: %w", err)
	}
	delete(tree, "id")
	deepMerge(tree, override)

	raw, err = json.Marshal(tree)
	if err != nil {
		return models.Version{}, fmt.Errorf("encode merged version: %w", err)
	}
	var merged models.Version
	if err := json.Unmarshal(raw, &merged); err != nil {
		return models.Version{}, apierr.Wrap(err, apierr.CodeBadRequest, "version override does not match the version schema")
	}
	return merged, nil
}

func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if sub, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				deepMerge(existing, sub)
				continue
			}
		}
		dst[key] = value
	}
}

// StartCompletions schedules one completion_request event per tuple of the
// given versions crossed with the given inputs. Ids must already be part
// of the experiment.
func (o *Orchestrator) StartCompletions(ctx context.Context, tenantUID, expID string, versionIDs, inputIDs []string) (int, error) {
	exp, err := o.get(ctx, tenantUID, expID)
	if err != nil {
		return 0, err
	}
	for _, id := range versionIDs {
		if !exp.HasVersion(id) {
			return 0, apierr.BadRequest("version %q is not part of experiment %q", id, expID)
		}
	}
	for _, id := range inputIDs {
		if !exp.HasInput(id) {
			return 0, apierr.BadRequest("input %q is not part of experiment %q", id, expID)
		}
	}

	router := o.router.ForTenant(tenantUID)
	scheduled := 0
	for _, versionID := range versionIDs {
		for _, inputID := range inputIDs {
			event, err := events.NewEvent(events.TypeCompletionRequest, events.CompletionRequestPayload{
				ExperimentID: expID,
				AgentID:      exp.AgentID,
				VersionID:    versionID,
				InputID:      inputID,
			})
			if err != nil {
				return scheduled, fmt.Errorf("encode completion request: %w", err)
			}
			router.Route(ctx, event, 0)
			scheduled++
		}
	}
	return scheduled, nil
}

// Wait polls until every completion of the selected cross-product has
// finished or maxWait elapses. On timeout the partial experiment is
// returned without error, together with the canonical result query.
func (o *Orchestrator) Wait(ctx context.Context, tenantUID, expID string, versionIDs, inputIDs []string, maxWait time.Duration) (*models.Experiment, string, error) {
	deadline := time.Now().Add(maxWait)
	for {
		exp, err := o.Get(ctx, tenantUID, expID, versionIDs, inputIDs)
		if err != nil {
			return nil, "", err
		}
		if experimentSettled(exp) {
			return exp, ResultQuery(exp), nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return exp, ResultQuery(exp), nil
		}
		wait := o.pollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return exp, ResultQuery(exp), ctx.Err()
		}
	}
}

// experimentSettled reports whether every tuple has a finished completion.
func experimentSettled(exp *models.Experiment) bool {
	expected := len(exp.Versions) * len(exp.Inputs)
	if expected == 0 {
		return true
	}
	done := map[string]bool{}
	for i := range exp.Completions {
		c := &exp.Completions[i]
		if c.Status == models.CompletionStatusInProgress {
			continue
		}
		done[c.Version.ID+"\x00"+c.AgentInput.ID] = true
	}
	return len(done) >= expected
}

// ResultQuery is the canonical SQL over the experiment's completions.
func ResultQuery(exp *models.Experiment) string {
	if len(exp.RunIDs) == 0 {
		return ""
	}
	quoted := make([]string, len(exp.RunIDs))
	for i, id := range exp.RunIDs {
		quoted[i] = "'" + strings.ReplaceAll(id, "'", "") + "'"
	}
	return fmt.Sprintf(
		"SELECT id, version_id, input_preview, output_preview, duration_seconds, cost_usd FROM completions WHERE id IN (%s) ORDER BY created_at DESC",
		strings.Join(quoted, ", "))
}

// Get returns the experiment with completions and annotations attached.
// Non-empty versionIDs/inputIDs narrow the nested sets and completions to
// the selection.
func (o *Orchestrator) Get(ctx context.Context, tenantUID, expID string, versionIDs, inputIDs []string) (*models.Experiment, error) {
	exp, err := o.get(ctx, tenantUID, expID)
	if err != nil {
		return nil, err
	}
	if len(versionIDs) > 0 {
		exp.Versions = slices.DeleteFunc(exp.Versions, func(v models.Version) bool {
			return !slices.Contains(versionIDs, v.ID)
		})
	}
	if len(inputIDs) > 0 {
		exp.Inputs = slices.DeleteFunc(exp.Inputs, func(in models.AgentInput) bool {
			return !slices.Contains(inputIDs, in.ID)
		})
	}

	if len(exp.RunIDs) > 0 {
		completions, err := o.analytics.CompletionsByIDs(ctx, tenantUID, exp.RunIDs, false)
		if err != nil {
			return nil, fmt.Errorf("fetch experiment completions: %w", err)
		}
		exp.Completions = filterCompletions(completions, exp)
	}

	annotations, err := o.experimentAnnotations(ctx, tenantUID, exp)
	if err != nil {
		return nil, err
	}
	exp.Annotations = annotations
	return exp, nil
}

// experimentAnnotations collects annotations targeting the experiment
// itself and annotations targeting any of its runs.
func (o *Orchestrator) experimentAnnotations(ctx context.Context, tenantUID string, exp *models.Experiment) ([]models.Annotation, error) {
	annotations, err := o.analytics.Annotations(ctx, tenantUID, storage.AnnotationFilter{ExperimentID: exp.ID})
	if err != nil {
		return nil, fmt.Errorf("fetch experiment annotations: %w", err)
	}
	if len(exp.RunIDs) == 0 {
		return annotations, nil
	}
	onRuns, err := o.analytics.Annotations(ctx, tenantUID, storage.AnnotationFilter{CompletionIDs: exp.RunIDs})
	if err != nil {
		return nil, fmt.Errorf("fetch run annotations: %w", err)
	}
	seen := map[string]bool{}
	for i := range annotations {
		seen[annotations[i].ID] = true
	}
	for i := range onRuns {
		if !seen[onRuns[i].ID] {
			annotations = append(annotations, onRuns[i])
		}
	}
	return annotations, nil
}

// List returns a page of the tenant's experiments, newest first.
func (o *Orchestrator) List(ctx context.Context, tenantUID, agentID string, limit, offset int) ([]models.Experiment, int, error) {
	return o.store.List(ctx, tenantUID, agentID, limit, offset)
}

// AddRunID attaches a finished completion to the experiment.
func (o *Orchestrator) AddRunID(ctx context.Context, tenantUID, expID, runID string) error {
	if err := o.store.AddRunID(ctx, tenantUID, expID, runID); err != nil {
		if err == storage.ErrNotFound {
			return apierr.NotFound("experiment %q not found", expID)
		}
		return fmt.Errorf("attach run to experiment: %w", err)
	}
	return nil
}

// filterCompletions keeps completions belonging to the selected versions
// and inputs, in run id order.
func filterCompletions(completions []models.AgentCompletion, exp *models.Experiment) []models.AgentCompletion {
	out := completions[:0]
	for i := range completions {
		c := completions[i]
		if len(exp.Versions) > 0 && !exp.HasVersion(c.Version.ID) {
			continue
		}
		if len(exp.Inputs) > 0 && !exp.HasInput(c.AgentInput.ID) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) get(ctx context.Context, tenantUID, expID string) (*models.Experiment, error) {
	exp, err := o.store.Get(ctx, tenantUID, expID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apierr.NotFound("experiment %q not found", expID)
		}
		return nil, fmt.Errorf("fetch experiment: %w", err)
	}
	return exp, nil
}

// mirrorToAnalytics keeps the analytics experiments table queryable via
// raw SQL. Failures never fail the relational write.
func (o *Orchestrator) mirrorToAnalytics(ctx context.Context, tenantUID string, exp *models.Experiment) {
	if err := o.analytics.StoreExperiment(ctx, tenantUID, exp); err != nil {
		o.log.Warn("mirroring experiment to analytics", "experiment_id", exp.ID, "error", err)
	}
}
