package experiments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/events"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const testTenant = "tenant-1"

type fixture struct {
	orchestrator *Orchestrator
	analytics    *storage.MemoryAnalytics
	broker       *events.MemoryBroker
	requests     chan events.CompletionRequestPayload
	cancel       context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := storage.NewMemoryStores()
	analytics := storage.NewMemoryAnalytics()
	broker := events.NewMemoryBroker()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := events.NewRouter(broker, log)

	requests := make(chan events.CompletionRequestPayload, 16)
	router.Register(events.TypeCompletionRequest, events.Handler{
		Name: "capture",
		Run: func(ctx context.Context, event events.Event) error {
			var payload events.CompletionRequestPayload
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				return err
			}
			requests <- payload
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = router.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		broker.Close()
	})

	orchestrator := New(stores.Experiments, stores.Agents, analytics, router, log)
	orchestrator.pollInterval = 5 * time.Millisecond
	return &fixture{
		orchestrator: orchestrator,
		analytics:    analytics,
		broker:       broker,
		requests:     requests,
		cancel:       cancel,
	}
}

func basePrompt() []models.Message {
	return []models.Message{models.NewTextMessage(models.RoleSystem, "Answer in one word.")}
}

func createExperiment(t *testing.T, f *fixture, id string) *models.Experiment {
	t.Helper()
	exp := &models.Experiment{ID: id, AgentID: "grader", Title: "prompt shootout"}
	if err := f.orchestrator.Create(context.Background(), testTenant, exp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return exp
}

func TestCreateExperiment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := createExperiment(t, f, "")
	if exp.ID == "" {
		t.Fatal("no id generated")
	}
	if exp.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	if err := f.orchestrator.Create(ctx, testTenant, &models.Experiment{AgentID: "grader"}); err != nil {
		t.Fatalf("second create: %v", err)
	}

	dup := &models.Experiment{ID: exp.ID, AgentID: "grader"}
	err := f.orchestrator.Create(ctx, testTenant, dup)
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeDuplicateValue {
		t.Fatalf("duplicate create err = %v", err)
	}

	if err := f.orchestrator.Create(ctx, testTenant, &models.Experiment{}); err == nil {
		t.Fatal("created an experiment without an agent_id")
	}
}

func TestAddInputsDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := createExperiment(t, f, "exp-inputs")

	inputs := []models.AgentInput{
		{Variables: json.RawMessage(`{"city":"Paris"}`)},
		{Variables: json.RawMessage(`{"city":"Lyon"}`)},
	}
	all, added, err := f.orchestrator.AddInputs(ctx, testTenant, exp.ID, inputs)
	if err != nil {
		t.Fatalf("AddInputs: %v", err)
	}
	if len(all) != 2 || len(added) != 2 {
		t.Fatalf("all = %v, added = %v", all, added)
	}

	// Same content plus one new input: only the new one is added, the full
	// ordered list still comes back.
	again := []models.AgentInput{
		{Variables: json.RawMessage(`{"city":"Paris"}`)},
		{Variables: json.RawMessage(`{"city":"Nice"}`)},
	}
	all, added, err = f.orchestrator.AddInputs(ctx, testTenant, exp.ID, again)
	if err != nil {
		t.Fatalf("AddInputs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %v, want 3 ids", all)
	}
	if len(added) != 1 {
		t.Fatalf("added = %v, want 1 id", added)
	}

	stored, err := f.orchestrator.Get(ctx, testTenant, exp.ID, nil, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := range stored.Inputs {
		if stored.Inputs[i].Preview == "" {
			t.Fatalf("input %d has no preview", i)
		}
	}
}

func TestAddVersionsOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := createExperiment(t, f, "exp-versions")

	base := models.Version{Model: "gpt-4.1", Prompt: basePrompt()}
	overrides := []map[string]any{
		{"model": "gpt-4.1-mini"},
		{"model": "claude-sonnet-4", "temperature": 0.5},
	}
	all, added, err := f.orchestrator.AddVersions(ctx, testTenant, exp.ID, base, overrides)
	if err != nil {
		t.Fatalf("AddVersions: %v", err)
	}
	if len(all) != 2 || len(added) != 2 {
		t.Fatalf("all = %v, added = %v", all, added)
	}

	stored, err := f.orchestrator.Get(ctx, testTenant, exp.ID, nil, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	gotModels := []string{stored.Versions[0].Model, stored.Versions[1].Model}
	if gotModels[0] != "gpt-4.1-mini" || gotModels[1] != "claude-sonnet-4" {
		t.Fatalf("models = %v", gotModels)
	}
	if stored.Versions[1].Temperature == nil || *stored.Versions[1].Temperature != 0.5 {
		t.Fatalf("temperature = %v", stored.Versions[1].Temperature)
	}
	// Non-overridden fields carry over from the base.
	if len(stored.Versions[0].Prompt) != 1 {
		t.Fatalf("prompt = %v", stored.Versions[0].Prompt)
	}

	// Re-adding the same override set is a no-op.
	all, added, err = f.orchestrator.AddVersions(ctx, testTenant, exp.ID, base, overrides[:1])
	if err != nil {
		t.Fatalf("AddVersions again: %v", err)
	}
	if len(all) != 2 || len(added) != 0 {
		t.Fatalf("all = %v, added = %v", all, added)
	}
}

func TestAddVersionsExtractsVariablesSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := createExperiment(t, f, "exp-schema")

	base := models.Version{
		Model:  "gpt-4.1",
		Prompt: []models.Message{models.NewTextMessage(models.RoleSystem, "Greet {{name}} politely.")},
	}
	_, _, err := f.orchestrator.AddVersions(ctx, testTenant, exp.ID, base,
		[]map[string]any{{"model": "gpt-4.1-mini"}})
	if err != nil {
		t.Fatalf("AddVersions: %v", err)
	}

	stored, err := f.orchestrator.Get(ctx, testTenant, exp.ID, nil, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(stored.Versions[0].InputVariablesSchema, &schema); err != nil {
		t.Fatalf("input_variables_schema = %q: %v", stored.Versions[0].InputVariablesSchema, err)
	}
	props, _ := schema["properties"].(map[string]any)
	if schema["type"] != "object" || props == nil {
		t.Fatalf("schema = %#v", schema)
	}
	if _, ok := props["name"]; !ok {
		t.Fatalf("prompt variable missing from schema: %#v", props)
	}
}

func TestAddVersionsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := createExperiment(t, f, "exp-validate")

	_, _, err := f.orchestrator.AddVersions(ctx, testTenant, exp.ID, models.Version{Model: "gpt-4.1"}, nil)
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeBadRequest {
		t.Fatalf("missing prompt err = %v", err)
	}

	base := models.Version{Model: "gpt-4.1", Prompt: basePrompt()}
	_, _, err = f.orchestrator.AddVersions(ctx, testTenant, exp.ID, base, []map[string]any{{"temprature": 1.0}})
	apiErr, ok = apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeBadRequest {
		t.Fatalf("unknown field err = %v", err)
	}
	if !strings.Contains(apiErr.Message, "temprature") {
		t.Fatalf("message %q does not name the bad field", apiErr.Message)
	}
}

func TestStartCompletionsFansOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := createExperiment(t, f, "exp-start")

	_, versionIDs, err := f.orchestrator.AddVersions(ctx, testTenant, exp.ID,
		models.Version{Model: "gpt-4.1", Prompt: basePrompt()},
		[]map[string]any{{"model": "gpt-4.1"}, {"model": "gpt-4.1-mini"}})
	if err != nil {
		t.Fatalf("AddVersions: %v", err)
	}
	_, inputIDs, err := f.orchestrator.AddInputs(ctx, testTenant, exp.ID, []models.AgentInput{
		{Variables: json.RawMessage(`{"q":"a"}`)},
		{Variables: json.RawMessage(`{"q":"b"}`)},
		{Variables: json.RawMessage(`{"q":"c"}`)},
	})
	if err != nil {
		t.Fatalf("AddInputs: %v", err)
	}

	scheduled, err := f.orchestrator.StartCompletions(ctx, testTenant, exp.ID, versionIDs, inputIDs)
	if err != nil {
		t.Fatalf("StartCompletions: %v", err)
	}
	if scheduled != 6 {
		t.Fatalf("scheduled = %d, want 6", scheduled)
	}

	seen := map[string]bool{}
	for range 6 {
		select {
		case req := <-f.requests:
			if req.ExperimentID != exp.ID || req.AgentID != "grader" {
				t.Fatalf("request = %+v", req)
			}
			seen[req.VersionID+"/"+req.InputID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d completion requests, want 6", len(seen))
		}
	}
	if len(seen) != 6 {
		t.Fatalf("distinct tuples = %d, want 6", len(seen))
	}

	if _, err := f.orchestrator.StartCompletions(ctx, testTenant, exp.ID, []string{"bogus"}, inputIDs); err == nil {
		t.Fatal("started completions for an unknown version id")
	}
}

func TestGetAttachesCompletionsAndAnnotations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := createExperiment(t, f, "exp-get")

	_, versionIDs, err := f.orchestrator.AddVersions(ctx, testTenant, exp.ID,
		models.Version{Model: "gpt-4.1", Prompt: basePrompt()}, nil)
	if err != nil {
		t.Fatalf("AddVersions: %v", err)
	}
	_, inputIDs, err := f.orchestrator.AddInputs(ctx, testTenant, exp.ID, []models.AgentInput{
		{Variables: json.RawMessage(`{"q":"a"}`)},
	})
	if err != nil {
		t.Fatalf("AddInputs: %v", err)
	}

	stored, _ := f.orchestrator.Get(ctx, testTenant, exp.ID, nil, nil)
	completion := &models.AgentCompletion{
		ID:         models.NewID(),
		Agent:      models.Agent{ID: "grader"},
		AgentInput: stored.Inputs[0],
		AgentOutput: models.AgentOutput{
			Messages: []models.Message{models.NewTextMessage(models.RoleAssistant, "blue")},
		},
		Version: stored.Versions[0],
		Status:  models.CompletionStatusSuccess,
	}
	if err := f.analytics.StoreCompletion(ctx, testTenant, completion); err != nil {
		t.Fatalf("StoreCompletion: %v", err)
	}
	if err := f.orchestrator.AddRunID(ctx, testTenant, exp.ID, completion.ID); err != nil {
		t.Fatalf("AddRunID: %v", err)
	}
	annotation := &models.Annotation{
		ID:     models.NewID(),
		Target: &models.AnnotationTarget{CompletionID: completion.ID},
		Text:   "correct",
	}
	if err := f.analytics.StoreAnnotation(ctx, testTenant, annotation); err != nil {
		t.Fatalf("StoreAnnotation: %v", err)
	}

	got, err := f.orchestrator.Get(ctx, testTenant, exp.ID, versionIDs, inputIDs)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Completions) != 1 || got.Completions[0].ID != completion.ID {
		t.Fatalf("completions = %+v", got.Completions)
	}
	if len(got.Annotations) != 1 || got.Annotations[0].Text != "correct" {
		t.Fatalf("annotations = %+v", got.Annotations)
	}

	if _, err := f.orchestrator.Get(ctx, testTenant, "missing", nil, nil); err == nil {
		t.Fatal("got a missing experiment")
	} else if apiErr, ok := apierr.As(err); !ok || apiErr.Code != apierr.CodeObjectNotFound {
		t.Fatalf("missing experiment err = %v", err)
	}
}

func TestWaitSettlesAndTimesOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := createExperiment(t, f, "exp-wait")

	_, _, err := f.orchestrator.AddVersions(ctx, testTenant, exp.ID,
		models.Version{Model: "gpt-4.1", Prompt: basePrompt()}, nil)
	if err != nil {
		t.Fatalf("AddVersions: %v", err)
	}
	_, _, err = f.orchestrator.AddInputs(ctx, testTenant, exp.ID, []models.AgentInput{
		{Variables: json.RawMessage(`{"q":"a"}`)},
	})
	if err != nil {
		t.Fatalf("AddInputs: %v", err)
	}

	// Nothing finished yet: Wait returns the partial state at the deadline.
	start := time.Now()
	partial, query, err := f.orchestrator.Wait(ctx, testTenant, exp.ID, nil, nil, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Wait did not respect the deadline")
	}
	if len(partial.Completions) != 0 {
		t.Fatalf("completions = %+v", partial.Completions)
	}
	if query != "" {
		t.Fatalf("query = %q for an experiment without runs", query)
	}

	stored, _ := f.orchestrator.Get(ctx, testTenant, exp.ID, nil, nil)
	completion := &models.AgentCompletion{
		ID:          models.NewID(),
		Agent:       models.Agent{ID: "grader"},
		AgentInput:  stored.Inputs[0],
		AgentOutput: models.AgentOutput{Messages: []models.Message{models.NewTextMessage(models.RoleAssistant, "ok")}},
		Version:     stored.Versions[0],
		Status:      models.CompletionStatusSuccess,
	}
	if err := f.analytics.StoreCompletion(ctx, testTenant, completion); err != nil {
		t.Fatalf("StoreCompletion: %v", err)
	}
	if err := f.orchestrator.AddRunID(ctx, testTenant, exp.ID, completion.ID); err != nil {
		t.Fatalf("AddRunID: %v", err)
	}

	settled, query, err := f.orchestrator.Wait(ctx, testTenant, exp.ID, nil, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(settled.Completions) != 1 {
		t.Fatalf("completions = %+v", settled.Completions)
	}
	if !strings.Contains(query, completion.ID) || !strings.Contains(query, "ORDER BY created_at DESC") {
		t.Fatalf("query = %q", query)
	}
}

func TestAddRunIDMissingExperiment(t *testing.T) {
	f := newFixture(t)
	err := f.orchestrator.AddRunID(context.Background(), testTenant, "missing", models.NewID())
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeObjectNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestMergeVersionDeepMerge(t *testing.T) {
	base := models.Version{
		Model:        "gpt-4.1",
		Prompt:       basePrompt(),
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"answer":{"type":"string"}}}`),
	}
	merged, err := mergeVersion(base, map[string]any{"max_output_tokens": 128})
	if err != nil {
		t.Fatalf("mergeVersion: %v", err)
	}
	if merged.MaxOutputTokens == nil || *merged.MaxOutputTokens != 128 {
		t.Fatalf("max_output_tokens = %v", merged.MaxOutputTokens)
	}
	if merged.Model != "gpt-4.1" || len(merged.Prompt) != 1 {
		t.Fatalf("merged = %+v", merged)
	}
	if string(merged.OutputSchema) == "" {
		t.Fatal("output schema lost in merge")
	}

	var notFound *apierr.Error
	_, err = mergeVersion(base, map[string]any{"temperature": "hot"})
	if !errors.As(err, &notFound) {
		t.Fatalf("type mismatch err = %v", err)
	}
}
