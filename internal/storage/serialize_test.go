package storage

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

func sampleCompletion() *models.AgentCompletion {
	temp := 0.0
	version := models.Version{
		Model:       "gpt-4.1",
		Temperature: &temp,
		Prompt: []models.Message{{
			Role:    models.RoleSystem,
			Content: []models.ContentPart{{Text: "Answer {{ tone }}ly."}},
		}},
	}
	version.AssignID()

	input := models.AgentInput{Variables: json.RawMessage(`{"tone":"brief"}`)}
	input.AssignID()
	input.AssignPreview()

	output := models.AgentOutput{Messages: []models.Message{{
		Role:    models.RoleAssistant,
		Content: []models.ContentPart{{Text: "Done."}},
	}}}
	output.AssignID()
	output.AssignPreview()

	return &models.AgentCompletion{
		ID:          models.NewID(),
		Agent:       models.Agent{ID: "support-bot"},
		AgentInput:  input,
		AgentOutput: output,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: []models.ContentPart{{Text: "Answer briefly."}}},
			{Role: models.RoleAssistant, Content: []models.ContentPart{{Text: "Done."}}},
		},
		Version:         version,
		DurationSeconds: 1.25,
		CostUSD:         0.00042,
		Traces: []models.Trace{
			models.NewLLMTrace(models.LLMTrace{Model: "gpt-4.1", Provider: "openai", CostUSD: 0.00042}),
		},
		Metadata:       map[string]string{"env": "test"},
		Source:         models.SourceAPI,
		Stream:         true,
		Status:         models.CompletionStatusSuccess,
		ConversationID: "conv-1",
	}
}

func TestCompletionRowRoundTrip(t *testing.T) {
	original := sampleCompletion()
	row, err := completionToRow("tenant-1", original)
	if err != nil {
		t.Fatalf("completionToRow: %v", err)
	}

	restored, err := row.completion()
	if err != nil {
		t.Fatalf("completion: %v", err)
	}

	if restored.ID != original.ID {
		t.Errorf("id = %q, want %q", restored.ID, original.ID)
	}
	if restored.Agent.ID != original.Agent.ID {
		t.Errorf("agent = %q, want %q", restored.Agent.ID, original.Agent.ID)
	}
	if restored.Version.ID != original.Version.ID {
		t.Errorf("version id = %q, want %q", restored.Version.ID, original.Version.ID)
	}
	if restored.Version.Model != original.Version.Model {
		t.Errorf("model = %q, want %q", restored.Version.Model, original.Version.Model)
	}
	if !reflect.DeepEqual(restored.AgentInput, original.AgentInput) {
		t.Errorf("input round trip mismatch:\n got %+v\nwant %+v", restored.AgentInput, original.AgentInput)
	}
	if !reflect.DeepEqual(restored.AgentOutput, original.AgentOutput) {
		t.Errorf("output round trip mismatch:\n got %+v\nwant %+v", restored.AgentOutput, original.AgentOutput)
	}
	if !reflect.DeepEqual(restored.Messages, original.Messages) {
		t.Error("resolved messages did not survive the round trip")
	}
	if len(restored.Traces) != 1 || restored.Traces[0].Kind != models.TraceKindLLM {
		t.Fatalf("traces = %+v", restored.Traces)
	}
	if restored.Traces[0].LLM.CostUSD != 0.00042 {
		t.Errorf("trace cost = %v", restored.Traces[0].LLM.CostUSD)
	}
	if restored.CostUSD != original.CostUSD || restored.DurationSeconds != original.DurationSeconds {
		t.Errorf("metrics mismatch: %v/%v", restored.CostUSD, restored.DurationSeconds)
	}
	if !reflect.DeepEqual(restored.Metadata, original.Metadata) {
		t.Errorf("metadata = %v", restored.Metadata)
	}
	if restored.Source != original.Source || !restored.Stream || restored.ConversationID != "conv-1" {
		t.Errorf("flags mismatch: %+v", restored)
	}
	if restored.Status != models.CompletionStatusSuccess {
		t.Errorf("status = %q", restored.Status)
	}
}

func TestCompletionRowCompactJSON(t *testing.T) {
	row, err := completionToRow("tenant-1", sampleCompletion())
	if err != nil {
		t.Fatalf("completionToRow: %v", err)
	}
	for name, column := range map[string]string{
		"messages":        row.Messages,
		"output_messages": row.OutputMessages,
		"traces":          row.Traces,
		"version":         row.Version,
	} {
		if strings.ContainsAny(column, "\n\t") || strings.Contains(column, ": ") {
			t.Errorf("%s is not compact: %q", name, column)
		}
	}
}

func TestCompletionRowFailureStatus(t *testing.T) {
	completion := sampleCompletion()
	completion.AgentOutput = models.AgentOutput{Error: "provider exploded"}
	completion.Status = models.CompletionStatusFailure

	row, err := completionToRow("tenant-1", completion)
	if err != nil {
		t.Fatalf("completionToRow: %v", err)
	}
	if row.OutputError != "provider exploded" {
		t.Fatalf("output_error = %q", row.OutputError)
	}
	restored, err := row.completion()
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if restored.Status != models.CompletionStatusFailure {
		t.Errorf("status = %q, want failure", restored.Status)
	}
}

func TestCompletionRowCreatedAtFromID(t *testing.T) {
	completion := sampleCompletion()
	row, err := completionToRow("tenant-1", completion)
	if err != nil {
		t.Fatalf("completionToRow: %v", err)
	}
	if row.CreatedAt.IsZero() {
		t.Fatal("created_at not derived from the UUIDv7 id")
	}
	if d := time.Since(row.CreatedAt); d < 0 || d > time.Minute {
		t.Fatalf("created_at %v too far from now", row.CreatedAt)
	}
}

func TestAnnotationRowRoundTrip(t *testing.T) {
	deleted := time.Now().UTC().Truncate(time.Millisecond)
	tests := []struct {
		name       string
		annotation models.Annotation
	}{
		{
			name: "text with target and context",
			annotation: models.Annotation{
				ID:         models.NewID(),
				AuthorName: "reviewer",
				Target:     &models.AnnotationTarget{CompletionID: "c1", KeyPath: "answer.score"},
				Context:    &models.AnnotationContext{ExperimentID: "e1", AgentID: "support-bot"},
				Text:       "looks right",
				CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
				UpdatedAt:  time.Now().UTC().Truncate(time.Millisecond),
			},
		},
		{
			name: "metric",
			annotation: models.Annotation{
				ID:        models.NewID(),
				Metric:    &models.AnnotationMetric{Name: "accuracy", Value: 0.93},
				CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
				UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
			},
		},
		{
			name: "soft deleted",
			annotation: models.Annotation{
				ID:        models.NewID(),
				Text:      "obsolete",
				CreatedAt: deleted.Add(-time.Hour),
				UpdatedAt: deleted,
				DeletedAt: &deleted,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := annotationToRow("tenant-1", &tt.annotation)
			if err != nil {
				t.Fatalf("annotationToRow: %v", err)
			}
			restored, err := row.annotation()
			if err != nil {
				t.Fatalf("annotation: %v", err)
			}
			if restored.ID != tt.annotation.ID || restored.Text != tt.annotation.Text {
				t.Fatalf("restored = %+v", restored)
			}
			if !reflect.DeepEqual(restored.Target, tt.annotation.Target) {
				t.Errorf("target = %+v, want %+v", restored.Target, tt.annotation.Target)
			}
			if !reflect.DeepEqual(restored.Context, tt.annotation.Context) {
				t.Errorf("context = %+v, want %+v", restored.Context, tt.annotation.Context)
			}
			if tt.annotation.Metric != nil {
				if restored.Metric == nil || restored.Metric.Name != tt.annotation.Metric.Name {
					t.Fatalf("metric = %+v", restored.Metric)
				}
			}
			if (tt.annotation.DeletedAt == nil) != (restored.DeletedAt == nil) {
				t.Errorf("deleted_at = %v, want %v", restored.DeletedAt, tt.annotation.DeletedAt)
			}
		})
	}
}

func TestEncodeMetadataValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{42, "42"},
		{true, "true"},
		{map[string]any{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := models.EncodeMetadataValue(tt.in); got != tt.want {
			t.Errorf("EncodeMetadataValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
