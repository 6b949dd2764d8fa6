package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

// completionRow is the flattened analytics shape of an AgentCompletion.
// Message lists and traces are compact JSON strings so they stay queryable
// with the JSON functions of the analytics engine.
type completionRow struct {
	ID             string
	TenantUID      string
	CreatedAt      time.Time
	AgentID        string
	VersionID      string
	VersionModel   string
	Version        string
	InputID        string
	InputVariables string
	InputMessages  string
	InputPreview   string
	OutputID       string
	OutputMessages string
	OutputError    string
	OutputPreview  string
	Messages       string
	Traces         string
	DurationSecs   float64
	CostUSD        float64
	Metadata       map[string]string
	Source         string
	Stream         bool
	FromCache      bool
	ConversationID string
}

func compactJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// completionToRow flattens a completion for insertion.
func completionToRow(tenantUID string, c *models.AgentCompletion) (*completionRow, error) {
	version, err := compactJSON(c.Version)
	if err != nil {
		return nil, fmt.Errorf("marshal version: %w", err)
	}
	row := &completionRow{
		ID:             c.ID,
		TenantUID:      tenantUID,
		CreatedAt:      c.CreatedAt(),
		AgentID:        c.Agent.ID,
		VersionID:      c.Version.ID,
		VersionModel:   c.Version.Model,
		Version:        version,
		InputID:        c.AgentInput.ID,
		InputVariables: string(c.AgentInput.Variables),
		InputPreview:   c.AgentInput.Preview,
		OutputID:       c.AgentOutput.ID,
		OutputError:    c.AgentOutput.Error,
		OutputPreview:  c.AgentOutput.Preview,
		DurationSecs:   c.DurationSeconds,
		CostUSD:        c.CostUSD,
		Metadata:       c.Metadata,
		Source:         string(c.Source),
		Stream:         c.Stream,
		FromCache:      c.FromCache,
		ConversationID: c.ConversationID,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.Metadata == nil {
		row.Metadata = map[string]string{}
	}
	if len(c.AgentInput.Messages) > 0 {
		if row.InputMessages, err = compactJSON(c.AgentInput.Messages); err != nil {
			return nil, fmt.Errorf("marshal input messages: %w", err)
		}
	}
	if len(c.AgentOutput.Messages) > 0 {
		if row.OutputMessages, err = compactJSON(c.AgentOutput.Messages); err != nil {
			return nil, fmt.Errorf("marshal output messages: %w", err)
		}
	}
	if len(c.Messages) > 0 {
		if row.Messages, err = compactJSON(c.Messages); err != nil {
			return nil, fmt.Errorf("marshal messages: %w", err)
		}
	}
	if len(c.Traces) > 0 {
		if row.Traces, err = compactJSON(c.Traces); err != nil {
			return nil, fmt.Errorf("marshal traces: %w", err)
		}
	}
	return row, nil
}

// completion rebuilds the domain object from a stored row.
func (r *completionRow) completion() (*models.AgentCompletion, error) {
	c := &models.AgentCompletion{
		ID:              r.ID,
		Agent:           models.Agent{ID: r.AgentID},
		DurationSeconds: r.DurationSecs,
		CostUSD:         r.CostUSD,
		Source:          models.CompletionSource(r.Source),
		Stream:          r.Stream,
		FromCache:       r.FromCache,
		ConversationID:  r.ConversationID,
		Status:          models.CompletionStatusSuccess,
	}
	if len(r.Metadata) > 0 {
		c.Metadata = r.Metadata
	}
	if r.OutputError != "" {
		c.Status = models.CompletionStatusFailure
	}
	if r.Version != "" {
		if err := json.Unmarshal([]byte(r.Version), &c.Version); err != nil {
			return nil, fmt.Errorf("unmarshal version: %w", err)
		}
	}
	c.Version.ID = r.VersionID
	if c.Version.Model == "" {
		c.Version.Model = r.VersionModel
	}
	c.AgentInput = models.AgentInput{
		ID:      r.InputID,
		Preview: r.InputPreview,
	}
	if r.InputVariables != "" {
		c.AgentInput.Variables = json.RawMessage(r.InputVariables)
	}
	if r.InputMessages != "" {
		if err := json.Unmarshal([]byte(r.InputMessages), &c.AgentInput.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal input messages: %w", err)
		}
	}
	c.AgentOutput = models.AgentOutput{
		ID:      r.OutputID,
		Error:   r.OutputError,
		Preview: r.OutputPreview,
	}
	if r.OutputMessages != "" {
		if err := json.Unmarshal([]byte(r.OutputMessages), &c.AgentOutput.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal output messages: %w", err)
		}
	}
	if r.Messages != "" {
		if err := json.Unmarshal([]byte(r.Messages), &c.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
	}
	if r.Traces != "" {
		if err := json.Unmarshal([]byte(r.Traces), &c.Traces); err != nil {
			return nil, fmt.Errorf("unmarshal traces: %w", err)
		}
	}
	return c, nil
}

// annotationRow is the flattened analytics shape of an Annotation.
type annotationRow struct {
	ID                  string
	TenantUID           string
	AuthorName          string
	TargetCompletionID  string
	TargetExperimentID  string
	TargetKeyPath       string
	ContextExperimentID string
	ContextAgentID      string
	Text                string
	Metric              string
	Metadata            map[string]string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           time.Time
}

func annotationToRow(tenantUID string, a *models.Annotation) (*annotationRow, error) {
	row := &annotationRow{
		ID:         a.ID,
		TenantUID:  tenantUID,
		AuthorName: a.AuthorName,
		Text:       a.Text,
		Metadata:   a.Metadata,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	if row.Metadata == nil {
		row.Metadata = map[string]string{}
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	if a.DeletedAt != nil {
		row.DeletedAt = *a.DeletedAt
	}
	if a.Target != nil {
		row.TargetCompletionID = a.Target.CompletionID
		row.TargetExperimentID = a.Target.ExperimentID
		row.TargetKeyPath = a.Target.KeyPath
	}
	if a.Context != nil {
		row.ContextExperimentID = a.Context.ExperimentID
		row.ContextAgentID = a.Context.AgentID
	}
	if a.Metric != nil {
		metric, err := compactJSON(a.Metric)
		if err != nil {
			return nil, fmt.Errorf("marshal annotation metric: %w", err)
		}
		row.Metric = metric
	}
	return row, nil
}

func (r *annotationRow) annotation() (*models.Annotation, error) {
	a := &models.Annotation{
		ID:         r.ID,
		AuthorName: r.AuthorName,
		Text:       r.Text,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		a.Metadata = r.Metadata
	}
	if !r.DeletedAt.IsZero() {
		deleted := r.DeletedAt
		a.DeletedAt = &deleted
	}
	if r.TargetCompletionID != "" || r.TargetExperimentID != "" || r.TargetKeyPath != "" {
		a.Target = &models.AnnotationTarget{
			CompletionID: r.TargetCompletionID,
			ExperimentID: r.TargetExperimentID,
			KeyPath:      r.TargetKeyPath,
		}
	}
	if r.ContextExperimentID != "" || r.ContextAgentID != "" {
		a.Context = &models.AnnotationContext{
			ExperimentID: r.ContextExperimentID,
			AgentID:      r.ContextAgentID,
		}
	}
	if r.Metric != "" {
		a.Metric = &models.AnnotationMetric{}
		if err := json.Unmarshal([]byte(r.Metric), a.Metric); err != nil {
			return nil, fmt.Errorf("unmarshal annotation metric: %w", err)
		}
	}
	return a, nil
}
