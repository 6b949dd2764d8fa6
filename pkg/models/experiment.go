package models

import (
	"time"
)

// Experiment groups completions across versions and inputs for comparison.
// It references completions by run id; it never owns them.
type Experiment struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agent_id"`
	AuthorName  string            `json:"author_name,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	RunIDs      []string          `json:"run_ids,omitempty"`
	Versions    []Version         `json:"versions,omitempty"`
	Inputs      []AgentInput      `json:"inputs,omitempty"`
	Result      string            `json:"result,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at,omitzero"`

	// Completions and Annotations are attached on nested reads only.
	Completions []AgentCompletion `json:"completions,omitempty"`
	Annotations []Annotation      `json:"annotations,omitempty"`
}

// AddRunID appends a run id, keeping the ordered set deduplicated.
func (e *Experiment) AddRunID(id string) bool {
	for _, existing := range e.RunIDs {
		if existing == id {
			return false
		}
	}
	e.RunIDs = append(e.RunIDs, id)
	return true
}

// HasVersion reports whether the version id is part of the experiment.
func (e *Experiment) HasVersion(versionID string) bool {
	for i := range e.Versions {
		if e.Versions[i].ID == versionID {
			return true
		}
	}
	return false
}

// HasInput reports whether the input id is part of the experiment.
func (e *Experiment) HasInput(inputID string) bool {
	for i := range e.Inputs {
		if e.Inputs[i].ID == inputID {
			return true
		}
	}
	return false
}

// AnnotationTarget points an annotation at a completion, an experiment, or a
// JSON key path inside a completion output.
type AnnotationTarget struct {
	CompletionID string `json:"completion_id,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
	KeyPath      string `json:"key_path,omitempty"`
}

// AnnotationContext scopes an annotation to an experiment or agent without
// targeting it directly.
type AnnotationContext struct {
	ExperimentID string `json:"experiment_id,omitempty"`
	AgentID      string `json:"agent_id,omitempty"`
}

// AnnotationMetric is an optional named measurement on an annotation. Value
// is a float, string or bool.
type AnnotationMetric struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Annotation is a user-authored note or metric attached to a completion,
// experiment, or output key path. Soft-deleted.
type Annotation struct {
	ID        string             `json:"id"`
	AuthorName string            `json:"author_name,omitempty"`
	Target    *AnnotationTarget  `json:"target,omitempty"`
	Context   *AnnotationContext `json:"context,omitempty"`
	Text      string             `json:"text,omitempty"`
	Metric    *AnnotationMetric  `json:"metric,omitempty"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at,omitzero"`
	UpdatedAt time.Time          `json:"updated_at,omitzero"`
	DeletedAt *time.Time         `json:"deleted_at,omitempty"`
}
