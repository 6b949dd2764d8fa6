package models

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// Agent is a named scope grouping completions for one use case.
type Agent struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// AgentInput is the caller-supplied half of a completion: template variables
// and/or extra messages. Content-addressed.
type AgentInput struct {
	ID        string          `json:"id,omitempty"`
	Variables json.RawMessage `json:"variables,omitempty"`
	Messages  []Message       `json:"messages,omitempty"`
	Preview   string          `json:"preview,omitempty"`
}

// AssignID derives the content address from variables and messages.
func (in *AgentInput) AssignID() string {
	clone := *in
	clone.ID = ""
	clone.Preview = ""
	in.ID = HashContent(clone)
	return in.ID
}

// AssignPreview computes the preview when absent.
func (in *AgentInput) AssignPreview() {
	if in.Preview != "" {
		return
	}
	var parts []string
	if len(in.Variables) > 0 {
		parts = append(parts, string(in.Variables))
	}
	for i := range in.Messages {
		if t := in.Messages[i].Text(); t != "" {
			parts = append(parts, t)
		}
	}
	in.Preview = ComputePreview(strings.Join(parts, " "))
}

// AgentOutput is the model's half of a completion.
type AgentOutput struct {
	ID       string    `json:"id,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Error    string    `json:"error,omitempty"`
	Preview  string    `json:"preview,omitempty"`
}

// AssignID derives the content address from messages and error.
func (out *AgentOutput) AssignID() string {
	clone := *out
	clone.ID = ""
	clone.Preview = ""
	out.ID = HashContent(clone)
	return out.ID
}

// AssignPreview computes the preview when absent.
func (out *AgentOutput) AssignPreview() {
	if out.Preview != "" {
		return
	}
	if out.Error != "" {
		out.Preview = ComputePreview("Error: " + out.Error)
		return
	}
	var parts []string
	for i := range out.Messages {
		if t := out.Messages[i].Text(); t != "" {
			parts = append(parts, t)
		}
	}
	out.Preview = ComputePreview(strings.Join(parts, " "))
}

const previewMaxLen = 255

// ComputePreview flattens whitespace and truncates to 255 chars.
func ComputePreview(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
		if b.Len() >= previewMaxLen {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
