// Package models provides the domain types shared by the runner, providers,
// storage and gateway: messages, files, versions, completions, experiments.
package models

import (
	"encoding/json"
	"fmt"
	"iter"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Content is an ordered list of parts;
// each part carries exactly one payload kind.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
	RunID   string        `json:"run_id,omitempty"`
}

// ContentPart is a tagged union: exactly one field must be set.
type ContentPart struct {
	Text            string           `json:"text,omitempty"`
	Object          json.RawMessage  `json:"object,omitempty"`
	File            *File            `json:"file,omitempty"`
	ToolCallRequest *ToolCallRequest `json:"tool_call_request,omitempty"`
	ToolCallResult  *ToolCallResult  `json:"tool_call_result,omitempty"`
	Reasoning       string           `json:"reasoning,omitempty"`
}

// ToolCallRequest is an assistant-issued request to execute a tool.
type ToolCallRequest struct {
	ID        string          `json:"id,omitempty"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult carries the output of a previously requested tool call.
type ToolCallResult struct {
	ID       string          `json:"id,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Validate checks the one-payload-per-part invariant for every part.
func (m *Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", m.Role)}
	}
	for i := range m.Content {
		if err := m.Content[i].Validate(); err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate enforces that exactly one payload field is set.
func (p *ContentPart) Validate() error {
	set := 0
	if p.Text != "" {
		set++
	}
	if len(p.Object) > 0 {
		set++
	}
	if p.File != nil {
		set++
	}
	if p.ToolCallRequest != nil {
		set++
	}
	if p.ToolCallResult != nil {
		set++
	}
	if p.Reasoning != "" {
		set++
	}
	if set != 1 {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("content part must set exactly one field, got %d", set)}
	}
	return nil
}

// HasFiles reports whether any content part carries a file.
func (m *Message) HasFiles() bool {
	for i := range m.Content {
		if m.Content[i].File != nil {
			return true
		}
	}
	return false
}

// Files yields pointers to every file in the message, in order. Pointers are
// live: mutating the yielded file mutates the message.
func (m *Message) Files() iter.Seq[*File] {
	return func(yield func(*File) bool) {
		for i := range m.Content {
			if f := m.Content[i].File; f != nil {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// ToolCallRequests yields every tool call request in the message, in order.
func (m *Message) ToolCallRequests() iter.Seq[*ToolCallRequest] {
	return func(yield func(*ToolCallRequest) bool) {
		for i := range m.Content {
			if r := m.Content[i].ToolCallRequest; r != nil {
				if !yield(r) {
					return
				}
			}
		}
	}
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var out string
	for i := range m.Content {
		out += m.Content[i].Text
	}
	return out
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Text: text}}}
}

// MessagesHaveFiles reports whether any message in the slice carries a file.
func MessagesHaveFiles(messages []Message) bool {
	for i := range messages {
		if messages[i].HasFiles() {
			return true
		}
	}
	return false
}

// ValidationError marks a structural invariant violation on a domain value.
// The gateway maps it to a 400 response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}
