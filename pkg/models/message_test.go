package models

import (
	"encoding/json"
	"testing"
)

func TestContentPartValidate(t *testing.T) {
	tests := []struct {
		name    string
		part    ContentPart
		wantErr bool
	}{
		{name: "text only", part: ContentPart{Text: "hi"}},
		{name: "file only", part: ContentPart{File: &File{URL: "https://example.com/a.png"}}},
		{name: "reasoning only", part: ContentPart{Reasoning: "because"}},
		{name: "object only", part: ContentPart{Object: json.RawMessage(`{"a":1}`)}},
		{name: "tool request only", part: ContentPart{ToolCallRequest: &ToolCallRequest{ToolName: "search"}}},
		{name: "empty", part: ContentPart{}, wantErr: true},
		{
			name:    "text and file",
			part:    ContentPart{Text: "hi", File: &File{URL: "https://example.com/a.png"}},
			wantErr: true,
		},
		{
			name:    "request and result",
			part:    ContentPart{ToolCallRequest: &ToolCallRequest{ToolName: "a"}, ToolCallResult: &ToolCallResult{ID: "1"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.part.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidateRole(t *testing.T) {
	m := Message{Role: "robot", Content: []ContentPart{{Text: "hi"}}}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for unknown role")
	}
	m.Role = RoleUser
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMessageFileIteration(t *testing.T) {
	m := Message{Role: RoleUser, Content: []ContentPart{
		{Text: "look at"},
		{File: &File{URL: "https://example.com/1.png"}},
		{File: &File{URL: "https://example.com/2.png"}},
	}}
	if !m.HasFiles() {
		t.Fatal("HasFiles() = false")
	}

	var urls []string
	for f := range m.Files() {
		urls = append(urls, f.URL)
	}
	if len(urls) != 2 || urls[0] != "https://example.com/1.png" || urls[1] != "https://example.com/2.png" {
		t.Fatalf("unexpected file order: %v", urls)
	}

	// Yielded pointers must be live.
	for f := range m.Files() {
		f.StorageURL = "stored"
	}
	if m.Content[1].File.StorageURL != "stored" {
		t.Fatal("mutation through iterator did not stick")
	}
}

func TestMessageToolCallRequests(t *testing.T) {
	m := Message{Role: RoleAssistant, Content: []ContentPart{
		{ToolCallRequest: &ToolCallRequest{ID: "a", ToolName: "search"}},
		{Text: "then"},
		{ToolCallRequest: &ToolCallRequest{ID: "b", ToolName: "fetch"}},
	}}
	var ids []string
	for r := range m.ToolCallRequests() {
		ids = append(ids, r.ID)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected tool request order: %v", ids)
	}
}

func TestMessageText(t *testing.T) {
	m := Message{Role: RoleAssistant, Content: []ContentPart{
		{Text: "Hello, "},
		{Reasoning: "hidden"},
		{Text: "world"},
	}}
	if got := m.Text(); got != "Hello, world" {
		t.Fatalf("Text() = %q", got)
	}
}
