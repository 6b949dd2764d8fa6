package provider

import (
	"strings"
	"testing"
)

func collectSSE(t *testing.T, raw string) []string {
	t.Helper()
	r := NewSSEReader(strings.NewReader(raw))
	var out []string
	for {
		payload, ok := r.Next()
		if !ok {
			break
		}
		out = append(out, string(payload))
	}
	if err := r.Err(); err != nil {
		t.Fatalf("reader error: %v", err)
	}
	return out
}

func TestSSEReader(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "simple events",
			raw:  "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n",
			want: []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name: "done sentinel is swallowed",
			raw:  "data: {\"a\":1}\n\ndata: [DONE]\n\n",
			want: []string{`{"a":1}`},
		},
		{
			name: "comments and event fields are skipped",
			raw:  ": keepalive\nevent: message_start\ndata: {\"a\":1}\n\n",
			want: []string{`{"a":1}`},
		},
		{
			name: "multi-line data joins with newline",
			raw:  "data: line one\ndata: line two\n\n",
			want: []string{"line one\nline two"},
		},
		{
			name: "trailing event without blank line",
			raw:  "data: {\"a\":1}\n\ndata: {\"b\":2}\n",
			want: []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name: "no space after colon",
			raw:  "data:{\"a\":1}\n\n",
			want: []string{`{"a":1}`},
		},
		{
			name: "blank stream",
			raw:  "\n\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectSSE(t, tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events %q, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSSEReaderExhaustedStaysDone(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: x\n\n"))
	if _, ok := r.Next(); !ok {
		t.Fatal("first event lost")
	}
	for i := 0; i < 3; i++ {
		if _, ok := r.Next(); ok {
			t.Fatal("reader yielded after end of stream")
		}
	}
}
