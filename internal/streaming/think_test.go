package streaming

import (
	"testing"

	"github.com/anotherai-dev/anotherai/pkg/models"
)

func feed(c *ThinkStrippingContext, deltas ...string) []*models.RunnerOutputChunk {
	var out []*models.RunnerOutputChunk
	for _, d := range deltas {
		if chunk := c.Add(&models.ParsedResponse{Delta: d}); chunk != nil {
			out = append(out, chunk)
		}
	}
	return out
}

func TestThinkStripping(t *testing.T) {
	tests := []struct {
		name          string
		deltas        []string
		wantText      string
		wantReasoning string
	}{
		{
			name:          "whole block in one chunk",
			deltas:        []string{"<think>pondering</think>The answer is 42."},
			wantText:      "The answer is 42.",
			wantReasoning: "pondering",
		},
		{
			name:          "block split across chunks",
			deltas:        []string{"<think>first ", "half</think>visible"},
			wantText:      "visible",
			wantReasoning: "first half",
		},
		{
			name:          "open tag split across chunks",
			deltas:        []string{"<th", "ink>hidden</think>shown"},
			wantText:      "shown",
			wantReasoning: "hidden",
		},
		{
			name:          "close tag split across chunks",
			deltas:        []string{"<think>hidden</th", "ink>shown"},
			wantText:      "shown",
			wantReasoning: "hidden",
		},
		{
			name:          "no think block",
			deltas:        []string{"plain ", "text"},
			wantText:      "plain text",
			wantReasoning: "",
		},
		{
			name:          "unterminated block goes to reasoning",
			deltas:        []string{"<think>never closed"},
			wantText:      "",
			wantReasoning: "never closed",
		},
		{
			name:          "false partial tag is flushed as text",
			deltas:        []string{"a < b ", "and a <thermometer"},
			wantText:      "a < b and a <thermometer",
			wantReasoning: "",
		},
		{
			name:          "text before the block survives",
			deltas:        []string{"pre<think>mid</think>post"},
			wantText:      "prepost",
			wantReasoning: "mid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewThinkStripping("fireworks", "accounts/fireworks/models/deepseek-r1")
			feed(c, tt.deltas...)
			if tt.wantText == "" && tt.wantReasoning == "" {
				t.Fatal("bad test case")
			}
			msg, err := c.Complete()
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			var text, reasoning string
			for _, part := range msg.Content {
				text += part.Text
				reasoning += part.Reasoning
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if reasoning != tt.wantReasoning {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.wantReasoning)
			}
		})
	}
}

func TestThinkStrippingStreamsVisibleDeltas(t *testing.T) {
	c := NewThinkStripping("fireworks", "accounts/fireworks/models/deepseek-r1")
	chunks := feed(c, "<think>quiet</think>loud")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %+v", chunks)
	}
	if chunks[0].Delta != "loud" || chunks[0].Reasoning != "quiet" {
		t.Fatalf("chunk = %+v", chunks[0])
	}
}

func TestThinkStrippingPassesNonTextChunks(t *testing.T) {
	c := NewThinkStripping("fireworks", "accounts/fireworks/models/deepseek-r1")
	c.Add(&models.ParsedResponse{Delta: "hello"})
	c.Add(&models.ParsedResponse{Usage: &models.LLMUsage{PromptTokens: 7}, FinishReason: models.FinishReasonStop})
	msg, err := c.Complete()
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if msg.Text() != "hello" {
		t.Fatalf("text = %q", msg.Text())
	}
	if c.Usage() == nil || c.Usage().PromptTokens != 7 {
		t.Fatalf("usage = %+v", c.Usage())
	}
	if c.FinishReason() != models.FinishReasonStop {
		t.Fatalf("finish = %q", c.FinishReason())
	}
}
