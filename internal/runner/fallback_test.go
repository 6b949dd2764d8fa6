package runner

import (
	"errors"
	"testing"
	"time"

	"github.com/anotherai-dev/anotherai/internal/provider"
)

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport error", errors.New("connection refused"), true},
		{"provider internal", provider.NewError(provider.KindProviderInternal, "openai", "m", ""), true},
		{"short rate limit", &provider.Error{Kind: provider.KindRateLimit, RetryAfter: 5 * time.Second}, true},
		{"long rate limit", &provider.Error{Kind: provider.KindRateLimit, RetryAfter: time.Minute}, false},
		{"rate limit without hint", &provider.Error{Kind: provider.KindRateLimit}, true},
		{"unsupported mode", provider.NewError(provider.KindModelDoesNotSupportMode, "openai", "m", ""), true},
		{"bad request", provider.NewError(provider.KindProviderBadRequest, "openai", "m", ""), false},
		{"moderation", provider.NewError(provider.KindContentModeration, "openai", "m", ""), false},
		{"context exhausted", provider.NewError(provider.KindMaxTokensExceeded, "openai", "m", ""), false},
		{"bad config", provider.NewError(provider.KindInvalidProviderConfig, "openai", "m", ""), false},
		{"unknown", provider.NewError(provider.KindUnknown, "openai", "m", ""), false},
		{"missing model", provider.NewError(provider.KindMissingModel, "openai", "m", ""), false},
		{"failed generation", provider.NewError(provider.KindFailedGeneration, "openai", "m", ""), false},
		{"invalid generation", provider.NewError(provider.KindInvalidGeneration, "openai", "m", ""), false},
		{"structured generation", provider.NewError(provider.KindStructuredGeneration, "openai", "m", ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRecoverable(tt.err); got != tt.want {
				t.Fatalf("isRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFallbackModels(t *testing.T) {
	if got := fallbackModels("gpt-4.1", &Fallback{Never: true}); got != nil {
		t.Fatalf("never: %v", got)
	}

	got := fallbackModels("gpt-4.1", &Fallback{Models: []string{"gpt-4.1", "o3", "o3"}})
	if len(got) != 1 || got[0] != "o3" {
		t.Fatalf("explicit list not deduped: %v", got)
	}

	// nil falls back to the catalog chain.
	got = fallbackModels("gpt-4.1", nil)
	if len(got) == 0 {
		t.Fatal("catalog chain empty for gpt-4.1")
	}
	for _, m := range got {
		if m == "gpt-4.1" {
			t.Fatal("primary model repeated in chain")
		}
	}

	if got := fallbackModels("unknown-model", nil); got != nil {
		t.Fatalf("unknown model chain: %v", got)
	}
}
