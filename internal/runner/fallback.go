package runner

import (
	"time"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/internal/provider"
)

// Fallback is the parsed use_fallback request option: disabled, automatic
// (the catalog's chain for the model), or an explicit model list.
type Fallback struct {
	Never  bool
	Models []string
}

// maxRateLimitWait bounds how long a Retry-After makes a rate limit count as
// recoverable; beyond it, falling back beats waiting.
const maxRateLimitWait = 10 * time.Second

// isRecoverable reports whether a failed attempt justifies trying the next
// model. Recovery is limited to upstream breakage; errors that would fail
// identically on another model never recover.
func isRecoverable(err error) bool {
	pe, ok := provider.AsError(err)
	if !ok {
		// Transport-level failure: connection reset, timeout, DNS.
		return true
	}
	switch pe.Kind {
	case provider.KindProviderInternal:
		return true
	case provider.KindRateLimit:
		return pe.RetryAfter <= maxRateLimitWait
	case provider.KindModelDoesNotSupportMode:
		// A different model may well support the request.
		return true
	}
	return false
}

// fallbackModels returns the ordered candidate models to try after the
// primary, deduplicated against it.
func fallbackModels(primary string, fb *Fallback) []string {
	var candidates []string
	switch {
	case fb != nil && fb.Never:
		return nil
	case fb != nil && len(fb.Models) > 0:
		candidates = fb.Models
	default:
		if data, ok := modelcatalog.Get(primary); ok {
			candidates = data.Fallback
		}
	}
	out := make([]string, 0, len(candidates))
	seen := map[string]bool{primary: true}
	for _, m := range candidates {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
