package provider

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

var rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "anotherai",
	Subsystem: "provider",
	Name:      "ratelimit_remaining",
	Help:      "Remaining quota advertised by provider rate-limit headers.",
}, []string{"provider", "limit"})

// base holds configuration and helpers shared by all adapters.
type base struct {
	name    string
	apiKey  string
	baseURL string

	// rateLimitHeaderPrefixes lists header prefixes whose numeric
	// "-remaining" values are recorded as metrics.
	rateLimitHeaderPrefixes []string

	// errorTable is the adapter-specific regex table consulted before the
	// shared one.
	errorTable []errorPattern
}

func (b *base) Name() string { return b.name }

// WrapSSE wraps the response body in an SSE payload iterator.
func (b *base) WrapSSE(r io.Reader) *SSEReader { return NewSSEReader(r) }

// MaxNumberOfFileURLs defaults to zero: download everything. Adapters that
// accept remote URLs override.
func (b *base) MaxNumberOfFileURLs() int { return 0 }

// SanitizeModelData is a no-op by default.
func (b *base) SanitizeModelData(m *modelcatalog.ModelData) {}

// ObserveResponseHeaders records advertised remaining quota, e.g.
// anthropic-ratelimit-requests-remaining or x-ratelimit-remaining-tokens.
func (b *base) ObserveResponseHeaders(h http.Header) {
	for key, values := range h {
		lower := strings.ToLower(key)
		if !strings.Contains(lower, "ratelimit") || !strings.Contains(lower, "remaining") {
			continue
		}
		matched := len(b.rateLimitHeaderPrefixes) == 0
		for _, prefix := range b.rateLimitHeaderPrefixes {
			if strings.HasPrefix(lower, prefix) {
				matched = true
				break
			}
		}
		if !matched || len(values) == 0 {
			continue
		}
		if v, err := strconv.ParseFloat(values[0], 64); err == nil {
			rateLimitRemaining.WithLabelValues(b.name, lower).Set(v)
		}
	}
}

// wrapHTTPError builds the taxonomy error for an upstream failure response
// using the adapter table, preserving the raw body.
func (b *base) wrapHTTPError(status int, body []byte, model, message string, retryAfter string) *Error {
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	kind := classify(b.errorTable, status, message)
	return &Error{
		Kind:        kind,
		Provider:    b.name,
		Model:       model,
		Status:      status,
		Message:     message,
		RawResponse: truncateRaw(string(body)),
		RetryAfter:  parseRetryAfter(retryAfter),
	}
}

// invalidConfig marks a misconfigured adapter (missing key, bad URL).
func (b *base) invalidConfig(message string) *Error {
	return NewError(KindInvalidProviderConfig, b.name, "", message)
}

const maxRawResponse = 4096

func truncateRaw(s string) string {
	if len(s) <= maxRawResponse {
		return s
	}
	return s[:maxRawResponse]
}

// heuristicTokenCount approximates tokens as chars/4 over text parts, the
// fallback for models without a real tokenizer.
func heuristicTokenCount(messages []models.Message) float64 {
	chars := 0
	for i := range messages {
		for j := range messages[i].Content {
			chars += len(messages[i].Content[j].Text)
			chars += len(messages[i].Content[j].Reasoning)
			chars += len(messages[i].Content[j].Object)
		}
	}
	return float64(chars) / 4
}
