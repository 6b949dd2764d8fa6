package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrorKind is the provider-agnostic error taxonomy. Adapters map upstream
// error strings and status codes onto these kinds; the runner's fallback
// policy and the gateway's HTTP mapping both key off them.
type ErrorKind string

const (
	KindMaxTokensExceeded        ErrorKind = "max_tokens_exceeded"
	KindProviderInternal         ErrorKind = "provider_internal"
	KindProviderBadRequest       ErrorKind = "provider_bad_request"
	KindProviderInvalidFile      ErrorKind = "provider_invalid_file"
	KindModelDoesNotSupportMode  ErrorKind = "model_does_not_support_mode"
	KindStructuredGeneration     ErrorKind = "structured_generation_error"
	KindContentModeration        ErrorKind = "content_moderation"
	KindFailedGeneration         ErrorKind = "failed_generation"
	KindInvalidGeneration        ErrorKind = "invalid_generation"
	KindMissingModel             ErrorKind = "missing_model"
	KindRateLimit                ErrorKind = "rate_limit"
	KindInvalidProviderConfig    ErrorKind = "invalid_provider_config"
	KindUnpriceableRun           ErrorKind = "unpriceable_run"
	KindUnknown                  ErrorKind = "unknown"
)

// Error is a structured provider failure. The raw upstream response is
// preserved for triage; RetryAfter is populated from 429 headers.
type Error struct {
	Kind        ErrorKind
	Provider    string
	Model       string
	Status      int
	Code        string
	Message     string
	RawResponse string
	RetryAfter  time.Duration
	Extras      map[string]any
	cause       error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.cause }

// WithExtra attaches one triage detail and returns the error.
func (e *Error) WithExtra(key string, value any) *Error {
	if e.Extras == nil {
		e.Extras = map[string]any{}
	}
	e.Extras[key] = value
	return e
}

// NewError builds a provider error of the given kind.
func NewError(kind ErrorKind, providerName, model, message string) *Error {
	return &Error{Kind: kind, Provider: providerName, Model: model, Message: message}
}

// WrapErr builds a provider error preserving the cause.
func WrapErr(kind ErrorKind, providerName, model string, cause error) *Error {
	e := &Error{Kind: kind, Provider: providerName, Model: model, cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// AsError extracts a provider *Error from a chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if pe, ok := AsError(err); ok {
		return pe.Kind == kind
	}
	return false
}

// errorPattern pairs a compiled regex over the upstream error text with the
// taxonomy kind it maps to. Patterns are checked in order; first match wins.
type errorPattern struct {
	re   *regexp.Regexp
	kind ErrorKind
}

func pattern(expr string, kind ErrorKind) errorPattern {
	return errorPattern{re: regexp.MustCompile(expr), kind: kind}
}

// sharedPatterns cover phrasing common to several upstreams. Adapters
// prepend their own tables.
var sharedPatterns = []errorPattern{
	pattern(`(?i)maximum context length|context length exceeded|context_length_exceeded|too long`, KindMaxTokensExceeded),
	pattern(`(?i)content management policy|content policy|moderation|safety system|blocked by|PROHIBITED_CONTENT`, KindContentModeration),
	pattern(`(?i)model .* (not found|does not exist)|model_not_found|unknown model`, KindMissingModel),
	pattern(`(?i)does not support|unsupported parameter|not supported (with|for|by)`, KindModelDoesNotSupportMode),
	pattern(`(?i)invalid (image|file|media)|could not process (image|file)|unsupported (image|file) type`, KindProviderInvalidFile),
	pattern(`(?i)json_schema|structured output|response_format`, KindStructuredGeneration),
	pattern(`(?i)rate limit|rate_limit|too many requests`, KindRateLimit),
	pattern(`(?i)overloaded|internal server error|server_error|service unavailable|bad gateway`, KindProviderInternal),
}

// classify matches the upstream error text against the adapter table then
// the shared table, falling back to status-based classification. The raw
// message is always preserved.
func classify(table []errorPattern, status int, message string) ErrorKind {
	for _, p := range table {
		if p.re.MatchString(message) {
			return p.kind
		}
	}
	for _, p := range sharedPatterns {
		if p.re.MatchString(message) {
			return p.kind
		}
	}
	switch {
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindProviderInternal
	case status == 400 || status == 404 || status == 422:
		return KindProviderBadRequest
	}
	return KindUnknown
}

// parseRetryAfter interprets a Retry-After header value as a duration.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := time.ParseDuration(value + "s"); err == nil {
		return secs
	}
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
