// Package apierr defines the error taxonomy surfaced to gateway callers.
// Every error carries a stable code, an HTTP status, and a capture flag that
// decides whether it is reported to telemetry.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeBadRequest                  Code = "bad_request"
	CodeAuthenticationFailed        Code = "authentication_failed"
	CodeObjectNotFound              Code = "object_not_found"
	CodeEntityTooLarge              Code = "entity_too_large"
	CodeUnsupportedJSONSchema       Code = "unsupported_json_schema"
	CodeDuplicateValue              Code = "duplicate_value"
	CodeProviderDoesNotSupportModel Code = "provider_does_not_support_model"
	CodeNoProviderSupportingModel   Code = "no_provider_supporting_model"
	CodeInvalidFile                 Code = "invalid_file"
	CodeInvalidRunProperties        Code = "invalid_run_properties"
	CodeInternalError               Code = "internal_error"
	CodeOperationTimeout            Code = "operation_timeout"
	CodeContentModeration           Code = "content_moderation"
	CodeMaxTokensExceeded           Code = "max_tokens_exceeded"
	CodeInvalidQuery                Code = "invalid_query"
)

// statusByCode maps every code to its HTTP status.
var statusByCode = map[Code]int{
	CodeBadRequest:                  http.StatusBadRequest,
	CodeAuthenticationFailed:        http.StatusUnauthorized,
	CodeObjectNotFound:              http.StatusNotFound,
	CodeEntityTooLarge:              http.StatusRequestEntityTooLarge,
	CodeUnsupportedJSONSchema:       http.StatusUnprocessableEntity,
	CodeDuplicateValue:              http.StatusBadRequest,
	CodeProviderDoesNotSupportModel: http.StatusBadRequest,
	CodeNoProviderSupportingModel:   http.StatusBadRequest,
	CodeInvalidFile:                 http.StatusBadRequest,
	CodeInvalidRunProperties:        http.StatusBadRequest,
	CodeInternalError:               http.StatusInternalServerError,
	CodeOperationTimeout:            http.StatusGatewayTimeout,
	CodeContentModeration:           http.StatusBadRequest,
	CodeMaxTokensExceeded:           http.StatusBadRequest,
	CodeInvalidQuery:                http.StatusBadRequest,
}

// captureByCode flags codes that are reported to telemetry when surfaced.
var captureByCode = map[Code]bool{
	CodeAuthenticationFailed: true,
	CodeDuplicateValue:       true,
	CodeInternalError:        true,
	CodeOperationTimeout:     true,
}

// Error is the gateway-facing error envelope.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ShouldCapture reports whether the error is sent to telemetry.
func (e *Error) ShouldCapture() bool { return captureByCode[e.Code] }

// WithDetail attaches one detail entry and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// New builds an error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error preserving err as the cause.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// BadRequest is shorthand for a CodeBadRequest error.
func BadRequest(format string, args ...any) *Error {
	return New(CodeBadRequest, format, args...)
}

// NotFound is shorthand for a CodeObjectNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(CodeObjectNotFound, format, args...)
}

// Internal is shorthand for a wrapped CodeInternalError.
func Internal(err error, format string, args ...any) *Error {
	return Wrap(err, CodeInternalError, format, args...)
}

// InvalidToken builds the authentication failure used by tenant resolution.
func InvalidToken(message string) *Error {
	return New(CodeAuthenticationFailed, "%s", message)
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// FromError coerces any error into an *Error. Unknown errors become
// internal errors with the original preserved as cause.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := As(err); ok {
		return apiErr
	}
	return Internal(err, "internal error")
}
