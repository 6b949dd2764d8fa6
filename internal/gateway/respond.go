package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/provider"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// errorEnvelope is the wire form of every error response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	StatusCode int            `json:"status_code"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("encoding response", "error", err)
	}
}

// writeError maps any error onto the envelope, forwarding Retry-After for
// rate limits.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if pe, ok := provider.AsError(err); ok && pe.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(pe.RetryAfter.Seconds())))
	}
	apiErr := apierr.FromError(err)
	if apiErr.ShouldCapture() {
		s.log.Error("request failed", "code", body.Error.Code, "error", err)
	}
	s.writeJSON(w, status, body)
}

// errorResponse flattens the error taxonomy into (status, envelope).
func errorResponse(err error) (int, errorEnvelope) {
	var (
		invalidQuery  *storage.InvalidQuery
		validationErr *models.ValidationError
		fileErr       *models.InvalidFileError
	)
	switch {
	case errors.As(err, &invalidQuery):
		return envelope(http.StatusBadRequest, string(apierr.CodeInvalidQuery), invalidQuery.Message,
			map[string]any{"error_type": invalidQuery.ErrorType})
	case errors.As(err, &validationErr):
		return envelope(http.StatusBadRequest, string(apierr.CodeBadRequest), validationErr.Error(), nil)
	case errors.As(err, &fileErr):
		return envelope(http.StatusBadRequest, string(apierr.CodeInvalidFile), fileErr.Error(), nil)
	case errors.Is(err, storage.ErrNotFound):
		return envelope(http.StatusNotFound, string(apierr.CodeObjectNotFound), "not found", nil)
	}
	if pe, ok := provider.AsError(err); ok {
		return envelope(providerStatus(pe), string(pe.Kind), pe.Message, nil)
	}
	apiErr := apierr.FromError(err)
	message := apiErr.Message
	if apiErr.Code == apierr.CodeInternalError {
		// Internal causes stay in the logs.
		message = "internal error"
	}
	return envelope(apiErr.Status(), string(apiErr.Code), message, apiErr.Details)
}

func envelope(status int, code, message string, details map[string]any) (int, errorEnvelope) {
	return status, errorEnvelope{Error: errorBody{
		StatusCode: status,
		Code:       code,
		Message:    message,
		Details:    details,
	}}
}

func providerStatus(pe *provider.Error) int {
	switch pe.Kind {
	case provider.KindRateLimit:
		return http.StatusTooManyRequests
	case provider.KindProviderBadRequest, provider.KindProviderInvalidFile,
		provider.KindModelDoesNotSupportMode, provider.KindMissingModel,
		provider.KindContentModeration, provider.KindMaxTokensExceeded,
		provider.KindStructuredGeneration:
		return http.StatusBadRequest
	case provider.KindInvalidProviderConfig:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.BadRequest("invalid request body: %s", err.Error())
	}
	return nil
}

// pathID extracts a non-empty {id} path segment.
func pathID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if id == "" {
		return "", apierr.BadRequest("missing id")
	}
	return id, nil
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apierr.BadRequest("%s: %q is not an integer", key, v)
	}
	return n, nil
}
