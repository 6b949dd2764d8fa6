package gateway

import (
	"net/http"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/storage"
)

// handleCompletionsQuery runs tenant-scoped read-only SQL over the
// analytics tier.
func (s *Server) handleCompletionsQuery(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	query := r.URL.Query().Get("query")
	if query == "" {
		s.writeError(w, apierr.BadRequest("query parameter is required"))
		return
	}
	rows, err := s.analytics.RawQuery(r.Context(), tenant.UID, query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleCompletionGet(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sanitized, err := storage.SanitizeID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	completion, err := s.analytics.CompletionByID(r.Context(), tenant.UID, sanitized)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, completion)
}
