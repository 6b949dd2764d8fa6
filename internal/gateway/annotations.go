package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// handleAnnotationsCreate stores a batch of annotations. An annotation that
// targets a completion in the context of an experiment also registers that
// completion as a run of the experiment.
func (s *Server) handleAnnotationsCreate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	var annotations []models.Annotation
	if err := decodeBody(r, &annotations); err != nil {
		s.writeError(w, err)
		return
	}
	if len(annotations) == 0 {
		s.writeError(w, apierr.BadRequest("at least one annotation is required"))
		return
	}
	now := time.Now().UTC()
	for i := range annotations {
		a := &annotations[i]
		if a.ID == "" {
			a.ID = models.NewID()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
		if a.Target == nil || (a.Target.CompletionID == "" && a.Target.ExperimentID == "") {
			s.writeError(w, apierr.BadRequest("annotation target requires a completion_id or experiment_id"))
			return
		}
		if err := s.attachAnnotationRun(r, tenant.UID, a); err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.analytics.StoreAnnotation(r.Context(), tenant.UID, a); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, annotations)
}

// attachAnnotationRun links the annotated completion to its context
// experiment so later experiment reads include it.
func (s *Server) attachAnnotationRun(r *http.Request, tenantUID string, a *models.Annotation) error {
	if a.Context == nil || a.Context.ExperimentID == "" || a.Target.CompletionID == "" {
		return nil
	}
	err := s.experiments.AddRunID(r.Context(), tenantUID, a.Context.ExperimentID, a.Target.CompletionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		if apiErr, ok := apierr.As(err); ok && apiErr.Code == apierr.CodeObjectNotFound {
			return apierr.BadRequest("annotation context references unknown experiment %q", a.Context.ExperimentID)
		}
		return err
	}
	return nil
}

func (s *Server) handleAnnotationsList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter := storage.AnnotationFilter{
		ExperimentID: r.URL.Query().Get("experiment_id"),
		CompletionID: r.URL.Query().Get("completion_id"),
		Limit:        limit,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeError(w, apierr.BadRequest("since: %q is not an RFC 3339 timestamp", since))
			return
		}
		filter.Since = t
	}
	annotations, err := s.analytics.Annotations(r.Context(), tenant.UID, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if annotations == nil {
		annotations = []models.Annotation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": annotations})
}

func (s *Server) handleAnnotationDelete(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.analytics.DeleteAnnotation(r.Context(), tenant.UID, id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
