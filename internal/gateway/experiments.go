package gateway

import (
	"net/http"
	"time"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const defaultExperimentWait = 2 * time.Minute

func (s *Server) handleExperimentCreate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	var exp models.Experiment
	if err := decodeBody(r, &exp); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.experiments.Create(r.Context(), tenant.UID, &exp); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleExperimentList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items, total, err := s.experiments.List(r.Context(), tenant.UID, r.URL.Query().Get("agent_id"), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []models.Experiment{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) handleExperimentGet(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	exp, err := s.experiments.Get(r.Context(), tenant.UID, id, q["version_id"], q["input_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleExperimentAddInputs(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Inputs []models.AgentInput `json:"inputs"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if len(body.Inputs) == 0 {
		s.writeError(w, apierr.BadRequest("inputs are required"))
		return
	}
	all, added, err := s.experiments.AddInputs(r.Context(), tenant.UID, id, body.Inputs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idsResponse(all, added))
}

func (s *Server) handleExperimentAddVersions(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Version   models.Version   `json:"version"`
		Overrides []map[string]any `json:"overrides,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	all, added, err := s.experiments.AddVersions(r.Context(), tenant.UID, id, body.Version, body.Overrides)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idsResponse(all, added))
}

func (s *Server) handleExperimentStart(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		VersionIDs []string `json:"version_ids"`
		InputIDs   []string `json:"input_ids"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	scheduled, err := s.experiments.StartCompletions(r.Context(), tenant.UID, id, body.VersionIDs, body.InputIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"scheduled": scheduled})
}

func (s *Server) handleExperimentWait(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxWaitSeconds, err := queryInt(r, "max_wait_s", int(defaultExperimentWait.Seconds()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	exp, query, err := s.experiments.Wait(r.Context(), tenant.UID, id,
		q["version_id"], q["input_id"], time.Duration(maxWaitSeconds)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"experiment": exp, "query": query})
}

func idsResponse(all, added []string) map[string]any {
	if all == nil {
		all = []string{}
	}
	if added == nil {
		added = []string{}
	}
	return map[string]any{"ids": all, "added": added}
}
