package gateway

import (
	"net/http"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/auth"
	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

func (s *Server) handleAgentsList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	agents, err := s.stores.Agents.List(r.Context(), tenant.UID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": agents})
}

func (s *Server) handleModelsList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"items": modelcatalog.All()})
}

func (s *Server) handleModelIDs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ids": modelcatalog.IDs()})
}

func (s *Server) handleViewsList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	views, err := s.stores.Views.Views(r.Context(), tenant.UID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	folders, err := s.stores.Views.Folders(r.Context(), tenant.UID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if views == nil {
		views = []models.View{}
	}
	if folders == nil {
		folders = []models.ViewFolder{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"views": views, "folders": folders})
}

func (s *Server) handleViewUpsert(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	var view models.View
	if err := decodeBody(r, &view); err != nil {
		s.writeError(w, err)
		return
	}
	if view.Query == "" {
		s.writeError(w, apierr.BadRequest("view query is required"))
		return
	}
	if view.ID == "" {
		view.ID = models.NewID()
	}
	if err := s.stores.Views.UpsertView(r.Context(), tenant.UID, &view); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleViewPatch applies a partial update to an existing view. Only fields
// present in the body change.
func (s *Server) handleViewPatch(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var patch struct {
		FolderID *string         `json:"folder_id"`
		Title    *string         `json:"title"`
		Query    *string         `json:"query"`
		Graph    *map[string]any `json:"graph"`
		Position *int            `json:"position"`
	}
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.stores.Views.View(r.Context(), tenant.UID, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if patch.FolderID != nil {
		view.FolderID = *patch.FolderID
	}
	if patch.Title != nil {
		view.Title = *patch.Title
	}
	if patch.Query != nil {
		view.Query = *patch.Query
	}
	if patch.Graph != nil {
		view.Graph = *patch.Graph
	}
	if patch.Position != nil {
		view.Position = *patch.Position
	}
	if err := s.stores.Views.UpsertView(r.Context(), tenant.UID, view); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleViewDelete(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.stores.Views.DeleteView(r.Context(), tenant.UID, id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFolderUpsert(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	var folder models.ViewFolder
	if err := decodeBody(r, &folder); err != nil {
		s.writeError(w, err)
		return
	}
	if folder.Name == "" {
		s.writeError(w, apierr.BadRequest("folder name is required"))
		return
	}
	if folder.ID == "" {
		folder.ID = models.NewID()
	}
	if err := s.stores.Views.UpsertFolder(r.Context(), tenant.UID, &folder); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, folder)
}

func (s *Server) handleFolderPatch(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var patch struct {
		Name *string `json:"name"`
	}
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	folders, err := s.stores.Views.Folders(r.Context(), tenant.UID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for i := range folders {
		if folders[i].ID != id {
			continue
		}
		if patch.Name != nil {
			folders[i].Name = *patch.Name
		}
		if err := s.stores.Views.UpsertFolder(r.Context(), tenant.UID, &folders[i]); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, folders[i])
		return
	}
	s.writeError(w, apierr.NotFound("view folder %q not found", id))
}

func (s *Server) handleFolderDelete(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.stores.Views.DeleteFolder(r.Context(), tenant.UID, id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleKeyCreate mints a gateway API key. The raw key appears only in this
// response; the store keeps its hash.
func (s *Server) handleKeyCreate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	var body struct {
		Name string `json:"name"`
	}
	// An empty body is fine; the key just stays unnamed.
	if err := decodeBody(r, &body); err != nil && r.ContentLength != 0 {
		s.writeError(w, err)
		return
	}
	key, raw, err := auth.CreateKey(r.Context(), s.stores.APIKeys, tenant.UID, body.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":          key.ID,
		"name":        key.Name,
		"partial_key": key.PartialKey,
		"api_key":     raw,
		"created_at":  key.CreatedAt,
	})
}

func (s *Server) handleKeysList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	keys, err := s.stores.APIKeys.List(r.Context(), tenant.UID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": keys})
}

func (s *Server) handleKeyDelete(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.stores.APIKeys.Delete(r.Context(), tenant.UID, id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
