package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/trpg-tools/lorekeeper/internal/project"
	"github.com/trpg-tools/lorekeeper/internal/subprompt"
)

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := s.projects.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "project_list_failed", err.Error())
		return
	}
	global, err := s.projects.LoadGlobalConfig()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "config_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"projects":       projects,
		"active_project": global.ActiveProject,
	})
}

type createProjectRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := project.ValidateID(req.ID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_project_id", err.Error())
		return
	}

	settings, err := s.projects.Create(req.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "project_create_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":       req.ID,
		"settings": settings,
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.projects.Delete(id)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_project_id", err.Error())
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "project_not_found", "no such project: "+id)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleGetProjectSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.projects.LoadSettings(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "settings_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutProjectSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	settings, err := s.projects.LoadSettings(id)
	if err != nil {
		respondError(w, http.StatusBadRequest, "settings_load_failed", err.Error())
		return
	}
	if err := decodeJSON(r, &settings); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.projects.SaveSettings(id, settings); err != nil {
		respondError(w, http.StatusInternalServerError, "settings_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetSubprompts(w http.ResponseWriter, r *http.Request) {
	collection, err := s.subprompts.Load(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "subprompts_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, collection)
}

func (s *Server) handlePutSubprompts(w http.ResponseWriter, r *http.Request) {
	var collection subprompt.Collection
	if err := decodeJSON(r, &collection); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if collection == nil {
		collection = subprompt.Collection{}
	}
	if err := s.subprompts.Save(chi.URLParam(r, "id"), collection); err != nil {
		respondError(w, http.StatusInternalServerError, "subprompts_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, collection)
}

func (s *Server) handleSetSubprompt(w http.ResponseWriter, r *http.Request) {
	var sp subprompt.Subprompt
	if err := decodeJSON(r, &sp); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(sp.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	id := chi.URLParam(r, "id")
	category := chi.URLParam(r, "category")
	name := chi.URLParam(r, "name")
	if err := s.subprompts.Set(id, category, name, sp); err != nil {
		respondError(w, http.StatusInternalServerError, "subprompt_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sp)
}

func (s *Server) handleDeleteSubprompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	category := chi.URLParam(r, "category")
	name := chi.URLParam(r, "name")

	deleted, err := s.subprompts.Delete(id, category, name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "subprompt_delete_failed", err.Error())
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "subprompt_not_found", "no such subprompt: "+category+"/"+name)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
