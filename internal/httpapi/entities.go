package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/trpg-tools/lorekeeper/internal/entity"
)

func (s *Server) countEntityOp(category, op string) {
	s.metrics.EntityOps.WithLabelValues(category, op).Inc()
}

func respondEntityError(w http.ResponseWriter, err error) {
	if errors.Is(err, entity.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	respondError(w, http.StatusBadRequest, "entity_error", err.Error())
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.entities.ListCategories(chi.URLParam(r, "id"))
	if err != nil {
		respondEntityError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

type createCategoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	created, err := s.entities.CreateCategory(chi.URLParam(r, "id"), req.Name)
	if err != nil {
		respondEntityError(w, err)
		return
	}
	s.countEntityOp(req.Name, "create_category")
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{"name": req.Name, "created": created})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.entities.ListItems(chi.URLParam(r, "id"), chi.URLParam(r, "category"))
	if err != nil {
		respondEntityError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var item entity.Item
	if err := decodeJSON(r, &item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	category := chi.URLParam(r, "category")
	id, err := s.entities.AddItem(chi.URLParam(r, "id"), category, item)
	if err != nil {
		respondEntityError(w, err)
		return
	}
	s.countEntityOp(category, "add")
	respondJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.entities.GetItem(chi.URLParam(r, "id"), chi.URLParam(r, "category"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondEntityError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	category := chi.URLParam(r, "category")
	itemID := chi.URLParam(r, "itemID")
	if err := s.entities.UpdateItem(chi.URLParam(r, "id"), category, itemID, patch); err != nil {
		respondEntityError(w, err)
		return
	}
	s.countEntityOp(category, "update")

	item, err := s.entities.GetItem(chi.URLParam(r, "id"), category, itemID)
	if err != nil {
		respondEntityError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	if err := s.entities.DeleteItem(chi.URLParam(r, "id"), category, chi.URLParam(r, "itemID")); err != nil {
		respondEntityError(w, err)
		return
	}
	s.countEntityOp(category, "delete")
	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type historyEntryRequest struct {
	Entry string `json:"entry"`
}

func (s *Server) handleAddItemHistory(w http.ResponseWriter, r *http.Request) {
	var req historyEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	category := chi.URLParam(r, "category")
	entry, err := s.entities.AddHistoryEntry(chi.URLParam(r, "id"), category, chi.URLParam(r, "itemID"), req.Entry)
	if err != nil {
		respondEntityError(w, err)
		return
	}
	s.countEntityOp(category, "add_history")
	respondJSON(w, http.StatusCreated, entry)
}

type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

func (s *Server) handleUpdateItemTags(w http.ResponseWriter, r *http.Request) {
	var req updateTagsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	category := chi.URLParam(r, "category")
	if err := s.entities.UpdateTags(chi.URLParam(r, "id"), category, chi.URLParam(r, "itemID"), req.Tags); err != nil {
		respondEntityError(w, err)
		return
	}
	s.countEntityOp(category, "update_tags")
	respondJSON(w, http.StatusOK, map[string]any{"tags": req.Tags})
}

// handleSearchItems runs a tag search across every category of a project.
// Query: tags (comma-separated, required), logic (OR default, or AND),
// case_sensitive (default false).
func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	rawTags := strings.TrimSpace(r.URL.Query().Get("tags"))
	if rawTags == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter tags is required")
		return
	}
	tags := strings.Split(rawTags, ",")

	logic := entity.SearchAny
	if strings.EqualFold(r.URL.Query().Get("logic"), string(entity.SearchAll)) {
		logic = entity.SearchAll
	}
	caseInsensitive := !strings.EqualFold(r.URL.Query().Get("case_sensitive"), "true")

	matches, err := s.entities.FindItemsByTags(chi.URLParam(r, "id"), tags, logic, caseInsensitive)
	if err != nil {
		respondEntityError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
