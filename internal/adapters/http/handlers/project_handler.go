package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/services"
)

type createProjectRequest struct {
	Name  string         `json:"name"`
	Plan  string         `json:"plan"`
	Rules domain.RuleSet `json:"rules"`
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	p, err := h.deps.Projects.Create(r.Context(), body.Name, body.Plan, body.Rules)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": p})
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.deps.Projects.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// GetProject devolve o projeto e o uso horário dos últimos sete dias.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.deps.Projects.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	usage, err := h.deps.Projects.Usage(r.Context(), id, services.DefaultUsageDays)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p, "usage": usage})
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Projects.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateProjectRules(w http.ResponseWriter, r *http.Request) {
	var rules domain.RuleSet
	if err := decodeJSON(r, &rules); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	p, err := h.deps.Projects.UpdateRules(r.Context(), chi.URLParam(r, "id"), rules)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p})
}

// UpdateRules atualiza as regras do projeto dono da API key.
func (h *Handler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	var rules domain.RuleSet
	if err := decodeJSON(r, &rules); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	p, err := h.deps.Projects.UpdateRules(r.Context(), project.ID, rules)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": p.Rules})
}

type rotateKeyRequest struct {
	KeyType string `json:"keyType"`
}

func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	var body rotateKeyRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	p, err := h.deps.Projects.RotateKey(r.Context(), chi.URLParam(r, "id"), body.KeyType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p, "key": p.Keys[body.KeyType].Key})
}
