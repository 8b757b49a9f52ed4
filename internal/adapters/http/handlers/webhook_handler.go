package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	httpMiddleware "github.com/JeanGrijp/throttle-io/internal/adapters/http/middleware"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/services"
)

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	webhooks, err := h.deps.Webhooks.List(r.Context(), project.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if webhooks == nil {
		webhooks = []domain.Webhook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": webhooks})
}

func (h *Handler) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	var cfg domain.WebhookConfig
	if err := decodeJSON(r, &cfg); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	wh, err := h.deps.Webhooks.Register(r.Context(), project.ID, cfg)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"webhook": wh})
}

func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	wh, err := h.deps.Webhooks.Get(r.Context(), project.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": wh})
}

func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	var upd domain.WebhookUpdate
	if err := decodeJSON(r, &upd); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	wh, err := h.deps.Webhooks.Update(r.Context(), project.ID, chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": wh})
}

func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	if err := h.deps.Webhooks.Delete(r.Context(), project.ID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeliveryLogs lista as tentativas de entrega mais recentes; ?limit= altera o
// padrão de services.DefaultDeliveryLogs.
func (h *Handler) DeliveryLogs(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	limit := services.DefaultDeliveryLogs
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpMiddleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs, err := h.deps.Webhooks.GetDeliveryLogs(r.Context(), project.ID, chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
