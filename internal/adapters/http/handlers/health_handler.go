package handlers

import (
	"context"
	"net/http"
	"time"
)

var startedAt = time.Now()

// Health responde com o estado do processo e do store compartilhado.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"store":  "none",
		"uptime": time.Since(startedAt).Seconds(),
	}
	status := http.StatusOK

	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Store.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			body["status"] = "degraded"
			body["store"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			body["store"] = "ok"
		}
	}

	writeJSON(w, status, body)
}
