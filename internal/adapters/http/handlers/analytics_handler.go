package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	httpMiddleware "github.com/JeanGrijp/throttle-io/internal/adapters/http/middleware"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/services"
)

const dashboardTopViolators = 20

// Analytics devolve a análise de um identificador quando layer e identifier
// são informados; caso contrário, o ranking global e o uso do projeto.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	layer := domain.Layer(q.Get("layer"))
	identifier := q.Get("identifier")

	if layer != "" && identifier != "" {
		if !layer.Valid() {
			httpMiddleware.WriteError(w, http.StatusBadRequest, "unknown layer")
			return
		}
		hours := 1
		if raw := q.Get("hours"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpMiddleware.WriteError(w, http.StatusBadRequest, "hours must be a positive integer")
				return
			}
			hours = n
		}

		analytics, err := h.deps.Violations.GetAnalytics(r.Context(), layer, identifier, time.Duration(hours)*time.Hour)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, analytics)
		return
	}

	top, err := h.deps.Violations.GetTopViolators(r.Context(), services.DefaultTopViolators)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	usage, err := h.deps.Projects.Usage(r.Context(), project.ID, services.DefaultUsageDays)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"topViolators": top,
		"usage":        usage,
		"projectId":    project.ID,
	})
}

// GlobalAnalytics agrega uso e violações de todos os projetos nas últimas 24h.
func (h *Handler) GlobalAnalytics(w http.ResponseWriter, r *http.Request) {
	top, err := h.deps.Violations.GetTopViolators(r.Context(), dashboardTopViolators)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	projects, err := h.deps.Projects.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var totalRequests, totalViolations int64
	for _, p := range projects {
		usage, err := h.deps.Projects.Usage(r.Context(), p.ID, 1)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			h.writeServiceError(w, r, err)
			return
		}
		for _, b := range usage {
			totalRequests += int64(b.Count)
		}
	}
	for _, v := range top {
		totalViolations += v.Count
	}

	blockRate := 0.0
	if totalRequests > 0 {
		blockRate = math.Round(float64(totalViolations)/float64(totalRequests)*10000) / 100
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalProjects":   len(projects),
		"totalRequests":   totalRequests,
		"totalViolations": totalViolations,
		"topViolators":    top,
		"blockRate":       blockRate,
	})
}
