package handlers

import (
	"net/http"
	"strings"
	"time"

	httpMiddleware "github.com/JeanGrijp/throttle-io/internal/adapters/http/middleware"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/services"
)

type checkRequest struct {
	IP       string `json:"ip"`
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
}

func (c checkRequest) admission(apiKey string) domain.AdmissionRequest {
	return domain.AdmissionRequest{
		IP:       strings.TrimSpace(c.IP),
		APIKey:   apiKey,
		UserID:   strings.TrimSpace(c.UserID),
		Endpoint: strings.TrimSpace(c.Endpoint),
	}
}

type checkResponse struct {
	Allowed    bool                 `json:"allowed"`
	Remaining  int64                `json:"remaining"`
	ResetAt    time.Time            `json:"resetAt"`
	BlockedBy  domain.Layer         `json:"blockedBy,omitempty"`
	FailReason string               `json:"failReason,omitempty"`
	Layers     []domain.LayerResult `json:"layers"`
}

func newCheckResponse(d domain.AdmissionDecision) checkResponse {
	layers := d.Layers
	if layers == nil {
		layers = []domain.LayerResult{}
	}
	return checkResponse{
		Allowed:    d.Allowed,
		Remaining:  d.Remaining,
		ResetAt:    d.ResetAt,
		BlockedBy:  d.BlockedBy,
		FailReason: d.FailReason,
		Layers:     layers,
	}
}

func decisionStatus(d domain.AdmissionDecision) int {
	switch {
	case d.FailReason != "":
		return http.StatusServiceUnavailable
	case !d.Allowed:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

// Check avalia uma requisição contra as regras do projeto autenticado.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}

	var body checkRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	req := body.admission(apiKeyOf(r))
	if req.IP == "" && req.UserID == "" {
		httpMiddleware.WriteError(w, http.StatusBadRequest, "At least one identifier (ip or userId) required")
		return
	}

	decision, err := h.deps.Limiter.CheckMultiLayer(r.Context(), req, project.Rules)
	if err != nil {
		h.logger.Error("admission check failed", "project_id", project.ID, "error", err)
	}

	httpMiddleware.WriteRateLimitHeaders(w, decision)
	writeJSON(w, decisionStatus(decision), newCheckResponse(decision))
}

type batchRequest struct {
	Requests []checkRequest `json:"requests"`
}

// CheckBatch avalia até services.MaxBatchSize requisições de forma independente.
func (h *Handler) CheckBatch(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}

	var body batchRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if body.Requests == nil || len(body.Requests) > services.MaxBatchSize {
		httpMiddleware.WriteError(w, http.StatusBadRequest, "Requests must be an array with max 100 items")
		return
	}

	apiKey := apiKeyOf(r)
	reqs := make([]domain.AdmissionRequest, len(body.Requests))
	for i, item := range body.Requests {
		reqs[i] = item.admission(apiKey)
	}

	decisions, err := h.deps.Limiter.CheckBatch(r.Context(), reqs, project.Rules)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	results := make([]checkResponse, len(decisions))
	for i, d := range decisions {
		results[i] = newCheckResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Peek mostra o estado das camadas sem consumir quota.
func (h *Handler) Peek(w http.ResponseWriter, r *http.Request) {
	project, ok := h.project(w, r)
	if !ok {
		return
	}

	var body checkRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	decision, err := h.deps.Limiter.Peek(r.Context(), body.admission(apiKeyOf(r)), project.Rules)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpMiddleware.WriteRateLimitHeaders(w, decision)
	writeJSON(w, http.StatusOK, newCheckResponse(decision))
}

func apiKeyOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(httpMiddleware.HeaderAPIKey))
}
