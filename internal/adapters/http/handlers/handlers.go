// Package handlers expõe a API HTTP do serviço: /api/v1 para clientes
// autenticados por API key e /dashboard para administração.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	httpMiddleware "github.com/JeanGrijp/throttle-io/internal/adapters/http/middleware"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
	"github.com/JeanGrijp/throttle-io/internal/core/services"
)

const maxBodyBytes = 1 << 20

// Pinger informa se o store compartilhado está acessível.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies agrupa os serviços usados pelos handlers.
type Dependencies struct {
	Limiter    *services.RateLimiterService
	Violations *services.ViolationRecorder
	Projects   *services.ProjectService
	Webhooks   *services.WebhookService

	// SelfLimiter aplica SelfProtection. Deve usar um namespace de chaves
	// próprio e nenhum ViolationSink, para não consumir a quota dos projetos.
	SelfLimiter ports.RateLimiter
	// SelfProtection limita por IP as rotas da própria API. Vazio desativa.
	SelfProtection domain.RuleSet
	// Store é consultado por /health; nil reporta apenas o processo.
	Store Pinger
	// Metrics, quando presente, é servido em /metrics e mede a latência das rotas.
	Metrics MetricsExporter
	Logger  *slog.Logger
}

type MetricsExporter interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

type Handler struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewRouter monta todas as rotas sobre um chi.Router.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Get("/health", h.Health)

	if deps.SelfLimiter == nil && len(deps.SelfProtection) > 0 {
		deps.Logger.Warn("self-protection rules set without a limiter; API routes are not limited")
	}
	selfProtection := httpMiddleware.NewRateLimiterMiddleware(deps.SelfLimiter, deps.SelfProtection, deps.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(selfProtection)
		r.Use(httpMiddleware.NewProjectAuth(deps.Projects, deps.Logger))

		r.Post("/check", h.Check)
		r.Post("/check/batch", h.CheckBatch)
		r.Post("/check/peek", h.Peek)
		r.Get("/analytics", h.Analytics)
		r.Put("/rules", h.UpdateRules)

		r.Get("/webhooks", h.ListWebhooks)
		r.Post("/webhooks", h.RegisterWebhook)
		r.Get("/webhooks/{id}", h.GetWebhook)
		r.Patch("/webhooks/{id}", h.UpdateWebhook)
		r.Delete("/webhooks/{id}", h.DeleteWebhook)
		r.Get("/webhooks/{id}/logs", h.DeliveryLogs)
	})

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(selfProtection)

		r.Post("/projects", h.CreateProject)
		r.Get("/projects", h.ListProjects)
		r.Get("/projects/{id}", h.GetProject)
		r.Delete("/projects/{id}", h.DeleteProject)
		r.Put("/projects/{id}/rules", h.UpdateProjectRules)
		r.Post("/projects/{id}/rotate", h.RotateKey)
		r.Get("/analytics", h.GlobalAnalytics)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "is required")
		}
		return domain.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// writeServiceError mapeia erros para status: validação 400, não encontrado
// 404, store indisponível 503 e o resto 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Message, "field": ve.Field})
	case domain.IsNotFound(err):
		httpMiddleware.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrBatchTooLarge):
		httpMiddleware.WriteError(w, http.StatusBadRequest, err.Error())
	case domain.IsStoreUnavailable(err):
		h.logger.Error("store unavailable", "path", r.URL.Path, "error", err)
		httpMiddleware.WriteError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		httpMiddleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) project(w http.ResponseWriter, r *http.Request) (domain.Project, bool) {
	p, ok := httpMiddleware.ProjectFromContext(r.Context())
	if !ok {
		httpMiddleware.WriteError(w, http.StatusUnauthorized, "API key required")
	}
	return p, ok
}
