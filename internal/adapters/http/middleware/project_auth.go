package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

// HeaderAPIKey carrega a chave do projeto nas rotas /api/v1.
const HeaderAPIKey = "X-API-Key"

// ProjectResolver é satisfeito por services.ProjectService.
type ProjectResolver interface {
	GetByAPIKey(ctx context.Context, apiKey string) (domain.Project, error)
	RecordUsage(ctx context.Context, projectID string) error
}

// NewProjectAuth resolve o header X-API-Key em um projeto, guarda-o no contexto
// da requisição e conta a requisição no uso do projeto.
func NewProjectAuth(projects ProjectResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
			if apiKey == "" {
				WriteError(w, http.StatusUnauthorized, "API key required")
				return
			}

			project, err := projects.GetByAPIKey(r.Context(), apiKey)
			if err != nil {
				if domain.IsNotFound(err) {
					WriteError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				logger.Error("api key lookup failed", "error", err)
				WriteError(w, http.StatusServiceUnavailable, "project store unavailable")
				return
			}

			if err := projects.RecordUsage(r.Context(), project.ID); err != nil {
				logger.Warn("failed to record usage", "project_id", project.ID, "error", err)
			}

			next.ServeHTTP(w, r.WithContext(WithProject(r.Context(), project)))
		})
	}
}
