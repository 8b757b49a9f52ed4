// Package middleware disponibiliza middlewares HTTP específicos da aplicação.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

const rateLimitExceededMessage = "you have reached the maximum number of requests or actions allowed within a certain time frame"

// NewRateLimiterMiddleware limita por IP os clientes da própria API. Os headers
// vão em toda requisição avaliada; falha do store responde 503.
func NewRateLimiterMiddleware(limiter ports.RateLimiter, rules domain.RuleSet, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || len(rules) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.CheckMultiLayer(r.Context(), domain.AdmissionRequest{IP: ClientIP(r)}, rules)
			WriteRateLimitHeaders(w, decision)
			if err != nil {
				logger.Error("rate limiter failed", "path", r.URL.Path, "error", err)
				WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}

			if !decision.Allowed {
				WriteError(w, http.StatusTooManyRequests, rateLimitExceededMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteRateLimitHeaders copia os headers da decisão para w.
func WriteRateLimitHeaders(w http.ResponseWriter, decision domain.AdmissionDecision) {
	for k, v := range decision.Headers() {
		w.Header().Set(k, v)
	}
}

// ClientIP usa o primeiro salto de X-Forwarded-For, depois X-Real-IP e por fim
// o endereço remoto da conexão.
func ClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		first, _, _ := strings.Cut(xForwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if xRealIP != "" {
		return xRealIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}

	return host
}

// WriteError responde {"error": message} com o status informado.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

type contextKey struct{}

// ProjectFromContext devolve o projeto autenticado por ProjectAuth.
func ProjectFromContext(ctx context.Context) (domain.Project, bool) {
	p, ok := ctx.Value(contextKey{}).(domain.Project)
	return p, ok
}

// WithProject guarda p em ctx como ProjectAuth faz.
func WithProject(ctx context.Context, p domain.Project) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}
