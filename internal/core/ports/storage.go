// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

// LimitStore executa cada algoritmo como uma única transação atômica contra o
// estado compartilhado. Implementações nunca podem separar leitura e escrita em
// chamadas distintas.
type LimitStore interface {
	Evaluate(ctx context.Context, key string, params domain.LimitParams, now time.Time) (domain.CheckResult, error)
	Peek(ctx context.Context, key string, params domain.LimitParams, now time.Time) (domain.CheckResult, error)
}

// ViolationStore persiste violações e os contadores cumulativos.
type ViolationStore interface {
	// AppendViolation adiciona ao log limitado de (layer, identifier) e
	// incrementa o contador cumulativo de forma atômica, devolvendo o valor
	// após o incremento.
	AppendViolation(ctx context.Context, v domain.Violation) (int64, error)
	ListViolations(ctx context.Context, layer domain.Layer, identifier string) ([]domain.Violation, error)
	ViolationCounts(ctx context.Context) ([]domain.Violator, error)
}

// EventQueue guarda ThresholdEvents pendentes. Drain devolve e remove todos os
// eventos de forma atômica em relação a Push.
type EventQueue interface {
	Push(ctx context.Context, ev domain.ThresholdEvent) error
	Drain(ctx context.Context) ([]domain.ThresholdEvent, error)
}

type WebhookStore interface {
	SaveWebhook(ctx context.Context, wh domain.Webhook) error
	GetWebhook(ctx context.Context, projectID, webhookID string) (domain.Webhook, error)
	ListWebhooks(ctx context.Context, projectID string) ([]domain.Webhook, error)
	DeleteWebhook(ctx context.Context, projectID, webhookID string) error
	AppendDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	DeliveryAttempts(ctx context.Context, webhookID string, limit int) ([]domain.DeliveryAttempt, error)
}

type ProjectRepository interface {
	CreateProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	GetProjectByAPIKey(ctx context.Context, apiKey string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	SaveProject(ctx context.Context, p domain.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// UsageStore conta requisições autenticadas por projeto em buckets de uma hora.
type UsageStore interface {
	RecordUsage(ctx context.Context, projectID string, at time.Time) error
	Usage(ctx context.Context, projectID string, since time.Time) ([]domain.TimeBucket, error)
}
