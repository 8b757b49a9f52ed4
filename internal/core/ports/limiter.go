// Package ports define contratos que conectam o domínio a implementações externas.
package ports

import (
	"context"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

// AlgorithmEngine avalia uma regra para uma chave já namespaced.
type AlgorithmEngine interface {
	Evaluate(ctx context.Context, key string, rule domain.Rule, now time.Time) (domain.CheckResult, error)
	Peek(ctx context.Context, key string, rule domain.Rule, now time.Time) (domain.CheckResult, error)
}

// RateLimiter é a superfície de admissão exposta à borda HTTP.
type RateLimiter interface {
	CheckMultiLayer(ctx context.Context, req domain.AdmissionRequest, rules domain.RuleSet) (domain.AdmissionDecision, error)
}

// ViolationSink recebe as negações do coordenador.
type ViolationSink interface {
	RecordViolation(ctx context.Context, layer domain.Layer, identifier, endpoint string, result domain.CheckResult) error
}
