package services

import (
	"context"
	"fmt"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

// Engine resolve uma Rule em parâmetros efetivos e delega a transação atômica
// ao LimitStore.
type Engine struct {
	store ports.LimitStore
}

var _ ports.AlgorithmEngine = (*Engine)(nil)

func NewEngine(store ports.LimitStore) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("limit store is required")
	}
	return &Engine{store: store}, nil
}

// Evaluate executa uma verificação. Erros do store são embrulhados com
// domain.ErrStoreUnavailable; regra inválida resulta em domain.ErrInvalidRule.
func (e *Engine) Evaluate(ctx context.Context, key string, rule domain.Rule, now time.Time) (domain.CheckResult, error) {
	params, err := rule.Params()
	if err != nil {
		return domain.CheckResult{}, err
	}
	res, err := e.store.Evaluate(ctx, key, params, now)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("%w: evaluate %s: %w", domain.ErrStoreUnavailable, params.Algorithm, err)
	}
	return res, nil
}

// Peek projeta uma verificação sem alterar o estado armazenado.
func (e *Engine) Peek(ctx context.Context, key string, rule domain.Rule, now time.Time) (domain.CheckResult, error) {
	params, err := rule.Params()
	if err != nil {
		return domain.CheckResult{}, err
	}
	res, err := e.store.Peek(ctx, key, params, now)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("%w: peek %s: %w", domain.ErrStoreUnavailable, params.Algorithm, err)
	}
	return res, nil
}
