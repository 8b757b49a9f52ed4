// Package redis disponibiliza a implementação do storage baseada em Redis.
// Os três algoritmos rodam como scripts Lua: uma chamada EVALSHA é uma
// transação atômica, compartilhada por todas as instâncias do serviço.
package redis

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

// DefaultKeyPrefix é o namespace das chaves de estado do limiter.
const DefaultKeyPrefix = "ratelimit:"

var (
	//go:embed lua/fixed_window.lua
	fixedWindowSource string
	//go:embed lua/sliding_window.lua
	slidingWindowSource string
	//go:embed lua/token_bucket.lua
	tokenBucketSource string
	//go:embed lua/delete_webhook.lua
	deleteWebhookSource string

	fixedWindowScript   = redis.NewScript(fixedWindowSource)
	slidingWindowScript = redis.NewScript(slidingWindowSource)
	tokenBucketScript   = redis.NewScript(tokenBucketSource)
	deleteWebhookScript = redis.NewScript(deleteWebhookSource)
)

type Storage struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var (
	_ ports.LimitStore        = (*Storage)(nil)
	_ ports.ViolationStore    = (*Storage)(nil)
	_ ports.EventQueue        = (*Storage)(nil)
	_ ports.WebhookStore      = (*Storage)(nil)
	_ ports.ProjectRepository = (*Storage)(nil)
	_ ports.UsageStore        = (*Storage)(nil)
)

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func New(cfg Config) (*Storage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	s, err := NewWithClient(client, cfg.KeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewWithClient usa um client existente. Faz ping no servidor e pré-carrega os
// scripts; um NOSCRIPT posterior (restart, SCRIPT FLUSH) cai para EVAL de
// forma transparente.
func NewWithClient(client *redis.Client, prefix string) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	for name, script := range map[string]*redis.Script{
		"fixed_window":   fixedWindowScript,
		"sliding_window": slidingWindowScript,
		"token_bucket":   tokenBucketScript,
		"delete_webhook": deleteWebhookScript,
	} {
		if err := script.Load(ctx, client).Err(); err != nil {
			return nil, fmt.Errorf("load %s script: %w", name, err)
		}
	}

	return &Storage{client: client, prefix: prefix, logger: slog.Default()}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping informa se o servidor responde, para health checks.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
