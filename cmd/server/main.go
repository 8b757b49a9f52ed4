package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/JeanGrijp/throttle-io/internal/adapters/geo"
	httpHandlers "github.com/JeanGrijp/throttle-io/internal/adapters/http/handlers"
	"github.com/JeanGrijp/throttle-io/internal/adapters/metrics"
	memorystorage "github.com/JeanGrijp/throttle-io/internal/adapters/storage/memory"
	redisstorage "github.com/JeanGrijp/throttle-io/internal/adapters/storage/redis"
	"github.com/JeanGrijp/throttle-io/internal/config"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
	"github.com/JeanGrijp/throttle-io/internal/core/services"
	"github.com/JeanGrijp/throttle-io/internal/logger"
)

// stateStore é implementado pelos dois backends de storage.
type stateStore interface {
	ports.LimitStore
	ports.ViolationStore
	ports.EventQueue
	ports.WebhookStore
	ports.ProjectRepository
	ports.UsageStore
}

// CLI define a linha de comando do servidor. O restante da configuração vem
// do ambiente.
type CLI struct {
	EnvFile []string `name:"env-file" help:"Env files to load before reading the environment (default .env)." type:"path"`

	Serve    ServeCmd    `cmd:"" default:"1" help:"Start the HTTP server and the webhook dispatcher."`
	Validate ValidateCmd `cmd:"" help:"Load and validate the configuration, then exit."`
}

type ServeCmd struct {
	WatchRules bool `name:"watch-rules" help:"Reload RULES_FILE when it changes; new projects get the new rules."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.EnvFile...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return run(cfg, initLogger(cfg.Log), c.WatchRules)
}

type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.EnvFile...)
	if err != nil {
		return err
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	fmt.Printf("storage=%s port=%s default_layers=%d self_protection_layers=%d metrics=%t\n",
		cfg.Storage.Type, cfg.Server.Port, len(cfg.RateLimiter.DefaultRules),
		len(cfg.RateLimiter.SelfProtection), cfg.Metrics.Enabled)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("throttle-io"),
		kong.Description("Multi-layer rate limiting service."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	level, err := logger.ParseLevel(cfg.Level)
	lg := logger.Init(os.Stderr, level, cfg.Format)
	if err != nil {
		lg.Warn("invalid LOG_LEVEL, using info", "error", err)
	}
	return lg
}

func run(cfg config.Config, lg *slog.Logger, watchRules bool) error {
	store, pinger, closeFn, err := initStorage(cfg.Storage, lg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer closeFn()

	resolver, closeGeo, err := initGeo(cfg.Geo)
	if err != nil {
		return fmt.Errorf("init geo: %w", err)
	}
	defer closeGeo()

	var (
		promMetrics *metrics.Prometheus
		m           ports.Metrics = ports.NoopMetrics{}
	)
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New()
		m = promMetrics
	}

	engine, err := services.NewEngine(store)
	if err != nil {
		return err
	}
	recorder, err := services.NewViolationRecorder(store, store,
		services.WithRecorderMetrics(m),
		services.WithRecorderLogger(lg),
	)
	if err != nil {
		return err
	}
	limiter, err := services.NewRateLimiterService(engine, services.Config{
		Geo:        resolver,
		Violations: recorder,
		Metrics:    m,
		Logger:     lg,
	})
	if err != nil {
		return err
	}
	// Sem Violations: negações do limite da própria API não entram nas
	// análises nem geram eventos de webhook dos projetos.
	selfLimiter, err := services.NewRateLimiterService(engine, services.Config{
		KeyPrefix: services.SelfProtectionKeyPrefix,
		Logger:    lg,
	})
	if err != nil {
		return err
	}
	projects, err := services.NewProjectService(store, store,
		services.WithDefaultRules(cfg.RateLimiter.DefaultRules),
		services.WithRulesCacheTTL(cfg.RateLimiter.RulesCacheTTL),
		services.WithUsageStore(store),
		services.WithProjectLogger(lg),
	)
	if err != nil {
		return err
	}
	webhooks, err := services.NewWebhookService(store, &http.Client{},
		services.WithDeliveryTimeout(cfg.Webhook.Timeout),
		services.WithDeliveryRate(cfg.Webhook.MaxPerSecond, 1),
		services.WithWebhookMetrics(m),
		services.WithWebhookLogger(lg),
	)
	if err != nil {
		return err
	}

	deps := httpHandlers.Dependencies{
		Limiter:        limiter,
		Violations:     recorder,
		Projects:       projects,
		Webhooks:       webhooks,
		SelfLimiter:    selfLimiter,
		SelfProtection: cfg.RateLimiter.SelfProtection,
		Store:          pinger,
		Logger:         lg,
	}
	if promMetrics != nil {
		deps.Metrics = promMetrics
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           httpHandlers.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchRules && cfg.RateLimiter.RulesFile != "" {
		err := config.WatchRulesFile(ctx, cfg.RateLimiter.RulesFile, lg, func(rules domain.RuleSet) {
			if err := projects.SetDefaultRules(rules); err != nil {
				lg.Warn("rejected reloaded rules", "error", err)
			}
		})
		if err != nil {
			return err
		}
	}

	dispatcher := services.NewDispatcher(recorder, store, webhooks, cfg.Webhook.DrainInterval, lg)
	dispatcher.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server listening", "addr", srv.Addr, "storage", cfg.Storage.Type)
		err := srv.ListenAndServe()
		if err != nil {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("graceful shutdown failed", "error", err)
	}
	dispatcher.Stop()

	return serveErr
}

func initStorage(cfg config.StorageConfig, lg *slog.Logger) (stateStore, httpHandlers.Pinger, func(), error) {
	switch cfg.Type {
	case "redis":
		redisCfg := redisstorage.Config{
			Addr:      fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}
		storage, err := redisstorage.New(redisCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return storage, storage, func() {
			if err := storage.Close(); err != nil {
				lg.Warn("failed to close redis storage", "error", err)
			}
		}, nil
	case "memory":
		lg.Warn("using in-memory storage; limits are not shared between instances")
		return memorystorage.New(), nil, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// initGeo prefere a base MaxMind e depois a tabela CIDR estática. Sem nenhuma,
// toda requisição resolve para o país desconhecido.
func initGeo(cfg config.GeoConfig) (ports.GeoResolver, func(), error) {
	if cfg.DBPath != "" {
		r, err := geo.OpenMaxMind(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	}
	if cfg.CIDRs != "" {
		r, err := geo.ParseStatic(cfg.CIDRs)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	}
	return nil, func() {}, nil
}
