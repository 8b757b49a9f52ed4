// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	RateLimiter RateLimiterConfig
	Webhook     WebhookConfig
	Geo         GeoConfig
	Log         LogConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	Type  string
	Redis RedisConfig
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// RateLimiterConfig guarda as regras dadas a novos projetos e o limite por IP
// que protege a própria API do serviço.
type RateLimiterConfig struct {
	SelfProtection domain.RuleSet
	DefaultRules   domain.RuleSet
	RulesFile      string
	RulesCacheTTL  time.Duration
}

type WebhookConfig struct {
	DrainInterval time.Duration
	Timeout       time.Duration
	MaxPerSecond  float64
}

type GeoConfig struct {
	DBPath string
	CIDRs  string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
}

// Load carrega envFiles (padrão .env) no ambiente e monta a configuração a
// partir dele. Só arquivos informados explicitamente precisam existir.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	server := ServerConfig{Port: getEnv("SERVER_PORT", "8080")}

	storageType := getEnv("STORAGE_TYPE", "redis")

	redisConfig, err := buildRedisConfig()
	if err != nil {
		return Config{}, err
	}

	rateLimiterConfig, err := buildRateLimiterConfig()
	if err != nil {
		return Config{}, err
	}

	webhookConfig, err := buildWebhookConfig()
	if err != nil {
		return Config{}, err
	}

	metricsEnabled, err := strconv.ParseBool(getEnv("METRICS_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid METRICS_ENABLED: %w", err)
	}

	return Config{
		Server: server,
		Storage: StorageConfig{
			Type:  storageType,
			Redis: redisConfig,
		},
		RateLimiter: rateLimiterConfig,
		Webhook:     webhookConfig,
		Geo: GeoConfig{
			DBPath: os.Getenv("GEOIP_DB_PATH"),
			CIDRs:  os.Getenv("GEO_CIDRS"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{Enabled: metricsEnabled},
	}, nil
}

func buildRedisConfig() (RedisConfig, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return RedisConfig{
		Host:      host,
		Port:      port,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        db,
		KeyPrefix: getEnv("REDIS_KEY_PREFIX", "ratelimit:"),
	}, nil
}

func buildRateLimiterConfig() (RateLimiterConfig, error) {
	ipRequests, err := strconv.Atoi(getEnv("RATE_LIMIT_IP_REQUESTS", "100"))
	if err != nil {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_IP_REQUESTS: %w", err)
	}
	ipWindowSeconds, err := strconv.Atoi(getEnv("RATE_LIMIT_IP_WINDOW_SECONDS", "1"))
	if err != nil {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_IP_WINDOW_SECONDS: %w", err)
	}
	cacheTTLSeconds, err := strconv.Atoi(getEnv("RULES_CACHE_TTL_SECONDS", "30"))
	if err != nil {
		return RateLimiterConfig{}, fmt.Errorf("invalid RULES_CACHE_TTL_SECONDS: %w", err)
	}

	// Zero requisições desativa a autoproteção.
	selfProtection := domain.RuleSet{}
	if ipRequests > 0 {
		selfProtection[domain.LayerIP] = domain.Rule{
			Algorithm: domain.FixedWindow,
			Limit:     int64(ipRequests),
			WindowMs:  (time.Duration(ipWindowSeconds) * time.Second).Milliseconds(),
		}
		if err := selfProtection.Validate(); err != nil {
			return RateLimiterConfig{}, fmt.Errorf("invalid self-protection limit: %w", err)
		}
	}

	defaultRules := domain.DefaultRules()
	path := strings.TrimSpace(os.Getenv("RULES_FILE"))
	if path != "" {
		defaultRules, err = LoadRulesFile(path)
		if err != nil {
			return RateLimiterConfig{}, err
		}
	}

	return RateLimiterConfig{
		SelfProtection: selfProtection,
		DefaultRules:   defaultRules,
		RulesFile:      path,
		RulesCacheTTL:  time.Duration(cacheTTLSeconds) * time.Second,
	}, nil
}

func buildWebhookConfig() (WebhookConfig, error) {
	drainSeconds, err := strconv.Atoi(getEnv("WEBHOOK_DRAIN_INTERVAL_SECONDS", "5"))
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("invalid WEBHOOK_DRAIN_INTERVAL_SECONDS: %w", err)
	}
	if drainSeconds <= 0 {
		return WebhookConfig{}, fmt.Errorf("invalid WEBHOOK_DRAIN_INTERVAL_SECONDS: must be positive")
	}
	timeoutSeconds, err := strconv.Atoi(getEnv("WEBHOOK_TIMEOUT_SECONDS", "10"))
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("invalid WEBHOOK_TIMEOUT_SECONDS: %w", err)
	}
	maxPerSecond, err := strconv.ParseFloat(getEnv("WEBHOOK_MAX_PER_SECOND", "0"), 64)
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("invalid WEBHOOK_MAX_PER_SECOND: %w", err)
	}

	return WebhookConfig{
		DrainInterval: time.Duration(drainSeconds) * time.Second,
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
		MaxPerSecond:  maxPerSecond,
	}, nil
}

// LoadRulesFile lê um documento YAML que mapeia camadas para regras, por exemplo:
//
//	ip:
//	  algorithm: sliding_window
//	  limit: 100
//	  window: 60000
//	  geoRules:
//	    BR: {limit: 50}
func LoadRulesFile(path string) (domain.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules domain.RuleSet
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no layers", path)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
