package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

const (
	DefaultRulesCacheTTL = 30 * time.Second
	DefaultUsageDays     = 7
)

type cachedProject struct {
	project   domain.Project
	expiresAt time.Time
}

// ProjectService gerencia projetos e resolve API keys para RuleSets com um
// cache read-through. Entradas expiram após o TTL e são invalidadas em
// atualização ou remoção feitas por esta instância.
type ProjectService struct {
	repo         ports.ProjectRepository
	webhooks     ports.WebhookStore
	usage        ports.UsageStore
	defaultRules domain.RuleSet
	ttl          time.Duration
	clock        func() time.Time
	logger       *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedProject
	// generation muda a cada invalidação; leituras iniciadas antes dela não
	// gravam no cache.
	generation uint64
	group      singleflight.Group
}

type ProjectOption func(*ProjectService)

func WithDefaultRules(rules domain.RuleSet) ProjectOption {
	return func(s *ProjectService) {
		if len(rules) > 0 {
			s.defaultRules = rules
		}
	}
}

func WithRulesCacheTTL(ttl time.Duration) ProjectOption {
	return func(s *ProjectService) { s.ttl = ttl }
}

func WithProjectClock(clock func() time.Time) ProjectOption {
	return func(s *ProjectService) { s.clock = clock }
}

// WithUsageStore ativa a contagem de uso por projeto.
func WithUsageStore(u ports.UsageStore) ProjectOption {
	return func(s *ProjectService) { s.usage = u }
}

func WithProjectLogger(l *slog.Logger) ProjectOption {
	return func(s *ProjectService) { s.logger = l }
}

func NewProjectService(repo ports.ProjectRepository, webhooks ports.WebhookStore, opts ...ProjectOption) (*ProjectService, error) {
	if repo == nil {
		return nil, fmt.Errorf("project repository is required")
	}
	if webhooks == nil {
		return nil, fmt.Errorf("webhook store is required")
	}
	s := &ProjectService{
		repo:         repo,
		webhooks:     webhooks,
		defaultRules: domain.DefaultRules(),
		ttl:          DefaultRulesCacheTTL,
		clock:        time.Now,
		logger:       slog.Default(),
		cache:        make(map[string]cachedProject),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create registra um projeto com uma chave live e uma de teste. Sem regras,
// o projeto recebe as regras padrão.
func (s *ProjectService) Create(ctx context.Context, name, plan string, rules domain.RuleSet) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, domain.NewValidationError("name", "is required")
	}
	if plan == "" {
		plan = "free"
	}
	if len(rules) == 0 {
		s.mu.RLock()
		rules = s.defaultRules
		s.mu.RUnlock()
	}
	if err := rules.Validate(); err != nil {
		return domain.Project{}, err
	}

	now := s.clock()
	live, err := generateAPIKey("live")
	if err != nil {
		return domain.Project{}, err
	}
	test, err := generateAPIKey("test")
	if err != nil {
		return domain.Project{}, err
	}

	p := domain.Project{
		ID:    "proj_" + compactUUID(),
		Name:  name,
		Plan:  plan,
		Rules: rules,
		Keys: map[string]domain.APIKey{
			"live": {Key: live, CreatedAt: now},
			"test": {Key: test, CreatedAt: now},
		},
		CreatedAt: now,
	}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}

	s.logger.Info("project created", "project_id", p.ID, "plan", p.Plan)
	return p, nil
}

// SetDefaultRules troca as regras dadas aos projetos criados daqui em diante.
// Projetos existentes mantêm as suas.
func (s *ProjectService) SetDefaultRules(rules domain.RuleSet) error {
	if len(rules) == 0 {
		return domain.NewValidationError("rules", "must not be empty")
	}
	if err := rules.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.defaultRules = rules
	s.mu.Unlock()
	return nil
}

func (s *ProjectService) Get(ctx context.Context, id string) (domain.Project, error) {
	return s.repo.GetProject(ctx, id)
}

func (s *ProjectService) List(ctx context.Context) ([]domain.Project, error) {
	return s.repo.ListProjects(ctx)
}

// GetByAPIKey resolve o projeto dono de apiKey. Misses concorrentes da mesma
// chave compartilham uma única leitura do repositório.
func (s *ProjectService) GetByAPIKey(ctx context.Context, apiKey string) (domain.Project, error) {
	if apiKey == "" {
		return domain.Project{}, domain.ErrNotFound
	}

	now := s.clock()
	s.mu.RLock()
	entry, ok := s.cache[apiKey]
	s.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.project, nil
	}

	v, err, _ := s.group.Do(apiKey, func() (any, error) {
		s.mu.RLock()
		generation := s.generation
		s.mu.RUnlock()

		p, err := s.repo.GetProjectByAPIKey(ctx, apiKey)
		if err != nil {
			return domain.Project{}, err
		}
		if s.ttl > 0 {
			s.mu.Lock()
			if s.generation == generation {
				s.cache[apiKey] = cachedProject{project: p, expiresAt: s.clock().Add(s.ttl)}
			}
			s.mu.Unlock()
		}
		return p, nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	return v.(domain.Project), nil
}

// UpdateRules mescla rules sobre o RuleSet atual, camada por camada.
func (s *ProjectService) UpdateRules(ctx context.Context, id string, rules domain.RuleSet) (domain.Project, error) {
	if len(rules) == 0 {
		return domain.Project{}, domain.NewValidationError("rules", "must not be empty")
	}
	if err := rules.Validate(); err != nil {
		return domain.Project{}, err
	}

	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	merged := make(domain.RuleSet, len(p.Rules)+len(rules))
	maps.Copy(merged, p.Rules)
	maps.Copy(merged, rules)
	p.Rules = merged
	p.UpdatedAt = s.clock()

	if err := s.repo.SaveProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	s.invalidate(p)
	return p, nil
}

// RotateKey troca a chave do tipo informado ("live" ou "test"). A chave antiga
// deixa de resolver imediatamente nesta instância e dentro do TTL do cache
// nas demais.
func (s *ProjectService) RotateKey(ctx context.Context, id, keyType string) (domain.Project, error) {
	if keyType != "live" && keyType != "test" {
		return domain.Project{}, domain.NewValidationError("type", `must be "live" or "test"`)
	}

	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	old := p

	key, err := generateAPIKey(keyType)
	if err != nil {
		return domain.Project{}, err
	}
	now := s.clock()
	p.Keys = maps.Clone(p.Keys)
	p.Keys[keyType] = domain.APIKey{Key: key, CreatedAt: now}
	p.UpdatedAt = now

	if err := s.repo.SaveProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	s.invalidate(old)

	s.logger.Info("api key rotated", "project_id", id, "type", keyType)
	return p, nil
}

// RecordUsage conta uma requisição autenticada. Sem usage store não faz nada.
func (s *ProjectService) RecordUsage(ctx context.Context, projectID string) error {
	if s.usage == nil {
		return nil
	}
	return s.usage.RecordUsage(ctx, projectID, s.clock())
}

// Usage devolve a contagem horária de requisições dos últimos dias, da mais
// antiga para a mais recente.
func (s *ProjectService) Usage(ctx context.Context, projectID string, days int) ([]domain.TimeBucket, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if s.usage == nil {
		return []domain.TimeBucket{}, nil
	}
	if days <= 0 {
		days = DefaultUsageDays
	}
	since := s.clock().Add(-time.Duration(days) * 24 * time.Hour)
	return s.usage.Usage(ctx, projectID, since)
}

// Delete remove o projeto junto com seus webhooks e os logs deles.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return err
	}

	webhooks, err := s.webhooks.ListWebhooks(ctx, id)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	for _, wh := range webhooks {
		if err := s.webhooks.DeleteWebhook(ctx, id, wh.ID); err != nil && !domain.IsNotFound(err) {
			return fmt.Errorf("delete webhook %s: %w", wh.ID, err)
		}
	}

	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.invalidate(p)

	s.logger.Info("project deleted", "project_id", id, "webhooks", len(webhooks))
	return nil
}

func generateAPIKey(keyType string) (string, error) {
	key, err := randomString("th_"+keyType+"_", 32)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return key, nil
}

func (s *ProjectService) invalidate(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	for _, k := range p.Keys {
		delete(s.cache, k.Key)
		s.group.Forget(k.Key)
	}
}
