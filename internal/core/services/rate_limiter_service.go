package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

// MaxBatchSize limita o número de itens de CheckBatch.
const MaxBatchSize = 100

// SelfProtectionKeyPrefix separa os contadores do limite da própria API dos
// contadores dos projetos.
const SelfProtectionKeyPrefix = "self:"

// Config agrega os colaboradores opcionais do coordenador.
type Config struct {
	// KeyPrefix é prefixado a toda chave de estado consultada no store.
	KeyPrefix        string
	Geo              ports.GeoResolver
	Violations       ports.ViolationSink
	Metrics          ports.Metrics
	Logger           *slog.Logger
	Clock            func() time.Time
	BatchConcurrency int
}

// RateLimiterService combina as camadas ip → apiKey → user → endpoint em uma
// única decisão de admissão.
type RateLimiterService struct {
	engine ports.AlgorithmEngine
	config Config
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

// NewRateLimiterService cria uma nova instância do serviço.
func NewRateLimiterService(engine ports.AlgorithmEngine, cfg Config) (*RateLimiterService, error) {
	if engine == nil {
		return nil, fmt.Errorf("algorithm engine is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 16
	}

	return &RateLimiterService{engine: engine, config: cfg}, nil
}

// CheckMultiLayer avalia as camadas em ordem e para na primeira negação.
//
// Uma negação não é erro. Erro não nil significa que o store não pôde ser
// consultado; a decisão devolvida é então negada com FailReason preenchido, e
// quem ignora o erro continua falhando fechado.
func (s *RateLimiterService) CheckMultiLayer(ctx context.Context, req domain.AdmissionRequest, rules domain.RuleSet) (domain.AdmissionDecision, error) {
	req = normalizeRequest(req)
	country := s.resolveCountry(ctx, req.IP)
	now := s.config.Clock()

	layers := make([]domain.LayerResult, 0, len(domain.LayerOrder))
	for _, target := range resolveTargets(s.config.KeyPrefix, req) {
		rule, ok := rules[target.layer]
		if !ok {
			continue
		}

		res, err := s.engine.Evaluate(ctx, target.key, rule.ForCountry(country), now)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidRule) {
				s.config.Logger.Warn("skipping layer with invalid rule",
					"layer", target.layer, "error", err)
				continue
			}
			s.config.Metrics.ObserveStoreError("evaluate")
			s.config.Logger.Error("admission check failed, denying",
				"layer", target.layer, "identifier", target.identifier, "error", err)
			decision := domain.NewAdmissionDecision(layers, target.layer)
			decision.FailReason = domain.FailReasonStoreUnavailable
			return decision, err
		}

		s.config.Metrics.ObserveDecision(target.layer, res.Allowed)
		layers = append(layers, domain.LayerResult{
			CheckResult: res,
			Layer:       target.layer,
			Identifier:  target.identifier,
		})

		if !res.Allowed {
			s.recordViolation(ctx, target, req.Endpoint, res)
			return domain.NewAdmissionDecision(layers, target.layer), nil
		}
	}

	return domain.NewAdmissionDecision(layers, ""), nil
}

// Peek projeta todas as camadas aplicáveis sem consumir quota nem registrar
// violações. BlockedBy é a primeira camada que negaria.
func (s *RateLimiterService) Peek(ctx context.Context, req domain.AdmissionRequest, rules domain.RuleSet) (domain.AdmissionDecision, error) {
	req = normalizeRequest(req)
	country := s.resolveCountry(ctx, req.IP)
	now := s.config.Clock()

	var blockedBy domain.Layer
	layers := make([]domain.LayerResult, 0, len(domain.LayerOrder))
	for _, target := range resolveTargets(s.config.KeyPrefix, req) {
		rule, ok := rules[target.layer]
		if !ok {
			continue
		}
		res, err := s.engine.Peek(ctx, target.key, rule.ForCountry(country), now)
		if errors.Is(err, domain.ErrInvalidRule) {
			continue
		}
		if err != nil {
			return domain.AdmissionDecision{}, err
		}
		layers = append(layers, domain.LayerResult{CheckResult: res, Layer: target.layer, Identifier: target.identifier})
		if !res.Allowed && blockedBy == "" {
			blockedBy = target.layer
		}
	}

	return domain.NewAdmissionDecision(layers, blockedBy), nil
}

// CheckBatch aplica CheckMultiLayer a cada item de forma independente. Falhas
// de store de um item ficam no FailReason daquele item.
func (s *RateLimiterService) CheckBatch(ctx context.Context, reqs []domain.AdmissionRequest, rules domain.RuleSet) ([]domain.AdmissionDecision, error) {
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d items, max %d", domain.ErrBatchTooLarge, len(reqs), MaxBatchSize)
	}

	decisions := make([]domain.AdmissionDecision, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.config.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			decisions[i], _ = s.CheckMultiLayer(ctx, req, rules)
			return nil
		})
	}
	_ = g.Wait()

	return decisions, nil
}

func (s *RateLimiterService) recordViolation(ctx context.Context, target layerTarget, endpoint string, res domain.CheckResult) {
	if s.config.Violations == nil {
		return
	}
	if err := s.config.Violations.RecordViolation(ctx, target.layer, target.violationID, endpoint, res); err != nil {
		s.config.Metrics.ObserveStoreError("record_violation")
		s.config.Logger.Warn("failed to record violation",
			"layer", target.layer, "identifier", target.violationID, "error", err)
	}
}

func (s *RateLimiterService) resolveCountry(ctx context.Context, ip string) string {
	if ip == "" || s.config.Geo == nil {
		return domain.UnknownCountry
	}
	country, err := s.config.Geo.Country(ctx, ip)
	if err != nil || country == "" {
		return domain.UnknownCountry
	}
	return country
}

type layerTarget struct {
	layer       domain.Layer
	identifier  string
	key         string
	violationID string
}

// resolveTargets lista as camadas que têm identificador, na ordem de avaliação.
// A camada endpoint compõe com o identificador mais específico disponível.
func resolveTargets(prefix string, req domain.AdmissionRequest) []layerTarget {
	targets := make([]layerTarget, 0, len(domain.LayerOrder))
	if req.IP != "" {
		targets = append(targets, layerTarget{domain.LayerIP, req.IP, prefix + "ip:" + req.IP, req.IP})
	}
	if req.APIKey != "" {
		targets = append(targets, layerTarget{domain.LayerAPIKey, req.APIKey, prefix + "key:" + req.APIKey, req.APIKey})
	}
	if req.UserID != "" {
		targets = append(targets, layerTarget{domain.LayerUser, req.UserID, prefix + "user:" + req.UserID, req.UserID})
	}
	if req.Endpoint != "" {
		upstream := firstNonEmpty(req.UserID, req.APIKey, req.IP)
		if upstream != "" {
			targets = append(targets, layerTarget{
				layer:       domain.LayerEndpoint,
				identifier:  req.Endpoint + ":" + upstream,
				key:         prefix + "ep:" + req.Endpoint + ":" + upstream,
				violationID: upstream,
			})
		}
	}
	return targets
}

func normalizeRequest(req domain.AdmissionRequest) domain.AdmissionRequest {
	return domain.AdmissionRequest{
		IP:       strings.TrimSpace(req.IP),
		APIKey:   strings.TrimSpace(req.APIKey),
		UserID:   strings.TrimSpace(req.UserID),
		Endpoint: strings.TrimSpace(req.Endpoint),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
