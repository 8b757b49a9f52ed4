package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

const (
	HeaderSignature = "X-Throttle-Signature"
	HeaderTimestamp = "X-Throttle-Timestamp"

	DefaultDeliveryTimeout = 10 * time.Second
	DefaultDeliveryLogs    = 50
)

// DefaultRetrySchedule é a espera antes de cada retry. O tamanho é o número
// de retries após a tentativa inicial.
var DefaultRetrySchedule = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second, time.Minute}

// WebhookService registra webhooks e entrega eventos assinados com retry.
type WebhookService struct {
	store    ports.WebhookStore
	client   ports.HTTPDoer
	schedule []time.Duration
	timeout  time.Duration
	pacer    *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
	clock    func() time.Time
	metrics  ports.Metrics
	logger   *slog.Logger
}

type WebhookOption func(*WebhookService)

func WithRetrySchedule(schedule []time.Duration) WebhookOption {
	return func(s *WebhookService) { s.schedule = schedule }
}

func WithDeliveryTimeout(d time.Duration) WebhookOption {
	return func(s *WebhookService) { s.timeout = d }
}

// WithDeliveryRate limita o ritmo dos POSTs de saída de todos os webhooks do
// processo.
func WithDeliveryRate(perSecond float64, burst int) WebhookOption {
	return func(s *WebhookService) {
		if perSecond > 0 {
			s.pacer = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithSleeper substitui a espera entre retries.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) WebhookOption {
	return func(s *WebhookService) { s.sleep = sleep }
}

func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(s *WebhookService) { s.clock = clock }
}

func WithWebhookMetrics(m ports.Metrics) WebhookOption {
	return func(s *WebhookService) { s.metrics = m }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(s *WebhookService) { s.logger = l }
}

func NewWebhookService(store ports.WebhookStore, client ports.HTTPDoer, opts ...WebhookOption) (*WebhookService, error) {
	if store == nil {
		return nil, fmt.Errorf("webhook store is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	s := &WebhookService{
		store:    store,
		client:   client,
		schedule: DefaultRetrySchedule,
		timeout:  DefaultDeliveryTimeout,
		sleep:    sleepContext,
		clock:    time.Now,
		metrics:  ports.NoopMetrics{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *WebhookService) Register(ctx context.Context, projectID string, cfg domain.WebhookConfig) (domain.Webhook, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.Webhook{}, domain.NewValidationError("projectId", "is required")
	}
	if err := validateWebhookURL(cfg.URL); err != nil {
		return domain.Webhook{}, err
	}

	wh := domain.Webhook{
		ID:         "wh_" + compactUUID(),
		ProjectID:  projectID,
		URL:        strings.TrimSpace(cfg.URL),
		Secret:     cfg.Secret,
		Events:     cfg.Events,
		Thresholds: domain.WebhookThresholds{Violations: 50, Burst: 10},
		Enabled:    true,
		CreatedAt:  s.clock(),
	}
	if wh.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return domain.Webhook{}, fmt.Errorf("generate secret: %w", err)
		}
		wh.Secret = secret
	}
	if len(wh.Events) == 0 {
		wh.Events = []string{domain.EventThresholdReached, domain.EventBurstDetected}
	}
	if cfg.Thresholds != nil {
		wh.Thresholds = *cfg.Thresholds
	}

	if err := s.store.SaveWebhook(ctx, wh); err != nil {
		return domain.Webhook{}, fmt.Errorf("save webhook: %w", err)
	}
	return wh, nil
}

func (s *WebhookService) List(ctx context.Context, projectID string) ([]domain.Webhook, error) {
	return s.store.ListWebhooks(ctx, projectID)
}

func (s *WebhookService) Get(ctx context.Context, projectID, webhookID string) (domain.Webhook, error) {
	return s.store.GetWebhook(ctx, projectID, webhookID)
}

// Update aplica uma atualização parcial. Ids desconhecidos dão domain.ErrNotFound.
func (s *WebhookService) Update(ctx context.Context, projectID, webhookID string, upd domain.WebhookUpdate) (domain.Webhook, error) {
	wh, err := s.store.GetWebhook(ctx, projectID, webhookID)
	if err != nil {
		return domain.Webhook{}, err
	}

	if upd.URL != nil {
		if err := validateWebhookURL(*upd.URL); err != nil {
			return domain.Webhook{}, err
		}
		wh.URL = strings.TrimSpace(*upd.URL)
	}
	if upd.Secret != nil {
		if *upd.Secret == "" {
			return domain.Webhook{}, domain.NewValidationError("secret", "must not be empty")
		}
		wh.Secret = *upd.Secret
	}
	if upd.Events != nil {
		wh.Events = upd.Events
	}
	if upd.Thresholds != nil {
		wh.Thresholds = *upd.Thresholds
	}
	if upd.Enabled != nil {
		wh.Enabled = *upd.Enabled
	}
	wh.UpdatedAt = s.clock()

	if err := s.store.SaveWebhook(ctx, wh); err != nil {
		return domain.Webhook{}, fmt.Errorf("save webhook: %w", err)
	}
	return wh, nil
}

func (s *WebhookService) Delete(ctx context.Context, projectID, webhookID string) error {
	return s.store.DeleteWebhook(ctx, projectID, webhookID)
}

// GetDeliveryLogs devolve as tentativas mais recentes de um webhook de
// projectID, da mais nova para a mais antiga.
func (s *WebhookService) GetDeliveryLogs(ctx context.Context, projectID, webhookID string, limit int) ([]domain.DeliveryAttempt, error) {
	if _, err := s.store.GetWebhook(ctx, projectID, webhookID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultDeliveryLogs
	}
	return s.store.DeliveryAttempts(ctx, webhookID, limit)
}

// Send entrega o evento a todos os webhooks habilitados e inscritos do
// projeto, concorrentemente. Um webhook que falha nunca interrompe os outros;
// a falha final aparece nos resultados devolvidos.
func (s *WebhookService) Send(ctx context.Context, projectID string, event domain.ThresholdEvent) ([]domain.DeliveryResult, error) {
	webhooks, err := s.store.ListWebhooks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}

	relevant := webhooks[:0:0]
	for _, wh := range webhooks {
		if wh.Enabled && wh.Subscribed(event.Type) {
			relevant = append(relevant, wh)
		}
	}

	results := make([]domain.DeliveryResult, len(relevant))
	var g errgroup.Group
	for i, wh := range relevant {
		g.Go(func() error {
			results[i] = domain.DeliveryResult{WebhookID: wh.ID, Delivered: true}
			if err := s.Deliver(ctx, wh, event); err != nil {
				results[i].Delivered = false
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// Deliver envia o evento a um webhook, com retries conforme o cronograma. Toda
// tentativa é registrada. O envelope, e portanto o seu id, é o mesmo em todos
// os retries.
func (s *WebhookService) Deliver(ctx context.Context, wh domain.Webhook, event domain.ThresholdEvent) error {
	env := domain.Envelope{
		ID:        "evt_" + compactUUID(),
		Type:      event.Type,
		Timestamp: s.clock().UnixMilli(),
		Data:      event,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	signature := Sign(body, wh.Secret)

	for attempt := 0; ; attempt++ {
		status, err := s.post(ctx, wh, env, body, signature)
		if err == nil {
			s.logAttempt(ctx, wh, env, domain.DeliverySuccess, status, nil)
			return nil
		}
		s.logAttempt(ctx, wh, env, domain.DeliveryFailed, status, err)

		if attempt >= len(s.schedule) {
			return fmt.Errorf("webhook %s: giving up after %d attempts: %w", wh.ID, attempt+1, err)
		}
		if err := s.sleep(ctx, s.schedule[attempt]); err != nil {
			return fmt.Errorf("webhook %s: retry aborted: %w", wh.ID, err)
		}
	}
}

func (s *WebhookService) post(ctx context.Context, wh domain.Webhook, env domain.Envelope, body []byte, signature string) (int, error) {
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(env.Timestamp, 10))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *WebhookService) logAttempt(ctx context.Context, wh domain.Webhook, env domain.Envelope, status domain.DeliveryStatus, httpStatus int, deliveryErr error) {
	s.metrics.ObserveDelivery(status)

	attempt := domain.DeliveryAttempt{
		WebhookID:  wh.ID,
		EventID:    env.ID,
		Status:     status,
		HTTPStatus: httpStatus,
		Timestamp:  s.clock(),
	}
	if deliveryErr != nil {
		attempt.Error = deliveryErr.Error()
		s.logger.Warn("webhook delivery failed",
			"webhook_id", wh.ID, "event_id", env.ID, "http_status", httpStatus, "error", deliveryErr)
	}

	// O registro não depende de ctx: uma entrega cancelada ainda deixa rastro.
	if err := s.store.AppendDeliveryAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		s.logger.Warn("failed to log webhook delivery", "webhook_id", wh.ID, "error", err)
	}
}

// Sign devolve o valor do header de assinatura de body: "sha256=" seguido do
// HMAC-SHA256 de body com secret, em hexadecimal.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.NewValidationError("url", "must be an absolute http(s) URL")
	}
	return nil
}

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateSecret() (string, error) {
	return randomString("whsec_", 32)
}

func randomString(prefix string, length int) (string, error) {
	var b strings.Builder
	b.WriteString(prefix)
	n := big.NewInt(int64(len(secretAlphabet)))
	for range length {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		b.WriteByte(secretAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
