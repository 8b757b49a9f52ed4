package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

func (s *Store) SaveWebhook(_ context.Context, wh domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.webhooks[wh.ProjectID]
	if !ok {
		byID = make(map[string]domain.Webhook)
		s.webhooks[wh.ProjectID] = byID
	}
	wh.Events = slices.Clone(wh.Events)
	byID[wh.ID] = wh
	return nil
}

func (s *Store) GetWebhook(_ context.Context, projectID, webhookID string) (domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wh, ok := s.webhooks[projectID][webhookID]
	if !ok {
		return domain.Webhook{}, domain.ErrNotFound
	}
	wh.Events = slices.Clone(wh.Events)
	return wh, nil
}

// ListWebhooks devolve os webhooks do projeto em ordem de criação.
func (s *Store) ListWebhooks(_ context.Context, projectID string) ([]domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Webhook, 0, len(s.webhooks[projectID]))
	for _, wh := range s.webhooks[projectID] {
		wh.Events = slices.Clone(wh.Events)
		out = append(out, wh)
	}
	sortWebhooks(out)
	return out, nil
}

func (s *Store) DeleteWebhook(_ context.Context, projectID, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[projectID][webhookID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.webhooks[projectID], webhookID)
	if len(s.webhooks[projectID]) == 0 {
		delete(s.webhooks, projectID)
	}
	delete(s.deliveryLogs, webhookID)
	return nil
}

func (s *Store) AppendDeliveryAttempt(_ context.Context, a domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	log := s.deliveryLogs[a.WebhookID]
	if !now.Before(log.expiresAt) {
		log.items = nil
	}
	log.items = append([]domain.DeliveryAttempt{a}, log.items...)
	if len(log.items) > deliveryLogSize {
		log.items = log.items[:deliveryLogSize]
	}
	log.expiresAt = now.Add(deliveryLogTTL)
	s.deliveryLogs[a.WebhookID] = log
	return nil
}

func (s *Store) DeliveryAttempts(_ context.Context, webhookID string, limit int) ([]domain.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.deliveryLogs[webhookID]
	if !ok || !s.clock().Before(log.expiresAt) {
		return []domain.DeliveryAttempt{}, nil
	}
	items := log.items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return slices.Clone(items), nil
}

func sortWebhooks(whs []domain.Webhook) {
	slices.SortFunc(whs, func(a, b domain.Webhook) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
