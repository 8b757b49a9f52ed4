package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

const (
	deliveryLogSize = 100
	deliveryLogTTL  = 7 * 24 * time.Hour
)

func webhooksKey(projectID string) string { return "webhooks:" + projectID }

func webhookLogsKey(webhookID string) string { return "webhook_logs:" + webhookID }

func (s *Storage) SaveWebhook(ctx context.Context, wh domain.Webhook) error {
	payload, err := json.Marshal(wh)
	if err != nil {
		return fmt.Errorf("marshal webhook: %w", err)
	}
	return s.client.HSet(ctx, webhooksKey(wh.ProjectID), wh.ID, payload).Err()
}

func (s *Storage) GetWebhook(ctx context.Context, projectID, webhookID string) (domain.Webhook, error) {
	raw, err := s.client.HGet(ctx, webhooksKey(projectID), webhookID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Webhook{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Webhook{}, err
	}
	var wh domain.Webhook
	if err := json.Unmarshal([]byte(raw), &wh); err != nil {
		return domain.Webhook{}, fmt.Errorf("decode webhook: %w", err)
	}
	return wh, nil
}

func (s *Storage) ListWebhooks(ctx context.Context, projectID string) ([]domain.Webhook, error) {
	all, err := s.client.HGetAll(ctx, webhooksKey(projectID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Webhook, 0, len(all))
	for _, raw := range all {
		var wh domain.Webhook
		if err := json.Unmarshal([]byte(raw), &wh); err != nil {
			return nil, fmt.Errorf("decode webhook: %w", err)
		}
		out = append(out, wh)
	}
	slices.SortFunc(out, func(a, b domain.Webhook) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// DeleteWebhook remove o webhook e o log de entregas. O log só é apagado
// quando o webhook pertence a projectID.
func (s *Storage) DeleteWebhook(ctx context.Context, projectID, webhookID string) error {
	keys := []string{webhooksKey(projectID), webhookLogsKey(webhookID)}
	removed, err := deleteWebhookScript.Run(ctx, s.client, keys, webhookID).Int64()
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if removed == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Storage) AppendDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal delivery attempt: %w", err)
	}
	key := webhookLogsKey(a.WebhookID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, deliveryLogSize-1)
	pipe.Expire(ctx, key, deliveryLogTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) DeliveryAttempts(ctx context.Context, webhookID string, limit int) ([]domain.DeliveryAttempt, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.client.LRange(ctx, webhookLogsKey(webhookID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeliveryAttempt, 0, len(raw))
	for _, item := range raw {
		var a domain.DeliveryAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decode delivery attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
