package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

const (
	violationCountsKey = "violation_counts"
	webhookQueueKey    = "webhook_queue"

	violationLogSize = 100
	violationTTL     = 24 * time.Hour
)

func violationsKey(layer domain.Layer, identifier string) string {
	return "violations:" + string(layer) + ":" + identifier
}

// AppendViolation adiciona ao log limitado e incrementa o contador cumulativo
// em um único MULTI/EXEC. O contador devolvido é exclusivo desta chamada.
func (s *Storage) AppendViolation(ctx context.Context, v domain.Violation) (int64, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal violation: %w", err)
	}

	key := violationsKey(v.Layer, v.Identifier)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, violationLogSize-1)
	pipe.Expire(ctx, key, violationTTL)
	counter := pipe.HIncrBy(ctx, violationCountsKey, string(v.Layer)+":"+v.Identifier, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return counter.Val(), nil
}

func (s *Storage) ListViolations(ctx context.Context, layer domain.Layer, identifier string) ([]domain.Violation, error) {
	raw, err := s.client.LRange(ctx, violationsKey(layer, identifier), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Violation, 0, len(raw))
	for _, item := range raw {
		var v domain.Violation
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			return nil, fmt.Errorf("decode violation: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Storage) ViolationCounts(ctx context.Context) ([]domain.Violator, error) {
	all, err := s.client.HGetAll(ctx, violationCountsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Violator, 0, len(all))
	for field, value := range all {
		layer, identifier, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.Violator{Layer: domain.Layer(layer), Identifier: identifier, Count: count})
	}
	return out, nil
}

func (s *Storage) Push(ctx context.Context, ev domain.ThresholdEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.RPush(ctx, webhookQueueKey, payload).Err()
}

// Drain lê e apaga a fila em um único MULTI/EXEC: um RPUSH de qualquer
// instância cai neste lote ou no próximo. Itens que não decodificam são
// registrados no log e ignorados.
func (s *Storage) Drain(ctx context.Context) ([]domain.ThresholdEvent, error) {
	pipe := s.client.TxPipeline()
	items := pipe.LRange(ctx, webhookQueueKey, 0, -1)
	pipe.Del(ctx, webhookQueueKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]domain.ThresholdEvent, 0, len(items.Val()))
	for _, item := range items.Val() {
		var ev domain.ThresholdEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			s.logger.Error("skipping undecodable threshold event", "payload", item, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
