package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/throttle-io/internal/core/algorithms"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

func (s *Storage) fixedKey(key string, p domain.LimitParams, now time.Time) string {
	return s.prefix + "fw:" + key + ":" + strconv.FormatInt(algorithms.Epoch(now, p.Window), 10)
}

func (s *Storage) slidingKey(key string) string { return s.prefix + "sw:" + key }

func (s *Storage) bucketKey(key string) string { return s.prefix + "tb:" + key }

// Evaluate executa o script do algoritmo. O script só altera o estado; o
// resultado é calculado a partir do retorno com as mesmas funções do storage
// em memória.
func (s *Storage) Evaluate(ctx context.Context, key string, p domain.LimitParams, now time.Time) (domain.CheckResult, error) {
	switch p.Algorithm {
	case domain.FixedWindow:
		count, err := fixedWindowScript.Run(ctx, s.client,
			[]string{s.fixedKey(key, p, now)},
			p.Window.Milliseconds(),
		).Int64()
		if err != nil {
			return domain.CheckResult{}, fmt.Errorf("fixed window script: %w", err)
		}
		return algorithms.FixedWindow(count, p, now), nil

	case domain.SlidingWindow:
		current := algorithms.Epoch(now, p.Window)
		values, err := slidingWindowScript.Run(ctx, s.client,
			[]string{s.slidingKey(key)},
			current,
			current-1,
			strconv.FormatFloat(algorithms.PreviousWeight(now, p.Window), 'g', -1, 64),
			p.Limit,
			int64(algorithms.SlidingWindowTTL(p.Window).Seconds()),
		).Int64Slice()
		if err != nil {
			return domain.CheckResult{}, fmt.Errorf("sliding window script: %w", err)
		}
		if len(values) != 3 {
			return domain.CheckResult{}, errors.New("invalid sliding window script reply")
		}
		state := algorithms.SlidingWindowState{current: values[1], current - 1: values[2]}
		return algorithms.SlidingWindowApplied(values[0] == 1, state, p, now), nil

	case domain.TokenBucket:
		cost := p.Cost
		if cost <= 0 {
			cost = 1
		}
		reply, err := tokenBucketScript.Run(ctx, s.client,
			[]string{s.bucketKey(key)},
			p.Capacity,
			strconv.FormatFloat(p.RefillRate, 'g', -1, 64),
			now.UnixMilli(),
			strconv.FormatFloat(cost, 'g', -1, 64),
			int64(algorithms.BucketTTL(p).Seconds()),
		).Slice()
		if err != nil {
			return domain.CheckResult{}, fmt.Errorf("token bucket script: %w", err)
		}
		if len(reply) != 2 {
			return domain.CheckResult{}, errors.New("invalid token bucket script reply")
		}
		allowed, _ := reply[0].(int64)
		tokens := convertToFloat(reply[1])
		return algorithms.TokenBucketApplied(allowed == 1, tokens, p, now), nil
	}

	return domain.CheckResult{}, fmt.Errorf("%w: unknown algorithm %q", domain.ErrInvalidRule, p.Algorithm)
}

// Peek lê o estado bruto sem scripts nem escritas.
func (s *Storage) Peek(ctx context.Context, key string, p domain.LimitParams, now time.Time) (domain.CheckResult, error) {
	switch p.Algorithm {
	case domain.FixedWindow:
		count, err := s.client.Get(ctx, s.fixedKey(key, p, now)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return domain.CheckResult{}, err
		}
		return algorithms.PeekFixedWindow(count, p, now), nil

	case domain.SlidingWindow:
		current := algorithms.Epoch(now, p.Window)
		values, err := s.client.HMGet(ctx, s.slidingKey(key),
			strconv.FormatInt(current, 10), strconv.FormatInt(current-1, 10)).Result()
		if err != nil {
			return domain.CheckResult{}, err
		}
		state := algorithms.SlidingWindowState{
			current:     int64(convertToFloat(values[0])),
			current - 1: int64(convertToFloat(values[1])),
		}
		return algorithms.PeekSlidingWindow(state, p, now), nil

	case domain.TokenBucket:
		values, err := s.client.HMGet(ctx, s.bucketKey(key), "tokens", "lastRefill").Result()
		if err != nil {
			return domain.CheckResult{}, err
		}
		found := values[0] != nil && values[1] != nil
		st := algorithms.BucketState{
			Tokens:     convertToFloat(values[0]),
			LastRefill: time.UnixMilli(int64(convertToFloat(values[1]))),
		}
		return algorithms.PeekTokenBucket(st, found, p, now), nil
	}

	return domain.CheckResult{}, fmt.Errorf("%w: unknown algorithm %q", domain.ErrInvalidRule, p.Algorithm)
}

func convertToFloat(val any) float64 {
	switch v := val.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
