package memory

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/algorithms"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

func (s *Store) Evaluate(_ context.Context, key string, p domain.LimitParams, now time.Time) (domain.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	switch p.Algorithm {
	case domain.FixedWindow:
		k := fixedKey(key, p, now)
		c, ok := s.fixed[k]
		if !ok || !now.Before(c.expiresAt) {
			c = counter{expiresAt: now.Add(p.Window)}
		}
		c.value++
		s.fixed[k] = c
		return algorithms.FixedWindow(c.value, p, now), nil

	case domain.SlidingWindow:
		e, ok := s.sliding[key]
		if !ok || !now.Before(e.expiresAt) {
			e = slidingEntry{state: algorithms.SlidingWindowState{}}
		}
		res := algorithms.SlidingWindow(e.state, p, now)
		if res.Allowed {
			e.expiresAt = now.Add(algorithms.SlidingWindowTTL(p.Window))
		}
		s.sliding[key] = e
		return res, nil

	case domain.TokenBucket:
		e, ok := s.buckets[key]
		found := ok && now.Before(e.expiresAt)
		next, res := algorithms.TokenBucket(e.state, found, p, now)
		s.buckets[key] = bucketEntry{state: next, expiresAt: now.Add(algorithms.BucketTTL(p))}
		return res, nil
	}

	return domain.CheckResult{}, fmt.Errorf("%w: unknown algorithm %q", domain.ErrInvalidRule, p.Algorithm)
}

func (s *Store) Peek(_ context.Context, key string, p domain.LimitParams, now time.Time) (domain.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p.Algorithm {
	case domain.FixedWindow:
		var count int64
		if c, ok := s.fixed[fixedKey(key, p, now)]; ok && now.Before(c.expiresAt) {
			count = c.value
		}
		return algorithms.PeekFixedWindow(count, p, now), nil

	case domain.SlidingWindow:
		state := algorithms.SlidingWindowState{}
		if e, ok := s.sliding[key]; ok && now.Before(e.expiresAt) {
			state = maps.Clone(e.state)
		}
		return algorithms.PeekSlidingWindow(state, p, now), nil

	case domain.TokenBucket:
		e, ok := s.buckets[key]
		return algorithms.PeekTokenBucket(e.state, ok && now.Before(e.expiresAt), p, now), nil
	}

	return domain.CheckResult{}, fmt.Errorf("%w: unknown algorithm %q", domain.ErrInvalidRule, p.Algorithm)
}

func fixedKey(key string, p domain.LimitParams, now time.Time) string {
	return fmt.Sprintf("%s:%d", key, algorithms.Epoch(now, p.Window))
}
