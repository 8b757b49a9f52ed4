package algorithms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

func at(ms int64) time.Time { return time.UnixMilli(ms) }

// fixedCounter mimics the store side of the fixed window: one counter per epoch.
type fixedCounter map[int64]int64

func (c fixedCounter) check(p domain.LimitParams, now time.Time) domain.CheckResult {
	epoch := Epoch(now, p.Window)
	c[epoch]++
	return FixedWindow(c[epoch], p, now)
}

func fixedParams(limit int64, window time.Duration) domain.LimitParams {
	return domain.LimitParams{Algorithm: domain.FixedWindow, Limit: limit, Window: window, Cost: 1}
}

func TestFixedWindow_LimitWithinEpochThenReset(t *testing.T) {
	p := fixedParams(5, time.Second)
	c := fixedCounter{}

	for i := 0; i < 5; i++ {
		res := c.check(p, at(10_100+int64(i)))
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, int64(4-i), res.Remaining)
		assert.Equal(t, at(11_000), res.ResetAt)
	}

	res := c.check(p, at(10_500))
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)

	res = c.check(p, at(11_000))
	assert.True(t, res.Allowed, "counter should reset at the epoch boundary")
	assert.Equal(t, int64(4), res.Remaining)
}

func TestFixedWindow_BoundaryBurstAdmitsTwiceTheLimit(t *testing.T) {
	p := fixedParams(5, time.Second)
	c := fixedCounter{}

	admitted := 0
	for i := 0; i < 5; i++ {
		if c.check(p, at(999)).Allowed {
			admitted++
		}
	}
	for i := 0; i < 5; i++ {
		if c.check(p, at(1001)).Allowed {
			admitted++
		}
	}

	assert.Equal(t, 10, admitted)
}

func TestPeekFixedWindow_DoesNotIncrement(t *testing.T) {
	p := fixedParams(3, time.Second)

	res := PeekFixedWindow(2, p, at(500))
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Remaining)

	res = PeekFixedWindow(3, p, at(500))
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestPreviousWeight_DecreasesWithinEpoch(t *testing.T) {
	window := time.Second
	last := 2.0
	for ms := int64(5000); ms < 6000; ms += 50 {
		w := PreviousWeight(at(ms), window)
		assert.Less(t, w, last)
		assert.LessOrEqual(t, w, 1.0)
		assert.Greater(t, w, 0.0)
		last = w
	}
	assert.Equal(t, 1.0, PreviousWeight(at(5000), window))
	assert.InDelta(t, 0.5, PreviousWeight(at(5500), window), 1e-9)
}

func TestSlidingWindow_WeightsPreviousEpoch(t *testing.T) {
	p := domain.LimitParams{Algorithm: domain.SlidingWindow, Limit: 10, Window: time.Second}
	s := SlidingWindowState{}

	for i := 0; i < 10; i++ {
		require.True(t, SlidingWindow(s, p, at(1000+int64(i))).Allowed)
	}
	assert.False(t, SlidingWindow(s, p, at(1500)).Allowed)

	// Halfway into the next epoch the previous 10 weigh 5.
	res := SlidingWindow(s, p, at(2500))
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(4), res.Remaining)
	assert.Equal(t, at(3000), res.ResetAt)
}

func TestSlidingWindow_DropsOldEpochs(t *testing.T) {
	p := domain.LimitParams{Algorithm: domain.SlidingWindow, Limit: 10, Window: time.Second}
	s := SlidingWindowState{1: 3, 2: 4, 3: 1}

	SlidingWindow(s, p, at(4200))

	assert.NotContains(t, s, int64(1))
	assert.NotContains(t, s, int64(2))
	assert.Contains(t, s, int64(3))
	assert.Contains(t, s, int64(4))
}

func TestSlidingWindow_PeekNeverExceedsLimitByMoreThanOne(t *testing.T) {
	p := domain.LimitParams{Algorithm: domain.SlidingWindow, Limit: 7, Window: time.Second}
	s := SlidingWindowState{}

	for ms := int64(0); ms < 5000; ms += 37 {
		SlidingWindow(s, p, at(ms))
		weighted := s.Weighted(at(ms), p.Window)
		assert.LessOrEqual(t, weighted, float64(p.Limit)+1, "at %dms", ms)
	}
}

func TestSlidingWindow_PeekIsIdempotent(t *testing.T) {
	p := domain.LimitParams{Algorithm: domain.SlidingWindow, Limit: 5, Window: time.Second}
	s := SlidingWindowState{0: 2, 1: 1}
	now := at(1300)

	first := PeekSlidingWindow(s, p, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, PeekSlidingWindow(s, p, now))
	}
	assert.Equal(t, SlidingWindowState{0: 2, 1: 1}, s)

	assert.Equal(t, first.Allowed, SlidingWindow(s, p, now).Allowed)
}

func bucketParams(capacity int64, rate float64) domain.LimitParams {
	return domain.LimitParams{Algorithm: domain.TokenBucket, Capacity: capacity, RefillRate: rate, Window: time.Minute, Cost: 1}
}

func TestTokenBucket_RefillAfterExhaustion(t *testing.T) {
	p := bucketParams(10, 1)
	now := at(100_000)

	var st BucketState
	found := false
	for i := 0; i < 10; i++ {
		var res domain.CheckResult
		st, res = TokenBucket(st, found, p, now)
		found = true
		require.True(t, res.Allowed, "token %d", i+1)
	}

	st, res := TokenBucket(st, found, p, now)
	assert.False(t, res.Allowed)
	assert.Equal(t, now.Add(10*time.Second), res.ResetAt, "reset is when the bucket is full")

	peek := PeekTokenBucket(st, true, p, now.Add(5*time.Second))
	assert.Equal(t, int64(5), peek.Remaining)
}

func TestTokenBucket_DenyStillPersistsRefill(t *testing.T) {
	p := bucketParams(2, 0.5)
	st := BucketState{Tokens: 0, LastRefill: at(0)}

	next, res := TokenBucket(st, true, p, at(1000))
	assert.False(t, res.Allowed)
	assert.InDelta(t, 0.5, next.Tokens, 1e-9)
	assert.Equal(t, at(1000), next.LastRefill)
}

func TestTokenBucket_TokensStayWithinBounds(t *testing.T) {
	p := bucketParams(3, 2)
	var st BucketState
	found := false
	for ms := int64(0); ms < 10_000; ms += 123 {
		st, _ = TokenBucket(st, found, p, at(ms))
		found = true
		assert.GreaterOrEqual(t, st.Tokens, 0.0)
		assert.LessOrEqual(t, st.Tokens, 3.0)
	}

	// A lastRefill ahead of now must not drain the bucket.
	st = BucketState{Tokens: 1, LastRefill: at(20_000)}
	st, _ = TokenBucket(st, true, p, at(10_000))
	assert.GreaterOrEqual(t, st.Tokens, 0.0)
}

func TestPeekTokenBucket_EmptyStateIsFull(t *testing.T) {
	p := bucketParams(4, 1)
	res := PeekTokenBucket(BucketState{}, false, p, at(0))
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(4), res.Remaining)
	assert.Equal(t, at(0), res.ResetAt)
}

func TestTTLs(t *testing.T) {
	assert.Equal(t, 3*time.Second, SlidingWindowTTL(500*time.Millisecond))
	assert.Equal(t, 180*time.Second, SlidingWindowTTL(time.Minute))
	assert.Equal(t, 70*time.Second, BucketTTL(bucketParams(10, 1)))
}
