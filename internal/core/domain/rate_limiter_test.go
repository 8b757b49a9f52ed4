package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_ForCountryMergesFieldByField(t *testing.T) {
	limit := int64(5)
	bucket := TokenBucket
	base := Rule{
		Algorithm:      SlidingWindow,
		Limit:          100,
		WindowMs:       60_000,
		BurstAllowance: 20,
		GeoRules: map[string]GeoOverride{
			"CN": {Limit: &limit},
			"RU": {Algorithm: &bucket},
		},
	}

	cn := base.ForCountry("CN")
	assert.Equal(t, int64(5), cn.Limit)
	assert.Equal(t, SlidingWindow, cn.Algorithm)
	assert.Equal(t, int64(20), cn.BurstAllowance)

	ru := base.ForCountry("RU")
	assert.Equal(t, TokenBucket, ru.Algorithm)
	assert.Equal(t, int64(100), ru.Limit)

	assert.Equal(t, base, base.ForCountry("UNKNOWN"))
	assert.Equal(t, int64(100), base.Limit, "base rule is not mutated")
}

func TestRule_Params(t *testing.T) {
	cases := []struct {
		name    string
		rule    Rule
		want    LimitParams
		wantErr bool
	}{
		{
			name: "fixed window adds burst",
			rule: Rule{Algorithm: FixedWindow, Limit: 10, BurstAllowance: 2, WindowMs: 1000},
			want: LimitParams{Algorithm: FixedWindow, Limit: 12, Window: time.Second, Cost: 1},
		},
		{
			name: "empty algorithm defaults to fixed window",
			rule: Rule{Limit: 3, WindowMs: 500},
			want: LimitParams{Algorithm: FixedWindow, Limit: 3, Window: 500 * time.Millisecond, Cost: 1},
		},
		{
			name: "token bucket derives capacity and refill",
			rule: Rule{Algorithm: TokenBucket, Limit: 100, BurstAllowance: 20, WindowMs: 60_000},
			want: LimitParams{Algorithm: TokenBucket, Limit: 120, Capacity: 120, RefillRate: 2, Window: time.Minute, Cost: 1},
		},
		{
			name: "token bucket explicit values win",
			rule: Rule{Algorithm: TokenBucket, Capacity: 1000, RefillRate: 16.67, WindowMs: 60_000},
			want: LimitParams{Algorithm: TokenBucket, Limit: 0, Capacity: 1000, RefillRate: 16.67, Window: time.Minute, Cost: 1},
		},
		{name: "unknown algorithm", rule: Rule{Algorithm: "leaky", Limit: 1, WindowMs: 1000}, wantErr: true},
		{name: "zero window", rule: Rule{Limit: 1}, wantErr: true},
		{name: "zero limit", rule: Rule{Algorithm: SlidingWindow, WindowMs: 1000}, wantErr: true},
		{name: "negative burst", rule: Rule{Limit: 1, WindowMs: 1000, BurstAllowance: -1}, wantErr: true},
		{name: "empty token bucket", rule: Rule{Algorithm: TokenBucket, WindowMs: 1000}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.rule.Params()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRuleSet_Validate(t *testing.T) {
	assert.NoError(t, DefaultRules().Validate())
	assert.True(t, IsValidationError(RuleSet{"tenant": {Limit: 1, WindowMs: 1}}.Validate()))
	assert.True(t, IsValidationError(RuleSet{LayerIP: {Limit: 1}}.Validate()))
}

func TestAdmissionDecision_Headers(t *testing.T) {
	reset := time.UnixMilli(1_700_000_000_500)
	d := NewAdmissionDecision([]LayerResult{
		{CheckResult: CheckResult{Allowed: true, Remaining: 40, Limit: 100, ResetAt: reset.Add(time.Minute), Algorithm: SlidingWindow}, Layer: LayerIP},
		{CheckResult: CheckResult{Allowed: true, Remaining: 3, Limit: 10, ResetAt: reset, Algorithm: TokenBucket}, Layer: LayerAPIKey},
	}, "")

	assert.True(t, d.Allowed)
	assert.Equal(t, int64(3), d.Remaining)
	assert.Equal(t, reset, d.ResetAt)
	assert.Equal(t, map[string]string{
		HeaderLimit:     "10",
		HeaderRemaining: "3",
		HeaderReset:     "1700000001",
		HeaderPolicy:    "sliding_window,token_bucket",
	}, d.Headers())

	blocked := NewAdmissionDecision(nil, LayerIP)
	assert.False(t, blocked.Allowed)
	assert.Empty(t, blocked.Headers())
}

func TestIsAlertThreshold(t *testing.T) {
	for _, n := range []int64{10, 50, 100, 500, 1000} {
		assert.True(t, IsAlertThreshold(n), "%d", n)
	}
	for _, n := range []int64{0, 9, 11, 99, 1001} {
		assert.False(t, IsAlertThreshold(n), "%d", n)
	}
}
