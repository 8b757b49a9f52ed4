package algorithms

import (
	"math"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

// BucketState é o estado persistido do token bucket.
type BucketState struct {
	Tokens     float64
	LastRefill time.Time
}

// refill devolve o saldo de tokens em now, limitado a capacity. Um lastRefill
// no futuro (relógios divergentes entre instâncias) não acrescenta nada.
func (b BucketState) refill(p domain.LimitParams, now time.Time) float64 {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(float64(p.Capacity), b.Tokens+elapsed*p.RefillRate)
}

// TokenBucket avalia uma requisição. found é false quando ainda não há estado,
// e o bucket começa cheio. O estado devolvido deve sempre ser persistido,
// permitido ou não, para que o reabastecimento não se perca.
func TokenBucket(st BucketState, found bool, p domain.LimitParams, now time.Time) (BucketState, domain.CheckResult) {
	if !found {
		st = BucketState{Tokens: float64(p.Capacity), LastRefill: now}
	}

	cost := p.Cost
	if cost <= 0 {
		cost = 1
	}

	tokens := st.refill(p, now)
	allowed := tokens >= cost
	if allowed {
		tokens -= cost
	}

	next := BucketState{Tokens: tokens, LastRefill: now}
	return next, bucketResult(allowed, tokens, p, now)
}

// PeekTokenBucket projeta o saldo em now sem consumir.
func PeekTokenBucket(st BucketState, found bool, p domain.LimitParams, now time.Time) domain.CheckResult {
	if !found {
		return bucketResult(true, float64(p.Capacity), p, now)
	}
	cost := p.Cost
	if cost <= 0 {
		cost = 1
	}
	tokens := st.refill(p, now)
	return bucketResult(tokens >= cost, tokens, p, now)
}

// BucketTTL é por quanto tempo um bucket ocioso é mantido: o tempo para encher
// a partir de vazio mais um minuto.
func BucketTTL(p domain.LimitParams) time.Duration {
	seconds := math.Ceil(float64(p.Capacity)/p.RefillRate) + 60
	return time.Duration(seconds) * time.Second
}

// TokenBucketApplied monta o resultado de uma verificação já aplicada por uma
// transação atômica externa, a partir do saldo que ela deixou.
func TokenBucketApplied(allowed bool, tokens float64, p domain.LimitParams, now time.Time) domain.CheckResult {
	return bucketResult(allowed, tokens, p, now)
}

func bucketResult(allowed bool, tokens float64, p domain.LimitParams, now time.Time) domain.CheckResult {
	untilFull := (float64(p.Capacity) - tokens) / p.RefillRate
	return domain.CheckResult{
		Allowed:   allowed,
		Remaining: int64(math.Floor(tokens)),
		Limit:     p.Capacity,
		ResetAt:   now.Add(time.Duration(untilFull * float64(time.Second))),
		Algorithm: domain.TokenBucket,
	}
}
