package algorithms

import (
	"math"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

// Epoch devolve floor(now / window) em milissegundos.
func Epoch(now time.Time, window time.Duration) int64 {
	w := window.Milliseconds()
	ms := now.UnixMilli()
	e := ms / w
	if ms < 0 && ms%w != 0 {
		e--
	}
	return e
}

// EpochEnd devolve o instante em que termina a época que contém now.
func EpochEnd(now time.Time, window time.Duration) time.Time {
	return time.UnixMilli((Epoch(now, window) + 1) * window.Milliseconds())
}

// FixedWindow transforma o contador pós-incremento da época corrente em um
// resultado. A atomicidade do incremento é responsabilidade de quem chama.
func FixedWindow(count int64, p domain.LimitParams, now time.Time) domain.CheckResult {
	return domain.CheckResult{
		Allowed:   count <= p.Limit,
		Remaining: max(0, p.Limit-count),
		Limit:     p.Limit,
		ResetAt:   EpochEnd(now, p.Window),
		Algorithm: domain.FixedWindow,
	}
}

// PeekFixedWindow projeta a próxima verificação contra o contador armazenado
// sem incrementá-lo.
func PeekFixedWindow(count int64, p domain.LimitParams, now time.Time) domain.CheckResult {
	return domain.CheckResult{
		Allowed:   count < p.Limit,
		Remaining: max(0, p.Limit-count),
		Limit:     p.Limit,
		ResetAt:   EpochEnd(now, p.Window),
		Algorithm: domain.FixedWindow,
	}
}

// SlidingWindowState mapeia a época da janela para o seu contador.
type SlidingWindowState map[int64]int64

// PreviousWeight é a fração da época anterior ainda coberta pela janela
// deslizante. Cai de 1 em direção a 0 conforme now avança na época.
func PreviousWeight(now time.Time, window time.Duration) float64 {
	start := Epoch(now, window) * window.Milliseconds()
	elapsed := now.UnixMilli() - start
	return 1 - float64(elapsed)/float64(window.Milliseconds())
}

// Weighted devolve a contagem aproximada da janela deslizante.
func (s SlidingWindowState) Weighted(now time.Time, window time.Duration) float64 {
	current := Epoch(now, window)
	return float64(s[current]) + float64(s[current-1])*PreviousWeight(now, window)
}

// SlidingWindow avalia uma requisição e altera s: a época corrente é
// incrementada quando permitida e épocas anteriores à anterior são descartadas.
func SlidingWindow(s SlidingWindowState, p domain.LimitParams, now time.Time) domain.CheckResult {
	current := Epoch(now, p.Window)
	weighted := s.Weighted(now, p.Window)

	allowed := weighted < float64(p.Limit)
	if allowed {
		s[current]++
	}

	for epoch := range s {
		if epoch < current-1 {
			delete(s, epoch)
		}
	}

	return SlidingWindowApplied(allowed, s, p, now)
}

// PeekSlidingWindow projeta a próxima verificação sem tocar em s.
func PeekSlidingWindow(s SlidingWindowState, p domain.LimitParams, now time.Time) domain.CheckResult {
	weighted := s.Weighted(now, p.Window)
	return slidingResult(weighted < float64(p.Limit), weighted, p, now)
}

// SlidingWindowApplied monta o resultado de uma verificação já aplicada a s por
// uma transação atômica externa: s traz os contadores depois dela.
func SlidingWindowApplied(allowed bool, s SlidingWindowState, p domain.LimitParams, now time.Time) domain.CheckResult {
	return slidingResult(allowed, s.Weighted(now, p.Window), p, now)
}

func slidingResult(allowed bool, weighted float64, p domain.LimitParams, now time.Time) domain.CheckResult {
	return domain.CheckResult{
		Allowed:   allowed,
		Remaining: max(0, p.Limit-int64(math.Ceil(weighted))),
		Limit:     p.Limit,
		ResetAt:   EpochEnd(now, p.Window),
		Algorithm: domain.SlidingWindow,
	}
}

// SlidingWindowTTL mantém o hash por três janelas, arredondado para segundos
// inteiros, o que sempre cobre a época corrente e a anterior.
func SlidingWindowTTL(window time.Duration) time.Duration {
	return time.Duration(math.Ceil(window.Seconds())*3) * time.Second
}
