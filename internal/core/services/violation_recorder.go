package services

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

const (
	DefaultAnalyticsRange = time.Hour
	DefaultTopViolators   = 10
)

// ViolationRecorder persiste negações, mantém os contadores cumulativos e
// enfileira um ThresholdEvent quando um contador atinge um limiar de alerta.
type ViolationRecorder struct {
	store   ports.ViolationStore
	queue   ports.EventQueue
	metrics ports.Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

var _ ports.ViolationSink = (*ViolationRecorder)(nil)

type RecorderOption func(*ViolationRecorder)

func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *ViolationRecorder) { r.clock = clock }
}

func WithRecorderMetrics(m ports.Metrics) RecorderOption {
	return func(r *ViolationRecorder) { r.metrics = m }
}

func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *ViolationRecorder) { r.logger = l }
}

func NewViolationRecorder(store ports.ViolationStore, queue ports.EventQueue, opts ...RecorderOption) (*ViolationRecorder, error) {
	if store == nil {
		return nil, fmt.Errorf("violation store is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("event queue is required")
	}
	r := &ViolationRecorder{
		store:   store,
		queue:   queue,
		metrics: ports.NoopMetrics{},
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *ViolationRecorder) RecordViolation(ctx context.Context, layer domain.Layer, identifier, endpoint string, result domain.CheckResult) error {
	count, err := r.store.AppendViolation(ctx, domain.Violation{
		Layer:      layer,
		Identifier: identifier,
		Endpoint:   endpoint,
		Timestamp:  r.clock(),
		Result:     result,
	})
	if err != nil {
		return fmt.Errorf("append violation: %w", err)
	}
	r.metrics.IncViolation(layer)

	return r.CheckThreshold(ctx, layer, identifier, count)
}

// CheckThreshold enfileira um evento se count for exatamente um dos limiares.
// count deve ser o valor produzido pelo incremento atômico desta violação:
// como cada valor é produzido uma vez, cada limiar dispara no máximo uma vez
// por (layer, identifier).
func (r *ViolationRecorder) CheckThreshold(ctx context.Context, layer domain.Layer, identifier string, count int64) error {
	if !domain.IsAlertThreshold(count) {
		return nil
	}

	ev := domain.ThresholdEvent{
		Type:       domain.EventThresholdReached,
		Layer:      layer,
		Identifier: identifier,
		Count:      count,
		Timestamp:  r.clock(),
	}
	if err := r.queue.Push(ctx, ev); err != nil {
		return fmt.Errorf("enqueue threshold event: %w", err)
	}
	r.metrics.IncThresholdEvent(layer)
	r.logger.Info("violation threshold reached",
		"layer", layer, "identifier", identifier, "count", count)
	return nil
}

// DrainEvents devolve e limpa a fila de eventos pendentes.
func (r *ViolationRecorder) DrainEvents(ctx context.Context) ([]domain.ThresholdEvent, error) {
	return r.queue.Drain(ctx)
}

// GetAnalytics resume as violações de (layer, identifier) mais novas que
// timeRange, agrupadas por endpoint e por minuto.
func (r *ViolationRecorder) GetAnalytics(ctx context.Context, layer domain.Layer, identifier string, timeRange time.Duration) (domain.Analytics, error) {
	if timeRange <= 0 {
		timeRange = DefaultAnalyticsRange
	}

	violations, err := r.store.ListViolations(ctx, layer, identifier)
	if err != nil {
		return domain.Analytics{}, fmt.Errorf("list violations: %w", err)
	}

	now := r.clock()
	out := domain.Analytics{
		ByEndpoint: make(map[string]int),
		TimeSeries: []domain.TimeBucket{},
	}
	perMinute := make(map[int64]int)
	for _, v := range violations {
		if now.Sub(v.Timestamp) >= timeRange {
			continue
		}
		out.Total++
		out.ByEndpoint[v.Endpoint]++
		perMinute[v.Timestamp.Truncate(time.Minute).UnixMilli()]++
	}

	for ms, count := range perMinute {
		out.TimeSeries = append(out.TimeSeries, domain.TimeBucket{Time: time.UnixMilli(ms), Count: count})
	}
	slices.SortFunc(out.TimeSeries, func(a, b domain.TimeBucket) int {
		return a.Time.Compare(b.Time)
	})

	return out, nil
}

// GetTopViolators ordena os contadores cumulativos, do maior para o menor.
func (r *ViolationRecorder) GetTopViolators(ctx context.Context, limit int) ([]domain.Violator, error) {
	if limit <= 0 {
		limit = DefaultTopViolators
	}

	all, err := r.store.ViolationCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("violation counts: %w", err)
	}

	slices.SortFunc(all, func(a, b domain.Violator) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(string(a.Layer)+":"+a.Identifier, string(b.Layer)+":"+b.Identifier)
	})

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
