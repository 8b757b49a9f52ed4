package memory

import (
	"context"
	"slices"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

func violationLogKey(layer domain.Layer, identifier string) string {
	return string(layer) + ":" + identifier
}

// AppendViolation adiciona e incrementa sob um único lock; o contador devolvido
// é exclusivo desta chamada.
func (s *Store) AppendViolation(_ context.Context, v domain.Violation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	k := violationLogKey(v.Layer, v.Identifier)
	log := s.violations[k]
	if !now.Before(log.expiresAt) {
		log.items = nil
	}
	log.items = append([]domain.Violation{v}, log.items...)
	if len(log.items) > violationLogSize {
		log.items = log.items[:violationLogSize]
	}
	log.expiresAt = now.Add(violationTTL)
	s.violations[k] = log

	vk := violatorKey{layer: v.Layer, identifier: v.Identifier}
	s.violationCounts[vk]++
	return s.violationCounts[vk], nil
}

func (s *Store) ListViolations(_ context.Context, layer domain.Layer, identifier string) ([]domain.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.violations[violationLogKey(layer, identifier)]
	if !ok || !s.clock().Before(log.expiresAt) {
		return []domain.Violation{}, nil
	}
	return slices.Clone(log.items), nil
}

func (s *Store) ViolationCounts(_ context.Context) ([]domain.Violator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Violator, 0, len(s.violationCounts))
	for k, count := range s.violationCounts {
		out = append(out, domain.Violator{Layer: k.layer, Identifier: k.identifier, Count: count})
	}
	return out, nil
}

func (s *Store) Push(_ context.Context, ev domain.ThresholdEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, ev)
	return nil
}

// Drain troca a fila sob o lock: um evento enfileirado em paralelo cai neste
// lote ou no próximo.
func (s *Store) Drain(_ context.Context) ([]domain.ThresholdEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.queue
	s.queue = nil
	if events == nil {
		events = []domain.ThresholdEvent{}
	}
	return events, nil
}
