package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

func (s *Store) CreateProject(_ context.Context, p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	s.projects[p.ID] = p
	for _, k := range p.Keys {
		s.apiKeys[k.Key] = p.ID
	}
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProjectByAPIKey(_ context.Context, apiKey string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.apiKeys[apiKey]
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	p, ok := s.projects[id]
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProjects(_ context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Project) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// SaveProject substitui um projeto existente e reaponta suas API keys.
func (s *Store) SaveProject(_ context.Context, p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.projects[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, k := range old.Keys {
		delete(s.apiKeys, k.Key)
	}
	for _, k := range p.Keys {
		s.apiKeys[k.Key] = p.ID
	}
	s.projects[p.ID] = p
	return nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, k := range p.Keys {
		delete(s.apiKeys, k.Key)
	}
	delete(s.projects, id)
	delete(s.usage, id)
	return nil
}

func (s *Store) RecordUsage(_ context.Context, projectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.usage[projectID]
	if !ok || !s.clock().Before(e.expiresAt) {
		e = usageEntry{hours: make(map[int64]int)}
	}
	e.hours[at.Truncate(time.Hour).UnixMilli()]++
	e.expiresAt = s.clock().Add(usageTTL)
	s.usage[projectID] = e
	return nil
}

func (s *Store) Usage(_ context.Context, projectID string, since time.Time) ([]domain.TimeBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.TimeBucket{}
	e, ok := s.usage[projectID]
	if !ok || !s.clock().Before(e.expiresAt) {
		return out, nil
	}
	for ms, count := range e.hours {
		if ms >= since.UnixMilli() {
			out = append(out, domain.TimeBucket{Time: time.UnixMilli(ms), Count: count})
		}
	}
	slices.SortFunc(out, func(a, b domain.TimeBucket) int { return a.Time.Compare(b.Time) })
	return out, nil
}
