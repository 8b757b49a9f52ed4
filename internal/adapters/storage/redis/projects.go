package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

const (
	projectsKey = "projects"
	apiKeysKey  = "api_keys"
	usageTTL    = 30 * 24 * time.Hour
)

func usageKey(projectID string) string { return "usage:" + projectID }

func (s *Storage) CreateProject(ctx context.Context, p domain.Project) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}

	created, err := s.client.HSetNX(ctx, projectsKey, p.ID, payload).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("project %s already exists", p.ID)
	}

	if len(p.Keys) == 0 {
		return nil
	}
	return s.client.HSet(ctx, apiKeysKey, keyMappings(p)...).Err()
}

func (s *Storage) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, s.client, id)
}

func (s *Storage) GetProjectByAPIKey(ctx context.Context, apiKey string) (domain.Project, error) {
	id, err := s.client.HGet(ctx, apiKeysKey, apiKey).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Project{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Project{}, err
	}
	return s.GetProject(ctx, id)
}

func (s *Storage) ListProjects(ctx context.Context) ([]domain.Project, error) {
	all, err := s.client.HGetAll(ctx, projectsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(all))
	for _, raw := range all {
		var p domain.Project
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
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

// SaveProject substitui um projeto existente e reaponta suas API keys. A
// leitura das chaves antigas e as escritas formam uma transação otimista sobre
// o hash de projetos.
func (s *Storage) SaveProject(ctx context.Context, p domain.Project) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := getProject(ctx, tx, p.ID)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if stale := staleKeys(old, p); len(stale) > 0 {
				pipe.HDel(ctx, apiKeysKey, stale...)
			}
			if len(p.Keys) > 0 {
				pipe.HSet(ctx, apiKeysKey, keyMappings(p)...)
			}
			pipe.HSet(ctx, projectsKey, p.ID, payload)
			return nil
		})
		return err
	}, projectsKey)
}

// DeleteProject remove o projeto, o mapeamento das API keys e o uso.
func (s *Storage) DeleteProject(ctx context.Context, id string) error {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if keys := staleKeys(p, domain.Project{}); len(keys) > 0 {
		pipe.HDel(ctx, apiKeysKey, keys...)
	}
	pipe.HDel(ctx, projectsKey, id)
	pipe.Del(ctx, usageKey(id))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) RecordUsage(ctx context.Context, projectID string, at time.Time) error {
	hour := strconv.FormatInt(at.Truncate(time.Hour).UnixMilli(), 10)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, usageKey(projectID), hour, 1)
	pipe.Expire(ctx, usageKey(projectID), usageTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) Usage(ctx context.Context, projectID string, since time.Time) ([]domain.TimeBucket, error) {
	all, err := s.client.HGetAll(ctx, usageKey(projectID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.TimeBucket, 0, len(all))
	for field, value := range all {
		ms, err := strconv.ParseInt(field, 10, 64)
		if err != nil || ms < since.UnixMilli() {
			continue
		}
		count, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		out = append(out, domain.TimeBucket{Time: time.UnixMilli(ms), Count: count})
	}
	slices.SortFunc(out, func(a, b domain.TimeBucket) int { return a.Time.Compare(b.Time) })
	return out, nil
}

func getProject(ctx context.Context, c redis.Cmdable, id string) (domain.Project, error) {
	raw, err := c.HGet(ctx, projectsKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Project{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Project{}, err
	}
	var p domain.Project
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Project{}, fmt.Errorf("decode project: %w", err)
	}
	return p, nil
}

func keyMappings(p domain.Project) []any {
	out := make([]any, 0, 2*len(p.Keys))
	for _, k := range p.Keys {
		out = append(out, k.Key, p.ID)
	}
	return out
}

// staleKeys lista as API keys de old que next não tem mais.
func staleKeys(old, next domain.Project) []string {
	keep := make(map[string]bool, len(next.Keys))
	for _, k := range next.Keys {
		keep[k.Key] = true
	}
	var out []string
	for _, k := range old.Keys {
		if !keep[k.Key] {
			out = append(out, k.Key)
		}
	}
	return out
}
