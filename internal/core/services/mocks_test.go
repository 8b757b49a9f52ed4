package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/adapters/storage/memory"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

// countingEngine wraps a real Engine and records every key it evaluates.
type countingEngine struct {
	inner ports.AlgorithmEngine

	mu    sync.Mutex
	keys  []string
	rules []domain.Rule
	fail  map[string]error
}

func newCountingEngine(store ports.LimitStore) *countingEngine {
	engine, err := NewEngine(store)
	if err != nil {
		panic(err)
	}
	return &countingEngine{inner: engine, fail: map[string]error{}}
}

func (e *countingEngine) Evaluate(ctx context.Context, key string, rule domain.Rule, now time.Time) (domain.CheckResult, error) {
	e.mu.Lock()
	e.keys = append(e.keys, key)
	e.rules = append(e.rules, rule)
	err := e.fail[key]
	e.mu.Unlock()
	if err != nil {
		return domain.CheckResult{}, err
	}
	return e.inner.Evaluate(ctx, key, rule, now)
}

func (e *countingEngine) Peek(ctx context.Context, key string, rule domain.Rule, now time.Time) (domain.CheckResult, error) {
	return e.inner.Peek(ctx, key, rule, now)
}

func (e *countingEngine) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.keys...)
}

// failingLimitStore simulates an unreachable shared store.
type failingLimitStore struct{}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (failingLimitStore) Evaluate(context.Context, string, domain.LimitParams, time.Time) (domain.CheckResult, error) {
	return domain.CheckResult{}, errConnRefused
}

func (failingLimitStore) Peek(context.Context, string, domain.LimitParams, time.Time) (domain.CheckResult, error) {
	return domain.CheckResult{}, errConnRefused
}

type recordedViolation struct {
	layer      domain.Layer
	identifier string
	endpoint   string
}

type mockSink struct {
	mu    sync.Mutex
	calls []recordedViolation
	err   error
}

func (m *mockSink) RecordViolation(_ context.Context, layer domain.Layer, identifier, endpoint string, _ domain.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedViolation{layer, identifier, endpoint})
	return m.err
}

type staticGeo map[string]string

func (g staticGeo) Country(_ context.Context, ip string) (string, error) {
	if c, ok := g[ip]; ok {
		return c, nil
	}
	return "", errors.New("not found")
}

// countingRepo counts GetProjectByAPIKey reads and can delay their return.
type countingRepo struct {
	*memory.Store

	mu    sync.Mutex
	reads int
	delay time.Duration
}

func (r *countingRepo) GetProjectByAPIKey(ctx context.Context, apiKey string) (domain.Project, error) {
	r.mu.Lock()
	r.reads++
	r.mu.Unlock()
	p, err := r.Store.GetProjectByAPIKey(ctx, apiKey)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return p, err
}

func (r *countingRepo) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
