package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

type stubLimiter struct {
	decision domain.AdmissionDecision
	err      error
	got      []domain.AdmissionRequest
}

func (s *stubLimiter) CheckMultiLayer(_ context.Context, req domain.AdmissionRequest, _ domain.RuleSet) (domain.AdmissionDecision, error) {
	s.got = append(s.got, req)
	return s.decision, s.err
}

var ipRules = domain.RuleSet{
	domain.LayerIP: {Algorithm: domain.FixedWindow, Limit: 2, WindowMs: 1000},
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func layerDecision(allowed bool) domain.AdmissionDecision {
	res := domain.CheckResult{
		Allowed:   allowed,
		Remaining: 0,
		Limit:     2,
		ResetAt:   time.UnixMilli(1_700_000_000_500),
		Algorithm: domain.FixedWindow,
	}
	var blockedBy domain.Layer
	if !allowed {
		blockedBy = domain.LayerIP
	}
	return domain.NewAdmissionDecision([]domain.LayerResult{{CheckResult: res, Layer: domain.LayerIP, Identifier: "10.0.0.1"}}, blockedBy)
}

func TestRateLimiterMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		decision   domain.AdmissionDecision
		err        error
		wantStatus int
	}{
		{name: "allowed", decision: layerDecision(true), wantStatus: http.StatusOK},
		{name: "denied", decision: layerDecision(false), wantStatus: http.StatusTooManyRequests},
		{name: "store down", decision: layerDecision(false), err: fmt.Errorf("evaluate: %w", domain.ErrStoreUnavailable), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &stubLimiter{decision: tt.decision, err: tt.err}
			h := NewRateLimiterMiddleware(limiter, ipRules, nil)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/dashboard/projects", nil)
			req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "2", rec.Header().Get(domain.HeaderLimit))
			assert.Equal(t, "1700000001", rec.Header().Get(domain.HeaderReset))
			require.Len(t, limiter.got, 1)
			assert.Equal(t, "10.0.0.1", limiter.got[0].IP)
		})
	}
}

func TestRateLimiterMiddleware_NoRulesPassesThrough(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("must not be called")}
	h := NewRateLimiterMiddleware(limiter, nil, nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, limiter.got)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.1"}, remote: "127.0.0.1:1234", want: "203.0.113.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "127.0.0.1:1234", want: "198.51.100.7"},
		{name: "remote addr", remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "ipv6 remote", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "no port", remote: "192.0.2.2", want: "192.0.2.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

type stubResolver struct {
	projects map[string]domain.Project
	err      error
	usage    []string
}

func (s *stubResolver) GetByAPIKey(_ context.Context, apiKey string) (domain.Project, error) {
	if s.err != nil {
		return domain.Project{}, s.err
	}
	p, ok := s.projects[apiKey]
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubResolver) RecordUsage(_ context.Context, projectID string) error {
	s.usage = append(s.usage, projectID)
	return nil
}

func TestProjectAuth(t *testing.T) {
	resolver := &stubResolver{projects: map[string]domain.Project{"th_live_abc": {ID: "proj_1"}}}

	var seen domain.Project
	h := NewProjectAuth(resolver, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ProjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/check", nil)
		if key != "" {
			req.Header.Set(HeaderAPIKey, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"API key required"}`, rec.Body.String())

	rec = send("th_live_unknown")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid API key"}`, rec.Body.String())

	rec = send("th_live_abc")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "proj_1", seen.ID)
	assert.Equal(t, []string{"proj_1"}, resolver.usage)
}

func TestProjectAuth_StoreFailure(t *testing.T) {
	resolver := &stubResolver{err: errors.New("connection refused")}
	h := NewProjectAuth(resolver, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	req.Header.Set(HeaderAPIKey, "th_live_abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, resolver.usage)
}
