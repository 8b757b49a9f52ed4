package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeanGrijp/throttle-io/internal/adapters/storage/memory"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.sleeps {
		sum += d
	}
	return sum
}

type receivedRequest struct {
	body      []byte
	signature string
	timestamp string
}

// webhookServer answers with the given statuses in order, then 200.
func webhookServer(t *testing.T, statuses ...int) (*httptest.Server, func() []receivedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		received []receivedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		n := len(received)
		received = append(received, receivedRequest{
			body:      body,
			signature: r.Header.Get(HeaderSignature),
			timestamp: r.Header.Get(HeaderTimestamp),
		})
		mu.Unlock()
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []receivedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]receivedRequest(nil), received...)
	}
}

func newTestWebhookService(t *testing.T, opts ...WebhookOption) (*WebhookService, *memory.Store) {
	t.Helper()
	store := memory.New()
	s, err := NewWebhookService(store, http.DefaultClient, opts...)
	require.NoError(t, err)
	return s, store
}

var testEvent = domain.ThresholdEvent{
	Type:       domain.EventThresholdReached,
	Layer:      domain.LayerIP,
	Identifier: "1.2.3.4",
	Count:      10,
	Timestamp:  time.UnixMilli(1_700_000_000_000),
}

func TestWebhookService_RegisterDefaults(t *testing.T) {
	s, _ := newTestWebhookService(t)

	wh, err := s.Register(context.Background(), "proj_1", domain.WebhookConfig{URL: "https://example.com/hook"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(wh.ID, "wh_"))
	assert.True(t, strings.HasPrefix(wh.Secret, "whsec_"))
	assert.Len(t, wh.Secret, len("whsec_")+32)
	assert.Equal(t, []string{domain.EventThresholdReached, domain.EventBurstDetected}, wh.Events)
	assert.Equal(t, domain.WebhookThresholds{Violations: 50, Burst: 10}, wh.Thresholds)
	assert.True(t, wh.Enabled)

	other, err := s.Register(context.Background(), "proj_1", domain.WebhookConfig{URL: "https://example.com/hook"})
	require.NoError(t, err)
	assert.NotEqual(t, wh.Secret, other.Secret)
	assert.NotEqual(t, wh.ID, other.ID)
}

func TestWebhookService_RegisterRejectsInvalidURL(t *testing.T) {
	s, _ := newTestWebhookService(t)

	for _, raw := range []string{"", "not a url", "ftp://example.com", "/relative"} {
		_, err := s.Register(context.Background(), "proj_1", domain.WebhookConfig{URL: raw})
		assert.True(t, domain.IsValidationError(err), "url %q", raw)
	}
}

func TestWebhookService_UpdateAndDeleteUnknown(t *testing.T) {
	s, _ := newTestWebhookService(t)
	ctx := context.Background()

	url := "https://example.com/new"
	_, err := s.Update(ctx, "proj_1", "wh_missing", domain.WebhookUpdate{URL: &url})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, domain.IsValidationError(err))

	assert.ErrorIs(t, s.Delete(ctx, "proj_1", "wh_missing"), domain.ErrNotFound)

	_, err = s.GetDeliveryLogs(ctx, "proj_1", "wh_missing", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWebhookService_UpdatePartial(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	s, _ := newTestWebhookService(t, WithWebhookClock(clock.Now))
	ctx := context.Background()

	wh, err := s.Register(ctx, "proj_1", domain.WebhookConfig{URL: "https://a.example", Secret: "s1"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	disabled := false
	updated, err := s.Update(ctx, "proj_1", wh.ID, domain.WebhookUpdate{Enabled: &disabled})
	require.NoError(t, err)

	assert.False(t, updated.Enabled)
	assert.Equal(t, "https://a.example", updated.URL)
	assert.Equal(t, "s1", updated.Secret)
	assert.Equal(t, clock.Now(), updated.UpdatedAt)

	got, err := s.Get(ctx, "proj_1", wh.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestWebhookService_DeliverSignsBody(t *testing.T) {
	srv, received := webhookServer(t)
	s, _ := newTestWebhookService(t)

	wh := domain.Webhook{ID: "wh_1", URL: srv.URL, Secret: "whsec_test", Enabled: true}
	require.NoError(t, s.Deliver(context.Background(), wh, testEvent))

	reqs := received()
	require.Len(t, reqs, 1)
	assert.Equal(t, Sign(reqs[0].body, "whsec_test"), reqs[0].signature)
	assert.True(t, strings.HasPrefix(reqs[0].signature, "sha256="))

	var env domain.Envelope
	require.NoError(t, json.Unmarshal(reqs[0].body, &env))
	assert.True(t, strings.HasPrefix(env.ID, "evt_"))
	assert.Equal(t, domain.EventThresholdReached, env.Type)
	assert.Equal(t, int64(10), env.Data.Count)
	assert.NotEmpty(t, reqs[0].timestamp)
}

func TestWebhookService_RetryExhaustion(t *testing.T) {
	srv, received := webhookServer(t, 500, 500, 500, 500, 500)
	sleeper := &sleepRecorder{}
	s, store := newTestWebhookService(t, WithSleeper(sleeper.sleep))
	ctx := context.Background()

	wh, err := s.Register(ctx, "proj_1", domain.WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	err = s.Deliver(ctx, wh, testEvent)
	require.Error(t, err)

	assert.Len(t, received(), 5, "initial attempt plus four retries")
	assert.Equal(t, DefaultRetrySchedule, sleeper.sleeps)
	assert.GreaterOrEqual(t, sleeper.total(), 96*time.Second)

	logs, err := store.DeliveryAttempts(ctx, wh.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 5)
	for _, l := range logs {
		assert.Equal(t, domain.DeliveryFailed, l.Status)
		assert.Equal(t, http.StatusInternalServerError, l.HTTPStatus)
		assert.Equal(t, logs[0].EventID, l.EventID, "event id is stable across retries")
	}
}

func TestWebhookService_RetrySucceedsAndWaitsBetweenAttempts(t *testing.T) {
	srv, received := webhookServer(t, 503, 502)
	schedule := []time.Duration{20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond}
	s, store := newTestWebhookService(t, WithRetrySchedule(schedule))
	ctx := context.Background()

	wh, err := s.Register(ctx, "proj_1", domain.WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Deliver(ctx, wh, testEvent))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	reqs := received()
	require.Len(t, reqs, 3)
	assert.Equal(t, string(reqs[0].body), string(reqs[2].body), "retries resend the same envelope")

	logs, err := s.GetDeliveryLogs(ctx, "proj_1", wh.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, domain.DeliverySuccess, logs[0].Status)
	assert.Equal(t, domain.DeliveryFailed, logs[1].Status)

	limited, err := store.DeliveryAttempts(ctx, wh.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestWebhookService_DeliverStopsOnCancel(t *testing.T) {
	srv, received := webhookServer(t, 500, 500, 500, 500, 500)
	s, _ := newTestWebhookService(t, WithRetrySchedule([]time.Duration{time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Deliver(ctx, domain.Webhook{ID: "wh_1", URL: srv.URL, Secret: "x"}, testEvent)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, received(), 1)
}

func TestWebhookService_SendFiltersAndIsolatesFailures(t *testing.T) {
	ok, okReceived := webhookServer(t)
	failing, _ := webhookServer(t, 500, 500, 500)
	var unsubscribedHits atomic.Int32
	unsubscribed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unsubscribedHits.Add(1)
	}))
	defer unsubscribed.Close()

	s, _ := newTestWebhookService(t,
		WithRetrySchedule([]time.Duration{time.Millisecond, time.Millisecond}))
	ctx := context.Background()

	good, err := s.Register(ctx, "proj_1", domain.WebhookConfig{URL: ok.URL})
	require.NoError(t, err)
	bad, err := s.Register(ctx, "proj_1", domain.WebhookConfig{URL: failing.URL})
	require.NoError(t, err)
	_, err = s.Register(ctx, "proj_1", domain.WebhookConfig{URL: unsubscribed.URL, Events: []string{domain.EventBurstDetected}})
	require.NoError(t, err)
	off, err := s.Register(ctx, "proj_1", domain.WebhookConfig{URL: unsubscribed.URL})
	require.NoError(t, err)
	disabled := false
	_, err = s.Update(ctx, "proj_1", off.ID, domain.WebhookUpdate{Enabled: &disabled})
	require.NoError(t, err)

	results, err := s.Send(ctx, "proj_1", testEvent)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]domain.DeliveryResult{}
	for _, r := range results {
		byID[r.WebhookID] = r
	}
	assert.True(t, byID[good.ID].Delivered)
	assert.False(t, byID[bad.ID].Delivered)
	assert.NotEmpty(t, byID[bad.ID].Error)
	assert.Len(t, okReceived(), 1)
	assert.Zero(t, unsubscribedHits.Load())
}

func TestSign(t *testing.T) {
	// echo -n '{"a":1}' | openssl dgst -sha256 -hmac secret
	assert.Equal(t,
		"sha256=aa9e2e3575f5d7098b6caccd790888c36d5fdb63342a73bada2d6a51747a8494",
		Sign([]byte(`{"a":1}`), "secret"))
	assert.NotEqual(t, Sign([]byte("x"), "a"), Sign([]byte("x"), "b"))
	assert.Equal(t, Sign([]byte("x"), "a"), Sign([]byte("x"), "a"))
	assert.Len(t, Sign([]byte("x"), "a"), len("sha256=")+64)
}
