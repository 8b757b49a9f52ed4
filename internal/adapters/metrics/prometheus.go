// Package metrics expõe as métricas do serviço no formato Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

const namespace = "throttle"

type Prometheus struct {
	registry *prometheus.Registry

	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	violations  *prometheus.CounterVec
	thresholds  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

var _ ports.Metrics = (*Prometheus)(nil)

// New registra todos os coletores em um registry próprio, junto com os
// coletores do runtime Go e do processo.
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Layer checks by layer and outcome.",
		}, []string{"layer", "outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed calls to the shared state store.",
		}, []string{"op"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Recorded violations by layer.",
		}, []string{"layer"}),
		thresholds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_events_total",
			Help:      "Threshold events enqueued by layer.",
		}, []string{"layer"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by status.",
		}, []string{"status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(
		m.decisions, m.storeErrors, m.violations, m.thresholds, m.deliveries, m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) ObserveDecision(layer domain.Layer, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisions.WithLabelValues(string(layer), outcome).Inc()
}

func (m *Prometheus) ObserveStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Prometheus) IncViolation(layer domain.Layer) {
	m.violations.WithLabelValues(string(layer)).Inc()
}

func (m *Prometheus) IncThresholdEvent(layer domain.Layer) {
	m.thresholds.WithLabelValues(string(layer)).Inc()
}

func (m *Prometheus) ObserveDelivery(status domain.DeliveryStatus) {
	m.deliveries.WithLabelValues(string(status)).Inc()
}

// Handler serve o registry para coleta.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware mede a latência das requisições com o padrão de rota do chi como
// label, o que mantém parâmetros de path fora das labels.
func (m *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpLatency.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
