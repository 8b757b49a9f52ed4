package ports

import (
	"context"
	"net/http"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

// GeoResolver devolve o código de país de um IP.
type GeoResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Metrics é implementado pelo adapter Prometheus e por NoopMetrics.
type Metrics interface {
	ObserveDecision(layer domain.Layer, allowed bool)
	ObserveStoreError(op string)
	IncViolation(layer domain.Layer)
	IncThresholdEvent(layer domain.Layer)
	ObserveDelivery(status domain.DeliveryStatus)
}

// NoopMetrics evita checagens de nil no caminho de cada requisição.
type NoopMetrics struct{}

func (NoopMetrics) ObserveDecision(domain.Layer, bool) {}
func (NoopMetrics) ObserveStoreError(string) {}
func (NoopMetrics) IncViolation(domain.Layer) {}
func (NoopMetrics) IncThresholdEvent(domain.Layer) {}
func (NoopMetrics) ObserveDelivery(domain.DeliveryStatus) {}
