package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// FailReasonStoreUnavailable marca uma decisão negada porque o store
// compartilhado não respondeu. A admissão falha fechada.
const FailReasonStoreUnavailable = "store_unavailable"

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderPolicy    = "X-RateLimit-Policy"
)

// LayerResult é o CheckResult de uma camada efetivamente avaliada.
type LayerResult struct {
	CheckResult
	Layer      Layer  `json:"layer"`
	Identifier string `json:"identifier"`
}

// AdmissionDecision agrega os resultados por camada de uma requisição.
type AdmissionDecision struct {
	Allowed    bool          `json:"allowed"`
	BlockedBy  Layer         `json:"blockedBy,omitempty"`
	Remaining  int64         `json:"remaining"`
	ResetAt    time.Time     `json:"resetAt"`
	Layers     []LayerResult `json:"layers"`
	FailReason string        `json:"failReason,omitempty"`
}

// NewAdmissionDecision monta o agregado das camadas avaliadas até aqui.
// Remaining e ResetAt são o mínimo entre as camadas.
func NewAdmissionDecision(layers []LayerResult, blockedBy Layer) AdmissionDecision {
	d := AdmissionDecision{
		Allowed:   blockedBy == "",
		BlockedBy: blockedBy,
		Layers:    layers,
	}
	for i, l := range layers {
		if i == 0 || l.Remaining < d.Remaining {
			d.Remaining = l.Remaining
		}
		if i == 0 || l.ResetAt.Before(d.ResetAt) {
			d.ResetAt = l.ResetAt
		}
	}
	return d
}

// Headers monta os headers de rate limit. O limite informado é o da camada
// mais apertada. Sem camadas avaliadas, não há headers.
func (d AdmissionDecision) Headers() map[string]string {
	if len(d.Layers) == 0 {
		return map[string]string{}
	}

	tightest := d.Layers[0]
	policies := make([]string, 0, len(d.Layers))
	for _, l := range d.Layers {
		if l.Remaining < tightest.Remaining {
			tightest = l
		}
		policies = append(policies, string(l.Algorithm))
	}

	reset := int64(math.Ceil(float64(d.ResetAt.UnixMilli()) / 1000))

	return map[string]string{
		HeaderLimit:     strconv.FormatInt(tightest.Limit, 10),
		HeaderRemaining: strconv.FormatInt(d.Remaining, 10),
		HeaderReset:     strconv.FormatInt(reset, 10),
		HeaderPolicy:    strings.Join(policies, ","),
	}
}
