// Package domain concentra entidades e estruturas centrais do rate limiter.
package domain

import (
	"fmt"
	"time"
)

// Algorithm identifica a estratégia de limitação aplicada a uma camada.
type Algorithm string

const (
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
	TokenBucket   Algorithm = "token_bucket"
)

// Valid informa se a é um dos algoritmos suportados.
func (a Algorithm) Valid() bool {
	switch a {
	case FixedWindow, SlidingWindow, TokenBucket:
		return true
	}
	return false
}

// Layer é uma dimensão de identidade avaliada de forma independente.
type Layer string

const (
	LayerIP       Layer = "ip"
	LayerAPIKey   Layer = "apiKey"
	LayerUser     Layer = "user"
	LayerEndpoint Layer = "endpoint"
)

// LayerOrder é a ordem fixa de avaliação do coordenador.
var LayerOrder = []Layer{LayerIP, LayerAPIKey, LayerUser, LayerEndpoint}

func (l Layer) Valid() bool {
	switch l {
	case LayerIP, LayerAPIKey, LayerUser, LayerEndpoint:
		return true
	}
	return false
}

// UnknownCountry é usado quando a consulta geográfica falha ou não há IP.
const UnknownCountry = "UNKNOWN"

// Rule configura uma camada. Window é expresso em milissegundos no JSON/YAML.
type Rule struct {
	Algorithm      Algorithm              `json:"algorithm" yaml:"algorithm"`
	Limit          int64                  `json:"limit,omitempty" yaml:"limit,omitempty"`
	Capacity       int64                  `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	WindowMs       int64                  `json:"window" yaml:"window"`
	RefillRate     float64                `json:"refillRate,omitempty" yaml:"refillRate,omitempty"`
	BurstAllowance int64                  `json:"burstAllowance,omitempty" yaml:"burstAllowance,omitempty"`
	GeoRules       map[string]GeoOverride `json:"geoRules,omitempty" yaml:"geoRules,omitempty"`
}

// GeoOverride é uma sobrescrita parcial de Rule; apenas campos definidos vencem.
type GeoOverride struct {
	Algorithm      *Algorithm `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Limit          *int64     `json:"limit,omitempty" yaml:"limit,omitempty"`
	Capacity       *int64     `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	WindowMs       *int64     `json:"window,omitempty" yaml:"window,omitempty"`
	RefillRate     *float64   `json:"refillRate,omitempty" yaml:"refillRate,omitempty"`
	BurstAllowance *int64     `json:"burstAllowance,omitempty" yaml:"burstAllowance,omitempty"`
}

// Window devolve a janela da regra como time.Duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// ForCountry devolve a regra com a sobrescrita de country mesclada campo a
// campo. A regra base nunca é alterada.
func (r Rule) ForCountry(country string) Rule {
	o, ok := r.GeoRules[country]
	if !ok {
		return r
	}
	merged := r
	if o.Algorithm != nil {
		merged.Algorithm = *o.Algorithm
	}
	if o.Limit != nil {
		merged.Limit = *o.Limit
	}
	if o.Capacity != nil {
		merged.Capacity = *o.Capacity
	}
	if o.WindowMs != nil {
		merged.WindowMs = *o.WindowMs
	}
	if o.RefillRate != nil {
		merged.RefillRate = *o.RefillRate
	}
	if o.BurstAllowance != nil {
		merged.BurstAllowance = *o.BurstAllowance
	}
	return merged
}

// Params resolve a regra nos parâmetros concretos de um algoritmo. Algoritmo
// vazio vira fixed_window.
func (r Rule) Params() (LimitParams, error) {
	algorithm := r.Algorithm
	if algorithm == "" {
		algorithm = FixedWindow
	}
	if !algorithm.Valid() {
		return LimitParams{}, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidRule, r.Algorithm)
	}
	if r.WindowMs <= 0 {
		return LimitParams{}, fmt.Errorf("%w: window must be positive", ErrInvalidRule)
	}
	if r.BurstAllowance < 0 {
		return LimitParams{}, fmt.Errorf("%w: burstAllowance must not be negative", ErrInvalidRule)
	}

	effective := r.Limit + r.BurstAllowance
	p := LimitParams{
		Algorithm: algorithm,
		Limit:     effective,
		Window:    r.Window(),
		Cost:      1,
	}

	if algorithm != TokenBucket {
		if r.Limit <= 0 {
			return LimitParams{}, fmt.Errorf("%w: limit must be positive", ErrInvalidRule)
		}
		return p, nil
	}

	p.Capacity = r.Capacity
	if p.Capacity <= 0 {
		p.Capacity = effective
	}
	p.RefillRate = r.RefillRate
	if p.RefillRate <= 0 {
		p.RefillRate = float64(effective) / p.Window.Seconds()
	}
	if p.Capacity <= 0 || p.RefillRate <= 0 {
		return LimitParams{}, fmt.Errorf("%w: token bucket needs capacity and refill rate", ErrInvalidRule)
	}
	return p, nil
}

// RuleSet mapeia camada para regra. É tratado como snapshot imutável.
type RuleSet map[Layer]Rule

// Validate rejeita camadas desconhecidas e regras ou sobrescritas geográficas
// que seriam ignoradas na verificação.
func (rs RuleSet) Validate() error {
	for layer, rule := range rs {
		if !layer.Valid() {
			return NewValidationError("rules", fmt.Sprintf("unknown layer %q", layer))
		}
		if _, err := rule.Params(); err != nil {
			return NewValidationError("rules."+string(layer), err.Error())
		}
		for country := range rule.GeoRules {
			if _, err := rule.ForCountry(country).Params(); err != nil {
				return NewValidationError("rules."+string(layer)+".geoRules."+country, err.Error())
			}
		}
	}
	return nil
}

// LimitParams são os parâmetros efetivos entregues ao motor de algoritmos.
type LimitParams struct {
	Algorithm  Algorithm
	Limit      int64
	Capacity   int64
	RefillRate float64
	Window     time.Duration
	Cost       float64
}

// MaxLimit é o teto de quota informado aos clientes.
func (p LimitParams) MaxLimit() int64 {
	if p.Algorithm == TokenBucket {
		return p.Capacity
	}
	return p.Limit
}

// CheckResult é o resultado imutável de uma avaliação de algoritmo.
//
// Para token_bucket, ResetAt é o instante em que o bucket estará cheio, não o
// instante do próximo token disponível. Clientes que usam ResetAt como
// back-off esperam mais do que o estritamente necessário.
type CheckResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	Limit     int64     `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
	Algorithm Algorithm `json:"algorithm"`
}

// AdmissionRequest carrega os identificadores de uma requisição.
type AdmissionRequest struct {
	IP       string `json:"ip,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}
