package domain

import "time"

type APIKey struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project é o dono de um RuleSet e de zero ou mais webhooks.
type Project struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Plan      string            `json:"plan"`
	Rules     RuleSet           `json:"rules"`
	Keys      map[string]APIKey `json:"keys"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

// DefaultRules devolve as regras dadas a projetos criados sem regras.
func DefaultRules() RuleSet {
	return RuleSet{
		LayerIP: {
			Algorithm:      SlidingWindow,
			Limit:          100,
			WindowMs:       60000,
			BurstAllowance: 20,
		},
		LayerAPIKey: {
			Algorithm:  TokenBucket,
			Capacity:   1000,
			RefillRate: 16.67,
			WindowMs:   60000,
		},
		LayerUser: {
			Algorithm:      SlidingWindow,
			Limit:          500,
			WindowMs:       60000,
			BurstAllowance: 50,
		},
	}
}
