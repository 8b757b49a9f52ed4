package domain

import "time"

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// WebhookThresholds é armazenado com o webhook e devolvido ao cliente.
type WebhookThresholds struct {
	Violations int64 `json:"violations"`
	Burst      int64 `json:"burst"`
}

type Webhook struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"projectId"`
	URL        string            `json:"url"`
	Secret     string            `json:"secret"`
	Events     []string          `json:"events"`
	Thresholds WebhookThresholds `json:"thresholds"`
	Enabled    bool              `json:"enabled"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt,omitempty"`
}

// Subscribed informa se o webhook quer eventos do tipo informado.
func (w Webhook) Subscribed(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookConfig são os campos aceitos no registro de um webhook.
type WebhookConfig struct {
	URL        string             `json:"url"`
	Secret     string             `json:"secret,omitempty"`
	Events     []string           `json:"events,omitempty"`
	Thresholds *WebhookThresholds `json:"thresholds,omitempty"`
}

// WebhookUpdate é uma atualização parcial; campos nil não são alterados.
type WebhookUpdate struct {
	URL        *string            `json:"url,omitempty"`
	Secret     *string            `json:"secret,omitempty"`
	Events     []string           `json:"events,omitempty"`
	Thresholds *WebhookThresholds `json:"thresholds,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
}

type DeliveryAttempt struct {
	WebhookID  string         `json:"webhookId"`
	EventID    string         `json:"eventId"`
	Status     DeliveryStatus `json:"status"`
	HTTPStatus int            `json:"httpStatus"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Envelope é o corpo JSON enviado ao endpoint externo. Timestamp em ms.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      ThresholdEvent `json:"data"`
}

// DeliveryResult resume o desfecho final de um webhook em um Send.
type DeliveryResult struct {
	WebhookID string `json:"webhookId"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}
