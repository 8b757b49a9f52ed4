package domain

import "time"

// EventThresholdReached é o único tipo de evento emitido pelo detector.
const EventThresholdReached = "threshold_reached"

// EventBurstDetected é aceito em inscrições mas ainda não é emitido.
const EventBurstDetected = "burst_detected"

// AlertThresholds são comparados por igualdade exata com o contador cumulativo.
var AlertThresholds = []int64{10, 50, 100, 500, 1000}

// IsAlertThreshold informa se count é um dos AlertThresholds.
func IsAlertThreshold(count int64) bool {
	for _, t := range AlertThresholds {
		if t == count {
			return true
		}
	}
	return false
}

type Violation struct {
	Layer      Layer       `json:"layer"`
	Identifier string      `json:"identifier"`
	Endpoint   string      `json:"endpoint"`
	Timestamp  time.Time   `json:"timestamp"`
	Result     CheckResult `json:"result"`
}

type ThresholdEvent struct {
	Type       string    `json:"type"`
	Layer      Layer     `json:"layer"`
	Identifier string    `json:"identifier"`
	Count      int64     `json:"count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Violator é uma entrada do ranking de contadores cumulativos.
type Violator struct {
	Layer      Layer  `json:"layer"`
	Identifier string `json:"identifier"`
	Count      int64  `json:"count"`
}

type TimeBucket struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// Analytics resume as violações recentes de um identificador.
type Analytics struct {
	Total      int            `json:"total"`
	ByEndpoint map[string]int `json:"byEndpoint"`
	TimeSeries []TimeBucket   `json:"timeSeries"`
}
