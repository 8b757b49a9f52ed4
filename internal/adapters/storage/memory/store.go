// Package memory implementa as portas de armazenamento em memória, para um
// único processo e para testes. Cada operação roda sob um mutex, o que a torna
// atômica da mesma forma que os scripts Lua do adapter Redis.
package memory

import (
	"sync"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/algorithms"
	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

const (
	violationLogSize = 100
	violationTTL     = 24 * time.Hour
	deliveryLogSize  = 100
	deliveryLogTTL   = 7 * 24 * time.Hour
	usageTTL         = 30 * 24 * time.Hour

	// sweepEvery é o número de verificações entre limpezas de entradas expiradas.
	sweepEvery = 1024
)

type counter struct {
	value     int64
	expiresAt time.Time
}

type slidingEntry struct {
	state     algorithms.SlidingWindowState
	expiresAt time.Time
}

type bucketEntry struct {
	state     algorithms.BucketState
	expiresAt time.Time
}

type violationLog struct {
	items     []domain.Violation // mais novo primeiro
	expiresAt time.Time
}

type deliveryLog struct {
	items     []domain.DeliveryAttempt // mais novo primeiro
	expiresAt time.Time
}

type usageEntry struct {
	hours     map[int64]int
	expiresAt time.Time
}

// Store satisfaz todas as portas de armazenamento.
type Store struct {
	mu    sync.Mutex
	clock func() time.Time
	ops   int

	fixed   map[string]counter
	sliding map[string]slidingEntry
	buckets map[string]bucketEntry

	violations      map[string]violationLog
	violationCounts map[violatorKey]int64
	queue           []domain.ThresholdEvent

	webhooks     map[string]map[string]domain.Webhook
	deliveryLogs map[string]deliveryLog

	projects map[string]domain.Project
	apiKeys  map[string]string
	usage    map[string]usageEntry
}

type violatorKey struct {
	layer      domain.Layer
	identifier string
}

var (
	_ ports.LimitStore        = (*Store)(nil)
	_ ports.ViolationStore    = (*Store)(nil)
	_ ports.EventQueue        = (*Store)(nil)
	_ ports.WebhookStore      = (*Store)(nil)
	_ ports.ProjectRepository = (*Store)(nil)
	_ ports.UsageStore        = (*Store)(nil)
)

type Option func(*Store)

// WithClock define o relógio das expirações que não dependem do now de uma verificação.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:           time.Now,
		fixed:           make(map[string]counter),
		sliding:         make(map[string]slidingEntry),
		buckets:         make(map[string]bucketEntry),
		violations:      make(map[string]violationLog),
		violationCounts: make(map[violatorKey]int64),
		webhooks:        make(map[string]map[string]domain.Webhook),
		deliveryLogs:    make(map[string]deliveryLog),
		projects:        make(map[string]domain.Project),
		apiKeys:         make(map[string]string),
		usage:           make(map[string]usageEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sweepLocked descarta estado expirado a cada sweepEvery verificações.
func (s *Store) sweepLocked(now time.Time) {
	s.ops++
	if s.ops%sweepEvery != 0 {
		return
	}
	for k, c := range s.fixed {
		if !now.Before(c.expiresAt) {
			delete(s.fixed, k)
		}
	}
	for k, e := range s.sliding {
		if !now.Before(e.expiresAt) {
			delete(s.sliding, k)
		}
	}
	for k, e := range s.buckets {
		if !now.Before(e.expiresAt) {
			delete(s.buckets, k)
		}
	}
}
