package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
	"github.com/JeanGrijp/throttle-io/internal/core/ports"
)

const DefaultDrainInterval = 5 * time.Second

type eventDrainer interface {
	DrainEvents(ctx context.Context) ([]domain.ThresholdEvent, error)
}

type eventSender interface {
	Send(ctx context.Context, projectID string, event domain.ThresholdEvent) ([]domain.DeliveryResult, error)
}

// Dispatcher drena periodicamente a fila de eventos e entrega cada evento aos
// webhooks de todos os projetos.
//
// Cada lote drenado roda na sua própria goroutine: uma cadeia de retries pode
// levar mais de um minuto e não pode atrasar a próxima drenagem.
type Dispatcher struct {
	events   eventDrainer
	projects ports.ProjectRepository
	sender   eventSender
	interval time.Duration
	logger   *slog.Logger

	inflight sync.WaitGroup
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func NewDispatcher(events eventDrainer, projects ports.ProjectRepository, sender eventSender, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		events:   events,
		projects: projects,
		sender:   sender,
		interval: interval,
		logger:   logger,
	}
}

// Start inicia o loop de drenagem, que termina com o cancelamento de ctx ou Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.loopDone = make(chan struct{})

	go func() {
		defer close(d.loopDone)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Tick(ctx); err != nil {
					d.logger.Error("webhook dispatch failed", "error", err)
				}
			}
		}
	}()
}

// Stop encerra o loop e espera os lotes já despachados. Esperas de retry
// pendentes são interrompidas.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.loopDone
	d.inflight.Wait()
}

// Tick drena a fila uma vez e despacha o lote em segundo plano.
func (d *Dispatcher) Tick(ctx context.Context) error {
	events, err := d.events.DrainEvents(ctx)
	if err != nil {
		if len(events) == 0 {
			return fmt.Errorf("drain events: %w", err)
		}
		// Os eventos já saíram da fila; os que vieram junto com o erro seguem.
		d.logger.Warn("partial drain, dispatching decoded events", "count", len(events), "error", err)
	}
	if len(events) == 0 {
		return nil
	}

	projects, err := d.projects.ListProjects(ctx)
	if err != nil {
		// O lote já saiu da fila e se perde com este erro.
		d.logger.Error("dropping drained events", "count", len(events), "error", err)
		return fmt.Errorf("list projects: %w", err)
	}

	d.logger.Debug("dispatching threshold events", "events", len(events), "projects", len(projects))

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.dispatch(ctx, projects, events)
	}()
	return nil
}

// Wait bloqueia até todos os lotes despachados terminarem.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, projects []domain.Project, events []domain.ThresholdEvent) {
	for _, ev := range events {
		for _, p := range projects {
			results, err := d.sender.Send(ctx, p.ID, ev)
			if err != nil {
				d.logger.Error("webhook send failed", "project_id", p.ID, "error", err)
				continue
			}
			for _, r := range results {
				if !r.Delivered {
					d.logger.Warn("webhook delivery exhausted",
						"project_id", p.ID, "webhook_id", r.WebhookID, "error", r.Error)
				}
			}
		}
	}
}
