package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/dukex/drip/pkg/web"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/jonboulle/clockwork"
)

type WorkerConfig struct {
	ResumeInterval    time.Duration
	DateSweepSchedule string
	// APIPort serves the HTTP API in-process when positive.
	APIPort int
	Clock   clockwork.Clock
}

// WorkerManager consumes domain events, resumes due executions and runs the daily date sweep.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *workflow.Engine
	triggers    *workflow.TriggerService
	poller      *scheduler.ResumePoller
	dateSweep   *scheduler.DateSweep
	server      *web.Server
	apiPort     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	engine *workflow.Engine,
	logger *slog.Logger,
	config WorkerConfig,
) (*WorkerManager, error) {
	logger = logger.With("module", "drip-worker", "worker_id", id)

	triggers := workflow.NewTriggerService(persistence, engine, logger)

	dateSweep, err := scheduler.NewDateSweep(triggers, config.DateSweepSchedule, logger)
	if err != nil {
		return nil, err
	}

	pollerOpts := []scheduler.PollerOption{scheduler.WithInterval(config.ResumeInterval)}
	if config.Clock != nil {
		pollerOpts = append(pollerOpts, scheduler.WithPollerClock(config.Clock))
	}

	w := &WorkerManager{
		id:          id,
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		engine:      engine,
		triggers:    triggers,
		poller:      scheduler.NewResumePoller(persistence.ExecutionRepository(), engine, logger, pollerOpts...),
		dateSweep:   dateSweep,
		apiPort:     config.APIPort,
	}

	if config.APIPort > 0 {
		w.server = web.NewServer(logger, persistence, engine, eventBus)
	}

	return w, nil
}

// Start subscribes to the event bus and launches the background loops. It returns once
// the worker is consuming.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	ctx, w.cancel = context.WithCancel(ctx)

	handlers := workflow.NewEventHandlers(w.persistence, w.triggers, w.engine, w.logger)

	if err := handlers.Register(w.eventBus); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		if err := w.poller.Run(ctx); err != nil {
			w.logger.ErrorContext(ctx, "Resume poller stopped", "error", err)
		}
	}()

	if err := w.dateSweep.Start(ctx); err != nil {
		return err
	}

	if w.server != nil {
		go func() {
			if err := w.server.Start(w.apiPort); err != nil {
				w.logger.ErrorContext(ctx, "API server stopped", "error", err)
			}
		}()
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Stop cancels the background loops and waits for them within ctx.
func (w *WorkerManager) Stop(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Shutting down worker...")

	if w.cancel != nil {
		w.cancel()
	}

	var errs []error

	if w.server != nil {
		errs = append(errs, w.server.Shutdown(ctx))
	}

	errs = append(errs, w.dateSweep.Stop(ctx))

	done := make(chan struct{})

	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	return errors.Join(errs...)
}
