package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultDateSweepSchedule runs the sweep once a day shortly after midnight UTC.
const DefaultDateSweepSchedule = "5 0 * * *"

var ErrSweepRunning = errors.New("date sweep already started")

// DateTriggers runs the date-based trigger sweep.
type DateTriggers interface {
	RunDateBasedTriggers(ctx context.Context)
}

// DateSweep runs RunDateBasedTriggers on a cron schedule evaluated in UTC.
type DateSweep struct {
	triggers DateTriggers
	schedule string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func NewDateSweep(triggers DateTriggers, schedule string, logger *slog.Logger) (*DateSweep, error) {
	if schedule == "" {
		schedule = DefaultDateSweepSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid date sweep schedule %q: %w", schedule, err)
	}

	return &DateSweep{
		triggers: triggers,
		schedule: schedule,
		logger:   logger.With("module", "date_sweep", "schedule", schedule),
	}, nil
}

// Start schedules the sweep. Runs use ctx until Stop is called.
func (d *DateSweep) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron != nil {
		return ErrSweepRunning
	}

	logger := cronLogger{logger: d.logger}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)

	if _, err := c.AddFunc(d.schedule, func() { d.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule date sweep: %w", err)
	}

	c.Start()
	d.cron = c

	d.logger.InfoContext(ctx, "Date sweep scheduled")

	return nil
}

// RunOnce performs one sweep immediately.
func (d *DateSweep) RunOnce(ctx context.Context) {
	started := time.Now()

	d.triggers.RunDateBasedTriggers(ctx)

	d.logger.DebugContext(ctx, "Date sweep run finished", "duration", time.Since(started))
}

// Stop stops scheduling and waits for a running sweep, or for ctx to end.
func (d *DateSweep) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		d.logger.Info("Date sweep stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
