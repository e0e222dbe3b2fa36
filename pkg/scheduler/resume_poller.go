// Package scheduler drives the time-based parts of drip: resuming executions whose delay
// elapsed and the daily date-based trigger sweep.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultResumeInterval = 30 * time.Second
	defaultBatchSize      = 500
)

// Resumer continues a waiting execution.
type Resumer interface {
	Resume(ctx context.Context, executionID string) (*models.Execution, error)
}

// ResumePoller periodically resumes every waiting execution that is due.
type ResumePoller struct {
	executions persistence.ExecutionRepository
	resumer    Resumer
	clock      clockwork.Clock
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
}

type PollerOption func(*ResumePoller)

func WithPollerClock(clock clockwork.Clock) PollerOption {
	return func(p *ResumePoller) { p.clock = clock }
}

func WithInterval(interval time.Duration) PollerOption {
	return func(p *ResumePoller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithBatchSize caps the executions resumed per poll.
func WithBatchSize(n int) PollerOption {
	return func(p *ResumePoller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func NewResumePoller(executions persistence.ExecutionRepository, resumer Resumer, logger *slog.Logger, opts ...PollerOption) *ResumePoller {
	p := &ResumePoller{
		executions: executions,
		resumer:    resumer,
		clock:      clockwork.NewRealClock(),
		interval:   DefaultResumeInterval,
		batchSize:  defaultBatchSize,
		logger:     logger.With("module", "resume_poller"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *ResumePoller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting resume poller", "interval", p.interval)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Resume poller stopped")

			return nil
		case <-ticker.Chan():
			p.Poll(ctx)
		}
	}
}

// Poll resumes the executions due now and returns how many it handed to the resumer.
// A failing execution is logged and does not stop the batch.
func (p *ResumePoller) Poll(ctx context.Context) int {
	now := p.clock.Now().UTC()

	due, err := p.executions.FindMany(ctx, persistence.ExecutionFilter{
		Statuses:        []models.ExecutionStatus{models.ExecutionStatusWaitingDelay},
		ResumeDueBefore: &now,
		Limit:           p.batchSize,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load due executions", "error", err)

		return 0
	}

	resumed := 0

	for _, execution := range due {
		if ctx.Err() != nil {
			break
		}

		if _, err := p.resumer.Resume(ctx, execution.ID); err != nil {
			p.logger.ErrorContext(ctx, "Failed to resume execution",
				"execution_id", execution.ID,
				"workflow_id", execution.WorkflowID,
				"error", err)

			continue
		}

		resumed++
	}

	if resumed > 0 {
		p.logger.InfoContext(ctx, "Resumed due executions", "count", resumed)
	}

	return resumed
}
