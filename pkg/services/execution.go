package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

const (
	defaultListLimit  = 100
	maxListLimit      = 1000
	manualCancelation = "cancelled by operator"
)

// ExecutionDriver is the engine surface used for manual intervention.
type ExecutionDriver interface {
	Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error)
	Resume(ctx context.Context, executionID string) (*models.Execution, error)
}

// ListExecutionsRequest filters the admin view of executions.
type ListExecutionsRequest struct {
	WorkflowID string
	ContactID  string
	Status     models.ExecutionStatus
	Limit      int
}

// Execution is the admin view over workflow executions.
type Execution struct {
	executions persistence.ExecutionRepository
	driver     ExecutionDriver
	clock      clockwork.Clock
	logger     *slog.Logger
}

func NewExecution(store persistence.Persistence, driver ExecutionDriver, clock clockwork.Clock, logger *slog.Logger) *Execution {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Execution{
		executions: store.ExecutionRepository(),
		driver:     driver,
		clock:      clock,
		logger:     logger.With("module", "execution_service"),
	}
}

// List returns executions oldest first.
func (s *Execution) List(ctx context.Context, req ListExecutionsRequest) ([]*models.Execution, error) {
	filter := persistence.ExecutionFilter{
		WorkflowID: req.WorkflowID,
		ContactID:  req.ContactID,
		Limit:      req.Limit,
	}

	if req.Status != "" {
		if !isExecutionStatus(req.Status) {
			return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", req.Status), ErrInvalidStatus)
		}

		filter.Statuses = []models.ExecutionStatus{req.Status}
	}

	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	executions, err := s.executions.FindMany(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

func (s *Execution) FetchByID(ctx context.Context, id string) (*models.Execution, error) {
	return s.executions.GetByID(ctx, id)
}

// Cancel stops an in-flight execution. Reason defaults to an operator cancellation.
func (s *Execution) Cancel(ctx context.Context, id, reason string) (*models.Execution, error) {
	execution, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrExecutionTerminal, id, execution.Status)
	}

	if reason == "" {
		reason = manualCancelation
	}

	cancelled, err := s.driver.Cancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Execution cancelled by request", "execution_id", id, "reason", reason)

	return cancelled, nil
}

// Resume continues a waiting execution whose delay has elapsed.
func (s *Execution) Resume(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusWaitingDelay {
		return nil, fmt.Errorf("%w: %s is %s", ErrExecutionNotWaiting, id, execution.Status)
	}

	if !execution.IsDue(s.clock.Now()) {
		return nil, fmt.Errorf("%w: %s resumes at %s", ErrExecutionNotDue, id, execution.ResumeAt)
	}

	return s.driver.Resume(ctx, id)
}

func isExecutionStatus(status models.ExecutionStatus) bool {
	return slices.Contains([]models.ExecutionStatus{
		models.ExecutionStatusRunning,
		models.ExecutionStatusWaitingDelay,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled,
	}, status)
}
