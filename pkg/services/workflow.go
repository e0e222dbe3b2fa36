package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	cancelReasonArchived = "workflow archived"
	cancelReasonDeleted  = "workflow deleted"
)

// ExecutionCanceller stops the in-flight executions of a workflow.
type ExecutionCanceller interface {
	CancelByWorkflow(ctx context.Context, workflowID, reason string) (int, error)
}

// Workflow manages workflow definitions and their lifecycle:
// draft -> active <-> paused -> archived.
type Workflow struct {
	persistence persistence.Persistence
	workflows   persistence.WorkflowRepository
	canceller   ExecutionCanceller
	validate    *validator.Validate
	clock       clockwork.Clock
	logger      *slog.Logger
}

type WorkflowOption func(*Workflow)

func WithWorkflowClock(clock clockwork.Clock) WorkflowOption {
	return func(w *Workflow) { w.clock = clock }
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(store persistence.Persistence, canceller ExecutionCanceller, logger *slog.Logger, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		persistence: store,
		workflows:   store.WorkflowRepository(),
		canceller:   canceller,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clockwork.NewRealClock(),
		logger:      logger.With("module", "workflow_service"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns workflows, optionally restricted to one status.
func (w *Workflow) List(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	if status != "" && !isWorkflowStatus(status) {
		return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("invalid status '%s'", status), ErrInvalidStatus)
	}

	workflows, err := w.workflows.FindMany(ctx, persistence.WorkflowFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.workflows.GetByID(ctx, id)
}

// Create stores a new draft workflow with a generated ID.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow ID: %w", err)
	}

	now := w.clock.Now().UTC()
	workflow.ID = id.String()
	workflow.Status = models.WorkflowStatusDraft
	workflow.Version = 1
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := ValidateDefinition(w.validate, workflow); err != nil {
		return nil, err
	}

	if err := w.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "name", workflow.Name)

	return workflow, nil
}

// Update replaces the definition of a workflow, keeping its status and bumping its version.
// Active workflows must stay valid; running executions keep the steps they started with.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.WorkflowStatusArchived {
		return nil, ErrWorkflowArchived
	}

	workflow.ID = workflowID
	workflow.Status = existing.Status
	workflow.Version = existing.Version + 1
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = w.clock.Now().UTC()

	validate := ValidateDefinition
	if existing.IsActive() {
		validate = ValidateForActivation
	}

	if err := validate(w.validate, workflow); err != nil {
		return nil, err
	}

	if err := w.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", workflow.ID, "version", workflow.Version)

	return workflow, nil
}

// Import creates or replaces a workflow under the caller's ID, keeping the requested status.
// Definitions imported as active must pass full validation.
func (w *Workflow) Import(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if workflow.ID == "" {
		return nil, NewValidationError("Import", "ID_REQUIRED", "workflow id is required", ErrInvalidRequest)
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	now := w.clock.Now().UTC()

	existing, err := w.workflows.GetByID(ctx, workflow.ID)

	switch {
	case err == nil:
		if existing.Status == models.WorkflowStatusArchived {
			return nil, ErrWorkflowArchived
		}

		workflow.Version = existing.Version + 1
		workflow.CreatedAt = existing.CreatedAt
	case persistence.IsWorkflowNotFound(err):
		workflow.Version = 1
		workflow.CreatedAt = now
	default:
		return nil, err
	}

	workflow.UpdatedAt = now

	validate := ValidateDefinition
	if workflow.IsActive() {
		validate = ValidateForActivation
	}

	if err := validate(w.validate, workflow); err != nil {
		return nil, err
	}

	if err := w.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to import workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow imported",
		"workflow_id", workflow.ID,
		"status", workflow.Status,
		"version", workflow.Version)

	return workflow, nil
}

// Activate validates the workflow graph and makes the workflow eligible for triggering.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch workflow.Status {
	case models.WorkflowStatusActive:
		return workflow, nil
	case models.WorkflowStatusArchived:
		return nil, fmt.Errorf("%w: cannot activate archived workflow %s", ErrInvalidTransition, workflowID)
	}

	if err := ValidateForActivation(w.validate, workflow); err != nil {
		return nil, err
	}

	return w.transition(ctx, workflow, models.WorkflowStatusActive)
}

// Pause stops new executions from starting; in-flight executions continue.
func (w *Workflow) Pause(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch workflow.Status {
	case models.WorkflowStatusPaused:
		return workflow, nil
	case models.WorkflowStatusActive:
		return w.transition(ctx, workflow, models.WorkflowStatusPaused)
	default:
		return nil, fmt.Errorf("%w: cannot pause %s workflow %s", ErrInvalidTransition, workflow.Status, workflowID)
	}
}

// Archive retires the workflow and cancels its in-flight executions.
func (w *Workflow) Archive(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusArchived {
		workflow, err = w.transition(ctx, workflow, models.WorkflowStatusArchived)
		if err != nil {
			return nil, err
		}
	}

	w.cancelExecutions(ctx, workflowID, cancelReasonArchived)

	return workflow, nil
}

// Delete removes a workflow and cancels its in-flight executions.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if _, err := w.workflows.GetByID(ctx, workflowID); err != nil {
		return err
	}

	if err := w.workflows.Delete(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.cancelExecutions(ctx, workflowID, cancelReasonDeleted)

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)

	return nil
}

func (w *Workflow) transition(ctx context.Context, workflow *models.Workflow, status models.WorkflowStatus) (*models.Workflow, error) {
	previous := workflow.Status
	workflow.Status = status
	workflow.UpdatedAt = w.clock.Now().UTC()

	if err := w.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow status changed",
		"workflow_id", workflow.ID,
		"from", previous,
		"to", status)

	return workflow, nil
}

// cancelExecutions is best effort: executions left behind are cancelled when they resume.
func (w *Workflow) cancelExecutions(ctx context.Context, workflowID, reason string) {
	if w.canceller == nil {
		return
	}

	cancelled, err := w.canceller.CancelByWorkflow(ctx, workflowID, reason)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to cancel workflow executions", "workflow_id", workflowID, "error", err)
	}

	if cancelled > 0 {
		w.logger.InfoContext(ctx, "Cancelled workflow executions", "workflow_id", workflowID, "count", cancelled, "reason", reason)
	}
}

func isWorkflowStatus(status models.WorkflowStatus) bool {
	return slices.Contains([]models.WorkflowStatus{
		models.WorkflowStatusDraft,
		models.WorkflowStatusActive,
		models.WorkflowStatusPaused,
		models.WorkflowStatusArchived,
	}, status)
}
