// Package workflow runs marketing workflows against contacts: trigger matching, the
// execution state machine and the entry points domain events call into.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxSteps      = 100
	maxCancelAttempts    = 5
	cancelReasonArchived = "workflow archived"
	cancelReasonDeleted  = "workflow deleted"
	cancelReasonContact  = "contact deleted"
)

var (
	ErrWorkflowNotActive = errors.New("workflow is not active")
	ErrWorkflowNoSteps   = errors.New("workflow has no steps")
	ErrStepNotFound      = errors.New("step not found")
	ErrStepBudget        = errors.New("step budget exceeded")
)

// Trigger is the event that started an execution.
type Trigger struct {
	Type models.TriggerType
	Data map[string]any
}

// Engine drives executions. Every persisted transition is version checked, so an engine
// that loses a race to another writer stops driving that execution.
type Engine struct {
	workflows  persistence.WorkflowRepository
	contacts   persistence.ContactRepository
	executions persistence.ExecutionRepository
	dispatcher dispatcher.Dispatcher
	publisher  eventbus.EventPublisher
	clock      clockwork.Clock
	tracer     trace.Tracer
	maxSteps   int
	logger     *slog.Logger
}

type EngineOption func(*Engine)

func WithClock(clock clockwork.Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithPublisher enables execution lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) EngineOption {
	return func(e *Engine) { e.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

// WithMaxSteps bounds the steps run by a single Start or Resume.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func NewEngine(store persistence.Persistence, d dispatcher.Dispatcher, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		workflows:  store.WorkflowRepository(),
		contacts:   store.ContactRepository(),
		executions: store.ExecutionRepository(),
		dispatcher: d,
		clock:      clockwork.NewRealClock(),
		tracer:     otel.Tracer("drip/workflow"),
		maxSteps:   defaultMaxSteps,
		logger:     logger.With("module", "workflow_engine"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start creates an execution of workflow for contact and steps it until it suspends or
// ends. It returns nil without error when the contact already has a non-terminal
// execution of the workflow. Step failures are recorded on the returned execution.
func (e *Engine) Start(ctx context.Context, workflow *models.Workflow, contact *models.Contact, trigger Trigger) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.start",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ContactIDKey, contact.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(trigger.Type)),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", workflow.ID, "contact_id", contact.ID)

	if !workflow.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowNotActive, workflow.ID, workflow.Status)
	}

	entry := workflow.EntryStep()
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNoSteps, workflow.ID)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	now := e.clock.Now().UTC()

	execution := &models.Execution{
		ID:              id.String(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		ContactID:       contact.ID,
		CurrentStepID:   entry.ID,
		Status:          models.ExecutionStatusRunning,
		Steps:           workflow.Steps,
		Context:         newContext(workflow, contact, trigger),
		StartedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.executions.Create(ctx, execution); err != nil {
		if persistence.IsActiveExecutionExists(err) {
			logger.DebugContext(ctx, "Execution already in progress, skipping start")

			return nil, nil
		}

		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))
	logger.InfoContext(ctx, "Execution started", "execution_id", execution.ID)

	e.publish(ctx, execution, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		ContactID:   contact.ID,
		TriggerType: trigger.Type,
	})

	e.drive(ctx, execution)

	return execution, nil
}

// Resume continues a waiting execution whose delay has elapsed. Executions that are not
// waiting, or not yet due, are returned unchanged.
func (e *Engine) Resume(ctx context.Context, executionID string) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.resume",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	logger := e.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID)

	if execution.Status != models.ExecutionStatusWaitingDelay {
		logger.DebugContext(ctx, "Execution is not waiting, ignoring resume", "status", execution.Status)

		return execution, nil
	}

	now := e.clock.Now()
	if !execution.IsDue(now) {
		logger.DebugContext(ctx, "Execution is not due yet", "resume_at", execution.ResumeAt)

		return execution, nil
	}

	workflow, err := e.workflows.GetByID(ctx, execution.WorkflowID)

	switch {
	case persistence.IsWorkflowNotFound(err):
		return e.cancelExecution(ctx, execution, cancelReasonDeleted)
	case err != nil:
		otelhelper.SetError(span, err)

		return nil, err
	case workflow.Status == models.WorkflowStatusArchived:
		return e.cancelExecution(ctx, execution, cancelReasonArchived)
	}

	delayStep, ok := execution.CurrentStep()
	if !ok {
		e.fail(ctx, execution, fmt.Errorf("%w: %q", ErrStepNotFound, execution.CurrentStepID))

		return execution, nil
	}

	claim := execution.Clone()
	claim.Status = models.ExecutionStatusRunning
	claim.ResumeAt = nil
	claim.CurrentStepID = delayStep.Next

	if delayStep.Next == "" {
		e.markCompleted(claim)
	}

	if e.persist(ctx, claim) != nil {
		return e.executions.GetByID(ctx, executionID)
	}

	logger.InfoContext(ctx, "Execution resumed", "step_id", delayStep.ID)

	e.publish(ctx, claim, events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, claim.WorkflowID),
		ExecutionID: claim.ID,
		ContactID:   claim.ContactID,
		StepID:      delayStep.ID,
	})

	if claim.Status == models.ExecutionStatusCompleted {
		e.publishCompleted(ctx, claim)

		return claim, nil
	}

	e.drive(ctx, claim)

	return claim, nil
}

// Cancel moves a non-terminal execution to cancelled. Cancelling a terminal execution is a no-op.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	for range maxCancelAttempts {
		execution, err := e.executions.GetByID(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if execution.IsTerminal() {
			return execution, nil
		}

		cancelled, err := e.tryCancel(ctx, execution, reason)
		if persistence.IsVersionConflict(err) {
			continue
		}

		return cancelled, err
	}

	return nil, persistence.NewExecutionError("Cancel", executionID, persistence.ErrVersionConflict)
}

// CancelByWorkflow cancels every in-flight execution of a workflow and returns how many were cancelled.
func (e *Engine) CancelByWorkflow(ctx context.Context, workflowID, reason string) (int, error) {
	return e.cancelMany(ctx, persistence.ExecutionFilter{WorkflowID: workflowID, Statuses: models.NonTerminalStatuses()}, reason)
}

// CancelByContact cancels every in-flight execution of a contact and returns how many were cancelled.
func (e *Engine) CancelByContact(ctx context.Context, contactID, reason string) (int, error) {
	return e.cancelMany(ctx, persistence.ExecutionFilter{ContactID: contactID, Statuses: models.NonTerminalStatuses()}, reason)
}

func (e *Engine) cancelMany(ctx context.Context, filter persistence.ExecutionFilter, reason string) (int, error) {
	executions, err := e.executions.FindMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to find executions: %w", err)
	}

	var (
		cancelled int
		errs      []error
	)

	for _, execution := range executions {
		result, err := e.Cancel(ctx, execution.ID, reason)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if result.Status == models.ExecutionStatusCancelled && result.CancelReason == reason {
			cancelled++
		}
	}

	return cancelled, errors.Join(errs...)
}

// cancelExecution cancels an execution the caller already holds, recovering from a lost race.
func (e *Engine) cancelExecution(ctx context.Context, execution *models.Execution, reason string) (*models.Execution, error) {
	cancelled, err := e.tryCancel(ctx, execution, reason)
	if persistence.IsVersionConflict(err) {
		return e.executions.GetByID(ctx, execution.ID)
	}

	return cancelled, err
}

func (e *Engine) tryCancel(ctx context.Context, execution *models.Execution, reason string) (*models.Execution, error) {
	cancelled := execution.Clone()
	cancelled.Status = models.ExecutionStatusCancelled
	cancelled.CancelReason = reason
	cancelled.ResumeAt = nil
	now := e.clock.Now().UTC()
	cancelled.CompletedAt = &now

	if err := e.update(ctx, cancelled); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution cancelled",
		"execution_id", cancelled.ID,
		"workflow_id", cancelled.WorkflowID,
		"step_id", cancelled.CurrentStepID,
		"reason", reason,
	)

	e.publish(ctx, cancelled, events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, cancelled.WorkflowID),
		ExecutionID: cancelled.ID,
		ContactID:   cancelled.ContactID,
		StepID:      cancelled.CurrentStepID,
		Reason:      reason,
	})

	return cancelled, nil
}

// drive runs steps until the execution suspends, ends, or another writer takes it over.
func (e *Engine) drive(ctx context.Context, execution *models.Execution) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(ctx, execution, fmt.Errorf("panic: %v", r))
		}
	}()

	for range e.maxSteps {
		if execution.Status != models.ExecutionStatusRunning {
			return
		}

		step, ok := execution.CurrentStep()
		if !ok {
			e.fail(ctx, execution, fmt.Errorf("%w: %q", ErrStepNotFound, execution.CurrentStepID))

			return
		}

		if !e.runStep(ctx, execution, step) {
			return
		}
	}

	if execution.Status == models.ExecutionStatusRunning {
		e.fail(ctx, execution, fmt.Errorf("%w: %d steps", ErrStepBudget, e.maxSteps))
	}
}

// runStep executes one step and persists the resulting transition. It reports whether
// driving should continue.
func (e *Engine) runStep(ctx context.Context, execution *models.Execution, step *models.Step) bool {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	contact, err := e.contacts.GetByID(ctx, execution.ContactID)

	switch {
	case persistence.IsContactNotFound(err):
		_, _ = e.cancelExecution(ctx, execution, cancelReasonContact)

		return false
	case err != nil:
		otelhelper.SetError(span, err)
		e.fail(ctx, execution, fmt.Errorf("failed to load contact: %w", err))

		return false
	}

	result, err := e.execute(ctx, execution, step, contact)
	if err != nil {
		otelhelper.SetError(span, err)
		e.fail(ctx, execution, fmt.Errorf("step %s: %w", step.ID, err))

		return false
	}

	next := execution.Clone()

	switch {
	case result.waitUntil != nil:
		next.Status = models.ExecutionStatusWaitingDelay
		next.ResumeAt = result.waitUntil
	case result.next == "":
		e.markCompleted(next)
	default:
		next.CurrentStepID = result.next
	}

	if err := e.persist(ctx, next); err != nil {
		// Nothing reclaims an execution left in running.
		if !persistence.IsVersionConflict(err) {
			otelhelper.SetError(span, err)
			e.fail(ctx, execution, fmt.Errorf("step %s: failed to record transition: %w", step.ID, err))
		}

		return false
	}

	*execution = *next

	switch execution.Status {
	case models.ExecutionStatusWaitingDelay:
		e.logger.InfoContext(ctx, "Execution waiting", "execution_id", execution.ID, "step_id", step.ID, "resume_at", execution.ResumeAt)
		e.publish(ctx, execution, events.ExecutionWaiting{
			BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
			StepID:      step.ID,
			ResumeAt:    *execution.ResumeAt,
		})

		return false
	case models.ExecutionStatusCompleted:
		e.publishCompleted(ctx, execution)

		return false
	default:
		return true
	}
}

func (e *Engine) markCompleted(execution *models.Execution) {
	now := e.clock.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now
	execution.ResumeAt = nil
}

func (e *Engine) publishCompleted(ctx context.Context, execution *models.Execution) {
	e.logger.InfoContext(ctx, "Execution completed", "execution_id", execution.ID, "workflow_id", execution.WorkflowID)

	e.publish(ctx, execution, events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		DurationMs:  execution.CompletedAt.Sub(execution.StartedAt).Milliseconds(),
	})
}

// fail records cause on the execution. A lost race leaves the winner's state in place.
func (e *Engine) fail(ctx context.Context, execution *models.Execution, cause error) {
	failed := execution.Clone()
	failed.Status = models.ExecutionStatusFailed
	failed.Error = cause.Error()
	failed.ResumeAt = nil
	now := e.clock.Now().UTC()
	failed.CompletedAt = &now

	if e.persist(ctx, failed) != nil {
		return
	}

	*execution = *failed

	e.logger.WarnContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"step_id", execution.CurrentStepID,
		"error", cause,
	)

	e.publish(ctx, execution, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		ContactID:   execution.ContactID,
		StepID:      execution.CurrentStepID,
		Error:       execution.Error,
		DurationMs:  now.Sub(execution.StartedAt).Milliseconds(),
	})
}

// persist writes a transition. Conflicts are expected when a cancel or a concurrent
// resume got there first.
func (e *Engine) persist(ctx context.Context, execution *models.Execution) error {
	err := e.update(ctx, execution)

	switch {
	case err == nil:
		return nil
	case persistence.IsVersionConflict(err):
		e.logger.DebugContext(ctx, "Execution changed concurrently, dropping transition", "execution_id", execution.ID)
	default:
		e.logger.ErrorContext(ctx, "Failed to persist execution", "execution_id", execution.ID, "error", err)
	}

	return err
}

func (e *Engine) update(ctx context.Context, execution *models.Execution) error {
	execution.UpdatedAt = e.clock.Now().UTC()

	return e.executions.Update(ctx, execution)
}

func (e *Engine) publish(ctx context.Context, execution *models.Execution, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, execution.ID, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish execution event",
			"execution_id", execution.ID,
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

func newContext(workflow *models.Workflow, contact *models.Contact, trigger Trigger) map[string]any {
	triggerData := map[string]any{"type": string(trigger.Type)}
	for k, v := range trigger.Data {
		triggerData[k] = v
	}

	variables := make(map[string]any, len(workflow.Variables))
	for k, v := range workflow.Variables {
		variables[k] = v
	}

	return map[string]any{
		models.ContextContact:   contact.ToMap(),
		models.ContextTrigger:   triggerData,
		models.ContextVariables: variables,
		models.ContextWorkflow: map[string]any{
			"id":      workflow.ID,
			"name":    workflow.Name,
			"version": workflow.Version,
		},
	}
}
