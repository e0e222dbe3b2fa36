package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// TriggerService is what domain events call into. Each entry point loads candidate
// workflows, matches them and starts one execution per match. Failures are logged per
// workflow and contact and never reach the caller.
type TriggerService struct {
	workflows  persistence.WorkflowRepository
	contacts   persistence.ContactRepository
	executions persistence.ExecutionRepository
	engine        *Engine
	matcher    *TriggerMatcher
	clock      clockwork.Clock
	logger     *slog.Logger
}

func NewTriggerService(store persistence.Persistence, engine *Engine, logger *slog.Logger) *TriggerService {
	return &TriggerService{
		workflows:  store.WorkflowRepository(),
		contacts:   store.ContactRepository(),
		executions: store.ExecutionRepository(),
		engine:     engine,
		matcher:    NewTriggerMatcher(logger),
		clock:      engine.clock,
		logger:     logger.With("module", "trigger_service"),
	}
}

func (s *TriggerService) OnContactCreated(ctx context.Context, contact *models.Contact) {
	s.fire(ctx, TriggerEvent{Type: models.TriggerTypeContactCreated}, contact)
}

func (s *TriggerService) OnTagAdded(ctx context.Context, contact *models.Contact, tag string) {
	s.fire(ctx, TriggerEvent{Type: models.TriggerTypeTagAdded, Tag: tag}, contact)
}

func (s *TriggerService) OnFormSubmitted(ctx context.Context, contact *models.Contact, formID string) {
	s.fire(ctx, TriggerEvent{Type: models.TriggerTypeFormSubmitted, FormID: formID}, contact)
}

// OnDealStageChanged loads the contact first; an unknown contact ends processing.
func (s *TriggerService) OnDealStageChanged(ctx context.Context, contactID, previousStage, newStage string) {
	contact, err := s.contacts.GetByID(ctx, contactID)
	if err != nil {
		s.logger.WarnContext(ctx, "Contact not found for deal stage change", "contact_id", contactID, "error", err)

		return
	}

	s.fire(ctx, TriggerEvent{
		Type:          models.TriggerTypeDealStageChanged,
		PreviousStage: previousStage,
		NewStage:      newStage,
	}, contact)
}

// RunDateBasedTriggers starts every active date_based workflow for the contacts whose
// creation day recurs today. Contacts created on Feb 29 recur on Feb 28 in common years.
// A contact already started by a workflow since midnight UTC is skipped, so repeated
// sweeps on the same day start nothing new.
func (s *TriggerService) RunDateBasedTriggers(ctx context.Context) {
	workflows, err := s.activeWorkflows(ctx, models.TriggerTypeDateBased)
	if err != nil || len(workflows) == 0 {
		return
	}

	now := s.clock.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := persistence.RecurringDays(now)

	contacts, err := s.contacts.FindMany(ctx, persistence.ContactFilter{CreatedOn: days})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load contacts for date triggers", "error", err)

		return
	}

	started := 0

	for _, workflow := range workflows {
		event := TriggerEvent{Type: models.TriggerTypeDateBased, DateType: DateType(workflow)}

		startedToday, err := s.startedSince(ctx, workflow.ID, midnight)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load today's executions", "workflow_id", workflow.ID, "error", err)

			continue
		}

		for _, contact := range contacts {
			if startedToday[contact.ID] || !s.matcher.MatchesDate(workflow, contact, days) {
				continue
			}

			if s.start(ctx, workflow, contact, event) {
				started++
			}
		}
	}

	s.logger.InfoContext(ctx, "Date-based trigger sweep finished",
		"workflows", len(workflows),
		"contacts", len(contacts),
		"started", started)
}

// startedSince returns the contacts with an execution of the workflow started at or after since.
func (s *TriggerService) startedSince(ctx context.Context, workflowID string, since time.Time) (map[string]bool, error) {
	executions, err := s.executions.FindMany(ctx, persistence.ExecutionFilter{
		WorkflowID:   workflowID,
		StartedSince: &since,
	})
	if err != nil {
		return nil, err
	}

	contacts := make(map[string]bool, len(executions))
	for _, execution := range executions {
		contacts[execution.ContactID] = true
	}

	return contacts, nil
}

func (s *TriggerService) fire(ctx context.Context, event TriggerEvent, contact *models.Contact) {
	workflows, err := s.activeWorkflows(ctx, event.Type)
	if err != nil {
		return
	}

	for _, workflow := range s.matcher.MatchWorkflows(event, workflows) {
		s.start(ctx, workflow, contact, event)
	}
}

func (s *TriggerService) activeWorkflows(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	workflows, err := s.workflows.FindMany(ctx, persistence.WorkflowFilter{
		Status:      models.WorkflowStatusActive,
		TriggerType: triggerType,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load workflows", "trigger_type", triggerType, "error", err)

		return nil, err
	}

	return workflows, nil
}

// start reports whether a new execution was created.
func (s *TriggerService) start(ctx context.Context, workflow *models.Workflow, contact *models.Contact, event TriggerEvent) bool {
	execution, err := s.engine.Start(ctx, workflow, contact, Trigger{Type: event.Type, Data: event.Data()})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to start workflow",
			"workflow_id", workflow.ID,
			"contact_id", contact.ID,
			"trigger_type", event.Type,
			"error", err)

		return false
	}

	return execution != nil
}
