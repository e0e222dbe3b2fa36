package workflow

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// TriggerEvent is a domain event reduced to the fields trigger conditions look at.
type TriggerEvent struct {
	Type          models.TriggerType
	Tag           string
	FormID        string
	PreviousStage string
	NewStage      string
	// DateType is the date_based sub-type that matched; set by the date sweep.
	DateType string
}

// Data is the trigger payload stored in the execution context.
func (e TriggerEvent) Data() map[string]any {
	data := map[string]any{}

	switch e.Type {
	case models.TriggerTypeTagAdded:
		data[models.ConditionTag] = e.Tag
	case models.TriggerTypeFormSubmitted:
		data[models.ConditionFormID] = e.FormID
	case models.TriggerTypeDealStageChanged:
		data[models.ConditionFromStage] = e.PreviousStage
		data[models.ConditionToStage] = e.NewStage
	case models.TriggerTypeDateBased:
		data[models.ConditionDateType] = e.DateType
	case models.TriggerTypeContactCreated:
	}

	return data
}

// TriggerMatcher decides which workflows a trigger event starts. A condition that is
// absent from the workflow trigger matches any event value.
type TriggerMatcher struct {
	logger *slog.Logger
}

func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns the active workflows of the event's trigger type whose
// conditions accept the event. Workflows with malformed conditions are skipped.
func (tm *TriggerMatcher) MatchWorkflows(event TriggerEvent, workflows []*models.Workflow) []*models.Workflow {
	var matched []*models.Workflow

	for _, workflow := range workflows {
		if !tm.eligible(workflow, event.Type) {
			continue
		}

		if tm.matchConditions(event, workflow.Trigger) {
			matched = append(matched, workflow)
		}
	}

	tm.logger.Debug("Completed trigger matching",
		"trigger_type", event.Type,
		"candidates", len(workflows),
		"matches_found", len(matched))

	return matched
}

// MatchesDate reports whether contact's creation day is one of days. Birthday and
// anniversary both compare against the creation date.
func (tm *TriggerMatcher) MatchesDate(workflow *models.Workflow, contact *models.Contact, days []persistence.MonthDay) bool {
	if !tm.eligible(workflow, models.TriggerTypeDateBased) || contact.CreatedAt.IsZero() {
		return false
	}

	return slices.Contains(days, persistence.MonthDayOf(contact.CreatedAt))
}

// DateType returns the date_based sub-type of a workflow.
func DateType(workflow *models.Workflow) string {
	value, _ := workflow.Trigger.Condition(models.ConditionDateType)
	s, _ := value.(string)

	return s
}

func (tm *TriggerMatcher) eligible(workflow *models.Workflow, triggerType models.TriggerType) bool {
	if !workflow.IsActive() || workflow.Trigger.Type != triggerType {
		return false
	}

	if err := workflow.Trigger.ValidateConditions(); err != nil {
		tm.logger.Warn("Skipping workflow with invalid trigger conditions",
			"workflow_id", workflow.ID,
			"trigger_type", workflow.Trigger.Type,
			"error", err)

		return false
	}

	return true
}

func (tm *TriggerMatcher) matchConditions(event TriggerEvent, trigger models.WorkflowTrigger) bool {
	switch event.Type {
	case models.TriggerTypeContactCreated:
		return true
	case models.TriggerTypeTagAdded:
		return conditionAccepts(trigger, models.ConditionTag, event.Tag)
	case models.TriggerTypeFormSubmitted:
		return conditionAccepts(trigger, models.ConditionFormID, event.FormID)
	case models.TriggerTypeDealStageChanged:
		return conditionAccepts(trigger, models.ConditionFromStage, event.PreviousStage) &&
			conditionAccepts(trigger, models.ConditionToStage, event.NewStage)
	case models.TriggerTypeDateBased:
		return conditionAccepts(trigger, models.ConditionDateType, event.DateType)
	default:
		tm.logger.Warn("Unknown trigger type", "type", event.Type)

		return false
	}
}

func conditionAccepts(trigger models.WorkflowTrigger, key, value string) bool {
	expected, ok := trigger.Condition(key)
	if !ok {
		return true
	}

	return fmt.Sprintf("%v", expected) == value
}
