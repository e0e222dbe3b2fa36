// Package models defines the core domain models for contact-driven marketing automation.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never triggered
	WorkflowStatusActive   WorkflowStatus = "active"   // Eligible for triggering
	WorkflowStatusPaused   WorkflowStatus = "paused"   // No new executions, in-flight ones continue
	WorkflowStatusArchived WorkflowStatus = "archived" // Terminal, excluded from matching
)

// TriggerType identifies the domain event a workflow reacts to.
type TriggerType string

const (
	TriggerTypeContactCreated   TriggerType = "contact_created"
	TriggerTypeTagAdded         TriggerType = "tag_added"
	TriggerTypeFormSubmitted    TriggerType = "form_submitted"
	TriggerTypeDateBased        TriggerType = "date_based"
	TriggerTypeDealStageChanged TriggerType = "deal_stage_changed"
)

// Trigger condition keys.
const (
	ConditionTag       = "tag"
	ConditionFormID    = "formId"
	ConditionFromStage = "fromStage"
	ConditionToStage   = "toStage"
	ConditionDateType  = "type"
)

// Date-based trigger sub-types.
const (
	DateTriggerBirthday    = "birthday"
	DateTriggerAnniversary = "anniversary"
)

// TriggerTypes lists every supported trigger type.
func TriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerTypeContactCreated,
		TriggerTypeTagAdded,
		TriggerTypeFormSubmitted,
		TriggerTypeDateBased,
		TriggerTypeDealStageChanged,
	}
}

// WorkflowTrigger is the single event type plus free-form conditions that make a workflow eligible to start.
type WorkflowTrigger struct {
	Type       TriggerType    `json:"type"                 validate:"required,oneof=contact_created tag_added form_submitted date_based deal_stage_changed"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// Condition returns the condition value stored under key, if any.
func (t WorkflowTrigger) Condition(key string) (any, bool) {
	if t.Conditions == nil {
		return nil, false
	}

	value, ok := t.Conditions[key]
	if !ok || value == nil {
		return nil, false
	}

	return value, true
}

// Workflow is an automation definition: one trigger and an ordered step graph.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                  validate:"required,min=3"`
	Description string          `json:"description"`
	Status      WorkflowStatus  `json:"status"                validate:"required,oneof=draft active paused archived"`
	Trigger     WorkflowTrigger `json:"trigger"               validate:"required"`
	Steps       []*Step         `json:"steps"                 validate:"dive"`
	Variables   map[string]any  `json:"variables,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsActive reports whether the workflow may start new executions.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// EntryStep returns the first step of the workflow, or nil when it has no steps.
func (w *Workflow) EntryStep() *Step {
	if len(w.Steps) == 0 {
		return nil
	}

	return w.Steps[0]
}

// StepByID finds a step by its identifier.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	return findStep(w.Steps, id)
}

func findStep(steps []*Step, id string) (*Step, bool) {
	for _, step := range steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}
