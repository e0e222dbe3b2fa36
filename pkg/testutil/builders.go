// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/drip/pkg/models"
	"github.com/google/uuid"
)

// ActionStep creates a message step on channel rendering template.
func ActionStep(id string, channel models.Channel, template, next string) *models.Step {
	return &models.Step{
		ID:     id,
		Type:   models.StepTypeAction,
		Action: &models.ActionConfig{Channel: channel, Template: template},
		Next:   next,
	}
}

// DelayStep creates a step waiting duration before moving on to next.
func DelayStep(id, duration, next string) *models.Step {
	return &models.Step{
		ID:    id,
		Type:  models.StepTypeDelay,
		Delay: &models.DelayConfig{Duration: duration},
		Next:  next,
	}
}

// ConditionStep creates a branching step.
func ConditionStep(id string, condition models.ConditionConfig) *models.Step {
	return &models.Step{
		ID:        id,
		Type:      models.StepTypeCondition,
		Condition: &condition,
	}
}

// CreateTestWorkflow creates an active welcome series: an email, a two day delay and a
// second email. Overrides are applied in order.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Status:      models.WorkflowStatusActive,
		Trigger:     models.WorkflowTrigger{Type: models.TriggerTypeContactCreated},
		Steps: []*models.Step{
			ActionStep("welcome", models.ChannelEmail, "welcome", "wait"),
			DelayStep("wait", "2d", "tips"),
			ActionStep("tips", models.ChannelEmail, "tips", ""),
		},
		Owner:   "test-user",
		Version: 1,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithID sets the workflow ID.
func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithTrigger sets the trigger type and its conditions.
func WithTrigger(triggerType models.TriggerType, conditions map[string]any) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Trigger = models.WorkflowTrigger{Type: triggerType, Conditions: conditions}
	}
}

// WithSteps replaces the step graph.
func WithSteps(steps ...*models.Step) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Steps = steps
	}
}

// CreateTestContact creates a contact reachable by email at <id>@example.com.
func CreateTestContact(id string, overrides ...func(*models.Contact)) *models.Contact {
	contact := &models.Contact{
		ID:        id,
		Email:     id + "@example.com",
		FirstName: "Test",
	}

	for _, override := range overrides {
		override(contact)
	}

	return contact
}

// WithTags sets the contact tags.
func WithTags(tags ...string) func(*models.Contact) {
	return func(c *models.Contact) {
		c.Tags = tags
	}
}

// WithCustomField sets one custom field.
func WithCustomField(name string, value any) func(*models.Contact) {
	return func(c *models.Contact) {
		if c.CustomFields == nil {
			c.CustomFields = make(map[string]any)
		}

		c.CustomFields[name] = value
	}
}
