// Package web provides the HTTP API for managing workflows, inspecting executions and ingesting events.
package web

import (
	"encoding/json"

	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
)

// CreateWorkflowRequest represents the request body for creating a new draft workflow.
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	Trigger     models.WorkflowTrigger `json:"trigger"     validate:"required"`
	Steps       []*models.Step         `json:"steps"       validate:"dive"`
	Variables   map[string]any         `json:"variables,omitempty"`
	Owner       string                 `json:"owner,omitempty"`
}

// Workflow converts the request into a workflow definition.
func (r CreateWorkflowRequest) Workflow() *models.Workflow {
	return &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		Trigger:     r.Trigger,
		Steps:       r.Steps,
		Variables:   r.Variables,
		Owner:       r.Owner,
	}
}

// UpdateWorkflowRequest represents the request body for updating an existing workflow.
// All fields are optional to support partial updates. Steps, when present, replace the whole graph.
type UpdateWorkflowRequest struct {
	Name        *string                 `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                 `json:"description,omitempty"`
	Trigger     *models.WorkflowTrigger `json:"trigger,omitempty"`
	Steps       []*models.Step          `json:"steps,omitempty"       validate:"omitempty,dive"`
	Variables   map[string]any          `json:"variables,omitempty"`
	Owner       *string                 `json:"owner,omitempty"`
}

// Apply merges the present fields into workflow.
func (r UpdateWorkflowRequest) Apply(workflow *models.Workflow) {
	if r.Name != nil {
		workflow.Name = *r.Name
	}

	if r.Description != nil {
		workflow.Description = *r.Description
	}

	if r.Trigger != nil {
		workflow.Trigger = *r.Trigger
	}

	if r.Steps != nil {
		workflow.Steps = r.Steps
	}

	if r.Variables != nil {
		workflow.Variables = r.Variables
	}

	if r.Owner != nil {
		workflow.Owner = *r.Owner
	}
}

type CancelExecutionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// IngestEventRequest wraps a domain event produced outside drip.
type IngestEventRequest struct {
	Type    events.EventType `json:"type"    validate:"required"`
	Payload json.RawMessage  `json:"payload" validate:"required"`
}

// EventAcceptedResponse acknowledges an event handed to the event bus.
type EventAcceptedResponse struct {
	ID   string           `json:"id"`
	Type events.EventType `json:"type"`
	Key  string           `json:"key"`
}
