// Package persistence provides data storage abstraction layer for workflows, contacts and executions.
package persistence

import (
	"context"

	"github.com/dukex/drip/pkg/models"
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ContactRepository() ContactRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	FindMany(ctx context.Context, filter WorkflowFilter) ([]*models.Workflow, error)
	// Save creates the workflow or replaces the stored one with the same id.
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ContactRepository stores contacts.
type ContactRepository interface {
	GetByID(ctx context.Context, id string) (*models.Contact, error)
	FindMany(ctx context.Context, filter ContactFilter) ([]*models.Contact, error)
	Save(ctx context.Context, contact *models.Contact) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores executions with per-record optimistic concurrency.
type ExecutionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	FindMany(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error)
	// Create stores a new execution with Version 1. It fails with ErrActiveExecutionExists
	// when a non-terminal execution already exists for the same workflow and contact.
	Create(ctx context.Context, execution *models.Execution) error
	// Update replaces the stored execution only if its Version equals execution.Version,
	// then increments execution.Version. Otherwise it fails with ErrVersionConflict.
	Update(ctx context.Context, execution *models.Execution) error
}
