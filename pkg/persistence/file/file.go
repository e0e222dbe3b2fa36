// Package file provides file-based persistence implementation for workflows, contacts and executions.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/dukex/drip/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Records of one kind share a lock, so a single process sees atomic per-record updates.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	contactRepo   *ContactRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		contactRepo:   NewContactRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

// ContactRepository returns the contact repository implementation for file persistence.
func (fp *Persistence) ContactRepository() persistence.ContactRepository {
	return fp.contactRepo
}

// ExecutionRepository returns the execution repository implementation for file persistence.
func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

type locked struct {
	mu sync.RWMutex
}
