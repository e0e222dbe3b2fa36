package file

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	locked

	files collection[models.Execution]
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{files: newCollection[models.Execution](root, "executions")}
}

// GetByID retrieves an execution by its ID from the file system.
func (er *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.get(executionID)
}

func (er *ExecutionRepository) get(executionID string) (*models.Execution, error) {
	execution, err := er.files.read(executionID)
	if err != nil {
		if errors.Is(err, errNotExist) {
			return nil, persistence.NewExecutionError("GetByID", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}

	return execution, nil
}

// FindMany loads every execution and filters in memory, oldest first.
func (er *ExecutionRepository) FindMany(_ context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	return er.find(filter)
}

func (er *ExecutionRepository) find(filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	all, err := er.files.all()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.Execution, 0, len(all))

	for _, execution := range all {
		if filter.Matches(execution) {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return filter.Apply(executions), nil
}

// Create stores a new execution unless the pair already has one in flight.
func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	if _, err := er.get(execution.ID); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrActiveExecutionExists)
	}

	if !execution.IsTerminal() {
		active, err := er.find(persistence.ExecutionFilter{
			WorkflowID: execution.WorkflowID,
			ContactID:  execution.ContactID,
			Statuses:   models.NonTerminalStatuses(),
			Limit:      1,
		})
		if err != nil {
			return err
		}

		if len(active) > 0 {
			return persistence.NewExecutionPairError("Create", execution.WorkflowID, execution.ContactID, persistence.ErrActiveExecutionExists)
		}
	}

	execution.Version = 1

	if err := er.files.write(execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

// Update replaces the stored execution when the caller holds the current version.
func (er *ExecutionRepository) Update(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	current, err := er.get(execution.ID)
	if err != nil {
		return err
	}

	if current.Version != execution.Version {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	next := *execution
	next.Version++

	if err := er.files.write(execution.ID, &next); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	execution.Version = next.Version

	return nil
}
