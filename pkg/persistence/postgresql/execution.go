package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/lib/pq"
)

const executionColumns = `
			id
		  , workflow_id
		  , workflow_version
		  , contact_id
		  , current_step_id
		  , status
		  , steps
		  , context
		  , error_message
		  , cancel_reason
		  , version
		  , started_at
		  , updated_at
		  , resume_at
		  , completed_at`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) FindMany(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	var (
		where []string
		args  []any
	)

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}

	if filter.ContactID != "" {
		args = append(args, filter.ContactID)
		where = append(where, fmt.Sprintf("contact_id = $%d", len(args)))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}

		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	if filter.ResumeDueBefore != nil {
		args = append(args, *filter.ResumeDueBefore)
		where = append(where, fmt.Sprintf("resume_at IS NOT NULL AND resume_at <= $%d", len(args)))
	}

	if filter.StartedSince != nil {
		args = append(args, *filter.StartedSince)
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY started_at ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// Create relies on the partial unique index over in-flight executions to reject duplicates.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	stepsJSON, contextJSON, err := marshalExecution(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (id, workflow_id, workflow_version, contact_id, current_step_id, status,
			steps, context, error_message, cancel_reason, version, started_at, updated_at, resume_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.WorkflowVersion,
		execution.ContactID,
		execution.CurrentStepID,
		execution.Status,
		stepsJSON,
		contextJSON,
		nullString(execution.Error),
		nullString(execution.CancelReason),
		execution.StartedAt,
		execution.UpdatedAt,
		execution.ResumeAt,
		execution.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionPairError("Create", execution.WorkflowID, execution.ContactID, persistence.ErrActiveExecutionExists)
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	execution.Version = 1

	return nil
}

// Update is a compare-and-swap on the version column.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	stepsJSON, contextJSON, err := marshalExecution(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions SET
			current_step_id = $3,
			status = $4,
			steps = $5,
			context = $6,
			error_message = $7,
			cancel_reason = $8,
			updated_at = $9,
			resume_at = $10,
			completed_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Version,
		execution.CurrentStepID,
		execution.Status,
		stepsJSON,
		contextJSON,
		nullString(execution.Error),
		nullString(execution.CancelReason),
		execution.UpdatedAt,
		execution.ResumeAt,
		execution.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrActiveExecutionExists)
		}

		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		if _, err := r.GetByID(ctx, execution.ID); err != nil {
			return err
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
	}

	execution.Version++

	return nil
}

func marshalExecution(execution *models.Execution) ([]byte, []byte, error) {
	stepsJSON, err := json.Marshal(nonNilSteps(execution.Steps))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal steps: %w", err)
	}

	contextJSON, err := json.Marshal(nonNilMap(execution.Context))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	return stepsJSON, contextJSON, nil
}

func (r *ExecutionRepository) scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		stepsJSON    []byte
		contextJSON  []byte
		errorMessage sql.NullString
		cancelReason sql.NullString
		resumeAt     sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkflowVersion,
		&execution.ContactID,
		&execution.CurrentStepID,
		&execution.Status,
		&stepsJSON,
		&contextJSON,
		&errorMessage,
		&cancelReason,
		&execution.Version,
		&execution.StartedAt,
		&execution.UpdatedAt,
		&resumeAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Error = errorMessage.String
	execution.CancelReason = cancelReason.String

	if resumeAt.Valid {
		t := resumeAt.Time.UTC()
		execution.ResumeAt = &t
	}

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		execution.CompletedAt = &t
	}

	if err := json.Unmarshal(stepsJSON, &execution.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	return &execution, nil
}
