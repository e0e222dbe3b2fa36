package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// Hash fields of an execution.
const (
	fieldData    = "data"
	fieldVersion = "version"
	fieldStatus  = "status"
)

// ExecutionRepository stores executions as Hashes. The version field is compared inside
// a WATCH transaction so concurrent writers resolve to one winner.
type ExecutionRepository struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	return getExecution(ctx, r.client, id)
}

func getExecution(ctx context.Context, client goredis.Cmdable, id string) (*models.Execution, error) {
	data, err := client.HGet(ctx, executionKey(id), fieldData).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("drip/redis: get execution: %w", err)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("drip/redis: unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

// FindMany reads due candidates from the resume index when only waiting executions are asked for.
func (r *ExecutionRepository) FindMany(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	var (
		ids []string
		err error
	)

	onlyWaiting := len(filter.Statuses) == 1 && filter.Statuses[0] == models.ExecutionStatusWaitingDelay

	if filter.ResumeDueBefore != nil && onlyWaiting {
		ids, err = r.client.ZRangeByScore(ctx, resumeIndexKey, &goredis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(filter.ResumeDueBefore.UnixMilli(), 10),
		}).Result()
	} else {
		ids, err = r.client.SMembers(ctx, executionIDsKey).Result()
	}

	if err != nil {
		return nil, fmt.Errorf("drip/redis: list executions: %w", err)
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			if persistence.IsExecutionNotFound(getErr) {
				continue // skip missing
			}

			return nil, getErr
		}

		if filter.Matches(execution) {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return filter.Apply(executions), nil
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	key := executionKey(execution.ID)
	pair := activeKey(execution.WorkflowID, execution.ContactID)

	stored := *execution
	stored.Version = 1

	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}

		if exists > 0 {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrActiveExecutionExists)
		}

		if !stored.IsTerminal() {
			owner, err := tx.Get(ctx, pair).Result()
			if err != nil && !errors.Is(err, goredis.Nil) {
				return err
			}

			if owner != "" {
				return persistence.NewExecutionPairError("Create", execution.WorkflowID, execution.ContactID, persistence.ErrActiveExecutionExists)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return writeExecution(ctx, pipe, &stored, "")
		})

		return err
	}, key, pair)
	if err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			return persistence.NewExecutionPairError("Create", execution.WorkflowID, execution.ContactID, persistence.ErrActiveExecutionExists)
		}

		if persistence.IsActiveExecutionExists(err) {
			return err
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	execution.Version = 1

	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	key := executionKey(execution.ID)
	pair := activeKey(execution.WorkflowID, execution.ContactID)

	stored := *execution
	stored.Version = execution.Version + 1

	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		version, err := tx.HGet(ctx, key, fieldVersion).Int()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
			}

			return err
		}

		if version != execution.Version {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
		}

		owner, err := tx.Get(ctx, pair).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return writeExecution(ctx, pipe, &stored, owner)
		})

		return err
	}, key, pair)
	if err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrVersionConflict)
		}

		return err
	}

	execution.Version = stored.Version

	return nil
}

// writeExecution queues the document, the enumeration Set, the resume index and the
// active-pair marker. pairOwner is the execution currently holding the marker, if any.
func writeExecution(ctx context.Context, pipe goredis.Pipeliner, execution *models.Execution, pairOwner string) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("drip/redis: marshal execution: %w", err)
	}

	pipe.HSet(ctx, executionKey(execution.ID),
		fieldData, data,
		fieldVersion, execution.Version,
		fieldStatus, string(execution.Status),
	)
	pipe.SAdd(ctx, executionIDsKey, execution.ID)

	if execution.Status == models.ExecutionStatusWaitingDelay && execution.ResumeAt != nil {
		pipe.ZAdd(ctx, resumeIndexKey, goredis.Z{
			Score:  float64(execution.ResumeAt.UnixMilli()),
			Member: execution.ID,
		})
	} else {
		pipe.ZRem(ctx, resumeIndexKey, execution.ID)
	}

	pair := activeKey(execution.WorkflowID, execution.ContactID)

	switch {
	case !execution.IsTerminal():
		pipe.Set(ctx, pair, execution.ID, 0)
	case pairOwner == execution.ID:
		pipe.Del(ctx, pair)
	}

	return nil
}
