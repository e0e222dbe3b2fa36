package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository stores workflows as JSON documents.
type WorkflowRepository struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	data, err := r.client.Get(ctx, workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("drip/redis: get workflow: %w", err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("drip/redis: unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) FindMany(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	ids, err := r.client.SMembers(ctx, workflowIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("drip/redis: list workflows smembers: %w", err)
	}

	docs, err := loadDocuments[models.Workflow](ctx, r.client, ids, workflowKey)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(docs))

	for _, workflow := range docs {
		if filter.Matches(workflow) {
			workflows = append(workflows, workflow)
		}
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	data, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("drip/redis: marshal workflow: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, workflowKey(workflow.ID), data, 0)
	pipe.SAdd(ctx, workflowIDsKey, workflow.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	deleted := pipe.Del(ctx, workflowKey(id))
	pipe.SRem(ctx, workflowIDsKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("drip/redis: delete workflow: %w", err)
	}

	if deleted.Val() == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// loadDocuments fetches JSON documents with one MGET, skipping IDs whose key vanished.
func loadDocuments[T any](ctx context.Context, client goredis.UniversalClient, ids []string, key func(string) string) ([]*T, error) {
	if len(ids) == 0 {
		return []*T{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("drip/redis: mget: %w", err)
	}

	docs := make([]*T, 0, len(values))

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue // skip missing
		}

		var doc T
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("drip/redis: unmarshal %s: %w", keys[i], err)
		}

		docs = append(docs, &doc)
	}

	return docs, nil
}
