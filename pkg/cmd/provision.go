package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/config"
	"github.com/dukex/drip/pkg/services"
)

// ProvisionWorkflows imports every definition in path. The first failure aborts.
func ProvisionWorkflows(ctx context.Context, service *services.Workflow, path string, logger *slog.Logger) error {
	workflows, err := config.LoadWorkflows(path)
	if err != nil {
		return err
	}

	for _, workflow := range workflows {
		if _, err := service.Import(ctx, workflow); err != nil {
			return fmt.Errorf("failed to import workflow %s: %w", workflow.ID, err)
		}
	}

	logger.InfoContext(ctx, "Provisioned workflows", "path", path, "count", len(workflows))

	return nil
}
