// Package config loads declarative workflow definitions from YAML files.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dukex/drip/pkg/models"
	"gopkg.in/yaml.v3"
)

// WorkflowsFile is the layout of a workflows YAML file. Each entry uses the same field
// names as the JSON API.
type WorkflowsFile struct {
	Workflows []map[string]any `yaml:"workflows"`
}

// LoadWorkflows reads workflow definitions from a YAML file.
func LoadWorkflows(path string) ([]*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows file %s: %w", path, err)
	}

	return ParseWorkflows(data)
}

// ParseWorkflows decodes YAML workflow definitions. Every definition must carry an id so
// repeated loads update the same workflow.
func ParseWorkflows(data []byte) ([]*models.Workflow, error) {
	var file WorkflowsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(file.Workflows))
	seen := make(map[string]bool, len(file.Workflows))

	for i, raw := range file.Workflows {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("workflow %d: %w", i, err)
		}

		var workflow models.Workflow
		if err := json.Unmarshal(encoded, &workflow); err != nil {
			return nil, fmt.Errorf("workflow %d: %w", i, err)
		}

		if workflow.ID == "" {
			return nil, fmt.Errorf("workflow %d (%s): id is required", i, workflow.Name)
		}

		if seen[workflow.ID] {
			return nil, fmt.Errorf("workflow %d: duplicate id %q", i, workflow.ID)
		}

		seen[workflow.ID] = true

		workflows = append(workflows, &workflow)
	}

	return workflows, nil
}
