package services

import (
	"testing"

	"github.com/dukex/drip/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func action(id, next string) *models.Step {
	return &models.Step{ID: id, Type: models.StepTypeAction, Action: &models.ActionConfig{Channel: models.ChannelEmail, Template: id}, Next: next}
}

func TestValidateForActivation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name     string
		mutate   func(w *models.Workflow)
		expected error
		contains string
	}{
		{
			name:   "valid",
			mutate: func(*models.Workflow) {},
		},
		{
			name: "valid branching",
			mutate: func(w *models.Workflow) {
				w.Steps = []*models.Step{
					{ID: "check", Type: models.StepTypeCondition, Condition: &models.ConditionConfig{Field: "tags", Operator: models.OperatorContains, Value: "vip", TrueNext: "vip", FalseNext: "regular"}},
					action("vip", "done"),
					action("regular", "done"),
					action("done", ""),
				}
			},
		},
		{
			name:     "no steps",
			mutate:   func(w *models.Workflow) { w.Steps = nil },
			expected: ErrStepsRequired,
		},
		{
			name:     "duplicate ids",
			mutate:   func(w *models.Workflow) { w.Steps[2].ID = "welcome" },
			expected: ErrInvalidGraph,
			contains: "duplicate step id",
		},
		{
			name:     "dangling reference",
			mutate:   func(w *models.Workflow) { w.Steps[1].Next = "nowhere" },
			expected: ErrInvalidGraph,
			contains: `unknown step "nowhere"`,
		},
		{
			name:     "cycle",
			mutate:   func(w *models.Workflow) { w.Steps[2].Next = "welcome" },
			expected: ErrInvalidGraph,
			contains: "welcome -> wait -> tips -> welcome",
		},
		{
			name:     "self loop",
			mutate:   func(w *models.Workflow) { w.Steps[2].Next = "tips" },
			expected: ErrInvalidGraph,
			contains: "tips -> tips",
		},
		{
			name:     "bad delay",
			mutate:   func(w *models.Workflow) { w.Steps[1].Delay.Duration = "two days" },
			expected: ErrInvalidStep,
			contains: "invalid delay duration",
		},
		{
			name:     "delay out of range",
			mutate:   func(w *models.Workflow) { w.Steps[1].Delay.Duration = "200000d" },
			expected: ErrInvalidStep,
			contains: "out of range",
		},
		{
			name:     "body does not match type",
			mutate:   func(w *models.Workflow) { w.Steps[1].Type = models.StepTypeAction },
			expected: ErrInvalidStep,
		},
		{
			name: "two bodies",
			mutate: func(w *models.Workflow) {
				w.Steps[0].Delay = &models.DelayConfig{Duration: "1h"}
			},
			expected: ErrInvalidStep,
			contains: "found 2",
		},
		{
			name:     "message without template",
			mutate:   func(w *models.Workflow) { w.Steps[0].Action.Template = "" },
			expected: ErrInvalidStep,
		},
		{
			name:     "unknown channel",
			mutate:   func(w *models.Workflow) { w.Steps[0].Action.Channel = "pigeon" },
			expected: ErrInvalidStep,
		},
		{
			name: "webhook without target",
			mutate: func(w *models.Workflow) {
				w.Steps[0].Action = &models.ActionConfig{Channel: models.ChannelWebhook}
			},
			expected: ErrInvalidStep,
			contains: "target url",
		},
		{
			name: "channel and operation",
			mutate: func(w *models.Workflow) {
				w.Steps[0].Action.Operation = models.OperationAddTag
			},
			expected: ErrInvalidStep,
		},
		{
			name: "tag operation without tag",
			mutate: func(w *models.Workflow) {
				w.Steps[0].Action = &models.ActionConfig{Operation: models.OperationAddTag}
			},
			expected: ErrInvalidStep,
		},
		{
			name: "unknown operator",
			mutate: func(w *models.Workflow) {
				w.Steps[2] = &models.Step{ID: "tips", Type: models.StepTypeCondition, Condition: &models.ConditionConfig{Field: "tags", Operator: "like"}}
			},
			expected: ErrInvalidStep,
			contains: "unknown operator",
		},
		{
			name: "condition with next",
			mutate: func(w *models.Workflow) {
				w.Steps[2] = &models.Step{ID: "tips", Type: models.StepTypeCondition, Next: "welcome", Condition: &models.ConditionConfig{Expression: "{{ true }}"}}
			},
			expected: ErrInvalidStep,
		},
		{
			name: "invalid trigger conditions",
			mutate: func(w *models.Workflow) {
				w.Trigger = models.WorkflowTrigger{Type: models.TriggerTypeTagAdded, Conditions: map[string]any{"label": "vip"}}
			},
			expected: ErrInvalidTrigger,
		},
		{
			name: "date trigger without sub-type",
			mutate: func(w *models.Workflow) {
				w.Trigger = models.WorkflowTrigger{Type: models.TriggerTypeDateBased}
			},
			expected: ErrInvalidTrigger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow := welcomeDraft()
			workflow.Status = models.WorkflowStatusDraft
			tt.mutate(workflow)

			err := ValidateForActivation(validate, workflow)
			if tt.expected == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.expected)
			assert.True(t, IsValidationError(err))

			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestValidateForActivationReportsEveryProblem(t *testing.T) {
	workflow := welcomeDraft()
	workflow.Status = models.WorkflowStatusDraft
	workflow.Steps[0].Next = "nowhere"
	workflow.Steps[1].Delay.Duration = "soon"

	err := ValidateForActivation(validator.New(), workflow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.ErrorIs(t, err, ErrInvalidStep)
}
