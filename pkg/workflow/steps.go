package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/template"
)

var (
	ErrInvalidStep   = errors.New("invalid step")
	ErrMissingTarget = errors.New("contact has no value for message target")
)

// stepResult is where a step leaves the execution: at next, or suspended until waitUntil.
type stepResult struct {
	next      string
	waitUntil *time.Time
}

func (e *Engine) execute(ctx context.Context, execution *models.Execution, step *models.Step, contact *models.Contact) (stepResult, error) {
	switch step.Type {
	case models.StepTypeAction:
		if err := e.runAction(ctx, execution, step, contact); err != nil {
			return stepResult{}, err
		}

		return stepResult{next: step.Next}, nil
	case models.StepTypeDelay:
		return e.runDelay(execution, step, contact)
	case models.StepTypeCondition:
		matched, err := evaluateCondition(execution, step, contact)
		if err != nil {
			return stepResult{}, err
		}

		if matched {
			return stepResult{next: step.Condition.TrueNext}, nil
		}

		return stepResult{next: step.Condition.FalseNext}, nil
	default:
		return stepResult{}, fmt.Errorf("%w: unknown type %q", ErrInvalidStep, step.Type)
	}
}

func (e *Engine) runAction(ctx context.Context, execution *models.Execution, step *models.Step, contact *models.Contact) error {
	action := step.Action
	if action == nil {
		return fmt.Errorf("%w: action step without action", ErrInvalidStep)
	}

	data := template.Data(execution, contact)

	if action.IsMessage() {
		msg, err := buildMessage(execution, step, contact, data)
		if err != nil {
			return err
		}

		return e.dispatcher.Send(ctx, msg)
	}

	op, err := buildOperation(action, data)
	if err != nil {
		return err
	}

	return e.dispatcher.MutateContact(ctx, contact.ID, op)
}

func buildMessage(execution *models.Execution, step *models.Step, contact *models.Contact, data map[string]any) (dispatcher.Message, error) {
	action := step.Action

	target, err := resolveTarget(action, contact, data)
	if err != nil {
		return dispatcher.Message{}, err
	}

	body, err := template.RenderString(action.Template, data)
	if err != nil {
		return dispatcher.Message{}, err
	}

	subject, err := template.RenderString(action.Subject, data)
	if err != nil {
		return dispatcher.Message{}, err
	}

	variables, err := template.RenderMap(action.Variables, data)
	if err != nil {
		return dispatcher.Message{}, err
	}

	return dispatcher.Message{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		ContactID:   contact.ID,
		StepID:      step.ID,
		Channel:     action.Channel,
		Target:      target,
		Subject:     subject,
		Template:    body,
		Variables:   variables,
	}, nil
}

// resolveTarget returns the recipient address. A templated target is rendered; otherwise
// it names the contact field holding the address, defaulting per channel.
func resolveTarget(action *models.ActionConfig, contact *models.Contact, data map[string]any) (string, error) {
	if strings.Contains(action.Target, "{{") || action.Channel == models.ChannelWebhook {
		return template.RenderString(action.Target, data)
	}

	field := action.Target
	if field == "" {
		field = defaultTargetField(action.Channel)
	}

	value, ok := contact.Field(field)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingTarget, field)
	}

	return fmt.Sprintf("%v", value), nil
}

func defaultTargetField(channel models.Channel) string {
	switch channel {
	case models.ChannelEmail:
		return models.FieldEmail
	case models.ChannelSMS, models.ChannelWhatsApp:
		return models.FieldPhone
	default:
		return models.FieldID
	}
}

func buildOperation(action *models.ActionConfig, data map[string]any) (dispatcher.ContactOperation, error) {
	op := dispatcher.ContactOperation{Type: action.Operation}

	var err error

	render := func(s string) string {
		if err != nil {
			return ""
		}

		var out string

		out, err = template.RenderString(s, data)

		return out
	}

	op.Tag = render(action.Tag)
	op.Field = render(action.Field)
	op.Value = render(action.Value)
	op.Stage = render(action.Stage)

	if err != nil {
		return dispatcher.ContactOperation{}, err
	}

	return op, nil
}

func (e *Engine) runDelay(execution *models.Execution, step *models.Step, contact *models.Contact) (stepResult, error) {
	if step.Delay == nil {
		return stepResult{}, fmt.Errorf("%w: delay step without delay", ErrInvalidStep)
	}

	now := e.clock.Now().UTC()

	resumeAt, err := step.Delay.ResumeAt(now, contact)
	if err != nil {
		return stepResult{}, err
	}

	// already elapsed, e.g. a delay relative to a contact field in the past
	if !resumeAt.After(now) {
		return stepResult{next: step.Next}, nil
	}

	resumeAt = resumeAt.UTC()

	return stepResult{next: execution.CurrentStepID, waitUntil: &resumeAt}, nil
}

func evaluateCondition(execution *models.Execution, step *models.Step, contact *models.Contact) (bool, error) {
	condition := step.Condition
	if condition == nil {
		return false, fmt.Errorf("%w: condition step without condition", ErrInvalidStep)
	}

	if condition.Expression != "" {
		value, err := template.Render(condition.Expression, template.Data(execution, contact))
		if err != nil {
			return false, err
		}

		return models.Truthy(value)
	}

	actual, present := lookupField(execution, contact, condition.Field)

	matched, err := condition.Operator.Apply(actual, present, condition.Value)
	if err != nil {
		return false, fmt.Errorf("condition on %q: %w", condition.Field, err)
	}

	return matched, nil
}

// lookupField resolves "trigger.x" and "variables.x" from the execution context and any
// other name, with or without a "contact." prefix, from the live contact.
func lookupField(execution *models.Execution, contact *models.Contact, field string) (any, bool) {
	scope, key, scoped := strings.Cut(field, ".")
	if scoped {
		switch scope {
		case models.ContextTrigger, models.ContextVariables:
			values, ok := execution.Context[scope].(map[string]any)
			if !ok {
				return nil, false
			}

			value, ok := values[key]

			return value, ok && value != nil
		case models.ContextContact:
			field = key
		}
	}

	return contact.Field(field)
}
