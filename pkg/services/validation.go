package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/drip/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ValidateDefinition checks the parts of a workflow that must hold for any saved draft.
func ValidateDefinition(validate *validator.Validate, workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if strings.TrimSpace(workflow.Name) == "" {
		return ErrWorkflowNameRequired
	}

	if err := validate.Struct(workflow); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(validationErrors))
		}

		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if _, ok := models.TriggerSchema(workflow.Trigger.Type); !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, workflow.Trigger.Type)
	}

	return nil
}

// ValidateForActivation checks everything an active workflow needs: a valid trigger,
// well-formed steps and an acyclic graph whose references all resolve. Every problem
// found is reported.
func ValidateForActivation(validate *validator.Validate, workflow *models.Workflow) error {
	if err := ValidateDefinition(validate, workflow); err != nil {
		return err
	}

	var errs []error

	if err := workflow.Trigger.ValidateConditions(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidTrigger, err))
	}

	if len(workflow.Steps) == 0 {
		return errors.Join(append(errs, ErrStepsRequired)...)
	}

	steps := make(map[string]*models.Step, len(workflow.Steps))

	for i, step := range workflow.Steps {
		if step == nil || step.ID == "" {
			errs = append(errs, fmt.Errorf("%w: step %d has no id", ErrInvalidStep, i))

			continue
		}

		if _, dup := steps[step.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate step id %q", ErrInvalidGraph, step.ID))

			continue
		}

		steps[step.ID] = step

		if err := validateStep(step); err != nil {
			errs = append(errs, fmt.Errorf("%w %q: %w", ErrInvalidStep, step.ID, err))
		}
	}

	for _, step := range workflow.Steps {
		if step == nil {
			continue
		}

		for _, next := range step.Successors() {
			if _, ok := steps[next]; !ok {
				errs = append(errs, fmt.Errorf("%w: step %q references unknown step %q", ErrInvalidGraph, step.ID, next))
			}
		}
	}

	if cycle := findCycle(workflow.Steps, steps); cycle != nil {
		errs = append(errs, fmt.Errorf("%w: cycle %s", ErrInvalidGraph, strings.Join(cycle, " -> ")))
	}

	return errors.Join(errs...)
}

func validateStep(step *models.Step) error {
	configs := 0

	for _, set := range []bool{step.Action != nil, step.Delay != nil, step.Condition != nil} {
		if set {
			configs++
		}
	}

	if configs != 1 {
		return fmt.Errorf("expected exactly one %s body, found %d", step.Type, configs)
	}

	switch step.Type {
	case models.StepTypeAction:
		if step.Action == nil {
			return errors.New("action step without action")
		}

		return validateAction(step.Action)
	case models.StepTypeDelay:
		if step.Delay == nil {
			return errors.New("delay step without delay")
		}

		_, err := models.ParseDelay(step.Delay.Duration)

		return err
	case models.StepTypeCondition:
		if step.Condition == nil {
			return errors.New("condition step without condition")
		}

		if step.Next != "" {
			return errors.New("condition steps branch with true_next and false_next, not next")
		}

		return validateCondition(step.Condition)
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

func validateAction(action *models.ActionConfig) error {
	if (action.Channel == "") == (action.Operation == "") {
		return errors.New("action needs exactly one of channel or operation")
	}

	if action.IsMessage() {
		switch action.Channel {
		case models.ChannelEmail, models.ChannelSMS, models.ChannelWhatsApp, models.ChannelLog:
			if action.Template == "" {
				return fmt.Errorf("%s action requires a template", action.Channel)
			}
		case models.ChannelWebhook:
			if action.Target == "" {
				return errors.New("webhook action requires a target url")
			}
		default:
			return fmt.Errorf("unknown channel %q", action.Channel)
		}

		return nil
	}

	switch action.Operation {
	case models.OperationAddTag, models.OperationRemoveTag:
		if action.Tag == "" {
			return fmt.Errorf("%s requires a tag", action.Operation)
		}
	case models.OperationSetField:
		if action.Field == "" {
			return errors.New("set_field requires a field")
		}
	case models.OperationMoveDealStage:
		if action.Stage == "" {
			return errors.New("move_deal_stage requires a stage")
		}
	default:
		return fmt.Errorf("unknown operation %q", action.Operation)
	}

	return nil
}

func validateCondition(condition *models.ConditionConfig) error {
	if condition.Expression != "" {
		if condition.Field != "" || condition.Operator != "" {
			return errors.New("condition uses either an expression or a field predicate")
		}

		return nil
	}

	if condition.Field == "" {
		return errors.New("condition requires a field or an expression")
	}

	if !condition.Operator.IsValid() {
		return fmt.Errorf("unknown operator %q", condition.Operator)
	}

	return nil
}

// findCycle returns the step ids of a cycle reachable in the graph, or nil.
func findCycle(order []*models.Step, steps map[string]*models.Step) []string {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(steps))

	var path []string

	var visit func(id string) []string

	visit = func(id string) []string {
		step, ok := steps[id]
		if !ok {
			return nil
		}

		switch state[id] {
		case visiting:
			for i, seen := range path {
				if seen == id {
					return append(append([]string{}, path[i:]...), id)
				}
			}
		case done:
			return nil
		}

		state[id] = visiting
		path = append(path, id)

		for _, next := range step.Successors() {
			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}

		path = path[:len(path)-1]
		state[id] = done

		return nil
	}

	for _, step := range order {
		if step == nil || state[step.ID] != unvisited {
			continue
		}

		if cycle := visit(step.ID); cycle != nil {
			return cycle
		}
	}

	return nil
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}

	return strings.Join(parts, "; ")
}
