package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownTriggerType   = errors.New("unknown trigger type")
	ErrInvalidTriggerConfig = errors.New("invalid trigger conditions")
)

func minLength(n int) *int {
	return &n
}

func closed() *bool {
	f := false

	return &f
}

var triggerSchemas = map[TriggerType]*JSONSchema{
	TriggerTypeContactCreated: {
		Type:                 "object",
		Title:                "Contact created",
		Description:          "Fires for every new contact",
		Properties:           map[string]*Property{},
		AdditionalProperties: closed(),
	},
	TriggerTypeTagAdded: {
		Type:        "object",
		Title:       "Tag added",
		Description: "Fires when a tag is added to a contact; without a tag every tag matches",
		Properties: map[string]*Property{
			ConditionTag: {Type: "string", Description: "Tag that must be added", MinLength: minLength(1)},
		},
		AdditionalProperties: closed(),
	},
	TriggerTypeFormSubmitted: {
		Type:        "object",
		Title:       "Form submitted",
		Description: "Fires when a contact submits a form; without a formId every form matches",
		Properties: map[string]*Property{
			ConditionFormID: {Type: "string", Description: "Form identifier", MinLength: minLength(1)},
		},
		AdditionalProperties: closed(),
	},
	TriggerTypeDealStageChanged: {
		Type:        "object",
		Title:       "Deal stage changed",
		Description: "Fires when a contact's deal moves between stages",
		Properties: map[string]*Property{
			ConditionFromStage: {Type: "string", Description: "Stage the deal left", MinLength: minLength(1)},
			ConditionToStage:   {Type: "string", Description: "Stage the deal entered", MinLength: minLength(1)},
		},
		AdditionalProperties: closed(),
	},
	TriggerTypeDateBased: {
		Type:        "object",
		Title:       "Date based",
		Description: "Fires on the yearly recurrence of a contact date",
		Properties: map[string]*Property{
			ConditionDateType: {
				Type:        "string",
				Description: "Date sub-type",
				Enum:        []any{DateTriggerBirthday, DateTriggerAnniversary},
			},
		},
		Required:             []string{ConditionDateType},
		AdditionalProperties: closed(),
	},
}

// TriggerSchema returns the JSON Schema describing the conditions of a trigger type.
func TriggerSchema(triggerType TriggerType) (*JSONSchema, bool) {
	schema, ok := triggerSchemas[triggerType]

	return schema, ok
}

// ValidateConditions checks the trigger conditions against the schema of its type.
func (t WorkflowTrigger) ValidateConditions() error {
	schema, ok := TriggerSchema(t.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTriggerType, t.Type)
	}

	conditions := t.Conditions
	if conditions == nil {
		conditions = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(conditions),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidTriggerConfig, strings.Join(errs, "; "))
	}

	return nil
}
