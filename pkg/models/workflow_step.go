package models

// StepType identifies the kind of unit of work a step performs.
type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeDelay     StepType = "delay"
	StepTypeCondition StepType = "condition"
)

// Channel is a messaging channel an action step sends through.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWebhook  Channel = "webhook"
	ChannelLog      Channel = "log"
)

// ContactOperationType is a non-messaging mutation an action step applies to its contact.
type ContactOperationType string

const (
	OperationAddTag        ContactOperationType = "add_tag"
	OperationRemoveTag     ContactOperationType = "remove_tag"
	OperationSetField      ContactOperationType = "set_field"
	OperationMoveDealStage ContactOperationType = "move_deal_stage"
)

// ConditionOperator compares a resolved field value with an expected value.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "eq"
	OperatorNotEquals   ConditionOperator = "neq"
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorExists      ConditionOperator = "exists"
	OperatorNotExists   ConditionOperator = "not_exists"
	OperatorGreaterThan ConditionOperator = "gt"
	OperatorGreaterOrEq ConditionOperator = "gte"
	OperatorLessThan    ConditionOperator = "lt"
	OperatorLessOrEq    ConditionOperator = "lte"
	OperatorIn          ConditionOperator = "in"
)

// Step is one node of the workflow graph. Exactly one of Action, Delay and Condition is set, matching Type.
type Step struct {
	ID        string           `json:"id"                  validate:"required"`
	Name      string           `json:"name,omitempty"`
	Type      StepType         `json:"type"                validate:"required,oneof=action delay condition"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	// Next is the step that follows an action or delay; empty ends the execution.
	Next string `json:"next,omitempty"`
}

// Successors returns the step ids this step can transition to.
func (s *Step) Successors() []string {
	var ids []string

	if s.Type == StepTypeCondition && s.Condition != nil {
		if s.Condition.TrueNext != "" {
			ids = append(ids, s.Condition.TrueNext)
		}

		if s.Condition.FalseNext != "" {
			ids = append(ids, s.Condition.FalseNext)
		}

		return ids
	}

	if s.Next != "" {
		ids = append(ids, s.Next)
	}

	return ids
}

// ActionConfig describes either a message send or a contact mutation.
type ActionConfig struct {
	Channel   Channel              `json:"channel,omitempty"`
	Operation ContactOperationType `json:"operation,omitempty"`

	// Messaging.
	Template string `json:"template,omitempty"`
	Subject  string `json:"subject,omitempty"`
	// Target names the contact field holding the recipient address (email, phone or a custom field).
	// Webhook actions use it as a templated URL.
	Target    string            `json:"target,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`

	// Contact mutation.
	Tag   string `json:"tag,omitempty"`
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// IsMessage reports whether the action sends through a channel.
func (a *ActionConfig) IsMessage() bool {
	return a.Channel != ""
}

// DelayConfig suspends an execution. With Field set the delay is relative to that contact time field.
type DelayConfig struct {
	Duration string `json:"duration"        validate:"required"`
	Field    string `json:"field,omitempty"`
}

// ConditionConfig is a side-effect free predicate branching to one of two steps.
// Either Expression (a template rendered to a truthy value) or Field/Operator is used.
type ConditionConfig struct {
	Field      string            `json:"field,omitempty"`
	Operator   ConditionOperator `json:"operator,omitempty"`
	Value      any               `json:"value,omitempty"`
	Expression string            `json:"expression,omitempty"`
	TrueNext   string            `json:"true_next,omitempty"`
	FalseNext  string            `json:"false_next,omitempty"`
}
