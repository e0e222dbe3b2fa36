// Package events defines the domain events consumed by the workflow engine and the
// execution lifecycle events it emits.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every drip event.
const Topic = "drip.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

var ErrUnknownEventType = errors.New("unknown event type")

const (
	// Inbound domain events.
	ContactCreatedEvent   EventType = "contact.created"
	ContactUpdatedEvent   EventType = "contact.updated"
	ContactDeletedEvent   EventType = "contact.deleted"
	ContactTagAddedEvent  EventType = "contact.tag_added"
	FormSubmittedEvent    EventType = "form.submitted"
	DealStageChangedEvent EventType = "deal.stage_changed"

	// Outbound message requests for channels delivered by external senders.
	MessageRequestedEvent EventType = "message.requested"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Domain events

type ContactCreated struct {
	BaseEvent

	Contact models.Contact `json:"contact"`
}

func (e ContactCreated) GetType() EventType {
	return ContactCreatedEvent
}

type ContactUpdated struct {
	BaseEvent

	Contact models.Contact `json:"contact"`
}

func (e ContactUpdated) GetType() EventType {
	return ContactUpdatedEvent
}

type ContactDeleted struct {
	BaseEvent

	ContactID string `json:"contact_id"`
}

func (e ContactDeleted) GetType() EventType {
	return ContactDeletedEvent
}

type ContactTagAdded struct {
	BaseEvent

	Contact models.Contact `json:"contact"`
	Tag     string         `json:"tag"`
}

func (e ContactTagAdded) GetType() EventType {
	return ContactTagAddedEvent
}

type FormSubmitted struct {
	BaseEvent

	Contact models.Contact `json:"contact"`
	FormID  string         `json:"form_id"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e FormSubmitted) GetType() EventType {
	return FormSubmittedEvent
}

type DealStageChanged struct {
	BaseEvent

	ContactID     string `json:"contact_id"`
	PreviousStage string `json:"previous_stage"`
	NewStage      string `json:"new_stage"`
}

func (e DealStageChanged) GetType() EventType {
	return DealStageChangedEvent
}

// MessageRequested asks an external sender to deliver a rendered message.
type MessageRequested struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	ContactID   string            `json:"contact_id"`
	StepID      string            `json:"step_id"`
	Channel     models.Channel    `json:"channel"`
	Target      string            `json:"target"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body"`
	Variables   map[string]string `json:"variables,omitempty"`
}

func (e MessageRequested) GetType() EventType {
	return MessageRequestedEvent
}

// Execution lifecycle events

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	ContactID   string             `json:"contact_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	ContactID   string    `json:"contact_id"`
	StepID      string    `json:"step_id"`
	ResumeAt    time.Time `json:"resume_at"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	StepID      string `json:"step_id"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	StepID      string `json:"step_id"`
	Error       string `json:"error"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	StepID      string `json:"step_id"`
	Reason      string `json:"reason"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// New returns a pointer to an empty event of the given type, ready for decoding.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case ContactCreatedEvent:
		return &ContactCreated{}, true
	case ContactUpdatedEvent:
		return &ContactUpdated{}, true
	case ContactDeletedEvent:
		return &ContactDeleted{}, true
	case ContactTagAddedEvent:
		return &ContactTagAdded{}, true
	case FormSubmittedEvent:
		return &FormSubmitted{}, true
	case DealStageChangedEvent:
		return &DealStageChanged{}, true
	case MessageRequestedEvent:
		return &MessageRequested{}, true
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionWaitingEvent:
		return &ExecutionWaiting{}, true
	case ExecutionResumedEvent:
		return &ExecutionResumed{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{}, true
	default:
		return nil, false
	}
}

// Decode unmarshals payload into the event type named by eventType.
func Decode(eventType EventType, payload []byte) (any, error) {
	event, ok := New(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}

// IsDomainEvent reports whether eventType is accepted from outside the engine.
func IsDomainEvent(eventType EventType) bool {
	switch eventType {
	case ContactCreatedEvent, ContactUpdatedEvent, ContactDeletedEvent,
		ContactTagAddedEvent, FormSubmittedEvent, DealStageChangedEvent:
		return true
	default:
		return false
	}
}

// Stamp fills the envelope fields an external producer may leave out and returns the event ID.
func (b *BaseEvent) Stamp(eventType EventType, id string, now time.Time) string {
	b.Type = eventType

	if b.ID == "" {
		b.ID = id
	}

	if b.Timestamp.IsZero() {
		b.Timestamp = now.UTC()
	}

	return b.ID
}

// ContactKey returns the contact a domain event concerns. Publishing with it keeps one
// contact's events on one partition.
func ContactKey(event any) string {
	switch e := event.(type) {
	case *ContactCreated:
		return e.Contact.ID
	case *ContactUpdated:
		return e.Contact.ID
	case *ContactDeleted:
		return e.ContactID
	case *ContactTagAdded:
		return e.Contact.ID
	case *FormSubmitted:
		return e.Contact.ID
	case *DealStageChanged:
		return e.ContactID
	default:
		return ""
	}
}
