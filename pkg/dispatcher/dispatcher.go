// Package dispatcher delivers action steps: messages go to a channel sender, contact
// operations go to a contact mutator. The engine only sees success or failure.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/drip/pkg/models"
)

var (
	ErrUnsupportedChannel   = errors.New("unsupported channel")
	ErrUnsupportedOperation = errors.New("unsupported contact operation")
	ErrDeliveryFailed       = errors.New("delivery failed")
)

// Message is a fully rendered message ready for a channel.
type Message struct {
	ExecutionID string            `json:"execution_id"`
	WorkflowID  string            `json:"workflow_id"`
	ContactID   string            `json:"contact_id"`
	StepID      string            `json:"step_id"`
	Channel     models.Channel    `json:"channel"`
	Target      string            `json:"target"`
	Subject     string            `json:"subject,omitempty"`
	Template    string            `json:"template"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// ContactOperation is a rendered non-messaging action.
type ContactOperation struct {
	Type  models.ContactOperationType `json:"type"`
	Tag   string                      `json:"tag,omitempty"`
	Field string                      `json:"field,omitempty"`
	Value string                      `json:"value,omitempty"`
	Stage string                      `json:"stage,omitempty"`
}

// Dispatcher is what the workflow engine consumes.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
	MutateContact(ctx context.Context, contactID string, op ContactOperation) error
}

// Sender delivers messages of one or more channels.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Mutator applies contact operations.
type Mutator interface {
	MutateContact(ctx context.Context, contactID string, op ContactOperation) error
}

// Router routes messages by channel and contact operations to a Mutator.
type Router struct {
	senders map[models.Channel]Sender
	mutator Mutator
}

var _ Dispatcher = (*Router)(nil)

func NewRouter(mutator Mutator) *Router {
	return &Router{
		senders: make(map[models.Channel]Sender),
		mutator: mutator,
	}
}

// Register sets the sender of the given channels, replacing any previous one.
func (r *Router) Register(sender Sender, channels ...models.Channel) *Router {
	for _, channel := range channels {
		r.senders[channel] = sender
	}

	return r
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	sender, ok := r.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}

	return sender.Send(ctx, msg)
}

func (r *Router) MutateContact(ctx context.Context, contactID string, op ContactOperation) error {
	if r.mutator == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedOperation, op.Type)
	}

	return r.mutator.MutateContact(ctx, contactID, op)
}
