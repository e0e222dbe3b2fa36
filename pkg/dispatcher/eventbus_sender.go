package dispatcher

import (
	"context"
	"fmt"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
)

// EventBusSender hands messages to external channel providers as message.requested events.
type EventBusSender struct {
	publisher eventbus.EventPublisher
}

func NewEventBusSender(publisher eventbus.EventPublisher) *EventBusSender {
	return &EventBusSender{publisher: publisher}
}

func (s *EventBusSender) Send(ctx context.Context, msg Message) error {
	event := events.MessageRequested{
		BaseEvent:   events.NewBaseEvent(events.MessageRequestedEvent, msg.WorkflowID),
		ExecutionID: msg.ExecutionID,
		ContactID:   msg.ContactID,
		StepID:      msg.StepID,
		Channel:     msg.Channel,
		Target:      msg.Target,
		Subject:     msg.Subject,
		Body:        msg.Template,
		Variables:   msg.Variables,
	}

	if err := s.publisher.Publish(ctx, msg.ContactID, event); err != nil {
		return fmt.Errorf("%w: publish %s message: %w", ErrDeliveryFailed, msg.Channel, err)
	}

	return nil
}
