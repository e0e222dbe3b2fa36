package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// ContactMutator applies contact operations to the contact store. With a publisher it
// announces tag additions and deal stage moves so other workflows can react.
type ContactMutator struct {
	contacts  persistence.ContactRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

var _ Mutator = (*ContactMutator)(nil)

func NewContactMutator(contacts persistence.ContactRepository, publisher eventbus.EventPublisher, logger *slog.Logger) *ContactMutator {
	return &ContactMutator{
		contacts:  contacts,
		publisher: publisher,
		logger:    logger.With("module", "contact_mutator"),
	}
}

func (m *ContactMutator) MutateContact(ctx context.Context, contactID string, op ContactOperation) error {
	contact, err := m.contacts.GetByID(ctx, contactID)
	if err != nil {
		return err
	}

	var announce eventbus.Event

	switch op.Type {
	case models.OperationAddTag:
		if contact.AddTag(op.Tag) {
			announce = events.ContactTagAdded{
				BaseEvent: events.NewBaseEvent(events.ContactTagAddedEvent, ""),
				Contact:   *contact,
				Tag:       op.Tag,
			}
		}
	case models.OperationRemoveTag:
		contact.RemoveTag(op.Tag)
	case models.OperationSetField:
		contact.SetField(op.Field, op.Value)
	case models.OperationMoveDealStage:
		previous := contact.DealStage
		contact.DealStage = op.Stage

		if previous != op.Stage {
			announce = events.DealStageChanged{
				BaseEvent:     events.NewBaseEvent(events.DealStageChangedEvent, ""),
				ContactID:     contact.ID,
				PreviousStage: previous,
				NewStage:      op.Stage,
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOperation, op.Type)
	}

	if err := m.contacts.Save(ctx, contact); err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contactID, err)
	}

	if announce != nil && m.publisher != nil {
		if err := m.publisher.Publish(ctx, contact.ID, announce); err != nil {
			m.logger.ErrorContext(ctx, "Failed to publish contact event", "contact_id", contact.ID, "event_type", announce.GetType(), "error", err)
		}
	}

	return nil
}
