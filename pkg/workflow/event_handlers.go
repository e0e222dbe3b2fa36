package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// EventHandlers keeps the contact store in sync with inbound domain events and forwards
// them to the trigger service. Store errors are returned so the bus redelivers the event.
type EventHandlers struct {
	contacts persistence.ContactRepository
	triggers *TriggerService
	engine   *Engine
	logger   *slog.Logger
}

func NewEventHandlers(store persistence.Persistence, triggers *TriggerService, engine *Engine, logger *slog.Logger) *EventHandlers {
	return &EventHandlers{
		contacts: store.ContactRepository(),
		triggers: triggers,
		engine:   engine,
		logger:   logger.With("module", "event_handlers"),
	}
}

// Register subscribes the handlers to every inbound domain event.
func (h *EventHandlers) Register(bus eventbus.EventSubscriber) error {
	err := eventbus.HandleAll(bus, eventbus.Handlers{
		events.ContactCreatedEvent:   h.handleContactCreated,
		events.ContactUpdatedEvent:   h.handleContactUpdated,
		events.ContactDeletedEvent:   h.handleContactDeleted,
		events.ContactTagAddedEvent:  h.handleContactTagAdded,
		events.FormSubmittedEvent:    h.handleFormSubmitted,
		events.DealStageChangedEvent: h.handleDealStageChanged,
	})
	if err != nil {
		return err
	}

	h.logger.Info("Event subscriptions configured successfully")

	return nil
}

func (h *EventHandlers) handleContactCreated(ctx context.Context, eventData any) error {
	event, ok := eventData.(*events.ContactCreated)
	if !ok {
		return fmt.Errorf("invalid event type for contact.created: %T", eventData)
	}

	contact, err := h.syncContact(ctx, &event.Contact)
	if err != nil {
		return h.retryable(ctx, err)
	}

	h.triggers.OnContactCreated(ctx, contact)

	return nil
}

func (h *EventHandlers) handleContactUpdated(ctx context.Context, eventData any) error {
	event, ok := eventData.(*events.ContactUpdated)
	if !ok {
		return fmt.Errorf("invalid event type for contact.updated: %T", eventData)
	}

	_, err := h.syncContact(ctx, &event.Contact)

	return h.retryable(ctx, err)
}

func (h *EventHandlers) handleContactDeleted(ctx context.Context, eventData any) error {
	event, ok := eventData.(*events.ContactDeleted)
	if !ok {
		return fmt.Errorf("invalid event type for contact.deleted: %T", eventData)
	}

	err := h.contacts.Delete(ctx, event.ContactID)
	if err != nil && !persistence.IsContactNotFound(err) {
		return fmt.Errorf("failed to delete contact %s: %w", event.ContactID, err)
	}

	cancelled, err := h.engine.CancelByContact(ctx, event.ContactID, cancelReasonContact)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to cancel executions of deleted contact", "contact_id", event.ContactID, "error", err)
	}

	h.logger.InfoContext(ctx, "Contact deleted", "contact_id", event.ContactID, "cancelled_executions", cancelled)

	return nil
}

func (h *EventHandlers) handleContactTagAdded(ctx context.Context, eventData any) error {
	event, ok := eventData.(*events.ContactTagAdded)
	if !ok {
		return fmt.Errorf("invalid event type for contact.tag_added: %T", eventData)
	}

	contact, err := h.patchContact(ctx, &event.Contact, func(c *models.Contact) {
		c.AddTag(event.Tag)
	})
	if err != nil {
		return h.retryable(ctx, err)
	}

	h.triggers.OnTagAdded(ctx, contact, event.Tag)

	return nil
}

func (h *EventHandlers) handleFormSubmitted(ctx context.Context, eventData any) error {
	event, ok := eventData.(*events.FormSubmitted)
	if !ok {
		return fmt.Errorf("invalid event type for form.submitted: %T", eventData)
	}

	contact, err := h.patchContact(ctx, &event.Contact, func(c *models.Contact) {
		for name, value := range event.Fields {
			c.SetField(name, value)
		}
	})
	if err != nil {
		return h.retryable(ctx, err)
	}

	h.triggers.OnFormSubmitted(ctx, contact, event.FormID)

	return nil
}

func (h *EventHandlers) handleDealStageChanged(ctx context.Context, eventData any) error {
	event, ok := eventData.(*events.DealStageChanged)
	if !ok {
		return fmt.Errorf("invalid event type for deal.stage_changed: %T", eventData)
	}

	contact, err := h.contacts.GetByID(ctx, event.ContactID)

	switch {
	case err == nil && contact.DealStage != event.NewStage:
		contact.DealStage = event.NewStage

		if err := h.contacts.Save(ctx, contact); err != nil {
			return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
		}
	case err != nil && !persistence.IsContactNotFound(err):
		return fmt.Errorf("failed to load contact %s: %w", event.ContactID, err)
	}

	h.triggers.OnDealStageChanged(ctx, event.ContactID, event.PreviousStage, event.NewStage)

	return nil
}

// retryable drops events that can never be applied and returns the rest for redelivery.
func (h *EventHandlers) retryable(ctx context.Context, err error) error {
	if errors.Is(err, persistence.ErrInvalidID) {
		h.logger.WarnContext(ctx, "Dropping event with invalid contact", "error", err)

		return nil
	}

	return err
}

// patchContact applies change to the stored contact and saves it. An unknown contact is
// created from the event payload with change applied.
func (h *EventHandlers) patchContact(ctx context.Context, payload *models.Contact, change func(*models.Contact)) (*models.Contact, error) {
	if payload.ID == "" {
		return nil, fmt.Errorf("%w: contact without id", persistence.ErrInvalidID)
	}

	stored, err := h.contacts.GetByID(ctx, payload.ID)

	switch {
	case persistence.IsContactNotFound(err):
		change(payload)

		return h.syncContact(ctx, payload)
	case err != nil:
		return nil, fmt.Errorf("failed to load contact %s: %w", payload.ID, err)
	}

	change(stored)

	if err := h.contacts.Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to save contact %s: %w", stored.ID, err)
	}

	return stored, nil
}

// syncContact upserts contact, keeping the stored creation time when the event omits it.
func (h *EventHandlers) syncContact(ctx context.Context, contact *models.Contact) (*models.Contact, error) {
	if contact.ID == "" {
		return nil, fmt.Errorf("%w: contact without id", persistence.ErrInvalidID)
	}

	if contact.CreatedAt.IsZero() {
		existing, err := h.contacts.GetByID(ctx, contact.ID)

		switch {
		case err == nil:
			contact.CreatedAt = existing.CreatedAt
		case !persistence.IsContactNotFound(err):
			return nil, fmt.Errorf("failed to load contact %s: %w", contact.ID, err)
		}
	}

	if err := h.contacts.Save(ctx, contact); err != nil {
		return nil, fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	return contact, nil
}
