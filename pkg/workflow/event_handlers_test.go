package workflow

import (
	"testing"
	"time"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/mocks"
	"github.com/dukex/drip/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newHandlers(f *fixture) *EventHandlers {
	return NewEventHandlers(f.store, f.triggers, f.engine, testLogger())
}

func TestEventHandlers_Register(t *testing.T) {
	f := newFixture(t)
	bus := &mocks.MockEventBus{}

	for _, eventType := range []events.EventType{
		events.ContactCreatedEvent,
		events.ContactUpdatedEvent,
		events.ContactDeletedEvent,
		events.ContactTagAddedEvent,
		events.FormSubmittedEvent,
		events.DealStageChangedEvent,
	} {
		bus.On("Handle", eventType, mock.Anything).Return(nil).Once()
	}

	require.NoError(t, newHandlers(f).Register(bus))
	bus.AssertExpectations(t)
}

func TestEventHandlers_ContactCreatedStoresAndTriggers(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, welcomeSeries())
	h := newHandlers(f)

	err := h.handleContactCreated(t.Context(), &events.ContactCreated{
		BaseEvent: events.NewBaseEvent(events.ContactCreatedEvent, ""),
		Contact:   models.Contact{ID: "ana", Email: "ana@example.com"},
	})
	require.NoError(t, err)

	stored, err := f.store.ContactRepository().GetByID(t.Context(), "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", stored.Email)
	assert.Equal(t, []string{"welcome"}, f.dispatcher.templates())
}

func TestEventHandlers_ContactWithoutIDIsDropped(t *testing.T) {
	f := newFixture(t)
	h := newHandlers(f)

	err := h.handleContactCreated(t.Context(), &events.ContactCreated{Contact: models.Contact{Email: "ana@example.com"}})
	assert.NoError(t, err)
	assert.Empty(t, f.dispatcher.templates())
}

func TestEventHandlers_WrongPayloadType(t *testing.T) {
	f := newFixture(t)
	h := newHandlers(f)

	var handler eventbus.EventHandler = h.handleContactUpdated

	assert.Error(t, handler(t.Context(), &events.ContactDeleted{ContactID: "ana"}))
}

func TestEventHandlers_ContactUpdatedKeepsCreationTime(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2020, time.May, 4, 0, 0, 0, 0, time.UTC)
	f.saveContact(t, &models.Contact{ID: "ana", Email: "old@example.com", CreatedAt: created})
	h := newHandlers(f)

	err := h.handleContactUpdated(t.Context(), &events.ContactUpdated{Contact: models.Contact{ID: "ana", Email: "new@example.com"}})
	require.NoError(t, err)

	stored, err := f.store.ContactRepository().GetByID(t.Context(), "ana")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", stored.Email)
	assert.True(t, stored.CreatedAt.Equal(created))
}

func TestEventHandlers_TagAdded(t *testing.T) {
	f := newFixture(t)
	workflow := workflowWithTrigger("vip", models.TriggerTypeTagAdded, map[string]any{"tag": "vip"})
	workflow.Steps = []*models.Step{sendEmail("a", "vip", "")}
	f.saveWorkflow(t, workflow)
	h := newHandlers(f)

	err := h.handleContactTagAdded(t.Context(), &events.ContactTagAdded{
		Contact: models.Contact{ID: "ana", Email: "ana@example.com"},
		Tag:     "vip",
	})
	require.NoError(t, err)

	stored, err := f.store.ContactRepository().GetByID(t.Context(), "ana")
	require.NoError(t, err)
	assert.True(t, stored.HasTag("vip"))
	assert.Equal(t, []string{"vip"}, f.dispatcher.templates())
}

func TestEventHandlers_TagAddedKeepsStoredContact(t *testing.T) {
	f := newFixture(t)
	workflow := workflowWithTrigger("vip", models.TriggerTypeTagAdded, map[string]any{"tag": "vip"})
	workflow.Steps = []*models.Step{sendEmail("a", "vip", "")}
	f.saveWorkflow(t, workflow)
	f.saveContact(t, &models.Contact{
		ID:           "ana",
		Email:        "ana@example.com",
		Tags:         []string{"customer"},
		CustomFields: map[string]any{"plan": "pro"},
	})
	h := newHandlers(f)

	err := h.handleContactTagAdded(t.Context(), &events.ContactTagAdded{
		Contact: models.Contact{ID: "ana"},
		Tag:     "vip",
	})
	require.NoError(t, err)

	stored, err := f.store.ContactRepository().GetByID(t.Context(), "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", stored.Email)
	assert.Equal(t, []string{"customer", "vip"}, stored.Tags)
	assert.Equal(t, "pro", stored.CustomFields["plan"])

	executions := f.executionsOf(t, "vip")
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)
	assert.Equal(t, "ana@example.com", f.dispatcher.sent[0].Target)
}

func TestEventHandlers_FormSubmittedKeepsStoredContact(t *testing.T) {
	f := newFixture(t)
	f.saveContact(t, &models.Contact{ID: "ana", Email: "ana@example.com", Tags: []string{"customer"}})
	h := newHandlers(f)

	err := h.handleFormSubmitted(t.Context(), &events.FormSubmitted{
		Contact: models.Contact{ID: "ana"},
		FormID:  "demo",
		Fields:  map[string]any{"company": "Acme"},
	})
	require.NoError(t, err)

	stored, err := f.store.ContactRepository().GetByID(t.Context(), "ana")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", stored.Email)
	assert.Equal(t, []string{"customer"}, stored.Tags)
	assert.Equal(t, "Acme", stored.CustomFields["company"])
}

func TestEventHandlers_FormSubmittedCopiesFields(t *testing.T) {
	f := newFixture(t)
	workflow := workflowWithTrigger("demo", models.TriggerTypeFormSubmitted, map[string]any{"formId": "demo"})
	workflow.Steps = []*models.Step{sendEmail("a", "thanks {{ .contact.custom_fields.company }}", "")}
	f.saveWorkflow(t, workflow)
	h := newHandlers(f)

	err := h.handleFormSubmitted(t.Context(), &events.FormSubmitted{
		Contact: models.Contact{ID: "ana", Email: "ana@example.com"},
		FormID:  "demo",
		Fields:  map[string]any{"company": "Acme", "first_name": "Ana"},
	})
	require.NoError(t, err)

	stored, err := f.store.ContactRepository().GetByID(t.Context(), "ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana", stored.FirstName)
	assert.Equal(t, "Acme", stored.CustomFields["company"])
	assert.Equal(t, []string{"thanks Acme"}, f.dispatcher.templates())
}

func TestEventHandlers_DealStageChangedUpdatesContact(t *testing.T) {
	f := newFixture(t)
	workflow := workflowWithTrigger("won", models.TriggerTypeDealStageChanged, map[string]any{"toStage": "won"})
	workflow.Steps = []*models.Step{sendEmail("a", "congrats", "")}
	f.saveWorkflow(t, workflow)
	f.saveContact(t, &models.Contact{ID: "ana", Email: "ana@example.com", DealStage: "proposal"})
	h := newHandlers(f)

	err := h.handleDealStageChanged(t.Context(), &events.DealStageChanged{ContactID: "ana", PreviousStage: "proposal", NewStage: "won"})
	require.NoError(t, err)

	stored, err := f.store.ContactRepository().GetByID(t.Context(), "ana")
	require.NoError(t, err)
	assert.Equal(t, "won", stored.DealStage)
	assert.Equal(t, []string{"congrats"}, f.dispatcher.templates())

	err = h.handleDealStageChanged(t.Context(), &events.DealStageChanged{ContactID: "ghost", PreviousStage: "lead", NewStage: "won"})
	require.NoError(t, err)
	assert.Equal(t, []string{"congrats"}, f.dispatcher.templates())
}

func TestEventHandlers_ContactDeletedCancelsExecutions(t *testing.T) {
	f := newFixture(t)
	workflow := f.saveWorkflow(t, welcomeSeries())
	contact := f.saveContact(t, &models.Contact{ID: "ana", Email: "ana@example.com"})

	execution, err := f.engine.Start(t.Context(), workflow, contact, Trigger{Type: models.TriggerTypeContactCreated})
	require.NoError(t, err)

	h := newHandlers(f)
	require.NoError(t, h.handleContactDeleted(t.Context(), &events.ContactDeleted{ContactID: "ana"}))

	stored := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Equal(t, "contact deleted", stored.CancelReason)

	_, err = f.store.ContactRepository().GetByID(t.Context(), "ana")
	assert.Error(t, err)

	// deleting twice is harmless
	require.NoError(t, h.handleContactDeleted(t.Context(), &events.ContactDeleted{ContactID: "ana"}))
}
