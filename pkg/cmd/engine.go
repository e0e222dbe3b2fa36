package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// NewDispatcher routes message channels to their senders. Email, SMS and WhatsApp are
// handed to external senders through the event bus.
func NewDispatcher(store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger, webhookTimeout time.Duration) *dispatcher.Router {
	mutator := dispatcher.NewContactMutator(store.ContactRepository(), publisher, logger)

	return dispatcher.NewRouter(mutator).
		Register(dispatcher.NewEventBusSender(publisher), models.ChannelEmail, models.ChannelSMS, models.ChannelWhatsApp).
		Register(dispatcher.NewWebhookSender(logger, dispatcher.WithTimeout(webhookTimeout)), models.ChannelWebhook).
		Register(dispatcher.NewLogSender(logger), models.ChannelLog)
}

// NewEngine builds the workflow engine publishing lifecycle events to bus.
// A nil tracer keeps the global tracer.
func NewEngine(store persistence.Persistence, bus eventbus.EventPublisher, tracer trace.Tracer, logger *slog.Logger, webhookTimeout time.Duration) *workflow.Engine {
	opts := []workflow.EngineOption{workflow.WithPublisher(bus)}
	if tracer != nil {
		opts = append(opts, workflow.WithTracer(tracer))
	}

	return workflow.NewEngine(store, NewDispatcher(store, bus, logger, webhookTimeout), logger, opts...)
}
