package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/drip/pkg/channels/gochannel"
	"github.com/dukex/drip/pkg/channels/kafka"
	"github.com/dukex/drip/pkg/eventbus"
)

// NewEventBus creates the event bus for provider. The gochannel bus only connects
// components running in the same process.
func NewEventBus(provider string, brokers string, serviceName string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, ParseBrokers(brokers), serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(brokers string) []string {
	var parsed []string

	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			parsed = append(parsed, broker)
		}
	}

	return parsed
}
