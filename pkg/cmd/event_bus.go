package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowgate/pkg/channels/gochannel"
	"github.com/dukex/flowgate/pkg/channels/kafka"
	"github.com/dukex/flowgate/pkg/eventbus"
)

const (
	EventBusMemory = "memory"
	EventBusKafka  = "kafka"
)

// NewEventBus creates the event bus for provider. Processes sharing serviceName on
// Kafka share one consumer group, so each event reaches one of them.
func NewEventBus(provider string, logger *slog.Logger, brokers []string, serviceName string) (*eventbus.WatermillEventBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case EventBusMemory, "":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, err
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case EventBusKafka:
		pub, sub, err := kafka.CreateChannel(adapter, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}

// NewChangesSubscriber returns the bus on which this process follows workflow changes.
// Every replica must see every change, so on Kafka it gets a consumer group of its own.
// The in-process bus already reaches every handler and is returned as is.
func NewChangesSubscriber(provider string, logger *slog.Logger, brokers []string, serviceName string, bus *eventbus.WatermillEventBus) (*eventbus.WatermillEventBus, error) {
	switch provider {
	case EventBusKafka:
		sub, err := kafka.CreateBroadcastSubscriber(watermill.NewSlogLogger(logger), brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka changes subscriber: %w", err)
		}

		return eventbus.NewWatermillSubscriber(logger, sub), nil
	default:
		return bus, nil
	}
}
