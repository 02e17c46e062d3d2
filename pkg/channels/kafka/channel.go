// Package kafka provides the Kafka transport for the event bus.
package kafka

import (
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/google/uuid"
)

var ErrNoBrokers = errors.New("kafka brokers are not configured")

// CreateChannel connects a publisher and a consumer-group subscriber. Every process
// sharing serviceName shares one consumer group, so each event is handled once.
func CreateChannel(logger watermill.LoggerAdapter, brokers []string, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers = compact(brokers)
	if len(brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	subscriber, err := newSubscriber(logger, brokers, SharedGroup(serviceName), sarama.OffsetOldest)
	if err != nil {
		return nil, nil, err
	}

	saramaPublisherConfig := sarama.NewConfig()
	saramaPublisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}

// CreateBroadcastSubscriber subscribes through a consumer group owned by this process
// alone, so every replica receives every event. It starts at the newest offset.
func CreateBroadcastSubscriber(logger watermill.LoggerAdapter, brokers []string, serviceName string) (*kafka.Subscriber, error) {
	brokers = compact(brokers)
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	return newSubscriber(logger, brokers, BroadcastGroup(serviceName), sarama.OffsetNewest)
}

// SharedGroup is the consumer group shared by the replicas of serviceName.
func SharedGroup(serviceName string) string {
	return "cg-" + serviceName
}

// BroadcastGroup returns a new consumer group name unique to the calling process.
func BroadcastGroup(serviceName string) string {
	return SharedGroup(serviceName) + "-" + uuid.NewString()
}

func newSubscriber(logger watermill.LoggerAdapter, brokers []string, group string, initialOffset int64) (*kafka.Subscriber, error) {
	saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaSubscriberConfig.Consumer.Offsets.Initial = initialOffset

	return kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaSubscriberConfig,
			ConsumerGroup:         group,
			OTELEnabled:           true,
		},
		logger,
	)
}

func compact(brokers []string) []string {
	result := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if broker != "" {
			result = append(result, broker)
		}
	}

	return result
}
