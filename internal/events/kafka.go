package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/taskmesh/engine/internal/config"
	"github.com/taskmesh/engine/internal/logger"
)

const defaultTopic = "engine.task-events"

// KafkaPublisher mirrors engine events to an external Kafka topic for
// consumers that want a durable, cross-process event log (dashboards,
// audit pipelines) in addition to the in-process EventBus.
type KafkaPublisher struct {
	writer *kafka.Writer
	reader *kafka.Reader
	log    *zap.Logger
}

// NewKafkaPublisher builds a KafkaPublisher mirroring onto topic (falling
// back to defaultTopic if empty). It requires ENGINE_KAFKA_BROKERS to be
// set in the environment.
func NewKafkaPublisher(topic string) (*KafkaPublisher, error) {
	if topic == "" {
		topic = defaultTopic
	}

	brokers := config.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("ENGINE_KAFKA_BROKERS environment variable not set")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "engine-scheduler-group",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  2 * time.Second,
	})

	return &KafkaPublisher{
		writer: writer,
		reader: reader,
		log:    logger.Logger.With(zap.String("component", "kafka-event-publisher")),
	}, nil
}

// Publish sends an event to the Kafka topic.
func (k *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		k.log.Error("failed to marshal event for kafka", zap.Error(err), zap.String("event_id", event.ID))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(event.ID),
			Value: eventBytes,
		},
	)
	if err != nil {
		k.log.Error("failed to write message to kafka", zap.Error(err))
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	k.log.Debug("published event to kafka", zap.String("event_type", string(event.Type)), zap.String("event_id", event.ID))
	return nil
}

// Subscribe listens for events of eventType on the Kafka topic and calls
// handler. Runs the listener in a background goroutine; unparseable
// messages are committed anyway to avoid a stuck consumer group.
func (k *KafkaPublisher) Subscribe(ctx context.Context, eventType EventType, handler Handler) error {
	k.log.Info("subscribing to event type", zap.String("event_type", string(eventType)))
	go func() {
		for {
			select {
			case <-ctx.Done():
				k.log.Info("subscription stopped", zap.String("event_type", string(eventType)))
				return
			default:
				msg, err := k.reader.FetchMessage(ctx)
				if err != nil {
					k.log.Warn("could not fetch message from kafka", zap.Error(err))
					continue
				}

				var event Event
				if err := json.Unmarshal(msg.Value, &event); err != nil {
					k.log.Error("failed to unmarshal event from kafka", zap.Error(err))
					k.reader.CommitMessages(ctx, msg)
					continue
				}

				if event.Type == eventType {
					if err := handler(ctx, event); err != nil {
						k.log.Error("handler failed for event", zap.Error(err), zap.String("event_id", event.ID))
					}
				}

				if err := k.reader.CommitMessages(ctx, msg); err != nil {
					k.log.Error("failed to commit message", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Close cleans up the Kafka writer and reader.
func (k *KafkaPublisher) Close() error {
	var firstErr error
	if err := k.writer.Close(); err != nil {
		k.log.Error("failed to close kafka writer", zap.Error(err))
		firstErr = err
	}
	if err := k.reader.Close(); err != nil {
		k.log.Error("failed to close kafka reader", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
