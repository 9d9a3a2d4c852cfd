package persistence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// JSONPublisher is the slice of the messaging client the Kafka backend
// needs. Satisfied by *messaging.KafkaClient.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, data []byte) error
}

// KafkaBackend publishes share events as JSON to a Kafka topic. Publishing
// happens on a background worker fed by a bounded channel; a full channel
// drops the event with an error log so the hot path never blocks on the
// broker.
type KafkaBackend struct {
	publisher JSONPublisher
	topic     string
	logger    *slog.Logger
	events    chan ShareEvent
	quit      chan struct{}
	quitOnce  sync.Once
}

// NewKafkaBackend starts the publishing worker.
func NewKafkaBackend(publisher JSONPublisher, topic string, bufferSize int, logger *slog.Logger) *KafkaBackend {
	b := &KafkaBackend{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		events:    make(chan ShareEvent, bufferSize),
		quit:      make(chan struct{}),
	}

	go b.workerLoop()

	logger.Info("initialized kafka persistence backend", "topic", topic)
	return b
}

func (b *KafkaBackend) workerLoop() {
	for {
		select {
		case event := <-b.events:
			b.publishEvent(event)
		case <-b.quit:
			// Drain queued events before stopping.
			for {
				select {
				case event := <-b.events:
					b.publishEvent(event)
				default:
					b.logger.Info("kafka persistence worker shutdown complete")
					return
				}
			}
		}
	}
}

func (b *KafkaBackend) publishEvent(event ShareEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal share event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.publisher.PublishJSON(ctx, b.topic, event.UserIdentity, data); err != nil {
		b.logger.Error("failed to publish share event",
			"topic", b.topic,
			"user_identity", event.UserIdentity,
			"error", err,
		)
	}
}

// PersistEvent queues the event for publishing; drops it if the queue is full.
func (b *KafkaBackend) PersistEvent(event ShareEvent) {
	select {
	case b.events <- event:
	default:
		b.logger.Error("kafka persistence queue full, dropping share event",
			"user_identity", event.UserIdentity)
	}
}

// Flush is a no-op; the worker publishes as fast as the broker allows.
func (b *KafkaBackend) Flush() {}

// Shutdown asks the worker to drain and stop. Idempotent.
func (b *KafkaBackend) Shutdown() {
	b.quitOnce.Do(func() {
		close(b.quit)
	})
}
