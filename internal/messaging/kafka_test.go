package messaging

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewKafkaClient(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())

	if client == nil {
		t.Fatal("NewKafkaClient returned nil")
	}
	if len(client.brokers) != 1 || client.brokers[0] != "localhost:9092" {
		t.Errorf("Expected brokers [localhost:9092], got %v", client.brokers)
	}
	if client.writers == nil {
		t.Error("Writers map should not be nil")
	}
	if client.readers == nil {
		t.Error("Readers map should not be nil")
	}
	if client.circuitBreaker == nil {
		t.Error("Circuit breaker should not be nil")
	}
}

func TestKafkaClient_GetProducer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())
	topic := TopicShareEvents

	producer1 := client.GetProducer(topic)
	if producer1 == nil {
		t.Fatal("GetProducer returned nil")
	}
	if producer1.Topic != topic {
		t.Errorf("Expected topic %s, got %s", topic, producer1.Topic)
	}

	// Second call should return the cached producer
	producer2 := client.GetProducer(topic)
	if producer1 != producer2 {
		t.Error("Expected same producer instance from cache")
	}
	if len(client.writers) != 1 {
		t.Errorf("Expected 1 writer in map, got %d", len(client.writers))
	}
}

func TestKafkaClient_GetConsumer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())
	topic := TopicBlockEvents
	groupID := "gojds-test"

	consumer1 := client.GetConsumer(topic, groupID)
	if consumer1 == nil {
		t.Fatal("GetConsumer returned nil")
	}

	consumer2 := client.GetConsumer(topic, groupID)
	if consumer1 != consumer2 {
		t.Error("Expected same consumer instance from cache")
	}

	// A different group gets its own reader
	consumer3 := client.GetConsumer(topic, "other-group")
	if consumer3 == consumer1 {
		t.Error("Different group must not share a reader")
	}
	if len(client.readers) != 2 {
		t.Errorf("Expected 2 readers in map, got %d", len(client.readers))
	}
}

func TestKafkaClient_Close(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())
	_ = client.GetProducer(TopicShareEvents)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if len(client.writers) != 0 {
		t.Errorf("Expected writers cleared after Close, got %d", len(client.writers))
	}
}
