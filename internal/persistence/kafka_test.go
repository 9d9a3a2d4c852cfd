package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	topic string
	key   string
	data  []byte
}

func (f *fakePublisher) PublishJSON(_ context.Context, topic, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{topic: topic, key: key, data: data})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestKafkaBackend_PublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	backend := NewKafkaBackend(pub, "gateway.share_events", 10, quietLogger())
	defer backend.Shutdown()

	backend.PersistEvent(testEvent("miner1"))

	deadline := time.After(5 * time.Second)
	for pub.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("event was never published")
		case <-time.After(time.Millisecond):
		}
	}

	pub.mu.Lock()
	msg := pub.published[0]
	pub.mu.Unlock()

	if msg.topic != "gateway.share_events" {
		t.Errorf("published to topic %q", msg.topic)
	}
	if msg.key != "miner1" {
		t.Errorf("published with key %q, want miner1", msg.key)
	}

	var event ShareEvent
	if err := json.Unmarshal(msg.data, &event); err != nil {
		t.Fatalf("published payload is not valid JSON: %v", err)
	}
	if event.UserIdentity != "miner1" {
		t.Errorf("payload user = %q, want miner1", event.UserIdentity)
	}
}

func TestKafkaBackend_PublisherFailureIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	backend := NewKafkaBackend(pub, "gateway.share_events", 10, quietLogger())

	// Must not panic or block the caller.
	backend.PersistEvent(testEvent("miner1"))
	backend.Shutdown()
}

func TestKafkaBackend_ShutdownIsIdempotent(t *testing.T) {
	backend := NewKafkaBackend(&fakePublisher{}, "gateway.share_events", 10, quietLogger())
	backend.Shutdown()
	backend.Shutdown()
}
