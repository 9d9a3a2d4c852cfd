// Package shutdown provides the fan-out notification signal that coordinates
// hierarchical teardown across the gateway. Every subscriber receives every
// published message and independently decides relevance against its own
// connection status.
package shutdown

import (
	"log/slog"
	"sync"

	"github.com/bardlex/gojds/internal/status"
)

// Scope selects which connections a shutdown message applies to.
type Scope int

const (
	// ScopeAll terminates every connection and the process.
	ScopeAll Scope = iota
	// ScopeAllDownstreams terminates every downstream connection, leaving
	// upstream connections alive.
	ScopeAllDownstreams
	// ScopeDownstream terminates only the downstream with a matching id.
	ScopeDownstream
)

// String returns string representation of the scope
func (s Scope) String() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopeAllDownstreams:
		return "all_downstreams"
	case ScopeDownstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Message is a shutdown notification. Immutable and cheap to copy; broadcast
// to all subscribers.
type Message struct {
	Scope        Scope
	DownstreamID uint64
}

// All returns the process-wide shutdown message.
func All() Message {
	return Message{Scope: ScopeAll}
}

// AllDownstreams returns the downstream-wide shutdown message.
func AllDownstreams() Message {
	return Message{Scope: ScopeAllDownstreams}
}

// OneDownstream returns the shutdown message for a single downstream.
func OneDownstream(id uint64) Message {
	return Message{Scope: ScopeDownstream, DownstreamID: id}
}

// AppliesTo reports whether a subscriber with the given status must act on
// this message. The template receiver is explicitly exempt from
// downstream-scoped messages even if an identity scheme were ever to tag it
// with a downstream id, so the upstream connection cannot be torn down by a
// downstream-only event. The exemption is evaluated per message, against the
// status supplied at that moment.
func (m Message) AppliesTo(st status.StatusType) bool {
	switch m.Scope {
	case ScopeAll:
		return true
	case ScopeAllDownstreams:
		return st.IsDownstream() && !st.IsTemplateReceiver()
	case ScopeDownstream:
		return st.IsDownstream() && st.DownstreamID == m.DownstreamID &&
			!st.IsTemplateReceiver()
	default:
		return false
	}
}

// subscriptionBuf is the per-subscriber queue depth. Shutdown traffic is
// rare; the buffer only has to absorb bursts between two select iterations.
const subscriptionBuf = 8

// Signal fans shutdown messages out to every subscription. Publish never
// blocks: when a subscriber's queue is full the oldest queued message is
// dropped so the newest one always lands. A lagging subscriber can therefore
// miss an intermediate message but never the latest, which keeps ScopeAll
// effectively level-triggered.
type Signal struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewSignal creates the process-wide shutdown signal.
func NewSignal(logger *slog.Logger) *Signal {
	return &Signal{
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscription. The caller must Close it when the
// owning loop exits.
func (s *Signal) Subscribe() *Subscription {
	sub := &Subscription{
		signal: s,
		ch:     make(chan Message, subscriptionBuf),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Publish delivers the message to every current subscription.
func (s *Signal) Publish(msg Message) {
	s.mu.Lock()
	targets := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(msg, s.logger)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (s *Signal) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Signal) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Subscription is one subscriber's view of the shutdown signal.
type Subscription struct {
	signal    *Signal
	ch        chan Message
	closeOnce sync.Once
}

// C returns the channel shutdown messages arrive on.
func (sub *Subscription) C() <-chan Message {
	return sub.ch
}

// Close deregisters the subscription. Idempotent.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.signal.unsubscribe(sub)
	})
}

func (sub *Subscription) deliver(msg Message, logger *slog.Logger) {
	for {
		select {
		case sub.ch <- msg:
			return
		default:
		}
		// Queue full: evict the oldest message and retry, so the newest
		// one is never lost.
		select {
		case dropped := <-sub.ch:
			if logger != nil {
				logger.Warn("shutdown subscriber lagging, dropped message",
					"dropped_scope", dropped.Scope.String(),
				)
			}
		default:
		}
	}
}
