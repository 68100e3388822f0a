package mocks

import (
	"sync"

	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
)

// MockNATSPubSub provides an in-memory stand-in for NATS/JetStream. It keeps
// every published event so callers can inspect what went out
type MockNATSPubSub struct {
	*pubsub.PubSub

	mu     sync.Mutex
	events []pubsub.Event
}

// NewMockNATSPubSub creates a mock NATS pub/sub using the in-memory implementation
func NewMockNATSPubSub() *MockNATSPubSub {
	logger.Info("Using MOCK NATS/JetStream (in-memory pub/sub)")

	return &MockNATSPubSub{
		PubSub: pubsub.New(),
	}
}

// Publish records the event and delivers it to local subscribers
func (m *MockNATSPubSub) Publish(event pubsub.Event) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	m.PubSub.Publish(event)
}

// Events returns the published events of the given types, or all when none are given
func (m *MockNATSPubSub) Events(types ...string) []pubsub.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []pubsub.Event{}
	for _, ev := range m.events {
		if len(types) == 0 {
			out = append(out, ev)
			continue
		}
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Close is a no-op for mock
func (m *MockNATSPubSub) Close() {}
