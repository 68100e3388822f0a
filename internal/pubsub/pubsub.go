package pubsub

import (
	"sync"
	"time"

	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
)

// Event types published after a tournament mutation commits
const (
	TournamentCreated  = "tournament:created"
	TournamentDeleted  = "tournament:deleted"
	PlayerRegistered   = "player:registered"
	PlayerUnregistered = "player:unregistered"
	PlayerMoved        = "player:moved"
	PlayerUpdated      = "player:updated"
	ChallengeCreated   = "challenge:created"
	ChallengeResolved  = "challenge:resolved"
	ChallengeCancelled = "challenge:cancelled"
	ChallengeForfeited = "challenge:forfeited"
	ChallengeExpired   = "challenge:expired"
	ResultConflict     = "result:conflict"
	SettingsUpdated    = "settings:updated"
)

// Event represents a pubsub event
type Event struct {
	Type       string         `json:"type"`
	Tournament string         `json:"tournament,omitempty"`
	Time       time.Time      `json:"time"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Publisher is the write side used by the engine
type Publisher interface {
	Publish(Event)
}

// Broker publishes events and hands them to local subscribers
type Broker interface {
	Publisher
	Subscribe() chan Event
	Unsubscribe(chan Event)
}

// Upstream is an interface for upstream publishers (e.g., NATS)
type Upstream interface {
	Publish(Event)
	Subscribe() chan Event
	Unsubscribe(chan Event)
}

// PubSub implements a simple publish-subscribe system
type PubSub struct {
	mu          sync.RWMutex
	subscribers []chan Event
	upstream    Upstream // optional, e.g. NATS
}

// New creates a new PubSub instance
func New() *PubSub {
	return &PubSub{
		subscribers: []chan Event{},
	}
}

// NewWithUpstream creates a PubSub that bridges to an upstream publisher.
// Publish goes to the upstream, which broadcasts to all instances; events
// coming back from the upstream are forwarded to local subscribers
func NewWithUpstream(upstream Upstream) *PubSub {
	ps := &PubSub{
		subscribers: []chan Event{},
		upstream:    upstream,
	}

	ch := upstream.Subscribe()
	go func() {
		for event := range ch {
			ps.publishLocal(event)
		}
		logger.Debug("PubSub: Upstream channel closed")
	}()

	return ps
}

// Subscribe adds a new subscriber and returns a channel for receiving events
func (ps *PubSub) Subscribe() chan Event {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ch := make(chan Event, 32)
	ps.subscribers = append(ps.subscribers, ch)
	logger.Debug("PubSub: New subscriber added", "totalSubscribers", len(ps.subscribers))
	return ch
}

// Unsubscribe removes a subscriber
func (ps *PubSub) Unsubscribe(ch chan Event) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for i, sub := range ps.subscribers {
		if sub == ch {
			close(ch)
			ps.subscribers = append(ps.subscribers[:i], ps.subscribers[i+1:]...)
			break
		}
	}
}

// Publish sends an event to all subscribers, through the upstream when one is configured
func (ps *PubSub) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if ps.upstream != nil {
		ps.upstream.Publish(event)
		return
	}
	ps.publishLocal(event)
}

// publishLocal sends an event to local subscribers only. Full subscribers miss
// the event. The read lock is held so Unsubscribe cannot close a channel mid-send
func (ps *PubSub) publishLocal(event Event) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, ch := range ps.subscribers {
		select {
		case ch <- event:
		default:
			logger.Warn("PubSub: Skipping slow subscriber", "type", event.Type)
		}
	}
}
