package pubsub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
)

// DefaultStreamName is the JetStream stream holding ladder events
const DefaultStreamName = "LADDER_EVENTS"

// NATSPubSub implements pub/sub using NATS JetStream. Published events are
// persisted in the stream and fanned back out to local subscribers through a
// push subscription, so every instance sees every event exactly once
type NATSPubSub struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	sub         *nats.Subscription
	subject     string
	subscribers []chan Event
	mu          sync.RWMutex
}

// NewNATSPubSub connects to a NATS server and ensures the event stream exists
func NewNATSPubSub(natsURL, subject string) (*NATSPubSub, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ladder-bot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ps, err := newJetStreamPubSub(nc, subject, DefaultStreamName, nats.FileStorage, 0)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return ps, nil
}

func newJetStreamPubSub(nc *nats.Conn, subject, stream string, storage nats.StorageType, maxAge time.Duration) (*NATSPubSub, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{subject},
			Storage:  storage,
			MaxAge:   maxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		logger.Info("JetStream stream created", "stream", stream, "subject", subject)
	}

	ps := &NATSPubSub{
		nc:          nc,
		js:          js,
		subject:     subject,
		subscribers: make([]chan Event, 0),
	}

	ps.sub, err = js.Subscribe(subject, ps.deliver, nats.ManualAck(), nats.DeliverNew())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return ps, nil
}

func (p *NATSPubSub) deliver(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		logger.Error("Failed to unmarshal event from JetStream", "error", err)
		msg.Term()
		return
	}

	p.mu.RLock()
	for _, sub := range p.subscribers {
		select {
		case sub <- event:
		default:
			logger.Warn("NATS: Skipping slow subscriber", "event_type", event.Type)
		}
	}
	p.mu.RUnlock()

	msg.Ack()
}

// Publish publishes an event to NATS JetStream
func (p *NATSPubSub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return
	}

	if _, err := p.js.Publish(p.subject, data); err != nil {
		logger.Error("Failed to publish to NATS", "error", err, "subject", p.subject, "event_type", event.Type)
		return
	}
	logger.Debug("Published event to NATS", "event_type", event.Type, "subject", p.subject)
}

// Subscribe creates a subscription channel for events
func (p *NATSPubSub) Subscribe() chan Event {
	ch := make(chan Event, 100)

	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription channel
func (p *NATSPubSub) Unsubscribe(ch chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Connected reports whether the NATS connection is up
func (p *NATSPubSub) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close drains the subscription and closes the NATS connection
func (p *NATSPubSub) Close() {
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}

	p.mu.Lock()
	for _, sub := range p.subscribers {
		close(sub)
	}
	p.subscribers = nil
	p.mu.Unlock()

	if p.nc != nil {
		p.nc.Close()
	}
}
