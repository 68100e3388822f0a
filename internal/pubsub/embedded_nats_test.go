package pubsub

import (
	"sync"
	"testing"
	"time"
)

func startEmbedded(t *testing.T) *EmbeddedNATSPubSub {
	t.Helper()
	ps, err := NewEmbeddedNATSPubSub(DefaultEmbeddedNATSOptions())
	if err != nil {
		t.Fatalf("Failed to create embedded NATS: %v", err)
	}
	return ps
}

func TestDefaultEmbeddedNATSOptions(t *testing.T) {
	opts := DefaultEmbeddedNATSOptions()
	if opts.Port != -1 {
		t.Errorf("expected random port -1, got %d", opts.Port)
	}
	if opts.Subject != "ladder.events" || opts.StreamName != DefaultStreamName {
		t.Errorf("unexpected defaults %+v", opts)
	}
}

func TestEmbeddedNATSStarts(t *testing.T) {
	ps := startEmbedded(t)
	defer ps.Close()

	if ps.GetServerURL() == "" {
		t.Error("server URL should not be empty")
	}
	if !ps.Connected() {
		t.Error("client should be connected to the embedded server")
	}
}

func TestEmbeddedNATSPublishAndReceive(t *testing.T) {
	ps := startEmbedded(t)
	defer ps.Close()

	ch := ps.Subscribe()
	ps.Publish(Event{
		Type:       ChallengeResolved,
		Tournament: "general/Ladder1v1",
		Payload:    map[string]any{"winner": "bob", "position": 1.0},
	})

	select {
	case ev := <-ch:
		if ev.Type != ChallengeResolved || ev.Tournament != "general/Ladder1v1" {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Payload["winner"] != "bob" || ev.Payload["position"] != 1.0 {
			t.Errorf("payload mismatch: %v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEmbeddedNATSConcurrentPublish(t *testing.T) {
	ps := startEmbedded(t)
	defer ps.Close()

	ch := ps.Subscribe()
	const publishers, perPublisher = 5, 10

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				ps.Publish(Event{Type: PlayerRegistered, Payload: map[string]any{"publisher": id, "seq": j}})
			}
		}(i)
	}
	wg.Wait()

	received := 0
	timeout := time.After(5 * time.Second)
	for received < publishers*perPublisher {
		select {
		case <-ch:
			received++
		case <-timeout:
			t.Fatalf("received %d/%d events before timeout", received, publishers*perPublisher)
		}
	}
}

func TestEmbeddedNATSUnsubscribeAndClose(t *testing.T) {
	ps := startEmbedded(t)

	a := ps.Subscribe()
	b := ps.Subscribe()
	ps.Unsubscribe(a)
	if ps.GetSubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", ps.GetSubscriberCount())
	}
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel should be closed")
	}

	ps.Close()
	if _, ok := <-b; ok {
		t.Error("Close should close remaining subscriber channels")
	}
}

func TestEmbeddedNATSBridgesIntoPubSub(t *testing.T) {
	nats := startEmbedded(t)
	defer nats.Close()

	ps := NewWithUpstream(nats)
	ch := ps.Subscribe()

	ps.Publish(Event{Type: TournamentCreated, Tournament: "general/Ladder1v1"})

	select {
	case ev := <-ch:
		if ev.Type != TournamentCreated {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bridged event")
	}
}
