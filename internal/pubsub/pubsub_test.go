package pubsub

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, ch chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	ps := New()

	a := ps.Subscribe()
	b := ps.Subscribe()
	c := ps.Subscribe()
	ps.Unsubscribe(b)

	ps.mu.RLock()
	if len(ps.subscribers) != 2 || ps.subscribers[0] != a || ps.subscribers[1] != c {
		t.Errorf("unexpected subscribers after removing the middle one: %v", ps.subscribers)
	}
	ps.mu.RUnlock()

	if _, ok := <-b; ok {
		t.Error("unsubscribed channel should be closed")
	}

	// never subscribed: must not panic or close
	stray := make(chan Event, 1)
	ps.Unsubscribe(stray)
	stray <- Event{Type: PlayerMoved}
}

func TestPublishStampsTime(t *testing.T) {
	ps := New()
	ch := ps.Subscribe()

	ps.Publish(Event{Type: ChallengeCreated, Tournament: "general/Ladder1v1"})

	ev := receive(t, ch, 100*time.Millisecond)
	if ev.Type != ChallengeCreated || ev.Tournament != "general/Ladder1v1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Time.IsZero() {
		t.Error("Publish should stamp the event time")
	}
}

func TestPublishFansOut(t *testing.T) {
	ps := New()
	subs := []chan Event{ps.Subscribe(), ps.Subscribe(), ps.Subscribe()}

	ps.Publish(Event{Type: ChallengeResolved, Payload: map[string]any{"winner": "bob"}})

	for i, ch := range subs {
		ev := receive(t, ch, 100*time.Millisecond)
		if ev.Payload["winner"] != "bob" {
			t.Errorf("subscriber %d got %+v", i, ev)
		}
	}
}

func TestPublishDropsWhenChannelFull(t *testing.T) {
	ps := New()
	ch := ps.Subscribe()

	for i := 0; i < cap(ch)+5; i++ {
		ps.Publish(Event{Type: PlayerRegistered})
	}

	if len(ch) != cap(ch) {
		t.Errorf("expected a full buffer of %d, got %d", cap(ch), len(ch))
	}
}

func TestConcurrentSubscribeUnsubscribePublish(t *testing.T) {
	ps := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch := ps.Subscribe()
			time.Sleep(time.Millisecond)
			ps.Unsubscribe(ch)
		}()
		go func() {
			defer wg.Done()
			ps.Publish(Event{Type: PlayerMoved})
		}()
	}
	wg.Wait()

	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if len(ps.subscribers) != 0 {
		t.Errorf("expected 0 subscribers, got %d", len(ps.subscribers))
	}
}

// fakeUpstream stands in for NATS: everything published is echoed back to
// its subscribers, as JetStream does for every instance
type fakeUpstream struct {
	mu          sync.Mutex
	published   []Event
	subscribers []chan Event
}

func (f *fakeUpstream) Publish(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	for _, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (f *fakeUpstream) Subscribe() chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Event, 100)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

func (f *fakeUpstream) Unsubscribe(ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, sub := range f.subscribers {
		if sub == ch {
			close(ch)
			f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
			return
		}
	}
}

func (f *fakeUpstream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestPublishGoesThroughUpstream(t *testing.T) {
	up := &fakeUpstream{}
	ps := NewWithUpstream(up)
	ch := ps.Subscribe()

	ps.Publish(Event{Type: ResultConflict, Payload: map[string]any{"challenge": "c1"}})

	ev := receive(t, ch, 200*time.Millisecond)
	if ev.Type != ResultConflict || ev.Payload["challenge"] != "c1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if up.count() != 1 {
		t.Errorf("upstream received %d events, want 1", up.count())
	}

	// no local echo besides the upstream round trip
	select {
	case extra := <-ch:
		t.Errorf("event delivered twice: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUpstreamEventsReachLocalSubscribers(t *testing.T) {
	up := &fakeUpstream{}
	ps := NewWithUpstream(up)
	a, b := ps.Subscribe(), ps.Subscribe()

	// another instance publishing
	up.Publish(Event{Type: TournamentDeleted})

	for _, ch := range []chan Event{a, b} {
		if ev := receive(t, ch, 200*time.Millisecond); ev.Type != TournamentDeleted {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}
