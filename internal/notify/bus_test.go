package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// TestPublishSubscribe verifies events reach a registered subscriber.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := make(chan types.Event, 10)
	if err := bus.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(types.Event{Kind: types.EventStarted, SessionID: "s-1"})

	select {
	case ev := <-ch:
		if ev.Kind != types.EventStarted {
			t.Errorf("Expected %s, got %s", types.EventStarted, ev.Kind)
		}
		if ev.SessionID != "s-1" {
			t.Errorf("Expected session s-1, got %s", ev.SessionID)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

// TestNonBlockingPublish verifies Publish never blocks on a full
// subscriber.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := make(chan types.Event, 1)
	bus.Subscribe("slow", ch)

	done := make(chan struct{})
	go func() {
		bus.Publish(types.Event{Kind: types.EventFrame}) // fills the buffer
		bus.Publish(types.Event{Kind: types.EventFrame}) // must drop, not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	stats := bus.Stats()
	sub := stats.Subscribers["slow"]
	if sub.Sent != 1 {
		t.Errorf("Expected 1 sent, got %d", sub.Sent)
	}
	if sub.Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", sub.Dropped)
	}
}

// TestStatsConservation verifies sent+dropped accounts for every
// publish across subscribers.
func TestStatsConservation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe("wide", make(chan types.Event, 10))
	bus.Subscribe("narrow", make(chan types.Event, 1))

	for i := 0; i < 5; i++ {
		bus.Publish(types.Event{Kind: types.EventStats})
	}

	stats := bus.Stats()
	if stats.TotalPublished != 5 {
		t.Errorf("Expected 5 published, got %d", stats.TotalPublished)
	}

	expected := stats.TotalPublished * uint64(len(stats.Subscribers))
	if got := stats.TotalSent + stats.TotalDropped; got != expected {
		t.Errorf("Conservation violated: %d sent + %d dropped != %d published × %d subscribers",
			stats.TotalSent, stats.TotalDropped, stats.TotalPublished, len(stats.Subscribers))
	}

	if stats.Subscribers["wide"].Sent != 5 {
		t.Errorf("wide expected 5 sent, got %d", stats.Subscribers["wide"].Sent)
	}
	if stats.Subscribers["narrow"].Dropped != 4 {
		t.Errorf("narrow expected 4 dropped, got %d", stats.Subscribers["narrow"].Dropped)
	}
}

// TestSubscribeDuplicateID verifies duplicate registration is rejected.
func TestSubscribeDuplicateID(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	if err := bus.Subscribe("dup", make(chan types.Event, 1)); err != nil {
		t.Fatalf("First subscribe failed: %v", err)
	}
	if err := bus.Subscribe("dup", make(chan types.Event, 1)); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
}

// TestUnsubscribe verifies removed subscribers stop receiving.
func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := make(chan types.Event, 1)
	bus.Subscribe("test", ch)

	if err := bus.Unsubscribe("test"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := bus.Unsubscribe("test"); err != ErrSubscriberNotFound {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}

	bus.Publish(types.Event{Kind: types.EventError, Err: "boom"})

	select {
	case <-ch:
		t.Error("Received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestClosedBus verifies post-Close behavior: registration fails,
// publishing is swallowed, stats survive.
func TestClosedBus(t *testing.T) {
	bus := NewBus()

	ch := make(chan types.Event, 1)
	bus.Subscribe("test", ch)

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	if err := bus.Subscribe("new", make(chan types.Event, 1)); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}

	// A closed bus must not deliver, and must not panic either: the
	// capture worker publishes its stopped event during teardown.
	bus.Publish(types.Event{Kind: types.EventStopped})

	select {
	case <-ch:
		t.Error("Received event on closed bus")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestConcurrentPublish verifies thread safety under parallel publishers.
func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := make(chan types.Event, 1000)
	bus.Subscribe("test", ch)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(types.Event{Kind: types.EventFrame})
			}
		}()
	}
	wg.Wait()

	stats := bus.Stats()
	if stats.TotalPublished != 1000 {
		t.Errorf("Expected 1000 published, got %d", stats.TotalPublished)
	}
	sub := stats.Subscribers["test"]
	if sub.Sent+sub.Dropped != 1000 {
		t.Errorf("Expected 1000 sent+dropped, got %d", sub.Sent+sub.Dropped)
	}
}

// BenchmarkPublish measures fan-out cost with a handful of subscribers.
func BenchmarkPublish(b *testing.B) {
	bus := NewBus()
	defer bus.Close()

	for i := 0; i < 4; i++ {
		bus.Subscribe(string(rune('A'+i)), make(chan types.Event, 1000))
	}

	ev := types.Event{Kind: types.EventFrame, Frame: &types.Frame{Data: make([]byte, 100)}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(ev)
	}
}
