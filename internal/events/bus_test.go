package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_EmitReachesAllSubscribers(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	wg.Add(3)
	var count atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(func(e Event) {
			count.Add(1)
			wg.Done()
		})
	}

	bus.Emit(NewEvent(EntryAdded, "queue-1"))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}

	if got := count.Load(); got != 3 {
		t.Errorf("expected 3 handler invocations, got %d", got)
	}
}

func TestBus_EmitStampsTime(t *testing.T) {
	bus := NewBus(nil)

	got := make(chan Event, 1)
	bus.Subscribe(func(e Event) { got <- e })

	before := time.Now().UTC()
	bus.Emit(NewEvent(EntryAdded, "queue-1"))

	select {
	case e := <-got:
		if e.Time.Before(before.Add(-time.Second)) || e.Time.IsZero() {
			t.Errorf("expected emit to stamp time, got %v", e.Time)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func TestBus_PanickingHandlerDoesNotAffectOthers(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe(func(e Event) { panic("boom") })
	got := make(chan Event, 1)
	bus.Subscribe(func(e Event) { got <- e })

	bus.Emit(NewEvent(EntryAdded, "queue-1"))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy handler never ran")
	}
}

func TestBus_SlowHandlerDoesNotBlockEmit(t *testing.T) {
	bus := NewBus(nil)

	release := make(chan struct{})
	bus.Subscribe(func(e Event) { <-release })

	done := make(chan struct{})
	go func() {
		bus.Emit(NewEvent(EntryAdded, "queue-1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow handler")
	}
	close(release)
}

func TestBus_EmitWithNoSubscribers(t *testing.T) {
	bus := NewBus(nil)
	// Must not panic or block.
	bus.Emit(NewEvent(ProcessorStarted, ""))
}

func TestBus_ConcurrentSubscribeAndEmit(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe(func(Event) {})
		}()
		go func() {
			defer wg.Done()
			bus.Emit(NewEvent(EntryAdded, "queue-1"))
		}()
	}
	wg.Wait()
}
