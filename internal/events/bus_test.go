package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitReachesTypedAndWildcardHandlers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	typed := make(chan Event, 1)
	all := make(chan Event, 2)
	bus.Subscribe(EventChat, "typed", func(ctx context.Context, e Event) error {
		typed <- e
		return nil
	})
	bus.SubscribeAll("all", func(ctx context.Context, e Event) error {
		all <- e
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventChat, Source: "test"})
	bus.Emit(context.Background(), Event{Type: EventPing, Source: "test"})

	select {
	case e := <-typed:
		if e.Type != EventChat {
			t.Fatalf("typed handler got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("typed handler not called")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("wildcard handler got %d of 2 events", i)
		}
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	var calls atomic.Int32
	bus.Subscribe(EventSessionError, "fails", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return boom
	})
	bus.Subscribe(EventSessionError, "panics", func(ctx context.Context, e Event) error {
		calls.Add(1)
		panic("handler bug")
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventSessionError})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	bus.Subscribe(EventPing, "counter", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	if bus.HandlerCount(EventPing) != 1 {
		t.Fatalf("handler count = %d", bus.HandlerCount(EventPing))
	}
	bus.Unsubscribe(EventPing, "counter")
	bus.EmitSync(context.Background(), Event{Type: EventPing})
	if calls.Load() != 0 {
		t.Fatal("unsubscribed handler called")
	}

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
}

func TestEmitKeepsOrderPerHandler(t *testing.T) {
	bus := NewEventBus()

	const n = 200
	fast := make(chan int, n)
	slow := make(chan int, n)
	bus.SubscribeAll("fast", func(ctx context.Context, e Event) error {
		fast <- e.Payload.(int)
		return nil
	})
	bus.Subscribe(EventChat, "slow", func(ctx context.Context, e Event) error {
		if e.Payload.(int)%50 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		slow <- e.Payload.(int)
		return nil
	})

	for i := 0; i < n; i++ {
		bus.Emit(context.Background(), Event{Type: EventChat, Payload: i})
	}
	bus.Stop()

	for name, ch := range map[string]chan int{"fast": fast, "slow": slow} {
		close(ch)
		want := 0
		for got := range ch {
			if got != want {
				t.Fatalf("%s handler got event %d, want %d", name, got, want)
			}
			want++
		}
		if want != n {
			t.Fatalf("%s handler saw %d events, want %d", name, want, n)
		}
	}
}

func TestStopDeliversQueuedEvents(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	release := make(chan struct{})
	bus.Subscribe(EventPing, "blocked", func(ctx context.Context, e Event) error {
		<-release
		calls.Add(1)
		return nil
	})
	for i := 0; i < 3; i++ {
		bus.Emit(context.Background(), Event{Type: EventPing})
	}
	close(release)
	bus.Stop()

	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	bus.Emit(context.Background(), Event{Type: EventPing})
	if calls.Load() != 3 {
		t.Fatal("handler ran after Stop")
	}
}
