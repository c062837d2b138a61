package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventAll subscribes a handler to every event type.
const EventAll EventType = "*"

// EventBus is an asynchronous publish-subscribe hub. Sessions and the
// login client publish on it; the API, telemetry and history store listen.
//
// Every subscriber owns a FIFO queue drained by one goroutine, so a handler
// sees events in the order they were emitted and a slow handler never
// blocks the publisher or other handlers.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*subscriber
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type subscriber struct {
	name    string
	handler HandlerFunc

	mu     sync.Mutex
	queue  []delivery
	closed bool
	wake   chan struct{}
}

type delivery struct {
	ctx   context.Context
	event Event
	done  chan<- error
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]*subscriber),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type. The name identifies
// the handler in logs and in Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}
	sub := &subscriber{name: name, handler: handler, wake: make(chan struct{}, 1)}
	eb.handlers[eventType] = append(eb.handlers[eventType], sub)
	eb.wg.Add(1)
	go eb.drain(sub)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc) {
	eb.Subscribe(EventAll, name, handler)
}

// Unsubscribe removes a named handler from a specific event type. Events
// already queued for it are still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]*subscriber, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
			continue
		}
		h.close()
	}
	eb.handlers[eventType] = filtered

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// matching returns the handlers for t followed by the wildcard handlers.
// Callers hold mu.
func (eb *EventBus) matching(t EventType) []*subscriber {
	direct := eb.handlers[t]
	all := eb.handlers[EventAll]
	if len(all) == 0 {
		return direct
	}
	out := make([]*subscriber, 0, len(direct)+len(all))
	out = append(out, direct...)
	return append(out, all...)
}

// Emit queues an event for every subscribed handler and returns without
// waiting. Each handler receives events in emit order.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	handlers := eb.matching(event.Type)
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h.push(delivery{ctx: ctx, event: event})
	}
}

// EmitSync publishes an event and waits until every handler has run it.
// Returns the first error encountered, if any. It must not be called from
// inside a handler.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	handlers := eb.matching(event.Type)
	results := make(chan error, len(handlers))
	pushed := 0
	for _, h := range handlers {
		if h.push(delivery{ctx: ctx, event: event, done: results}) {
			pushed++
		}
	}
	eb.mu.RUnlock()

	var firstErr error
	for i := 0; i < pushed; i++ {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// push appends d to the queue; it reports false once the subscriber closed.
func (s *subscriber) push(d delivery) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, d)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain runs queued deliveries in order until the subscriber is closed and
// its queue is empty.
func (eb *EventBus) drain(s *subscriber) {
	defer eb.wg.Done()
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				break
			}
			d := s.queue[0]
			s.queue[0] = delivery{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			err := eb.run(d.ctx, s, d.event)
			if d.done != nil {
				d.done <- err
			}
		}
	}
}

func (eb *EventBus) run(ctx context.Context, h *subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop signals the EventBus to stop accepting new events and waits
// for every handler to finish its queued events.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for _, handlers := range eb.handlers {
		for _, h := range handlers {
			h.close()
		}
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Debug().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
