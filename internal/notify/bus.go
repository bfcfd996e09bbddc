// Package notify provides the in-process notification bus: named events
// fanned out to subscribers with best-effort, non-blocking delivery.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// EventName identifies an event's payload shape.
type EventName string

// Core event names.
const (
	// EventBatchStarted is published when a batch transitions to Running.
	EventBatchStarted EventName = "batch.processing.started"
	// EventBatchCompleted is published when a batch reaches a terminal state.
	EventBatchCompleted EventName = "batch.processing.completed"
	// EventTaskCompleted is published when a task completes successfully.
	EventTaskCompleted EventName = "task.completed"
	// EventTaskFailed is published when a task fails.
	EventTaskFailed EventName = "task.failed"
)

// Event is one notification. Data's shape is fixed by the event name.
type Event struct {
	Name EventName
	Time time.Time
	Data any
}

// Handler consumes events for one subscription. Handlers run on a dedicated
// goroutine per subscription; a slow or panicking handler never affects the
// publisher or other subscribers.
type Handler func(Event)

// defaultBufferSize is the per-subscriber delivery channel capacity.
const defaultBufferSize = 64

// Bus is a by-name publish/subscribe fan-out. Publishing never blocks; events
// past a subscriber's buffer are dropped with a log line.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventName][]*subscription
	logger *slog.Logger
	closed bool
}

type subscription struct {
	events chan Event
	done   chan struct{}
}

// NewBus creates a notification bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		subs:   make(map[EventName][]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event name and returns a cancel
// function. Delivery order is preserved per subscription.
func (b *Bus) Subscribe(name EventName, handler Handler) (cancel func()) {
	sub := &subscription{
		events: make(chan Event, defaultBufferSize),
		done:   make(chan struct{}),
	}

	go b.deliver(sub, handler)

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], sub)
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			b.remove(name, sub)
			close(sub.done)
		})
	}
}

func (b *Bus) deliver(sub *subscription, handler Handler) {
	for {
		select {
		case ev := <-sub.events:
			b.invoke(handler, ev)
		case <-sub.done:
			// Drain anything already queued before exiting.
			for {
				select {
				case ev := <-sub.events:
					b.invoke(handler, ev)
				default:
					return
				}
			}
		}
	}
}

// invoke runs the handler with panic isolation.
func (b *Bus) invoke(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked", "event", string(ev.Name), "panic", r)
		}
	}()

	handler(ev)
}

func (b *Bus) remove(name EventName, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.subs[name]
	for i, s := range current {
		if s == sub {
			b.subs[name] = append(current[:i:i], current[i+1:]...)

			break
		}
	}
}

// Publish fans the event out to all subscribers of its name. The timestamp is
// stamped here when unset. Publish never blocks.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	targets := b.subs[ev.Name]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	for _, sub := range targets {
		select {
		case sub.events <- ev:
		default:
			b.logger.Warn("notification dropped, subscriber buffer full", "event", string(ev.Name))
		}
	}
}

// Close stops accepting publishes. Existing subscriptions keep draining what
// they already received.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
