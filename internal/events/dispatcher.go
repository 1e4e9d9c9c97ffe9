package events

import (
	"context"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Dispatcher receives emitted events. Implementations must be safe for
// concurrent use: offloaded tasks emit from their own goroutines.
type Dispatcher interface {
	Dispatch(ev Event)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ev Event)

// Dispatch calls f(ev).
func (f DispatcherFunc) Dispatch(ev Event) { f(ev) }

// Discard drops every event.
var Discard Dispatcher = DispatcherFunc(func(Event) {})

// OrDiscard returns d, or Discard when d is nil.
func OrDiscard(d Dispatcher) Dispatcher {
	if d == nil {
		return Discard
	}

	return d
}

// Handler consumes events delivered by a Bus.
type Handler func(ev Event)

type subscription struct {
	id      uint64
	handler Handler
}

// wildcard is the subscription key for handlers registered for every kind.
const wildcard Kind = "*"

// Bus fans events out to subscribers. Kind-specific handlers run before
// wildcard handlers, each group in registration order. A panicking handler
// is recovered and logged so the remaining handlers still run.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger discards panic reports.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Bus{
		subs:   make(map[Kind][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for one event kind and returns its ID.
func (b *Bus) Subscribe(kind Kind, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscription{id: b.nextID, handler: handler})

	return b.nextID
}

// SubscribeAll registers handler for every event kind.
func (b *Bus) SubscribeAll(handler Handler) uint64 {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription. Returns false if id is unknown.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, subs := range b.subs {
		for idx, sub := range subs {
			if sub.id == id {
				b.subs[kind] = append(subs[:idx:idx], subs[idx+1:]...)

				return true
			}
		}
	}

	return false
}

// Dispatch delivers ev to all matching subscribers.
func (b *Bus) Dispatch(ev Event) {
	b.mu.RLock()
	specific := append([]subscription(nil), b.subs[ev.Kind]...)
	all := append([]subscription(nil), b.subs[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, ev)
	}

	for _, sub := range all {
		b.safeCall(sub.handler, ev)
	}
}

func (b *Bus) safeCall(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("kind", string(ev.Kind)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	handler(ev)
}

// Recorder keeps every dispatched event in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Dispatch appends ev.
func (r *Recorder) Dispatch(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]Kind, len(r.events))
	for idx, ev := range r.events {
		kinds[idx] = ev.Kind
	}

	return kinds
}

// Count returns the number of recorded events of the given kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}

	return n
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}

// LogDispatcher writes every event to a structured logger at debug level.
type LogDispatcher struct {
	Logger *slog.Logger
}

// Dispatch logs ev.
func (l LogDispatcher) Dispatch(ev Event) {
	if l.Logger == nil {
		return
	}

	attrs := make([]slog.Attr, 0, len(ev.Payload))
	for key, val := range ev.Payload {
		attrs = append(attrs, slog.Any(key, val))
	}

	l.Logger.LogAttrs(context.Background(), slog.LevelDebug, "event: "+string(ev.Kind), attrs...)
}
