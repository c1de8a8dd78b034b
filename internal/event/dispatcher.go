package event

import (
	"log"
	"sync"
)

// Handler consumes one event. Handlers run on the dispatching goroutine;
// long work should be moved off of it by the handler itself.
type Handler func(Event)

// Dispatcher fans events out to per-kind subscribers in registration order.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Kind][]subscription
}

type subscription struct {
	id      int
	handler Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind][]subscription)}
}

// Subscribe registers a handler for one event kind and returns a function
// that removes it. Unsubscribing twice is harmless.
func (d *Dispatcher) Subscribe(kind Kind, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	d.mu.Lock()
	d.nextID++
	subID := d.nextID
	d.handlers[kind] = append(d.handlers[kind], subscription{id: subID, handler: handler})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.handlers[kind]
		for i, sub := range subs {
			if sub.id == subID {
				d.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers the event to every subscriber of its kind, in the order
// they subscribed. A panicking handler is logged and does not stop delivery
// to the rest.
func (d *Dispatcher) Dispatch(evt Event) {
	if evt == nil {
		return
	}

	d.mu.Lock()
	subs := make([]subscription, len(d.handlers[evt.Kind()]))
	copy(subs, d.handlers[evt.Kind()])
	d.mu.Unlock()

	for _, sub := range subs {
		deliver(sub.handler, evt)
	}
}

func deliver(handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler panic on %s: %v", evt.Kind(), r)
		}
	}()
	handler(evt)
}
