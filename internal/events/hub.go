package events

import (
	"fmt"
	"sync"

	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/logging"
)

// Handler reacts to a published Event. A Handler must not block for long;
// it runs synchronously on the publisher's goroutine.
type Handler func(Event)

// ErrorSink receives the identity of a failing handler and what it did.
// The default sink logs through the package logger.
type ErrorSink func(handlerID string, evt Event, recovered any)

type subscription struct {
	id     string
	types  map[Type]struct{} // nil/empty means global
	handle Handler
}

// Hub is the daemon's event bus. Delivery is synchronous with respect to
// Publish; a handler that panics is isolated from the rest by a recover()
// around each invocation, so a panicking subscriber does not prevent the
// others from observing an event. Handlers run one after another, so a
// slow handler delays the ones after it and the publisher.
type Hub struct {
	mu        sync.RWMutex
	subs      []*subscription
	nextID    uint64
	errorSink ErrorSink
	log       *logging.Logger
}

// NewHub creates an empty Hub. If sink is nil, failures are logged via the
// default component logger and otherwise swallowed.
func NewHub(sink ErrorSink) *Hub {
	h := &Hub{
		log: logging.WithComponent("events"),
	}
	if sink != nil {
		h.errorSink = sink
	} else {
		h.errorSink = h.logFailure
	}
	return h
}

func (h *Hub) logFailure(handlerID string, evt Event, recovered any) {
	h.log.Error("event handler failed",
		"handler", handlerID,
		"event_type", string(evt.Type),
		"error", fmt.Sprintf("%v", recovered),
	)
}

// Subscribe registers handle for the given event types. With no types,
// handle receives every event. Returns an id usable with Unsubscribe.
func (h *Hub) Subscribe(handle Handler, types ...Type) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := fmt.Sprintf("sub-%d", h.nextID)

	var set map[Type]struct{}
	if len(types) > 0 {
		set = make(map[Type]struct{}, len(types))
		for _, t := range types {
			set[t] = struct{}{}
		}
	}

	h.subs = append(h.subs, &subscription{id: id, types: set, handle: handle})
	return id
}

// Unsubscribe removes a previously registered handler. Idempotent.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every matching subscriber in turn, on the
// calling goroutine. A panicking handler is recovered and reported to the
// error sink; remaining handlers still run.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = clock.Now().UTC()
	}

	h.mu.RLock()
	snapshot := make([]*subscription, len(h.subs))
	copy(snapshot, h.subs)
	h.mu.RUnlock()

	for _, s := range snapshot {
		if s.types != nil {
			if _, ok := s.types[evt.Type]; !ok {
				continue
			}
		}
		h.dispatch(s, evt)
	}
}

func (h *Hub) dispatch(s *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			h.errorSink(s.id, evt, r)
		}
	}()
	s.handle(evt)
}
