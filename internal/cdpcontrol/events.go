package cdpcontrol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const eventQueueSize = 256

// pageEvent is the payload scripts pass to the event binding.
type pageEvent struct {
	Kind   string  `json:"kind"`
	ID     string  `json:"id"`
	OK     bool    `json:"ok,omitempty"`
	From   float64 `json:"from,omitempty"`
	To     float64 `json:"to,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// eventRouter moves binding calls off the websocket read loop and delivers
// them, in arrival order, to the listener registered under the event id.
// Listeners may issue CDP calls.
type eventRouter struct {
	queue chan pageEvent
	done  chan struct{}
	seq   atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once

	mu        sync.Mutex
	sessionID string
	listeners map[string]func(pageEvent)

	dropped atomic.Int64
}

func newEventRouter(size int) *eventRouter {
	return &eventRouter{
		queue:     make(chan pageEvent, size),
		done:      make(chan struct{}),
		listeners: make(map[string]func(pageEvent)),
	}
}

func (r *eventRouter) start() {
	r.startOnce.Do(func() { go r.run() })
}

func (r *eventRouter) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *eventRouter) run() {
	for {
		select {
		case ev := <-r.queue:
			r.mu.Lock()
			fn := r.listeners[ev.ID]
			r.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		case <-r.done:
			return
		}
	}
}

// setSession limits delivery to events from the current page session.
func (r *eventRouter) setSession(sessionID string) {
	r.mu.Lock()
	r.sessionID = sessionID
	r.mu.Unlock()
}

// nextID returns a listener id unique for the client's lifetime.
func (r *eventRouter) nextID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, r.seq.Add(1))
}

func (r *eventRouter) listen(id string, fn func(pageEvent)) func() {
	r.mu.Lock()
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// enqueue never blocks; events are dropped when the queue is full.
func (r *eventRouter) enqueue(sessionID string, ev pageEvent) {
	r.mu.Lock()
	current := r.sessionID
	r.mu.Unlock()
	if current != "" && sessionID != current {
		return
	}
	select {
	case r.queue <- ev:
	default:
		n := r.dropped.Add(1)
		slog.Warn("cdpcontrol page event dropped", "kind", ev.Kind, "id", ev.ID, "dropped_total", n)
	}
}

// onBindingCalled runs on the read loop.
func (c *Client) onBindingCalled(sessionID string, params json.RawMessage) {
	var call struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(params, &call); err != nil || call.Name != bindingName {
		return
	}
	var ev pageEvent
	if err := json.Unmarshal([]byte(call.Payload), &ev); err != nil {
		slog.Debug("cdpcontrol invalid page event", "payload", call.Payload, "error", err)
		return
	}
	c.events.enqueue(sessionID, ev)
}
