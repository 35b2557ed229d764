package router

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives events published on a topic.
type Handler func(Event)

// Subscription identifies one registration. Handles are compared by
// pointer, so subscribing the same function twice yields two handles.
type Subscription struct {
	topic   Topic
	fn      Handler
	removed atomic.Bool
}

// Topic returns the topic the subscription was registered on.
func (s *Subscription) Topic() Topic { return s.topic }

// Router is a topic-keyed publish/subscribe registry.
type Router struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[Topic][]*Subscription

	published atomic.Int64
	delivered atomic.Int64
	unrouted  atomic.Int64
	panics    atomic.Int64
}

// New creates an empty Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger: logger.With("component", "router"),
		subs:   make(map[Topic][]*Subscription),
	}
}

// Subscribe registers fn for topic and returns its handle.
func (r *Router) Subscribe(topic Topic, fn Handler) *Subscription {
	sub := &Subscription{topic: topic, fn: fn}

	r.mu.Lock()
	r.subs[topic] = append(r.subs[topic], sub)
	r.mu.Unlock()

	return sub
}

// On subscribes a handler for the concrete event type E. Events of any
// other type published on the same topic are skipped.
func On[E Event](r *Router, fn func(E)) *Subscription {
	var zero E
	return r.Subscribe(zero.Topic(), func(evt Event) {
		if e, ok := evt.(E); ok {
			fn(e)
		}
	})
}

// Unsubscribe removes exactly the given registration. Returns false if it
// was already removed.
func (r *Router) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[sub.topic]
	for i, s := range list {
		if s != sub {
			continue
		}
		sub.removed.Store(true)
		// Copy on removal so in-progress deliveries keep their snapshot.
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, sub.topic)
		} else {
			r.subs[sub.topic] = next
		}
		return true
	}
	return false
}

// Publish delivers evt to every handler registered on its topic, in
// registration order, and returns the number of handlers that completed.
// A handler removed during delivery is not called once Unsubscribe has
// returned; one added during delivery first sees the next Publish.
func (r *Router) Publish(evt Event) int {
	if evt == nil {
		return 0
	}
	r.published.Add(1)

	r.mu.RLock()
	list := r.subs[evt.Topic()]
	r.mu.RUnlock()

	if len(list) == 0 {
		r.unrouted.Add(1)
		return 0
	}

	n := 0
	for _, sub := range list {
		if r.deliver(sub, evt) {
			n++
		}
	}
	r.delivered.Add(int64(n))
	return n
}

// deliver calls one handler, recovering a panic so the remaining
// subscribers still run.
func (r *Router) deliver(sub *Subscription, evt Event) (ok bool) {
	if sub.removed.Load() {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("subscriber panicked",
				"topic", sub.topic,
				"panic", rec,
			)
			ok = false
		}
	}()
	sub.fn(evt)
	return true
}

// Count returns the number of registrations on topic.
func (r *Router) Count(topic Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[topic])
}

// Stats returns router statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	subs := make(map[Topic]int, len(r.subs))
	for topic, list := range r.subs {
		subs[topic] = len(list)
	}
	r.mu.RUnlock()

	return Stats{
		Published:     r.published.Load(),
		Delivered:     r.delivered.Load(),
		Unrouted:      r.unrouted.Load(),
		HandlerPanics: r.panics.Load(),
		Subscriptions: subs,
	}
}
