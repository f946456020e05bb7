package mqtt

import "sync"

// MessageHandler is called for each message received on a matching filter.
//
// Returned errors and panics are caught by the dispatcher and reported as
// error events; they never affect other handlers or the connection.
// A handler may Publish but must hand Subscribe and Unsubscribe calls to
// another goroutine.
type MessageHandler func(topic string, payload []byte) error

// Subscription is one desired subscription: a filter, its requested QoS and
// the handler that receives matching messages.
type Subscription struct {
	Filter  string
	QoS     byte
	Handler MessageHandler
}

// Registry is the set of desired subscriptions keyed by topic filter.
//
// It is the source of truth that survives reconnects: entries are only
// removed by Remove, never by transport failures. Iteration follows
// insertion order; replacing an existing filter keeps its position.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Subscription
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Subscription)}
}

// Put inserts or replaces the subscription for sub.Filter.
// It reports whether an existing entry was replaced.
func (r *Registry) Put(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.entries[sub.Filter]
	if !exists {
		r.order = append(r.order, sub.Filter)
	}
	r.entries[sub.Filter] = sub
	return exists
}

// Remove deletes the entry for filter and reports whether it existed.
func (r *Registry) Remove(filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[filter]; !exists {
		return false
	}
	delete(r.entries, filter)
	for i, f := range r.order {
		if f == filter {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the entry for filter.
func (r *Registry) Get(filter string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.entries[filter]
	return sub, ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of all entries in insertion order.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscription, 0, len(r.order))
	for _, f := range r.order {
		subs = append(subs, r.entries[f])
	}
	return subs
}

// Match returns every entry whose filter matches topic, in insertion order.
func (r *Registry) Match(topic string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []Subscription
	for _, f := range r.order {
		if MatchTopic(f, topic) {
			subs = append(subs, r.entries[f])
		}
	}
	return subs
}
