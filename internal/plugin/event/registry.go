package event

import (
	"sort"
	"sync"
)

// Registry is an ordered multimap from event name to handler names.
// Handlers are stored by name and resolved when an event is dispatched.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]string)}
}

// On appends handler to the list for event. It reports false if the pair
// is already registered.
func (r *Registry) On(event, handler string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers[event] {
		if h == handler {
			return false
		}
	}
	r.handlers[event] = append(r.handlers[event], handler)
	return true
}

// Off removes handler from event. It reports whether the pair existed.
func (r *Registry) Off(event, handler string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, h := range list {
		if h != handler {
			continue
		}
		next := make([]string, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, event)
		} else {
			r.handlers[event] = next
		}
		return true
	}
	return false
}

// Handlers returns a copy of the handler names for event in registration order.
func (r *Registry) Handlers(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.handlers[event]
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Events returns the events that have at least one handler, sorted.
func (r *Registry) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of registrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}
