package outbox

import (
	"fmt"
	"sort"
)

// Registry maps event types to their ordered handler lists. It is built once
// at boot and immutable afterwards, so concurrent reads need no locking.
type Registry struct {
	handlers map[string][]Handler
}

// NewRegistry builds the registry from the given handlers. Handlers for one
// event type are sorted by Priority (lower first); ties break on Name to
// keep dispatch order deterministic.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	byType := make(map[string][]Handler)
	seen := make(map[string]bool)

	for _, h := range handlers {
		if h.Name() == "" {
			return nil, fmt.Errorf("handler with empty name")
		}
		if seen[h.Name()] {
			return nil, fmt.Errorf("duplicate handler name %q", h.Name())
		}
		seen[h.Name()] = true

		for _, t := range h.SupportedEventTypes() {
			byType[t] = append(byType[t], h)
		}
	}

	for _, hs := range byType {
		sort.SliceStable(hs, func(i, j int) bool {
			if hs[i].Priority() != hs[j].Priority() {
				return hs[i].Priority() < hs[j].Priority()
			}
			return hs[i].Name() < hs[j].Name()
		})
	}

	return &Registry{handlers: byType}, nil
}

// HandlersFor returns the ordered handler list for an event type. The
// returned slice must not be modified.
func (r *Registry) HandlersFor(eventType string) []Handler {
	return r.handlers[eventType]
}

// EventTypes returns every event type with at least one handler.
func (r *Registry) EventTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
