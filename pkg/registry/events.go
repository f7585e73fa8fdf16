package registry

import "sync/atomic"

// EventKind names a registry change.
type EventKind string

const (
	ToolAdded     EventKind = "tool_added"
	ToolUpdated   EventKind = "tool_updated"
	ToolRemoved   EventKind = "tool_removed"
	SourceRemoved EventKind = "source_removed"
)

// Event describes one change. Name is the tool name, or the source id for
// SourceRemoved.
type Event struct {
	Kind EventKind
	Name string
}

// Subscription receives registry events on C until it is closed.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	closed atomic.Bool
}

// Close stops delivery. The channel is closed by the registry when it next
// publishes an event.
func (s *Subscription) Close() {
	s.closed.Store(true)
}

// Subscribe registers a listener with the given channel buffer. Delivery is
// non-blocking: events that don't fit in the buffer are dropped.
func (r *Registry) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch}
	r.subMu.Lock()
	r.subs = append(r.subs, sub)
	r.subMu.Unlock()
	return sub
}

func (r *Registry) notify(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	live := r.subs[:0]
	for _, sub := range r.subs {
		if sub.closed.Load() {
			close(sub.ch)
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			r.droppedEvents.Add(1)
		}
		live = append(live, sub)
	}
	clear(r.subs[len(live):])
	r.subs = live
}
