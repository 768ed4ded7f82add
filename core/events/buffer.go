package events

import "sync"

// Buffer retains the most recent events in a fixed-size ring so read-side
// consumers (RPC, indexers catching up) can replay recent activity.
type Buffer struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewBuffer constructs a ring buffer holding up to capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer{events: make([]Event, capacity)}
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[b.next] = evt
	b.next++
	if b.next == len(b.events) {
		b.next = 0
		b.full = true
	}
}

// Recent returns the buffered events from oldest to newest.
func (b *Buffer) Recent() []Event {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	if b.full {
		out = append(out, b.events[b.next:]...)
	}
	out = append(out, b.events[:b.next]...)
	return out
}

// Fanout forwards each event to every configured emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
