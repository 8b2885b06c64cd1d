// Package hub implements synchronous, ordered observer fan-out.
package hub

import (
	"sort"
	"sync"

	"github.com/srg/posdev/internal/ringchan"
)

// Hub delivers published values to registered observers.
//
// Publish calls observers synchronously on the publishing goroutine, in
// registration order, so a single publisher's events are seen by every
// observer in the order they were published. Observers must not block for
// long; use Channel for slow consumers.
type Hub[E any] struct {
	mu        sync.RWMutex
	observers map[uint64]func(E)
	next      uint64
}

// New creates an empty Hub.
func New[E any]() *Hub[E] {
	return &Hub[E]{observers: make(map[uint64]func(E))}
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.observers[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.observers, id)
			h.mu.Unlock()
		})
	}
}

// Channel subscribes a bounded ring channel. Values are never blocked on; when
// the consumer falls behind the oldest buffered values are overwritten.
// The returned function unsubscribes and closes the channel.
func (h *Hub[E]) Channel(capacity int) (*ringchan.RingChannel[E], func()) {
	rc := ringchan.New[E](capacity)
	unsubscribe := h.Subscribe(func(e E) { rc.Send(e) })
	return rc, func() {
		unsubscribe()
		rc.Close()
	}
}

// Publish delivers e to every observer registered at the time of the call.
func (h *Hub[E]) Publish(e E) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	fns := make(map[uint64]func(E), len(ids))
	for _, id := range ids {
		fns[id] = h.observers[id]
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns[id](e)
	}
}

// Len returns the number of registered observers.
func (h *Hub[E]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}
