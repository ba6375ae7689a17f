// internal/feed/buffer.go
// Package feed holds the bounded, most-recent-first collection of alert
// events shared by every live-feed consumer.
package feed

import (
	"sync"

	"github.com/CivicGrid/civicgrid-report-go/internal/model"
)

// DefaultCapacity is the number of alerts retained by a fresh buffer.
const DefaultCapacity = 50

// Buffer is a bounded alert collection ordered newest first, backed by a
// fixed ring so a push is O(1). Insertion evicts the oldest entry once the
// buffer is at capacity; the length never exceeds the capacity. Safe for
// concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	events   []model.AlertEvent // ring storage, length == capacity
	next     int                // next write slot
	count    int
}

// NewBuffer creates a buffer retaining the given number of alerts.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		events:   make([]model.AlertEvent, capacity),
	}
}

// Push records an event as the newest entry, evicting the oldest at capacity.
func (b *Buffer) Push(ev model.AlertEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.next] = ev
	b.next = (b.next + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Snapshot returns a copy of the buffered events, newest first.
func (b *Buffer) Snapshot() []model.AlertEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.AlertEvent, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.events[(b.next-1-i+b.capacity)%b.capacity]
	}
	return out
}

// Len returns the current number of buffered events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Capacity returns the fixed buffer capacity.
func (b *Buffer) Capacity() int { return b.capacity }
