// Package observe provides a framework-independent state cell: one writer publishes
// whole values, any number of readers take snapshots or subscribe to changes.
package observe

import (
	"slices"
	"sync"
)

// Value is the read-only view of a Cell handed to readers.
type Value[T any] interface {
	// Get returns the current value.
	Get() T

	// Subscribe registers fn to be called with every value published after the call.
	// The returned function removes the subscription.
	Subscribe(fn func(T)) (cancel func())
}

// Cell holds a value and notifies subscribers whenever a new one is published.
// Notifications are delivered synchronously, in publish order, outside the value lock.
// A subscriber must not publish to the cell it is subscribed to.
type Cell[T any] struct {
	notifyMu sync.Mutex

	mu    sync.RWMutex
	value T
	// subs holds live subscriptions in subscription order.
	subs []subscription[T]
	next uint64
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// NewCell returns a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value and notifies subscribers.
func (c *Cell[T]) Set(v T) {
	c.Update(func(T) T { return v })
}

// Update replaces the value with fn(current) and notifies subscribers. fn runs under
// the cell's lock and must not touch the cell.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.value = fn(c.value)
	v := c.value
	subs := make([]func(T), 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub.fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	return v
}

// Subscribe implements Value.
func (c *Cell[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs = append(c.subs, subscription[T]{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			i := slices.IndexFunc(c.subs, func(s subscription[T]) bool { return s.id == id })
			if i >= 0 {
				c.subs = slices.Delete(c.subs, i, i+1)
			}
			c.mu.Unlock()
		})
	}
}
