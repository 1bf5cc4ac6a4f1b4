// Package session holds the current-user value and fans out changes to
// subscribers until the cell is closed.
package session

import (
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to a closed cell.
var ErrClosed = errors.New("session cell closed")

// Cell is a single-owner observable value. The zero value is not usable;
// call NewCell.
type Cell[T any] struct {
	mu     sync.RWMutex
	value  T
	set    bool
	subs   map[int]chan Update[T]
	nextID int
	closed bool
}

// Update is delivered to subscribers. Present is false after Clear.
type Update[T any] struct {
	Value   T
	Present bool
}

// NewCell returns an empty cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{subs: make(map[int]chan Update[T])}
}

// Set replaces the value and notifies subscribers.
func (c *Cell[T]) Set(v T) error {
	return c.publish(Update[T]{Value: v, Present: true})
}

// Clear drops the value, e.g. on sign-out.
func (c *Cell[T]) Clear() error {
	return c.publish(Update[T]{})
}

// Get returns the current value and whether one is set.
func (c *Cell[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Subscribe returns a channel that first receives the current state and then
// every change. Slow subscribers only ever see the latest update. The
// returned func unsubscribes and closes the channel.
func (c *Cell[T]) Subscribe() (<-chan Update[T], func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Update[T], 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- Update[T]{Value: c.value, Present: c.set}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close clears the value and closes every subscriber channel. Further
// publishes fail with ErrClosed.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	var zero T
	c.value, c.set = zero, false
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Cell[T]) publish(u Update[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.value, c.set = u.Value, u.Present
	for _, ch := range c.subs {
		// keep only the newest update for a subscriber that has not caught up
		select {
		case <-ch:
		default:
		}
		ch <- u
	}
	return nil
}
