// Package control provides Control, an observable value with a registry of
// change callbacks.
package control

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Callback receives the new value after an Update.
type Callback[T any] func(T)

// Control holds a value and notifies registered callbacks when it is
// updated. Callbacks are keyed by identifier; registering an identifier
// again replaces its callback and keeps its place in the invocation order.
type Control[T any] struct {
	mu        sync.Mutex
	value     T
	order     []string
	callbacks map[string]Callback[T]
}

// New creates a Control holding initial.
func New[T any](initial T) *Control[T] {
	return &Control[T]{
		value:     initial,
		callbacks: make(map[string]Callback[T]),
	}
}

// Register stores fn under id, replacing any callback already there.
func (c *Control[T]) Register(id string, fn Callback[T]) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callbacks == nil {
		c.callbacks = make(map[string]Callback[T])
	}
	if _, ok := c.callbacks[id]; !ok {
		c.order = append(c.order, id)
	}
	c.callbacks[id] = fn
}

// Subscribe registers fn under a fresh identifier and returns it.
func (c *Control[T]) Subscribe(fn Callback[T]) string {
	id := uuid.NewString()
	c.Register(id, fn)
	return id
}

// Unregister removes the callback for id. Unknown ids are ignored.
func (c *Control[T]) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.callbacks[id]; !ok {
		return
	}
	delete(c.callbacks, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Registered reports whether id has a callback.
func (c *Control[T]) Registered(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.callbacks[id]
	return ok
}

// Len returns the number of registered callbacks.
func (c *Control[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Value returns the current value.
func (c *Control[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Update stores v and then calls every registered callback with it, in
// registration order. Callbacks run without the lock held, so they may
// register, unregister or read the control. A panicking callback does not
// stop the others; its panic is returned as part of the joined error.
func (c *Control[T]) Update(v T) error {
	c.mu.Lock()
	c.value = v
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	fns := make([]Callback[T], len(ids))
	for i, id := range ids {
		fns[i] = c.callbacks[id]
	}
	c.mu.Unlock()

	var errs []error
	for i, fn := range fns {
		if err := invoke(ids[i], fn, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invoke[T any](id string, fn Callback[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{ID: id, Panic: r}
		}
	}()
	fn(v)
	return nil
}

// CallbackError reports a callback that panicked during Update.
type CallbackError struct {
	ID    string
	Panic any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("control callback %q panicked: %v", e.ID, e.Panic)
}
