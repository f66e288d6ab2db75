// Package observable provides a small publish/subscribe value holder used to
// expose the current state of caches and table controllers to their consumers.
package observable

import (
	"sort"
	"sync"
)

// Value holds a value of type T and notifies subscribers when it is set.
// All methods are safe for concurrent use. Callbacks run on the goroutine
// that called Set, outside the internal lock, in subscription order.
type Value[T any] struct {
	mu     sync.Mutex
	v      T
	equal  func(a, b T) bool
	subs   map[int]func(T)
	nextID int
}

// New returns a Value that notifies on every Set.
func New[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, subs: make(map[int]func(T))}
}

// NewComparable returns a Value that only notifies when the new value differs.
func NewComparable[T comparable](initial T) *Value[T] {
	v := New(initial)
	v.equal = func(a, b T) bool { return a == b }
	return v
}

// Get returns the current value.
func (o *Value[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.v
}

// Set stores v and notifies subscribers. It reports whether subscribers were notified.
func (o *Value[T]) Set(v T) bool {
	o.mu.Lock()
	if o.equal != nil && o.equal(o.v, v) {
		o.mu.Unlock()
		return false
	}
	o.v = v
	subs := o.snapshot()
	o.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	return true
}

// Subscribe registers fn for future changes and returns a function that
// removes the subscription. When immediate is true, fn is also called once
// with the current value before Subscribe returns.
func (o *Value[T]) Subscribe(fn func(T), immediate bool) (cancel func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	current := o.v
	o.mu.Unlock()

	if immediate {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

// snapshot returns the subscribers in registration order. Caller holds o.mu.
func (o *Value[T]) snapshot() []func(T) {
	ids := make([]int, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(T), len(ids))
	for i, id := range ids {
		subs[i] = o.subs[id]
	}
	return subs
}
