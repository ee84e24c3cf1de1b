// Package pubsub provides the small observer primitives the dashboard state
// is built on: a multicast Subject and a current-value-holding Value. Delivery
// is synchronous with emission and FIFO per producer; there is no buffering.
package pubsub

import "sync"

// Subject is a typed multicast event stream. Every subscriber registered at
// the moment of emission receives the value, in registration order, on the
// emitting goroutine.
type Subject[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
	ids  []int
}

// NewSubject creates an empty Subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns a cancel function that unregisters it.
func (s *Subject[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.ids = append(s.ids, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; !ok {
			return
		}
		delete(s.subs, id)
		for i, v := range s.ids {
			if v == id {
				s.ids = append(s.ids[:i], s.ids[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers v to all current subscribers before returning.
func (s *Subject[T]) Emit(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.ids))
	for _, id := range s.ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may emit or subscribe.
	for _, fn := range fns {
		fn(v)
	}
}

// Value holds a current value and notifies subscribers of every replacement.
// New subscribers are immediately called with the current value.
type Value[T any] struct {
	mu      sync.RWMutex
	current T
	subject *Subject[T]
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial, subject: NewSubject[T]()}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the current value and notifies all subscribers.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.current = val
	v.mu.Unlock()
	v.subject.Emit(val)
}

// Subscribe registers fn, calls it once with the current value, and returns
// a cancel function.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	cancel := v.subject.Subscribe(fn)
	fn(v.Get())
	return cancel
}
