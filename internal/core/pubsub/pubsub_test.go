package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject_EmitDeliversInOrder(t *testing.T) {
	s := NewSubject[int]()

	var got []int
	s.Subscribe(func(v int) { got = append(got, v) })

	s.Emit(1)
	s.Emit(2)
	s.Emit(3)

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestSubject_MulticastsToAllSubscribers(t *testing.T) {
	s := NewSubject[string]()

	var a, b []string
	s.Subscribe(func(v string) { a = append(a, v) })
	s.Subscribe(func(v string) { b = append(b, v) })

	s.Emit("x")

	assert.Equal(t, []string{"x"}, a)
	assert.Equal(t, []string{"x"}, b)
}

func TestSubject_CancelStopsDelivery(t *testing.T) {
	s := NewSubject[int]()

	var got []int
	cancel := s.Subscribe(func(v int) { got = append(got, v) })

	s.Emit(1)
	cancel()
	s.Emit(2)
	cancel() // second cancel is a no-op

	assert.Equal(t, []int{1}, got)
}

func TestValue_GetReturnsCurrent(t *testing.T) {
	v := NewValue(10)
	assert.Equal(t, 10, v.Get())

	v.Set(20)
	assert.Equal(t, 20, v.Get())
}

func TestValue_SubscribeSeesCurrentThenUpdates(t *testing.T) {
	v := NewValue("initial")

	var got []string
	v.Subscribe(func(s string) { got = append(got, s) })

	v.Set("next")

	assert.Equal(t, []string{"initial", "next"}, got)
}

func TestSubject_SubscriberMayEmit(t *testing.T) {
	s := NewSubject[int]()

	var got []int
	s.Subscribe(func(v int) {
		got = append(got, v)
		if v == 1 {
			s.Emit(2)
		}
	})

	s.Emit(1)

	assert.Equal(t, []int{1, 2}, got)
}
