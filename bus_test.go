package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageBusPublishesToSubscribers(t *testing.T) {
	bus := NewMessageBus()
	var got []any
	bus.Subscribe("topic", func(msg any) { got = append(got, msg) })

	bus.Publish("topic", "hello")
	bus.Publish("topic", "world")

	assert.Equal(t, []any{"hello", "world"}, got)
}

func TestMessageBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMessageBus()
	var count int
	unsubscribe := bus.Subscribe("topic", func(msg any) { count++ })

	bus.Publish("topic", 1)
	unsubscribe()
	bus.Publish("topic", 2)

	assert.Equal(t, 1, count)
}

func TestMessageBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewMessageBus()
	unsubscribe := bus.Subscribe("topic", func(msg any) {})
	assert.NotPanics(t, func() {
		unsubscribe()
		unsubscribe()
	})
}

func TestMessageBusDispatchesInRegistrationOrder(t *testing.T) {
	bus := NewMessageBus()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe("topic", func(msg any) { order = append(order, i) })
	}

	bus.Publish("topic", nil)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestMessageBusIsolatesTopics(t *testing.T) {
	bus := NewMessageBus()
	var a, b []any
	bus.Subscribe("a", func(msg any) { a = append(a, msg) })
	bus.Subscribe("b", func(msg any) { b = append(b, msg) })

	bus.Publish("a", "only-a")

	assert.Equal(t, []any{"only-a"}, a)
	assert.Empty(t, b)
}
