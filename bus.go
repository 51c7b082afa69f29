package main

import (
	"sync"

	"github.com/google/uuid"
)

// Message bus topics, per the scheduler's external-interface contract.
// TUI and IDE adapters, and anything else that wants to observe or
// drive the scheduler, speak exclusively through these topics.
const (
	TopicToolStateUpdate         = "TOOL_STATE_UPDATE"
	TopicToolConfirmationRequest = "TOOL_CONFIRMATION_REQUEST"
	TopicToolConfirmationResponse = "TOOL_CONFIRMATION_RESPONSE"
	TopicUpdatePolicy            = "UPDATE_POLICY"
	TopicToolNotificationHook    = "TOOL_NOTIFICATION_HOOK"
)

// MessageBus is a minimal in-process topic pub/sub. It realizes the
// spec's "abstract message bus" — a TUI and a future IDE adapter can
// both subscribe without the scheduler knowing which, or how many,
// consumers exist. All publishers fire-and-forget; every subscriber
// is responsible for removing itself (Subscribe returns the
// unsubscribe func for that purpose).
type subscriber struct {
	id      string
	handler func(any)
}

type MessageBus struct {
	mu   sync.RWMutex
	subs map[string][]subscriber
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{subs: make(map[string][]subscriber)}
}

// Subscribe registers handler on topic and returns a func that removes it.
// Safe to call unsubscribe more than once or from inside the handler.
func (b *MessageBus) Subscribe(topic string, handler func(any)) func() {
	id := uuid.New().String()

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subs[topic]
			for i, s := range subs {
				if s.id == id {
					b.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Publish fans msg out to every current subscriber of topic, in
// registration order. Handlers run synchronously on the publisher's
// goroutine — a handler that blocks blocks the scheduler's cooperative
// loop, so subscribers must stay fast (render-from-snapshot, not
// render-and-wait).
func (b *MessageBus) Publish(topic string, msg any) {
	b.mu.RLock()
	handlers := make([]func(any), 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}
