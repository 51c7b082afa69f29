package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooksDispatcherDisabledIsNoop(t *testing.T) {
	cfg := &Config{Hooks: HooksConfig{Enabled: false, PreTool: []string{"exit 1"}}}
	bus := NewMessageBus()
	h := NewHooksDispatcher(cfg, bus)

	call := &ToolCall{Request: ToolCallRequest{CallID: "c1", Name: "t"}}
	assert.NoError(t, h.RunPreTool(context.Background(), call))
}

func TestHooksDispatcherRunPreToolFailureGates(t *testing.T) {
	cfg := &Config{Hooks: HooksConfig{Enabled: true, PreTool: []string{"exit 1"}}}
	bus := NewMessageBus()
	h := NewHooksDispatcher(cfg, bus)

	call := &ToolCall{Request: ToolCallRequest{CallID: "c1", Name: "t"}}
	err := h.RunPreTool(context.Background(), call)
	require.Error(t, err)
}

func TestHooksDispatcherRunPreToolSuccessPublishesNotification(t *testing.T) {
	cfg := &Config{Hooks: HooksConfig{Enabled: true, PreTool: []string{"true"}}}
	bus := NewMessageBus()
	h := NewHooksDispatcher(cfg, bus)

	var got ToolNotificationHookMsg
	bus.Subscribe(TopicToolNotificationHook, func(msg any) {
		got, _ = msg.(ToolNotificationHookMsg)
	})

	call := &ToolCall{Request: ToolCallRequest{CallID: "c1", Name: "t"}}
	require.NoError(t, h.RunPreTool(context.Background(), call))
	assert.Equal(t, "pre", got.Phase)
	assert.Equal(t, "c1", got.CallID)
}

func TestHooksDispatcherRunPostToolNeverFailsCaller(t *testing.T) {
	cfg := &Config{Hooks: HooksConfig{Enabled: true, PostTool: []string{"exit 1"}}}
	bus := NewMessageBus()
	h := NewHooksDispatcher(cfg, bus)

	call := &ToolCall{Request: ToolCallRequest{CallID: "c1", Name: "t"}}
	assert.NotPanics(t, func() { h.RunPostTool(context.Background(), call) })
}
