package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationCoordinatorMatchesCorrelationID(t *testing.T) {
	bus := NewMessageBus()
	coordinator := NewConfirmationCoordinator(bus)
	call := &ToolCall{Request: ToolCallRequest{CallID: "c1"}, CorrelationID: "corr-1"}

	go func() {
		bus.Publish(TopicToolConfirmationResponse, ConfirmationResponse{CorrelationID: "wrong-id", Outcome: OutcomeCancel})
		bus.Publish(TopicToolConfirmationResponse, ConfirmationResponse{CorrelationID: "corr-1", Outcome: OutcomeProceedOnce})
	}()

	resp, err := coordinator.RequestConfirmation(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProceedOnce, resp.Outcome)
}

func TestConfirmationCoordinatorPublishesRequestDetails(t *testing.T) {
	bus := NewMessageBus()
	coordinator := NewConfirmationCoordinator(bus)
	details := &ConfirmationDetails{Kind: "exec", Description: "run it"}
	call := &ToolCall{Request: ToolCallRequest{CallID: "c1"}, CorrelationID: "corr-1", Confirmation: details}

	var published ToolConfirmationRequestMsg
	bus.Subscribe(TopicToolConfirmationRequest, func(msg any) {
		published, _ = msg.(ToolConfirmationRequestMsg)
		bus.Publish(TopicToolConfirmationResponse, ConfirmationResponse{CorrelationID: "corr-1", Outcome: OutcomeProceedOnce})
	})

	_, err := coordinator.RequestConfirmation(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, "c1", published.CallID)
	assert.Equal(t, "corr-1", published.CorrelationID)
	assert.Same(t, details, published.Details)
}

func TestConfirmationCoordinatorUnsubscribesOnContextCancellation(t *testing.T) {
	bus := NewMessageBus()
	coordinator := NewConfirmationCoordinator(bus)
	call := &ToolCall{Request: ToolCallRequest{CallID: "c1"}, CorrelationID: "corr-1"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := coordinator.RequestConfirmation(ctx, call)
	assert.Error(t, err)

	// The subscription for this call's correlation id was torn down on
	// the cancellation exit path; publishing a late response must not
	// reach anything still listening for it.
	assert.Empty(t, bus.subs[TopicToolConfirmationResponse])
	bus.Publish(TopicToolConfirmationResponse, ConfirmationResponse{CorrelationID: "corr-1", Outcome: OutcomeProceedOnce})
}
