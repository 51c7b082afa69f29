package main

import (
	"context"
)

// ConfirmationResponse is what a TOOL_CONFIRMATION_RESPONSE message
// carries: which correlation id it answers and what the user chose.
type ConfirmationResponse struct {
	CorrelationID string
	Outcome       ConfirmationOutcome
	Payload       map[string]any // e.g. {"newContent": "..."} for inline modify
}

// ConfirmationCoordinator turns the publish/subscribe confirmation
// handshake into a single awaitable call: it publishes the request,
// then blocks the caller (the scheduler's Phase 3.2) until a matching
// response arrives on the bus or ctx is cancelled.
type ConfirmationCoordinator struct {
	bus *MessageBus
}

// NewConfirmationCoordinator wires a coordinator to bus.
func NewConfirmationCoordinator(bus *MessageBus) *ConfirmationCoordinator {
	return &ConfirmationCoordinator{bus: bus}
}

// RequestConfirmation publishes a TOOL_CONFIRMATION_REQUEST for call
// and blocks until a response tagged with call.CorrelationID arrives,
// or ctx is done. The subscription is torn down on every exit path.
func (c *ConfirmationCoordinator) RequestConfirmation(ctx context.Context, call *ToolCall) (ConfirmationResponse, error) {
	results := make(chan ConfirmationResponse, 1)

	unsubscribe := c.bus.Subscribe(TopicToolConfirmationResponse, func(msg any) {
		resp, ok := msg.(ConfirmationResponse)
		if !ok || resp.CorrelationID != call.CorrelationID {
			return
		}
		select {
		case results <- resp:
		default:
		}
	})
	defer unsubscribe()

	c.bus.Publish(TopicToolConfirmationRequest, ToolConfirmationRequestMsg{
		CallID:        call.Request.CallID,
		CorrelationID: call.CorrelationID,
		Details:       call.Confirmation,
	})

	select {
	case resp := <-results:
		return resp, nil
	case <-ctx.Done():
		return ConfirmationResponse{}, ctx.Err()
	}
}

// ToolConfirmationRequestMsg is the payload published on
// TOOL_CONFIRMATION_REQUEST; a TUI or IDE adapter renders it and
// eventually answers with a ConfirmationResponse on the response topic.
type ToolConfirmationRequestMsg struct {
	CallID        string
	CorrelationID string
	Details       *ConfirmationDetails
}
