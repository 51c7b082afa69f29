package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCall(id string) *ToolCall {
	return &ToolCall{Request: ToolCallRequest{CallID: id, Name: "test_tool"}, Status: StatusValidating}
}

func TestStateStoreLegalTransitions(t *testing.T) {
	store := NewStateStore(nil)
	call := newTestCall("c1")
	store.Enqueue([]*ToolCall{call})

	dequeued, ok := store.Dequeue()
	require.True(t, ok)
	assert.Equal(t, call, dequeued)

	require.NoError(t, store.UpdateStatus("c1", StatusAwaitingApproval, UpdateStatusPayload{}))
	assert.Equal(t, StatusAwaitingApproval, call.Status)

	require.NoError(t, store.UpdateStatus("c1", StatusValidating, UpdateStatusPayload{}))
	require.NoError(t, store.UpdateStatus("c1", StatusScheduled, UpdateStatusPayload{}))
	require.NoError(t, store.UpdateStatus("c1", StatusExecuting, UpdateStatusPayload{}))
	require.NoError(t, store.UpdateStatus("c1", StatusSuccess, UpdateStatusPayload{Response: &Response{CallID: "c1"}}))
	assert.Equal(t, StatusSuccess, call.Status)
}

func TestStateStoreIllegalTransitionRejected(t *testing.T) {
	store := NewStateStore(nil)
	call := newTestCall("c1")
	store.Enqueue([]*ToolCall{call})
	_, _ = store.Dequeue()

	// validating -> executing is not in legalTransitions.
	err := store.UpdateStatus("c1", StatusExecuting, UpdateStatusPayload{})
	require.Error(t, err)
	var transitionErr *ErrInvalidTransition
	assert.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, StatusValidating, call.Status)
}

func TestStateStoreTerminalOnceInvariant(t *testing.T) {
	store := NewStateStore(nil)
	call := newTestCall("c1")
	store.Enqueue([]*ToolCall{call})
	_, _ = store.Dequeue()

	require.NoError(t, store.UpdateStatus("c1", StatusScheduled, UpdateStatusPayload{}))
	require.NoError(t, store.UpdateStatus("c1", StatusExecuting, UpdateStatusPayload{}))
	require.NoError(t, store.UpdateStatus("c1", StatusCancelled, UpdateStatusPayload{Reason: "stop"}))

	// A terminal call accepts no further move, not even into another
	// terminal status.
	err := store.UpdateStatus("c1", StatusError, UpdateStatusPayload{})
	require.Error(t, err)
	assert.Equal(t, StatusCancelled, call.Status)
}

func TestStateStoreErrorCancelledReachableFromAnyNonTerminalStatus(t *testing.T) {
	for _, from := range []ToolCallStatus{StatusValidating, StatusAwaitingApproval, StatusScheduled, StatusExecuting} {
		store := NewStateStore(nil)
		call := &ToolCall{Request: ToolCallRequest{CallID: "c1"}, Status: from}
		store.byID[call.Request.CallID] = call
		store.activeID = call.Request.CallID

		require.NoError(t, store.UpdateStatus("c1", StatusError, UpdateStatusPayload{}), "from %s", from)
		assert.Equal(t, StatusError, call.Status)
	}
}

func TestStateStoreSingleActiveCallInvariant(t *testing.T) {
	store := NewStateStore(nil)
	a := newTestCall("a")
	b := newTestCall("b")
	store.Enqueue([]*ToolCall{a, b})

	_, ok := store.Dequeue()
	require.True(t, ok)

	// A second call cannot occupy the active slot while one is already there.
	_, ok = store.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, 1, store.QueueLength())
}

func TestStateStoreCancelQueuedCascadesAndIsIdempotent(t *testing.T) {
	store := NewStateStore(nil)
	a := newTestCall("a")
	b := newTestCall("b")
	c := newTestCall("c")
	store.Enqueue([]*ToolCall{a, b, c})

	_, _ = store.Dequeue() // a becomes active, b and c remain queued

	store.CancelQueued("batch aborted")
	assert.Equal(t, StatusCancelled, b.Status)
	assert.Equal(t, StatusCancelled, c.Status)
	assert.Equal(t, StatusValidating, a.Status)

	// Calling it again with nothing left queued is a no-op, not an error.
	assert.NotPanics(t, func() { store.CancelQueued("batch aborted again") })
}

func TestStateStoreBatchDoneAndClearBatch(t *testing.T) {
	store := NewStateStore(nil)
	call := newTestCall("a")
	store.Enqueue([]*ToolCall{call})
	assert.False(t, store.BatchDone())

	active, _ := store.Dequeue()
	require.NoError(t, store.UpdateStatus(active.Request.CallID, StatusScheduled, UpdateStatusPayload{}))
	require.NoError(t, store.UpdateStatus(active.Request.CallID, StatusExecuting, UpdateStatusPayload{}))
	require.NoError(t, store.UpdateStatus(active.Request.CallID, StatusSuccess, UpdateStatusPayload{Response: &Response{CallID: "a"}}))

	assert.True(t, store.BatchDone())
	assert.Len(t, store.CompletedBatch(), 1)

	store.ClearBatch()
	assert.Len(t, store.CompletedBatch(), 0)
	assert.False(t, store.HasActiveCall())
}
