package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeInvocation struct {
	execute func(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error)
}

func (fakeInvocation) Args() map[string]any { return nil }
func (fakeInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return nil, nil
}
func (f fakeInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	return f.execute(ctx, onOutput, onPID)
}

func TestExecutorRunSuccess(t *testing.T) {
	call := &ToolCall{
		Request: ToolCallRequest{CallID: "c1"},
		Invocation: fakeInvocation{execute: func(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
			onOutput("chunk")
			onPID(123)
			return Response{DisplayText: "done"}, nil
		}},
	}
	e := NewExecutor()

	var gotChunk string
	var gotPID int
	resp, cancelled, err := e.Run(context.Background(), call,
		func(chunk string) { gotChunk = chunk },
		func(pid int) { gotPID = pid },
	)

	assert.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "done", resp.DisplayText)
	assert.Equal(t, "c1", resp.CallID)
	assert.Equal(t, "chunk", gotChunk)
	assert.Equal(t, 123, gotPID)
}

func TestExecutorRunRecoversPanic(t *testing.T) {
	call := &ToolCall{
		Request: ToolCallRequest{CallID: "c1"},
		Invocation: fakeInvocation{execute: func(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
			panic("boom")
		}},
	}
	e := NewExecutor()

	resp, cancelled, err := e.Run(context.Background(), call, nil, nil)

	assert.Error(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "UNHANDLED_EXCEPTION", resp.ErrorType)
}

func TestExecutorRunTranslatesCancellationToCancelledNotError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	call := &ToolCall{
		Request: ToolCallRequest{CallID: "c1"},
		Invocation: fakeInvocation{execute: func(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
			return Response{}, context.Canceled
		}},
	}
	e := NewExecutor()

	resp, cancelled, err := e.Run(ctx, call, nil, nil)

	assert.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, Response{}, resp)
}

func TestExecutorRunWrapsGenuineErrorAsExecutionError(t *testing.T) {
	call := &ToolCall{
		Request: ToolCallRequest{CallID: "c1"},
		Invocation: fakeInvocation{execute: func(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
			return Response{}, errors.New("disk full")
		}},
	}
	e := NewExecutor()

	resp, cancelled, err := e.Run(context.Background(), call, nil, nil)

	assert.Error(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "EXECUTION_ERROR", resp.ErrorType)
}
