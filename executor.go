package main

import (
	"context"
	"errors"
	"fmt"
)

// Executor runs one ToolCall's invocation to a terminal Response,
// translating panics and context cancellation into the scheduler's
// error vocabulary (spec.md §7) instead of letting them escape.
type Executor struct{}

// NewExecutor creates an Executor. It is stateless; all per-call state
// lives on the ToolCall itself.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes call.Invocation, streaming output chunks and pid
// updates through the provided callbacks (both may be nil). It never
// panics: an invocation panic is recovered and reported as an
// UNHANDLED_EXCEPTION error response. A context cancellation is
// reported via the cancelled=true, err=nil return rather than as an
// error response, since cancellation is not a tool failure.
func (e *Executor) Run(ctx context.Context, call *ToolCall, onOutput func(chunk string), onPID func(pid int)) (resp Response, cancelled bool, err error) {
	if onOutput == nil {
		onOutput = func(string) {}
	}
	if onPID == nil {
		onPID = func(int) {}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
			resp = Response{CallID: call.Request.CallID, DisplayText: err.Error(), ErrorType: "UNHANDLED_EXCEPTION"}
		}
	}()

	out, runErr := call.Invocation.Execute(ctx, onOutput, onPID)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
			return Response{}, true, nil
		}
		return Response{CallID: call.Request.CallID, DisplayText: runErr.Error(), ErrorType: "EXECUTION_ERROR"}, false, runErr
	}
	out.CallID = call.Request.CallID
	return out, false, nil
}
