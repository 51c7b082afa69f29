package main

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// errPolicyDenied is the terminal error response displayed when the
// policy engine's first decision for a call is DENY.
var errPolicyDenied = errors.New("Tool execution denied by policy.")

// ScheduleResult is delivered once a submitted batch finishes, either
// by running every call to a terminal status or by being cancelled
// before or during its turn.
type ScheduleResult struct {
	Completed []*ToolCall
	Cancelled bool
}

// scheduleEntry is one Schedule() submission waiting its turn in the
// scheduler's request queue (spec.md §4.5.2).
type scheduleEntry struct {
	ctx      context.Context
	requests []ToolCallRequest
	done     chan ScheduleResult
}

// Scheduler is the orchestrator: it runs submitted batches one at a
// time (FIFO), driving every call in a batch from validating through
// a terminal status via policy evaluation, confirmation, optional
// modification, and execution (spec.md §4.5 Phases 1-3).
type Scheduler struct {
	store        *StateStore
	bus          *MessageBus
	registry     *ToolRegistry
	policy       *PolicyEngine
	confirmation *ConfirmationCoordinator
	modifier     *ModificationHandler
	executor     *Executor
	hooks        *HooksDispatcher
	cfg          *Config

	mu           sync.Mutex
	batchRunning bool
	queue        []*scheduleEntry
	cancelling   bool
	cancelAllCh  chan struct{}
	activeCancel context.CancelFunc
}

// NewScheduler wires a Scheduler from its collaborators.
func NewScheduler(cfg *Config, bus *MessageBus, store *StateStore, registry *ToolRegistry, policy *PolicyEngine) *Scheduler {
	return &Scheduler{
		store:        store,
		bus:          bus,
		registry:     registry,
		policy:       policy,
		confirmation: NewConfirmationCoordinator(bus),
		modifier:     NewModificationHandler(PreferredEditor(cfg)),
		executor:     NewExecutor(),
		hooks:        NewHooksDispatcher(cfg, bus),
		cfg:          cfg,
		cancelAllCh:  make(chan struct{}),
	}
}

// Schedule submits a batch of requests. If the scheduler is idle, the
// batch starts immediately; otherwise it joins the FIFO queue and
// starts once every earlier batch has finished. The returned channel
// receives exactly one ScheduleResult.
func (s *Scheduler) Schedule(ctx context.Context, requests []ToolCallRequest) <-chan ScheduleResult {
	entry := &scheduleEntry{ctx: ctx, requests: requests, done: make(chan ScheduleResult, 1)}

	s.mu.Lock()
	if !s.batchRunning {
		s.batchRunning = true
		s.mu.Unlock()
		go s.runBatch(entry)
		return entry.done
	}
	s.queue = append(s.queue, entry)
	s.mu.Unlock()

	go s.watchQueuedAbort(entry)
	return entry.done
}

// watchQueuedAbort removes entry from the queue and resolves it as
// cancelled the moment its context is cancelled while it is still
// waiting its turn. If entry has already left the queue (started or
// resolved by CancelAll) this is a no-op.
func (s *Scheduler) watchQueuedAbort(entry *scheduleEntry) {
	<-entry.ctx.Done()

	s.mu.Lock()
	for i, e := range s.queue {
		if e == entry {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.mu.Unlock()
			entry.done <- ScheduleResult{Cancelled: true}
			return
		}
	}
	s.mu.Unlock()
}

// CancelAll aborts the in-flight batch (if any) and every batch still
// waiting in the queue. It cancels the active batch's derived context
// so a blocked Execute observes the signal (spec.md §8 scenario 6),
// not merely the StateStore bookkeeping. Idempotent: a second call
// while cancellation is already in flight is a no-op. The scheduler
// remains usable for new Schedule calls once the current batch
// finishes draining. With no batch in flight it does nothing.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	if s.cancelling || !s.batchRunning {
		s.mu.Unlock()
		return
	}
	s.cancelling = true
	pending := s.queue
	s.queue = nil
	ch := s.cancelAllCh
	activeCancel := s.activeCancel
	s.mu.Unlock()

	close(ch)
	if activeCancel != nil {
		activeCancel()
	}

	for _, e := range pending {
		e.done <- ScheduleResult{Cancelled: true}
	}

	if call, ok := s.store.GetActiveCall(); ok {
		_ = s.store.UpdateStatus(call.Request.CallID, StatusCancelled, UpdateStatusPayload{Reason: "Operation cancelled"})
	}
	s.store.CancelQueued("Operation cancelled")
}

// runBatch drives one batch from ingestion through completion, then
// starts the next queued batch (if any) or marks the scheduler idle.
func (s *Scheduler) runBatch(entry *scheduleEntry) {
	defer s.finishBatch()

	batchCtx, cancel := context.WithCancel(entry.ctx)
	s.mu.Lock()
	s.activeCancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.store.ClearBatch()
	calls := s.ingest(entry.requests)
	s.store.Enqueue(calls)

	s.processLoop(batchCtx)

	completed := s.store.CompletedBatch()
	cancelled := batchCtx.Err() != nil
	entry.done <- ScheduleResult{Completed: completed, Cancelled: cancelled}
}

func (s *Scheduler) finishBatch() {
	s.mu.Lock()
	s.cancelling = false
	s.cancelAllCh = make(chan struct{})
	s.activeCancel = nil
	next := (*scheduleEntry)(nil)
	if len(s.queue) > 0 {
		next = s.queue[0]
		s.queue = s.queue[1:]
	} else {
		s.batchRunning = false
	}
	s.mu.Unlock()

	if next != nil {
		go s.runBatch(next)
	}
}

// ingest is Phase 1: build a ToolCall (status validating) for every
// request whose tool name resolves in the registry, or a pre-failed
// call (status error, TOOL_NOT_REGISTERED) for one that doesn't.
func (s *Scheduler) ingest(requests []ToolCallRequest) []*ToolCall {
	calls := make([]*ToolCall, 0, len(requests))
	for _, req := range requests {
		if req.CallID == "" {
			req.CallID = uuid.New().String()
		}
		tool, ok := s.registry.GetTool(req.Name)
		if !ok {
			err := &ErrToolNotRegistered{Name: req.Name, Suggestion: s.registry.Suggest(req.Name)}
			calls = append(calls, &ToolCall{
				Request:       req,
				Status:        StatusError,
				ValidationErr: err.Error(),
				Response: &Response{
					CallID:      req.CallID,
					DisplayText: err.Error(),
					ErrorType:   "TOOL_NOT_REGISTERED",
				},
			})
			continue
		}

		invocation, err := tool.Build(req.Args)
		if err != nil {
			calls = append(calls, &ToolCall{
				Request:       req,
				Tool:          tool,
				Status:        StatusError,
				ValidationErr: err.Error(),
				Response: &Response{
					CallID:      req.CallID,
					DisplayText: err.Error(),
					ErrorType:   "INVALID_TOOL_PARAMS",
				},
			})
			continue
		}

		calls = append(calls, &ToolCall{
			Request:    req,
			Tool:       tool,
			Invocation: invocation,
			Status:     StatusValidating,
		})
	}
	return calls
}

// processLoop is Phase 2/3: the request-queue scheduler that dequeues
// one call at a time, runs it to a terminal status, logs it, and
// repeats until the batch is empty or cancellation intervenes.
func (s *Scheduler) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.store.CancelQueued("Operation cancelled")
			if call, ok := s.store.GetActiveCall(); ok {
				_ = s.store.UpdateStatus(call.Request.CallID, StatusCancelled, UpdateStatusPayload{Reason: "Operation cancelled"})
			}
			return
		case <-s.cancelAllCh:
			return
		default:
		}

		if s.store.BatchDone() {
			return
		}

		call, ok := s.store.GetActiveCall()
		if !ok {
			call, ok = s.store.Dequeue()
			if !ok {
				continue
			}
		}

		if call.Status == StatusError {
			LogToolCall(toolCallEvent(call))
			s.bus.Publish(TopicToolStateUpdate, *call)
			s.finalizeActive(call.Request.CallID)
			continue
		}

		if call.Status == StatusValidating {
			s.runSingleCall(ctx, call)
		}

		if call.Status.terminal() {
			LogToolCall(toolCallEvent(call))
		}
	}
}

// finalizeActive removes callID from the active slot without routing
// through UpdateStatus (used for calls that were already terminal at
// ingestion, so there is no legal transition left to apply).
func (s *Scheduler) finalizeActive(callID string) {
	s.store.mu.Lock()
	if s.store.activeID == callID {
		s.store.activeID = ""
		s.store.completed = append(s.store.completed, s.store.byID[callID])
	}
	s.store.mu.Unlock()
}

// runSingleCall drives one call through Phase 3: policy evaluation,
// the confirmation loop (with modification support), and execution.
func (s *Scheduler) runSingleCall(ctx context.Context, call *ToolCall) {
	decision := s.policy.Check(call.Request.Name, call.Request.Args, serverNameOf(call.Tool))
	if decision == DecisionAllow {
		call.Outcome = OutcomeProceedOnce
	}

	if decision == DecisionAskUser {
		details, err := call.Invocation.ShouldConfirmExecute(ctx)
		if err != nil {
			s.terminateWithError(call, err, "EXECUTION_ERROR")
			return
		}
		switch {
		case details == nil:
			decision = DecisionAllow
			call.Outcome = OutcomeProceedOnce
		case details.Kind == "edit" && s.policy.IsAutoEditModeEnabled() && s.policy.IsAutoEditTool(call.Request.Name):
			decision = DecisionAllow
			call.Outcome = OutcomeProceedOnce
		default:
			if !s.confirmLoop(ctx, call, details) {
				return
			}
			decision = DecisionAllow
		}
	}

	if decision == DecisionDeny {
		s.terminateWithError(call, errPolicyDenied, "POLICY_VIOLATION")
		return
	}

	if err := s.store.UpdateStatus(call.Request.CallID, StatusScheduled, UpdateStatusPayload{}); err != nil {
		return
	}

	if err := s.hooks.RunPreTool(ctx, call); err != nil {
		s.terminateWithError(call, err, "HOOK_ERROR")
		return
	}

	if err := s.store.UpdateStatus(call.Request.CallID, StatusExecuting, UpdateStatusPayload{}); err != nil {
		return
	}

	resp, cancelled, err := s.executor.Run(ctx, call,
		func(chunk string) {
			s.store.mu.Lock()
			if c, ok := s.store.byID[call.Request.CallID]; ok {
				c.LiveOutput += chunk
			}
			s.store.mu.Unlock()
			s.bus.Publish(TopicToolStateUpdate, *call)
		},
		func(pid int) {
			s.store.mu.Lock()
			if c, ok := s.store.byID[call.Request.CallID]; ok {
				c.PID = pid
			}
			s.store.mu.Unlock()
		},
	)

	s.hooks.RunPostTool(ctx, call)

	if cancelled {
		_ = s.store.UpdateStatus(call.Request.CallID, StatusCancelled, UpdateStatusPayload{Reason: "Operation cancelled"})
		return
	}
	if err != nil {
		s.terminateWithError(call, err, resp.ErrorType)
		return
	}
	_ = s.store.UpdateStatus(call.Request.CallID, StatusSuccess, UpdateStatusPayload{Response: &resp})
}

// confirmLoop publishes a confirmation request and handles the
// resulting outcome, looping on ModifyWithEditor/inline-modify until
// the call either proceeds (true) or is terminated (false).
func (s *Scheduler) confirmLoop(ctx context.Context, call *ToolCall, details *ConfirmationDetails) bool {
	correlationID := uuid.New().String()
	if err := s.store.UpdateStatus(call.Request.CallID, StatusAwaitingApproval, UpdateStatusPayload{
		Confirmation:  details,
		CorrelationID: correlationID,
	}); err != nil {
		return false
	}

	for {
		resp, err := s.confirmation.RequestConfirmation(ctx, call)
		if err != nil {
			_ = s.store.UpdateStatus(call.Request.CallID, StatusCancelled, UpdateStatusPayload{Reason: "Operation cancelled"})
			return false
		}

		call.Outcome = resp.Outcome

		if resp.Outcome == OutcomeModifyWithEditor {
			newArgs, err := s.modifier.HandleModifyWithEditor(ctx, call)
			if err != nil {
				s.terminateWithError(call, err, "MODIFY_ERROR")
				return false
			}
			if !s.rebuildAfterModify(ctx, call, newArgs) {
				return false
			}
			refreshed, err := call.Invocation.ShouldConfirmExecute(ctx)
			if err != nil {
				s.terminateWithError(call, err, "EXECUTION_ERROR")
				return false
			}
			if err := s.store.UpdateStatus(call.Request.CallID, StatusAwaitingApproval, UpdateStatusPayload{
				Confirmation:  refreshed,
				CorrelationID: uuid.New().String(),
			}); err != nil {
				return false
			}
			continue
		}

		// Any outcome carrying a newContent payload (an IDE diff widget's
		// inline edit) is treated as acceptance of the edited content,
		// per spec.md §4.5's "force outcome to ProceedOnce" rule.
		if resp.Payload != nil {
			if _, ok := resp.Payload["newContent"]; ok {
				newArgs, err := s.modifier.ApplyInlineModify(call, resp.Payload)
				if err != nil {
					s.terminateWithError(call, err, "MODIFY_ERROR")
					return false
				}
				if !s.rebuildAfterModify(ctx, call, newArgs) {
					return false
				}
				call.Outcome = OutcomeProceedOnce
				return true
			}
		}

		switch resp.Outcome {
		case OutcomeProceedOnce:
			return true
		case OutcomeProceedAlways, OutcomeProceedAlwaysTool, OutcomeProceedAlwaysServer, OutcomeProceedAlwaysAndSave:
			s.dispatchPolicyUpdate(call, resp.Outcome)
			return true
		case OutcomeCancel:
			_ = s.store.UpdateStatus(call.Request.CallID, StatusCancelled, UpdateStatusPayload{Reason: "User denied execution."})
			s.store.CancelQueued("User cancelled operation")
			return false
		default:
			_ = s.store.UpdateStatus(call.Request.CallID, StatusCancelled, UpdateStatusPayload{Reason: "Unrecognized confirmation outcome"})
			return false
		}
	}
}

// dispatchPolicyUpdate translates a post-confirmation Proceed* outcome
// into a persistent policy change (spec.md §4.5.1). It never mutates
// policy storage itself: it publishes UPDATE_POLICY and leaves applying
// the grant (and, when persist is set, saving it to disk) to that
// topic's subscriber, so the scheduler stays free of config I/O. The
// one exception is the auto-edit-tool branch, which the source
// described as flipping a global mode with no further message emitted.
//
// ProceedAlwaysTool and ProceedAlwaysServer only mean something for an
// MCP-kind confirmation (they scope a grant to one MCP tool or to every
// tool on its server); on any other kind they fall through and publish
// nothing. The generic fall-through branch additionally narrows an
// exec-kind grant to the confirmed command's root command, so approving
// one shell invocation doesn't grant every future shell command.
func (s *Scheduler) dispatchPolicyUpdate(call *ToolCall, outcome ConfirmationOutcome) {
	if outcome == OutcomeProceedAlways && s.policy.IsAutoEditTool(call.Request.Name) {
		s.policy.EnableAutoEditMode()
		return
	}

	details := call.Confirmation
	isMCP := details != nil && details.Kind == "mcp"

	switch {
	case isMCP && (outcome == OutcomeProceedAlways || outcome == OutcomeProceedAlwaysTool ||
		outcome == OutcomeProceedAlwaysServer || outcome == OutcomeProceedAlwaysAndSave):
		toolName := call.Request.Name
		if outcome == OutcomeProceedAlwaysServer {
			toolName = serverNameOf(call.Tool) + "__*"
		}
		s.bus.Publish(TopicUpdatePolicy, PolicyUpdateMsg{
			ToolName: toolName,
			McpName:  details.ServerName,
			Persist:  outcome == OutcomeProceedAlwaysAndSave,
		})
	case outcome == OutcomeProceedAlways || outcome == OutcomeProceedAlwaysAndSave:
		commandPrefix := ""
		if details != nil && details.Kind == "exec" {
			commandPrefix = details.RootCommand
		}
		s.bus.Publish(TopicUpdatePolicy, PolicyUpdateMsg{
			ToolName:      call.Request.Name,
			CommandPrefix: commandPrefix,
			Persist:       outcome == OutcomeProceedAlwaysAndSave,
		})
	default:
		// ProceedAlwaysTool/ProceedAlwaysServer on a non-MCP confirmation
		// carries no well-defined grant scope; no policy update.
	}
}

// rebuildAfterModify implements the StateStore's updateArgs operation
// (spec.md §4.1): legal only from awaiting_approval, it rebuilds the
// invocation from newArgs and transitions the call back to validating
// (invariant "Modify→validating") so callers resume Phase 3 from
// there — either re-entering the confirmation loop (editor modify) or
// proceeding straight to execution (inline modify, forced ProceedOnce).
func (s *Scheduler) rebuildAfterModify(ctx context.Context, call *ToolCall, newArgs map[string]any) bool {
	invocation, err := call.Tool.Build(newArgs)
	if err != nil {
		s.terminateWithError(call, err, "INVALID_TOOL_PARAMS")
		return false
	}
	call.Request.Args = newArgs
	call.Invocation = invocation

	if err := s.store.UpdateStatus(call.Request.CallID, StatusValidating, UpdateStatusPayload{}); err != nil {
		s.terminateWithError(call, err, "INVALID_TRANSITION")
		return false
	}
	return true
}

func (s *Scheduler) terminateWithError(call *ToolCall, err error, errType string) {
	_ = s.store.UpdateStatus(call.Request.CallID, StatusError, UpdateStatusPayload{
		Response: &Response{CallID: call.Request.CallID, DisplayText: err.Error(), ErrorType: errType},
	})
}

func serverNameOf(t Tool) string {
	if t == nil || !t.IsMCP() {
		return ""
	}
	return t.ServerName()
}

func toolCallEvent(call *ToolCall) ToolCallEvent {
	errType := ""
	if call.Response != nil {
		errType = call.Response.ErrorType
	}
	durationMs := int64(0)
	if !call.StartTime.IsZero() && !call.EndTime.IsZero() {
		durationMs = call.EndTime.Sub(call.StartTime).Milliseconds()
	}
	return ToolCallEvent{
		CallID:     call.Request.CallID,
		ToolName:   call.Request.Name,
		Status:     call.Status,
		DurationMs: durationMs,
		ErrorType:  errType,
		Outcome:    call.Outcome,
	}
}
