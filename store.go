package main

import (
	"fmt"
	"sync"
	"time"
)

// ToolCallStatus is the tag half of the status union spec.md describes.
// Go has no sum types, so ToolCall below is one struct carrying every
// field legal under any status; legalTransitions enforces which moves
// between tags are allowed.
type ToolCallStatus string

const (
	StatusValidating ToolCallStatus = "validating"
	StatusScheduled  ToolCallStatus = "scheduled"
	StatusAwaitingApproval ToolCallStatus = "awaiting_approval"
	StatusExecuting  ToolCallStatus = "executing"
	StatusSuccess    ToolCallStatus = "success"
	StatusError      ToolCallStatus = "error"
	StatusCancelled  ToolCallStatus = "cancelled"
)

func (s ToolCallStatus) terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// legalTransitions lists the exits each status allows other than error
// and cancelled.
// Entering error or cancelled is always legal from any non-terminal
// status (the source's "cancellation/failure can interrupt anything"
// rule) and is checked separately in updateStatus rather than listed
// here for every row.
var legalTransitions = map[ToolCallStatus][]ToolCallStatus{
	StatusValidating:       {StatusScheduled, StatusAwaitingApproval},
	StatusAwaitingApproval: {StatusScheduled, StatusValidating},
	StatusScheduled:        {StatusExecuting},
	StatusExecuting:        {StatusSuccess},
}

// ErrInvalidTransition signals a scheduler bug: an attempt to move a
// ToolCall's status somewhere the transition table forbids, or to
// mutate a call already in a terminal status.
type ErrInvalidTransition struct {
	CallID string
	From    ToolCallStatus
	To      ToolCallStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("tool call %s: illegal transition %s -> %s", e.CallID, e.From, e.To)
}

// ConfirmationOutcome is the result the ConfirmationCoordinator
// reports back to the scheduler once a caller has answered a
// TOOL_CONFIRMATION_REQUEST.
type ConfirmationOutcome string

const (
	OutcomeProceedOnce         ConfirmationOutcome = "proceed_once"
	OutcomeProceedAlways       ConfirmationOutcome = "proceed_always"
	OutcomeProceedAlwaysTool   ConfirmationOutcome = "proceed_always_tool"
	OutcomeProceedAlwaysServer ConfirmationOutcome = "proceed_always_server"
	OutcomeProceedAlwaysAndSave ConfirmationOutcome = "proceed_always_and_save"
	OutcomeModifyWithEditor    ConfirmationOutcome = "modify_with_editor"
	OutcomeCancel              ConfirmationOutcome = "cancel"
)

// ConfirmationDetails describes what is being confirmed: an edit diff,
// a shell command, an MCP server's tool, or plain informational text.
type ConfirmationDetails struct {
	Kind         string // "edit", "exec", "mcp", "info"
	ServerName   string
	RootCommand  string
	Description  string
	ProposedDiff string
}

// ToolCallRequest is what a batch submission carries in for one call.
type ToolCallRequest struct {
	CallID string
	Name   string
	Args   map[string]any
}

// Response is a tool invocation's terminal payload, success or error.
type Response struct {
	CallID      string
	DisplayText string
	Parts       []map[string]any
	ErrorType   string
}

// ToolCall is the scheduler's unit of work: one requested invocation
// tracked from validation through a terminal status.
type ToolCall struct {
	Request       ToolCallRequest
	Tool          Tool
	Invocation    Invocation
	Status        ToolCallStatus
	StartTime     time.Time
	EndTime       time.Time
	Outcome       ConfirmationOutcome
	Confirmation  *ConfirmationDetails
	CorrelationID string
	LiveOutput    string
	PID           int
	Response      *Response
	Reason        string // populated on cancellation
	ValidationErr string // populated when ingestion rejects the request
}

// UpdateStatusPayload carries the status-specific fields updateStatus
// should apply alongside the new status.
type UpdateStatusPayload struct {
	Confirmation  *ConfirmationDetails
	CorrelationID string
	Response      *Response
	Reason        string
}

// StateStore is the scheduler's single source of truth for the calls
// in the current batch: the FIFO queue of not-yet-started calls, the
// one call currently occupying the active slot, and the calls that
// have reached a terminal status. Guarded by one mutex, per spec.md
// §5's "a single mutex is sufficient" note for parallel-capable
// target languages.
type StateStore struct {
	mu        sync.Mutex
	byID      map[string]*ToolCall
	queueIDs  []string
	activeID  string
	completed []*ToolCall
	bus       *MessageBus
}

// NewStateStore creates an empty store that publishes TOOL_STATE_UPDATE
// snapshots to bus on every status change.
func NewStateStore(bus *MessageBus) *StateStore {
	return &StateStore{
		byID: make(map[string]*ToolCall),
		bus:  bus,
	}
}

// ClearBatch resets the store for a new batch. Must only be called
// when no batch is in flight.
func (s *StateStore) ClearBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*ToolCall)
	s.queueIDs = nil
	s.activeID = ""
	s.completed = nil
}

// Enqueue adds calls (already built, status validating or error) to
// the batch's FIFO queue in request order.
func (s *StateStore) Enqueue(calls []*ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range calls {
		s.byID[c.Request.CallID] = c
		s.queueIDs = append(s.queueIDs, c.Request.CallID)
	}
}

// Dequeue pops the next queued call and occupies the active slot with
// it. Returns false if the queue is empty or a call is already active.
func (s *StateStore) Dequeue() (*ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != "" || len(s.queueIDs) == 0 {
		return nil, false
	}
	id := s.queueIDs[0]
	s.queueIDs = s.queueIDs[1:]
	s.activeID = id
	return s.byID[id], true
}

// GetActiveCall returns the call currently in the active slot, if any.
func (s *StateStore) GetActiveCall() (*ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return nil, false
	}
	return s.byID[s.activeID], true
}

// QueueLength reports how many calls are still waiting for the active slot.
func (s *StateStore) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queueIDs)
}

// HasActiveCall reports whether a call currently occupies the active slot.
func (s *StateStore) HasActiveCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID != ""
}

// UpdateStatus transitions call callID to newStatus, applying payload's
// fields, and publishes a TOOL_STATE_UPDATE snapshot. Returns
// ErrInvalidTransition if the move is illegal or the call is already
// terminal (the store never applies a rejected transition).
func (s *StateStore) UpdateStatus(callID string, newStatus ToolCallStatus, payload UpdateStatusPayload) error {
	s.mu.Lock()
	call, ok := s.byID[callID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("tool call %s: not found in current batch", callID)
	}

	from := call.Status
	if !legalMove(from, newStatus) {
		s.mu.Unlock()
		return &ErrInvalidTransition{CallID: callID, From: from, To: newStatus}
	}

	call.Status = newStatus
	switch newStatus {
	case StatusAwaitingApproval:
		call.Confirmation = payload.Confirmation
		call.CorrelationID = payload.CorrelationID
	case StatusExecuting:
		call.StartTime = time.Now()
	case StatusSuccess:
		call.Response = payload.Response
		call.EndTime = time.Now()
	case StatusError:
		call.Response = payload.Response
		call.EndTime = time.Now()
	case StatusCancelled:
		call.Reason = payload.Reason
		call.EndTime = time.Now()
	}

	terminal := newStatus.terminal()
	if terminal && s.activeID == callID {
		s.activeID = ""
		s.completed = append(s.completed, call)
	}
	snapshot := *call
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(TopicToolStateUpdate, snapshot)
	}
	return nil
}

// legalMove reports whether from -> to is an allowed transition.
// Already-terminal statuses accept no further moves (write-once);
// error/cancelled are reachable from any other non-terminal status.
func legalMove(from, to ToolCallStatus) bool {
	if from.terminal() {
		return false
	}
	if to == StatusError || to == StatusCancelled {
		return true
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CancelQueued transitions every still-queued call straight to
// cancelled with reason, without ever occupying the active slot
// (spec.md §4.5.2's cascade-cancellation behavior).
func (s *StateStore) CancelQueued(reason string) {
	s.mu.Lock()
	ids := s.queueIDs
	s.queueIDs = nil
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.UpdateStatus(id, StatusCancelled, UpdateStatusPayload{Reason: reason})
	}
}

// CompletedBatch returns every call in the current batch that has
// reached a terminal status, in completion order.
func (s *StateStore) CompletedBatch() []*ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ToolCall, len(s.completed))
	copy(out, s.completed)
	return out
}

// BatchDone reports whether every call in the batch (active + queued)
// has reached a terminal status.
func (s *StateStore) BatchDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID == "" && len(s.queueIDs) == 0
}
