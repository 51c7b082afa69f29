package main

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sahilm/fuzzy"
)

// Tool is a registered capability the scheduler can invoke. Build
// validates args (whatever that means for the concrete tool) and
// returns an Invocation ready to be confirmed and executed.
type Tool interface {
	Name() string
	DisplayName() string
	IsMCP() bool
	ServerName() string
	Build(args map[string]any) (Invocation, error)
}

// Invocation is one validated, about-to-run instance of a Tool.
type Invocation interface {
	Args() map[string]any
	// ShouldConfirmExecute returns nil when the invocation needs no
	// confirmation (e.g. a pure read); otherwise it returns the
	// details the ConfirmationCoordinator publishes to the bus.
	ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error)
	// Execute runs the invocation. outputUpdateHandler is called with
	// incremental output chunks (may be a no-op sink); onUpdateToolCall
	// is called when the invocation learns its underlying process id.
	// Neither callback may be assumed to block the caller further than
	// its own body takes.
	Execute(ctx context.Context, outputUpdateHandler func(chunk string), onUpdateToolCall func(pid int)) (Response, error)
}

// ToolRegistry is the scheduler's lookup of known tools by name, plus
// a nearest-match suggestion for typos in TOOL_NOT_REGISTERED errors.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds t, keyed by its Name(). A later Register with the
// same name replaces the earlier one.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// GetTool looks up a tool by exact name.
func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// GetAllToolNames returns every registered tool's name, sorted.
func (r *ToolRegistry) GetAllToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Suggest returns the nearest registered tool name to name, or "" if
// the registry is empty or nothing scores above a useless match. Used
// to enrich the TOOL_NOT_REGISTERED error with "did you mean X?".
func (r *ToolRegistry) Suggest(name string) string {
	names := r.GetAllToolNames()
	if len(names) == 0 {
		return ""
	}
	matches := fuzzy.Find(name, names)
	if len(matches) == 0 {
		return ""
	}
	return names[matches[0].Index]
}

// ErrToolNotRegistered is returned when a requested tool name has no
// registered Tool. Error() includes a nearest-name suggestion when one
// is available, per the source's suggestion-before-failing behavior.
type ErrToolNotRegistered struct {
	Name       string
	Suggestion string
}

func (e *ErrToolNotRegistered) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("tool %q is not registered", e.Name)
	}
	return fmt.Sprintf("tool %q is not registered (did you mean %q?)", e.Name, e.Suggestion)
}
