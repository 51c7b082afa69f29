package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

type runCmd struct {
	Batch string `help:"Path to a JSON file of {\"name\":...,\"args\":{...}} tool requests to run non-interactively; '-' reads stdin." optional:""`
}

type versionCmd struct{}

var cli struct {
	Version versionCmd `cmd:"version" help:"Print version information"`
	Run     runCmd     `cmd:"" default:"1" help:"Run the scheduler, interactively or against a batch file"`
}

func (versionCmd) Run() error {
	fmt.Println("toolsched v0.1.0")
	return nil
}

// app bundles the scheduler and its collaborators, wired once at
// startup and shared by both the TUI and batch entry points.
type app struct {
	cfg       *Config
	bus       *MessageBus
	store     *StateStore
	registry  *ToolRegistry
	policy    *PolicyEngine
	scheduler *Scheduler
}

func newApp(cfg *Config) *app {
	bus := NewMessageBus()
	store := NewStateStore(bus)
	registry := NewToolRegistry()
	registerBuiltinTools(registry)
	policy := NewPolicyEngine(cfg)
	scheduler := NewScheduler(cfg, bus, store, registry, policy)

	bus.Subscribe(TopicUpdatePolicy, func(msg any) {
		update, ok := msg.(PolicyUpdateMsg)
		if !ok {
			return
		}
		applyPolicyUpdate(policy, cfg, update)
	})

	return &app{cfg: cfg, bus: bus, store: store, registry: registry, policy: policy, scheduler: scheduler}
}

// PolicyUpdateMsg is published on UPDATE_POLICY (spec.md §4.5.1): the
// scheduler never touches config storage itself, it only announces
// the grant for a subscriber like this one to apply. McpName is set
// only for MCP-kind grants; CommandPrefix narrows an exec-kind grant
// to the confirmed command's root command. At most one of the two is
// ever set.
type PolicyUpdateMsg struct {
	ToolName      string
	McpName       string
	CommandPrefix string
	Persist       bool
}

func applyPolicyUpdate(policy *PolicyEngine, cfg *Config, update PolicyUpdateMsg) {
	pattern := update.ToolName
	if update.McpName == "" && update.CommandPrefix != "" {
		pattern = update.ToolName + ":" + update.CommandPrefix
	}
	policy.GrantAllow(pattern)
	if update.Persist {
		if err := SaveConfig(cfg); err != nil {
			slog.Error("failed to persist policy update", "pattern", pattern, "error", err)
		}
	}
}

func (r *runCmd) Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: using defaults due to config load failure: %v\n", err)
		defaults := defaultConfig()
		cfg = &defaults
	}
	initTelemetry(cfg)
	initShellRunner(cfg)

	a := newApp(cfg)

	if r.Batch != "" {
		return a.runBatch(r.Batch)
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) || !isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Println("Not attached to a terminal; pass --batch=<file> to run non-interactively.")
		return nil
	}

	return a.runTUI()
}

// runBatch reads a JSON array of tool-call requests from path (or
// stdin for "-"), submits it as a single batch, and prints each
// terminal call's outcome once the batch completes.
func (a *app) runBatch(path string) error {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read batch input: %w", err)
	}

	var items []struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("failed to parse batch input: %w", err)
	}

	requests := make([]ToolCallRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, ToolCallRequest{Name: item.Name, Args: item.Args})
	}

	unsubscribe := a.bus.Subscribe(TopicToolConfirmationRequest, defaultDenyResponder(a.bus))
	defer unsubscribe()

	result := <-a.scheduler.Schedule(context.Background(), requests)
	for _, call := range result.Completed {
		fmt.Printf("%s [%s]: %s\n", call.Request.Name, call.Status, summarize(call))
	}
	if result.Cancelled {
		fmt.Println("batch cancelled")
	}
	return nil
}

func summarize(call *ToolCall) string {
	if call.Response != nil {
		return call.Response.DisplayText
	}
	if call.Reason != "" {
		return call.Reason
	}
	return ""
}

// defaultDenyResponder is the spec.md §9 fallback: in batch/
// non-interactive mode nothing else answers TOOL_CONFIRMATION_REQUEST,
// so it responds Cancel so the scheduler never blocks forever. It is
// never installed in interactive mode, where the TUI itself is the
// sole responder.
func defaultDenyResponder(bus *MessageBus) func(any) {
	return func(msg any) {
		req, ok := msg.(ToolConfirmationRequestMsg)
		if !ok {
			return
		}
		bus.Publish(TopicToolConfirmationResponse, ConfirmationResponse{
			CorrelationID: req.CorrelationID,
			Outcome:       OutcomeCancel,
		})
	}
}

func (a *app) runTUI() error {
	model := NewTUIModel(a)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())

	unsubState := a.bus.Subscribe(TopicToolStateUpdate, func(msg any) {
		call, ok := msg.(ToolCall)
		if !ok {
			return
		}
		program.Send(toolStateUpdateMsg(call))
	})
	defer unsubState()

	unsubConfirm := a.bus.Subscribe(TopicToolConfirmationRequest, func(msg any) {
		req, ok := msg.(ToolConfirmationRequestMsg)
		if !ok {
			return
		}
		program.Send(confirmationRequestMsg(req))
	})
	defer unsubConfirm()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("toolsched exited with an error: %w", err)
	}
	return nil
}

func main() {
	ctx := kong.Parse(&cli)
	if err := ctx.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
