package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ToolNotificationHookMsg is published on TOOL_NOTIFICATION_HOOK
// before and after a tool executes, letting configured shell commands
// observe (and, on pre-hooks, veto) a call.
type ToolNotificationHookMsg struct {
	Phase    string // "pre" or "post"
	CallID   string
	ToolName string
	Args     map[string]any
}

// HooksDispatcher runs the configured pre/post shell commands around
// tool execution and republishes their firing on the bus so a TUI can
// surface hook activity the way the teacher surfaced toast notifications.
type HooksDispatcher struct {
	cfg *Config
	bus *MessageBus
}

// NewHooksDispatcher wires a dispatcher to cfg's HooksConfig and bus.
func NewHooksDispatcher(cfg *Config, bus *MessageBus) *HooksDispatcher {
	return &HooksDispatcher{cfg: cfg, bus: bus}
}

// RunPreTool runs the configured pre-tool hooks in order, stopping (and
// returning an error) at the first that exits non-zero — a pre-hook is
// a gate, not merely an observer.
func (h *HooksDispatcher) RunPreTool(ctx context.Context, call *ToolCall) error {
	if !h.cfg.Hooks.Enabled {
		return nil
	}
	h.bus.Publish(TopicToolNotificationHook, ToolNotificationHookMsg{
		Phase: "pre", CallID: call.Request.CallID, ToolName: call.Request.Name, Args: call.Request.Args,
	})
	return h.run(ctx, h.cfg.Hooks.PreTool, call)
}

// RunPostTool publishes the post-phase notification on the bus, then
// runs the configured post-tool hooks. A failing hook's error is
// discarded and never overrides the tool's own terminal status.
func (h *HooksDispatcher) RunPostTool(ctx context.Context, call *ToolCall) {
	if !h.cfg.Hooks.Enabled {
		return
	}
	h.bus.Publish(TopicToolNotificationHook, ToolNotificationHookMsg{
		Phase: "post", CallID: call.Request.CallID, ToolName: call.Request.Name, Args: call.Request.Args,
	})
	_ = h.run(ctx, h.cfg.Hooks.PostTool, call)
}

func (h *HooksDispatcher) run(ctx context.Context, commands []string, call *ToolCall) error {
	for _, c := range commands {
		if strings.TrimSpace(c) == "" {
			continue
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", c)
		cmd.Env = append(cmd.Environ(), "TOOLSCHED_TOOL_NAME="+call.Request.Name, "TOOLSCHED_CALL_ID="+call.Request.CallID)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("hook %q failed: %w: %s", c, err, string(out))
		}
	}
	return nil
}
