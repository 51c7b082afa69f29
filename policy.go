package main

import (
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Decision is the policy engine's verdict for one proposed tool call.
type Decision string

const (
	DecisionAllow   Decision = "ALLOW"
	DecisionDeny    Decision = "DENY"
	DecisionAskUser Decision = "ASK_USER"
)

// PolicyEngine evaluates a tool call's name (and, for MCP tools, its
// "serverName__toolName" qualified form) against the configured
// allow/deny glob lists. It never returns ASK_USER when the session is
// non-interactive — the scheduler is entitled to treat ASK_USER from
// this engine as a contract violation because the engine itself
// enforces the contract at the source.
type PolicyEngine struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewPolicyEngine wraps cfg; grants (ProceedAlways* outcomes) mutate
// cfg.Permission.Allow through GrantAllow.
func NewPolicyEngine(cfg *Config) *PolicyEngine {
	return &PolicyEngine{cfg: cfg}
}

// Check decides whether name (optionally MCP-qualified by serverName)
// may run without confirmation. args supplies the exec-kind "command"
// value, if any, so a prior "toolName:rootCommand" grant (see
// GrantAllow) can match the command actually being proposed. Deny is
// checked before Allow so an explicit deny always wins, matching the
// teacher's permission.deny precedence in its config loader.
func (p *PolicyEngine) Check(name string, args map[string]any, serverName string) Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()

	candidates := []string{name}
	if serverName != "" {
		candidates = append(candidates, serverName+"__"+name)
	}
	if command, ok := args["command"].(string); ok {
		if root := rootCommandOf(command); root != "" {
			candidates = append(candidates, name+":"+root)
		}
	}

	for _, pattern := range p.cfg.Permission.Deny {
		if matchesAny(pattern, candidates) {
			return DecisionDeny
		}
	}
	for _, pattern := range p.cfg.Permission.Allow {
		if matchesAny(pattern, candidates) {
			return DecisionAllow
		}
	}
	for _, pattern := range p.cfg.Permission.Ask {
		if matchesAny(pattern, candidates) {
			return p.askOrDeny()
		}
	}
	if !p.cfg.Permission.Interactive {
		return DecisionDeny
	}
	return DecisionAskUser
}

func (p *PolicyEngine) askOrDeny() Decision {
	if !p.cfg.Permission.Interactive {
		return DecisionDeny
	}
	return DecisionAskUser
}

func matchesAny(pattern string, candidates []string) bool {
	for _, c := range candidates {
		if ok, err := doublestar.Match(pattern, c); err == nil && ok {
			return true
		}
	}
	return false
}

// IsInteractive reports whether the current session accepts ASK_USER
// decisions at all.
func (p *PolicyEngine) IsInteractive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Permission.Interactive
}

// GrantAllow adds pattern to the allow list, the mechanism behind
// ProceedAlways/ProceedAlwaysTool/ProceedAlwaysServer. Callers compute
// pattern (exact tool name, or "${serverName}__*" for server-wide
// grants) before calling this.
func (p *PolicyEngine) GrantAllow(pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.cfg.Permission.Allow {
		if existing == pattern {
			return
		}
	}
	p.cfg.Permission.Allow = append(p.cfg.Permission.Allow, pattern)
}

// EnableAutoEditMode switches the global approval mode to auto-edit,
// the source's AUTO_EDIT_TOOLS-driven behavior (spec.md §4.5.1, §9).
// Flagged there as an ambiguous legacy mechanism; reproduced as a
// config mutation rather than a compiled-in branch so callers can
// inspect and override it.
func (p *PolicyEngine) EnableAutoEditMode() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Permission.DefaultMode = "auto_edit"
}

// IsAutoEditModeEnabled reports whether the global approval mode has
// actually been switched to auto-edit via EnableAutoEditMode. The
// scheduler's auto-edit confirmation bypass (spec.md §4.5.1) must
// consult this rather than IsAutoEditTool alone, since membership in
// the configured auto-edit tool list only scopes WHICH tools the mode
// applies to once enabled — it does not itself enable the mode.
func (p *PolicyEngine) IsAutoEditModeEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Permission.DefaultMode == "auto_edit"
}

// IsAutoEditTool reports whether name is in the configured auto-edit
// allow-list the scheduler's policy-update dispatch (spec.md §4.5.1)
// flips when the global "always allow edits" mode is toggled on.
func (p *PolicyEngine) IsAutoEditTool(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.cfg.Permission.AutoEditTools {
		if t == name {
			return true
		}
	}
	return false
}
