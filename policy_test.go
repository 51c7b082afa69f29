package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newPolicyTestConfig() *Config {
	cfg := defaultConfig()
	cfg.Permission.Interactive = true
	return &cfg
}

func TestPolicyEngineDenyBeatsAllow(t *testing.T) {
	cfg := newPolicyTestConfig()
	cfg.Permission.Allow = []string{"run_in_shell"}
	cfg.Permission.Deny = []string{"run_in_shell"}
	policy := NewPolicyEngine(cfg)

	assert.Equal(t, DecisionDeny, policy.Check("run_in_shell", nil, ""))
}

func TestPolicyEngineAllowGlob(t *testing.T) {
	cfg := newPolicyTestConfig()
	cfg.Permission.Allow = []string{"read_*"}
	policy := NewPolicyEngine(cfg)

	assert.Equal(t, DecisionAllow, policy.Check("read_file", nil, ""))
	assert.Equal(t, DecisionAskUser, policy.Check("write_file", nil, ""))
}

func TestPolicyEngineAskFallsBackToDenyWhenNonInteractive(t *testing.T) {
	cfg := newPolicyTestConfig()
	cfg.Permission.Interactive = false
	cfg.Permission.Ask = []string{"write_file"}
	policy := NewPolicyEngine(cfg)

	assert.Equal(t, DecisionDeny, policy.Check("write_file", nil, ""))
}

func TestPolicyEngineDefaultIsAskUserWhenInteractive(t *testing.T) {
	cfg := newPolicyTestConfig()
	policy := NewPolicyEngine(cfg)

	assert.Equal(t, DecisionAskUser, policy.Check("write_file", nil, ""))
}

func TestPolicyEngineDefaultIsDenyWhenNonInteractive(t *testing.T) {
	cfg := newPolicyTestConfig()
	cfg.Permission.Interactive = false
	policy := NewPolicyEngine(cfg)

	assert.Equal(t, DecisionDeny, policy.Check("write_file", nil, ""))
}

func TestPolicyEngineMCPQualifiedNameMatching(t *testing.T) {
	cfg := newPolicyTestConfig()
	cfg.Permission.Allow = []string{"myserver__*"}
	policy := NewPolicyEngine(cfg)

	assert.Equal(t, DecisionAllow, policy.Check("do_thing", nil, "myserver"))
	assert.Equal(t, DecisionAskUser, policy.Check("do_thing", nil, "otherserver"))
}

func TestPolicyEngineGrantAllowIsIdempotent(t *testing.T) {
	cfg := newPolicyTestConfig()
	policy := NewPolicyEngine(cfg)

	policy.GrantAllow("write_file")
	policy.GrantAllow("write_file")

	assert.Equal(t, []string{"write_file"}, cfg.Permission.Allow)
	assert.Equal(t, DecisionAllow, policy.Check("write_file", nil, ""))
}

func TestPolicyEngineEnableAutoEditMode(t *testing.T) {
	cfg := newPolicyTestConfig()
	policy := NewPolicyEngine(cfg)

	assert.False(t, policy.IsAutoEditModeEnabled())
	policy.EnableAutoEditMode()
	assert.Equal(t, "auto_edit", cfg.Permission.DefaultMode)
	assert.True(t, policy.IsAutoEditModeEnabled())
}

func TestPolicyEngineIsAutoEditTool(t *testing.T) {
	cfg := newPolicyTestConfig()
	cfg.Permission.AutoEditTools = []string{"write_file", "replace_text"}
	policy := NewPolicyEngine(cfg)

	assert.True(t, policy.IsAutoEditTool("write_file"))
	assert.False(t, policy.IsAutoEditTool("run_in_shell"))
}

func TestPolicyEngineCommandPrefixGrant(t *testing.T) {
	cfg := newPolicyTestConfig()
	policy := NewPolicyEngine(cfg)
	policy.GrantAllow("run_in_shell:git")

	gitArgs := map[string]any{"command": "git status"}
	curlArgs := map[string]any{"command": "curl example.com"}

	assert.Equal(t, DecisionAllow, policy.Check("run_in_shell", gitArgs, ""))
	assert.Equal(t, DecisionAskUser, policy.Check("run_in_shell", curlArgs, ""))
}
