package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInvocation struct{}

func (stubInvocation) Args() map[string]any { return nil }
func (stubInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return nil, nil
}
func (stubInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	return Response{}, nil
}

type stubTool struct{ name string }

func (t stubTool) Name() string        { return t.name }
func (t stubTool) DisplayName() string { return t.name }
func (t stubTool) IsMCP() bool         { return false }
func (t stubTool) ServerName() string  { return "" }
func (t stubTool) Build(args map[string]any) (Invocation, error) {
	return stubInvocation{}, nil
}

func TestToolRegistryRegisterAndGetTool(t *testing.T) {
	r := NewToolRegistry()
	r.Register(stubTool{name: "read_file"})

	tool, ok := r.GetTool("read_file")
	require.True(t, ok)
	assert.Equal(t, "read_file", tool.Name())

	_, ok = r.GetTool("missing_tool")
	assert.False(t, ok)
}

func TestToolRegistryGetAllToolNamesIsSorted(t *testing.T) {
	r := NewToolRegistry()
	r.Register(stubTool{name: "write_file"})
	r.Register(stubTool{name: "read_file"})

	assert.Equal(t, []string{"read_file", "write_file"}, r.GetAllToolNames())
}

func TestToolRegistrySuggestNearestName(t *testing.T) {
	r := NewToolRegistry()
	r.Register(stubTool{name: "read_file"})
	r.Register(stubTool{name: "write_file"})

	assert.Equal(t, "read_file", r.Suggest("read_fil"))
}

func TestToolRegistrySuggestEmptyWhenNoTools(t *testing.T) {
	r := NewToolRegistry()
	assert.Equal(t, "", r.Suggest("anything"))
}

func TestErrToolNotRegisteredMessage(t *testing.T) {
	withSuggestion := &ErrToolNotRegistered{Name: "fooo", Suggestion: "foo"}
	assert.Contains(t, withSuggestion.Error(), "did you mean")

	withoutSuggestion := &ErrToolNotRegistered{Name: "fooo"}
	assert.NotContains(t, withoutSuggestion.Error(), "did you mean")
}
