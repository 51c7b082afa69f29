package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type editableTestInvocation struct {
	content  string
	argKey   string
	editable bool
}

func (i *editableTestInvocation) Args() map[string]any { return nil }
func (i *editableTestInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return nil, nil
}
func (i *editableTestInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	return Response{}, nil
}
func (i *editableTestInvocation) ProposedContent() string { return i.content }
func (i *editableTestInvocation) ContentArgKey() string   { return i.argKey }

func TestApplyInlineModifyMergesOnlyTheContentKey(t *testing.T) {
	m := NewModificationHandler("vi")
	call := &ToolCall{
		Request:    ToolCallRequest{Args: map[string]any{"path": "a.txt", "new_text": "old"}},
		Invocation: &editableTestInvocation{content: "old", argKey: "new_text"},
	}

	updated, err := m.ApplyInlineModify(call, map[string]any{"newContent": "new"})

	require.NoError(t, err)
	assert.Equal(t, "a.txt", updated["path"])
	assert.Equal(t, "new", updated["new_text"])
}

func TestApplyInlineModifyRejectsMissingPayloadKey(t *testing.T) {
	m := NewModificationHandler("vi")
	call := &ToolCall{Invocation: &editableTestInvocation{argKey: "content"}}

	_, err := m.ApplyInlineModify(call, map[string]any{})
	assert.Error(t, err)
}

func TestApplyInlineModifyRejectsNonStringContent(t *testing.T) {
	m := NewModificationHandler("vi")
	call := &ToolCall{Invocation: &editableTestInvocation{argKey: "content"}}

	_, err := m.ApplyInlineModify(call, map[string]any{"newContent": 42})
	assert.Error(t, err)
}

func TestApplyInlineModifyRejectsNonEditableInvocation(t *testing.T) {
	m := NewModificationHandler("vi")
	call := &ToolCall{Invocation: &stubInvocation{}}

	_, err := m.ApplyInlineModify(call, map[string]any{"newContent": "new"})
	assert.Error(t, err)
}

func TestMergeContentArgPreservesOtherArgs(t *testing.T) {
	call := &ToolCall{Request: ToolCallRequest{Args: map[string]any{"path": "a.txt", "old_text": "x", "new_text": "y"}}}
	editable := &editableTestInvocation{argKey: "new_text"}

	updated := mergeContentArg(call, editable, "z")

	assert.Equal(t, "a.txt", updated["path"])
	assert.Equal(t, "x", updated["old_text"])
	assert.Equal(t, "z", updated["new_text"])
}
