package main

import (
	"context"
	"fmt"
)

// ModificationHandler implements the ModifyWithEditor and inline-edit
// confirmation outcomes (spec.md §4.3): both arrive at the same place,
// an updated args map the scheduler re-validates and re-builds the
// invocation from before falling back into the confirmation loop.
type ModificationHandler struct {
	editor string
}

// NewModificationHandler binds the resolved preferred editor command.
func NewModificationHandler(editor string) *ModificationHandler {
	return &ModificationHandler{editor: editor}
}

// HandleModifyWithEditor seeds the external editor with the
// invocation's current proposed content (tools that support editing
// expose it via the EditableInvocation interface), waits for the user
// to save and exit, and returns the full updated args map (the
// original args with the edited content folded back under whichever
// key the invocation reports) for the scheduler to rebuild from.
func (m *ModificationHandler) HandleModifyWithEditor(ctx context.Context, call *ToolCall) (map[string]any, error) {
	editable, ok := call.Invocation.(EditableInvocation)
	if !ok {
		return nil, fmt.Errorf("tool %q does not support editor modification", call.Request.Name)
	}
	edited, err := OpenInEditor(ctx, m.editor, editable.ProposedContent())
	if err != nil {
		return nil, err
	}
	return mergeContentArg(call, editable, edited), nil
}

// ApplyInlineModify merges a newContent payload (as carried in a
// ConfirmationResponse from an IDE diff widget) into call's args,
// returning the updated args map for the scheduler to rebuild the
// invocation from.
func (m *ModificationHandler) ApplyInlineModify(call *ToolCall, payload map[string]any) (map[string]any, error) {
	newContent, ok := payload["newContent"]
	if !ok {
		return nil, fmt.Errorf("inline modify payload missing newContent")
	}
	newContentStr, ok := newContent.(string)
	if !ok {
		return nil, fmt.Errorf("inline modify payload's newContent must be a string")
	}
	editable, ok := call.Invocation.(EditableInvocation)
	if !ok {
		return nil, fmt.Errorf("tool %q does not support inline modification", call.Request.Name)
	}
	return mergeContentArg(call, editable, newContentStr), nil
}

// mergeContentArg copies call's current args and overwrites whichever
// key editable reports as its editable content with newContent,
// preserving every other arg (e.g. the target path) unchanged.
func mergeContentArg(call *ToolCall, editable EditableInvocation, newContent string) map[string]any {
	updated := make(map[string]any, len(call.Request.Args)+1)
	for k, v := range call.Request.Args {
		updated[k] = v
	}
	updated[editable.ContentArgKey()] = newContent
	return updated
}

// EditableInvocation is implemented by invocations whose pending
// change has a textual representation that can be round-tripped
// through an external editor (file writes, replacements).
type EditableInvocation interface {
	ProposedContent() string
	// ContentArgKey names the Build() arg the edited text replaces
	// (e.g. "content" for write_file, "new_text" for replace_text).
	ContentArgKey() string
}
