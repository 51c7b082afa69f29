package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// PreferredEditor resolves the external editor to spawn for
// ModifyWithEditor: explicit config, then $VISUAL, then $EDITOR, then
// a last-resort "vi" default — the same fallback chain the teacher's
// CLI used for picking a pager/editor.
func PreferredEditor(cfg *Config) string {
	if cfg.Editor.Preferred != "" {
		return cfg.Editor.Preferred
	}
	if v := os.Getenv("VISUAL"); v != "" {
		return v
	}
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "vi"
}

// OpenInEditor writes seed to a temp file, runs editor against it with
// the process's own stdio so the terminal hands off cleanly, and
// returns the file's content after the editor exits. Cancelling ctx
// kills the editor process, mirroring the podman runner's
// context-driven cancellation.
func OpenInEditor(ctx context.Context, editor, seed string) (string, error) {
	f, err := os.CreateTemp("", "toolsched-edit-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(seed); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close scratch file: %w", err)
	}

	cmd := exec.CommandContext(ctx, editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("editor %q exited with error: %w", editor, err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read back edited file: %w", err)
	}
	return string(out), nil
}
