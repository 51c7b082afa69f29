package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/yargevad/filepathx"
)

// argString/argBool/argStringSlice pull a typed value out of a tool's
// args map, the shape every Build() receives once the LLM's raw JSON
// arguments have already been decoded by the caller.
func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.Trim(v, `"'`)
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// --- read_file ---

type ReadFileTool struct{}

func (ReadFileTool) Name() string        { return "read_file" }
func (ReadFileTool) DisplayName() string { return "Read File" }
func (ReadFileTool) IsMCP() bool         { return false }
func (ReadFileTool) ServerName() string  { return "" }

func (ReadFileTool) Build(args map[string]any) (Invocation, error) {
	path := argString(args, "path")
	if path == "" {
		return nil, fmt.Errorf("read_file requires a 'path' argument")
	}
	return &readFileInvocation{path: path, offset: argInt(args, "offset"), limit: argInt(args, "limit")}, nil
}

type readFileInvocation struct {
	path          string
	offset, limit int
}

func (i *readFileInvocation) Args() map[string]any {
	return map[string]any{"path": i.path, "offset": i.offset, "limit": i.limit}
}

func (i *readFileInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return nil, nil
}

func (i *readFileInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	content, err := os.ReadFile(i.path)
	if err != nil {
		return Response{}, err
	}
	contentStr := string(content)

	if i.offset == 0 && i.limit == 0 {
		return Response{DisplayText: fmt.Sprintf("Read %d lines", lineCount(contentStr)), Parts: []map[string]any{{"text": contentStr}}}, nil
	}

	lines := strings.Split(contentStr, "\n")
	total := len(lines)
	start := 0
	if i.offset > 0 {
		start = i.offset - 1
		if start >= total {
			return Response{DisplayText: "Read 0 lines"}, nil
		}
	}
	end := total
	if i.limit > 0 {
		end = start + i.limit
		if end > total {
			end = total
		}
	}
	selected := strings.Join(lines[start:end], "\n")
	return Response{DisplayText: fmt.Sprintf("Read %d lines", end-start), Parts: []map[string]any{{"text": selected}}}, nil
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// --- write_file ---

type WriteFileTool struct{}

func (WriteFileTool) Name() string        { return "write_file" }
func (WriteFileTool) DisplayName() string { return "Write File" }
func (WriteFileTool) IsMCP() bool         { return false }
func (WriteFileTool) ServerName() string  { return "" }

func (WriteFileTool) Build(args map[string]any) (Invocation, error) {
	path := argString(args, "path")
	if path == "" {
		return nil, fmt.Errorf("write_file requires a 'path' argument")
	}
	return &writeFileInvocation{path: path, content: argString(args, "content")}, nil
}

type writeFileInvocation struct {
	path, content string
}

func (i *writeFileInvocation) Args() map[string]any { return map[string]any{"path": i.path, "content": i.content} }

func (i *writeFileInvocation) ProposedContent() string { return i.content }

func (i *writeFileInvocation) ContentArgKey() string { return "content" }

func (i *writeFileInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	existing := ""
	if b, err := os.ReadFile(i.path); err == nil {
		existing = string(b)
	}
	return &ConfirmationDetails{
		Kind:         "edit",
		Description:  fmt.Sprintf("Write to %s", i.path),
		ProposedDiff: unifiedDiff(existing, i.content),
	}, nil
}

func (i *writeFileInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	if err := os.WriteFile(i.path, []byte(i.content), 0o644); err != nil {
		return Response{}, err
	}
	return Response{DisplayText: fmt.Sprintf("Successfully wrote to %s", i.path)}, nil
}

// unifiedDiff renders a character-level diff (semantically cleaned up,
// formatted as diffmatchpatch patch text) between before and after
// using the teacher pack's diffmatchpatch library, so the confirmation
// modal (tui.go's renderConfirmationModal) shows the actual change
// rather than a before/after blob.
func unifiedDiff(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(before, diffs)
	return dmp.PatchToText(patches)
}

// --- list_files ---

type ListDirectoryTool struct{}

func (ListDirectoryTool) Name() string        { return "list_files" }
func (ListDirectoryTool) DisplayName() string { return "List Files" }
func (ListDirectoryTool) IsMCP() bool         { return false }
func (ListDirectoryTool) ServerName() string  { return "" }

func (ListDirectoryTool) Build(args map[string]any) (Invocation, error) {
	path := argString(args, "path")
	if path == "" {
		path = "."
	}
	return &listDirectoryInvocation{path: path}, nil
}

type listDirectoryInvocation struct{ path string }

func (i *listDirectoryInvocation) Args() map[string]any { return map[string]any{"path": i.path} }

func (i *listDirectoryInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return nil, nil
}

func (i *listDirectoryInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	entries, err := os.ReadDir(i.path)
	if err != nil {
		return Response{}, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return Response{
		DisplayText: fmt.Sprintf("Found %d items", len(names)),
		Parts:       []map[string]any{{"text": strings.Join(names, "\n")}},
	}, nil
}

// --- replace_text ---

type ReplaceTextTool struct{}

func (ReplaceTextTool) Name() string        { return "replace_text" }
func (ReplaceTextTool) DisplayName() string { return "Replace Text" }
func (ReplaceTextTool) IsMCP() bool         { return false }
func (ReplaceTextTool) ServerName() string  { return "" }

func (ReplaceTextTool) Build(args map[string]any) (Invocation, error) {
	path := argString(args, "path")
	if path == "" {
		return nil, fmt.Errorf("replace_text requires a 'path' argument")
	}
	return &replaceTextInvocation{path: path, oldText: argString(args, "old_text"), newText: argString(args, "new_text")}, nil
}

type replaceTextInvocation struct {
	path, oldText, newText string
}

func (i *replaceTextInvocation) Args() map[string]any {
	return map[string]any{"path": i.path, "old_text": i.oldText, "new_text": i.newText}
}

func (i *replaceTextInvocation) ProposedContent() string { return i.newText }

func (i *replaceTextInvocation) ContentArgKey() string { return "new_text" }

func (i *replaceTextInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	content, err := os.ReadFile(i.path)
	if err != nil {
		return nil, err
	}
	after := strings.ReplaceAll(string(content), i.oldText, i.newText)
	return &ConfirmationDetails{
		Kind:         "edit",
		Description:  fmt.Sprintf("Replace text in %s", i.path),
		ProposedDiff: unifiedDiff(string(content), after),
	}, nil
}

func (i *replaceTextInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	content, err := os.ReadFile(i.path)
	if err != nil {
		return Response{}, err
	}
	old := string(content)
	if i.oldText == i.newText {
		return Response{DisplayText: fmt.Sprintf("No changes to apply in %s", i.path)}, nil
	}
	occurrences := strings.Count(old, i.oldText)
	if occurrences == 0 {
		return Response{DisplayText: fmt.Sprintf("No occurrences of %q found in %s", i.oldText, i.path)}, nil
	}
	newContent := strings.ReplaceAll(old, i.oldText, i.newText)
	if err := os.WriteFile(i.path, []byte(newContent), 0o644); err != nil {
		return Response{}, err
	}
	return Response{DisplayText: fmt.Sprintf("Successfully modified %s (%d replacements)", i.path, occurrences)}, nil
}

// --- run_in_shell ---

type RunInShellInput struct {
	Command     string
	Description string
}

type RunInShellOutput struct {
	Output   string `json:"output"`
	ExitCode string `json:"exitCode"`
}

// shellRunner backs the run_in_shell tool. Both runners in this package
// call onOutput once, with the command's whole output after it
// finishes; they do not deliver partial output while it runs. onPID is
// invoked once the underlying process id is known, if the runner can
// report one (the host runner does, the podman runner does not).
type shellRunner interface {
	Run(ctx context.Context, params RunInShellInput, onOutput func(string), onPID func(int)) (RunInShellOutput, error)
}

var (
	currentShellRunner shellRunner = hostShellRunner{}
)

func setShellRunnerForTesting(r shellRunner) func() {
	prev := currentShellRunner
	currentShellRunner = r
	return func() { currentShellRunner = prev }
}

// initShellRunner installs the podman-backed runner, falling back to
// the host shell when podman is unavailable and the config allows it.
func initShellRunner(cfg *Config) {
	currentShellRunner = newPodmanShellRunner(cfg.Permission.Interactive)
}

func getShellRunner() shellRunner {
	return currentShellRunner
}

type RunInShellTool struct{}

func (RunInShellTool) Name() string        { return "run_in_shell" }
func (RunInShellTool) DisplayName() string { return "Run In Shell" }
func (RunInShellTool) IsMCP() bool         { return false }
func (RunInShellTool) ServerName() string  { return "" }

func (RunInShellTool) Build(args map[string]any) (Invocation, error) {
	command := argString(args, "command")
	if command == "" {
		return nil, fmt.Errorf("run_in_shell requires a 'command' argument")
	}
	return &runInShellInvocation{command: command, description: argString(args, "description")}, nil
}

type runInShellInvocation struct {
	command, description string
}

func (i *runInShellInvocation) Args() map[string]any {
	return map[string]any{"command": i.command, "description": i.description}
}

func (i *runInShellInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return &ConfirmationDetails{
		Kind:        "exec",
		Description: i.description,
		RootCommand: rootCommandOf(i.command),
	}, nil
}

// rootCommandOf returns the first whitespace-separated token of a shell
// command, the scope a command-prefix policy grant is keyed on.
func rootCommandOf(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (i *runInShellInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	output, err := getShellRunner().Run(ctx, RunInShellInput{Command: i.command, Description: i.description}, onOutput, onPID)
	if err != nil {
		return Response{}, err
	}
	summary := "Command completed successfully"
	if output.ExitCode != "" && output.ExitCode != "0" {
		summary = fmt.Sprintf("Command failed (exit code %s)", output.ExitCode)
	}
	return Response{DisplayText: summary, Parts: []map[string]any{{"output": output.Output, "exitCode": output.ExitCode}}}, nil
}

type hostShellRunner struct{}

func (hostShellRunner) Run(ctx context.Context, params RunInShellInput, onOutput func(string), onPID func(int)) (RunInShellOutput, error) {
	var output RunInShellOutput

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/c", params.Command)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-c", params.Command)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return output, err
	}
	if onPID != nil && cmd.Process != nil {
		onPID(cmd.Process.Pid)
	}
	runErr := cmd.Wait()

	output.Output = stdout.String()
	if stderr.Len() > 0 {
		if output.Output != "" {
			output.Output += "\n"
		}
		output.Output += stderr.String()
	}
	if onOutput != nil && output.Output != "" {
		onOutput(output.Output)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			output.ExitCode = fmt.Sprintf("%d", exitErr.ExitCode())
		} else {
			output.ExitCode = "-1"
		}
	} else if cmd.ProcessState != nil {
		output.ExitCode = fmt.Sprintf("%d", cmd.ProcessState.ExitCode())
	}

	return output, nil
}

// PodmanUnavailableError describes a podman runner that could not
// establish a container connection with no host fallback permitted.
// PodmanShellRunner.Run reports that case with a plain wrapped error;
// nothing in this package returns this type.
type PodmanUnavailableError struct{ reason string }

func (e PodmanUnavailableError) Error() string { return e.reason }

// --- read_many_files ---

type ReadManyFilesTool struct{}

func (ReadManyFilesTool) Name() string        { return "read_many_files" }
func (ReadManyFilesTool) DisplayName() string { return "Read Many Files" }
func (ReadManyFilesTool) IsMCP() bool         { return false }
func (ReadManyFilesTool) ServerName() string  { return "" }

func (ReadManyFilesTool) Build(args map[string]any) (Invocation, error) {
	paths := argStringSlice(args, "paths")
	if len(paths) == 0 {
		return nil, fmt.Errorf("read_many_files requires a non-empty 'paths' argument")
	}
	return &readManyFilesInvocation{paths: paths}, nil
}

type readManyFilesInvocation struct{ paths []string }

func (i *readManyFilesInvocation) Args() map[string]any {
	asAny := make([]any, len(i.paths))
	for idx, p := range i.paths {
		asAny[idx] = p
	}
	return map[string]any{"paths": asAny}
}

func (i *readManyFilesInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return nil, nil
}

func (i *readManyFilesInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	var allMatches []string
	for _, pattern := range i.paths {
		matches, err := filepathx.Glob(pattern)
		if err != nil {
			continue
		}
		allMatches = append(allMatches, matches...)
	}

	seen := make(map[string]bool)
	var builder strings.Builder
	fileCount := 0
	for _, path := range allMatches {
		if seen[path] {
			continue
		}
		seen[path] = true
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		builder.WriteString(fmt.Sprintf("---\t%s---\n", path))
		builder.Write(content)
		builder.WriteString("\n")
		fileCount++
	}

	return Response{
		DisplayText: fmt.Sprintf("Read %d files", fileCount),
		Parts:       []map[string]any{{"text": builder.String()}},
	}, nil
}

// --- merge ---

type MergeTool struct{}

func (MergeTool) Name() string        { return "merge" }
func (MergeTool) DisplayName() string { return "Merge" }
func (MergeTool) IsMCP() bool         { return false }
func (MergeTool) ServerName() string  { return "" }

func (MergeTool) Build(args map[string]any) (Invocation, error) {
	worktreePath := strings.TrimSpace(argString(args, "worktree_path"))
	if worktreePath == "" {
		return nil, errors.New("merge requires a 'worktree_path' argument")
	}
	branch := strings.TrimSpace(argString(args, "branch"))
	if branch == "" {
		return nil, errors.New("merge requires a 'branch' argument")
	}
	mainBranch := strings.TrimSpace(argString(args, "main_branch"))
	if mainBranch == "" {
		mainBranch = "main"
	}
	return &mergeInvocation{
		worktreePath:  worktreePath,
		branch:        branch,
		mainBranch:    mainBranch,
		push:          argBool(args, "push"),
		commitMessage: strings.TrimSpace(argString(args, "commit_message")),
		skipReview:    argBool(args, "skip_review"),
	}, nil
}

type mergeInvocation struct {
	worktreePath, branch, mainBranch, commitMessage string
	push, skipReview                                bool
}

func (i *mergeInvocation) Args() map[string]any {
	return map[string]any{
		"worktree_path":  i.worktreePath,
		"branch":         i.branch,
		"main_branch":    i.mainBranch,
		"push":           i.push,
		"commit_message": i.commitMessage,
		"skip_review":    i.skipReview,
	}
}

func (i *mergeInvocation) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	return &ConfirmationDetails{
		Kind:        "exec",
		Description: fmt.Sprintf("Squash-merge %s onto %s", i.branch, i.mainBranch),
	}, nil
}

// Execute runs the review/rebase/squash/merge pipeline. Approval for
// the merge itself was already granted by the scheduler's confirmation
// loop, so this proceeds straight to the lazygit review (unless
// skipped) and the git plumbing.
func (i *mergeInvocation) Execute(ctx context.Context, onOutput func(string), onPID func(int)) (Response, error) {
	absWorktree, err := filepath.Abs(i.worktreePath)
	if err != nil {
		return Response{}, fmt.Errorf("failed to resolve worktree path: %w", err)
	}
	if _, err := os.Stat(absWorktree); err != nil {
		return Response{}, fmt.Errorf("invalid worktree_path: %w", err)
	}
	if root := findProjectRoot(absWorktree); !isGitRepositoryAt(root) {
		return Response{}, fmt.Errorf("worktree_path %s is not inside a git repository", i.worktreePath)
	}

	if !i.skipReview {
		lazygitCmd := strings.TrimSpace(os.Getenv("TOOLSCHED_LAZYGIT_CMD"))
		if lazygitCmd == "" {
			lazygitCmd = "lazygit"
		}
		if _, err := exec.LookPath(lazygitCmd); err != nil {
			return Response{}, fmt.Errorf("unable to locate lazygit command: %w", err)
		}
		cmd := exec.CommandContext(ctx, lazygitCmd)
		cmd.Dir = absWorktree
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		if err := cmd.Run(); err != nil {
			return Response{}, fmt.Errorf("lazygit exited with an error: %w", err)
		}
	}

	commitMsg := i.commitMessage
	if commitMsg == "" {
		return Response{}, errors.New("commit_message is required")
	}

	var log bytes.Buffer
	log.WriteString("Starting merge process...\n")

	baseRef := fmt.Sprintf("origin/%s", i.mainBranch)
	if err := runGitCommand(ctx, absWorktree, &log, "fetch", "origin", i.mainBranch); err != nil {
		log.WriteString(fmt.Sprintf("git fetch origin %s failed: %v\n", i.mainBranch, err))
		baseRef = i.mainBranch
	}

	if err := runGitCommand(ctx, absWorktree, &log, "rebase", baseRef); err != nil {
		runGitCommand(ctx, absWorktree, &log, "rebase", "--abort")
		return Response{}, fmt.Errorf("git rebase failed: %w\n%s", err, log.String())
	}

	if err := runGitCommand(ctx, absWorktree, &log, "reset", "--soft", baseRef); err != nil {
		return Response{}, fmt.Errorf("git reset failed: %w\n%s", err, log.String())
	}

	if err := runGitCommand(ctx, absWorktree, &log, "add", "-A"); err != nil {
		return Response{}, fmt.Errorf("git add failed: %w\n%s", err, log.String())
	}

	if err := runGitCommand(ctx, absWorktree, &log, "commit", "-m", commitMsg); err != nil {
		return Response{}, fmt.Errorf("git commit failed: %w\n%s", err, log.String())
	}

	repoRoot, err := resolveRepoRoot(ctx, absWorktree)
	if err != nil {
		return Response{}, fmt.Errorf("failed to resolve repository root: %w", err)
	}

	if err := runGitCommand(ctx, repoRoot, &log, "checkout", i.mainBranch); err != nil {
		return Response{}, fmt.Errorf("git checkout %s failed: %w\n%s", i.mainBranch, err, log.String())
	}

	if err := runGitCommand(ctx, repoRoot, &log, "pull", "--ff-only", "origin", i.mainBranch); err != nil {
		log.WriteString(fmt.Sprintf("git pull origin %s failed: %v (continuing without remote update)\n", i.mainBranch, err))
	}

	if err := runGitCommand(ctx, repoRoot, &log, "merge", "--ff-only", i.branch); err != nil {
		return Response{}, fmt.Errorf("git merge failed: %w\n%s", err, log.String())
	}

	if i.push {
		if err := runGitCommand(ctx, repoRoot, &log, "push", "origin", i.mainBranch); err != nil {
			return Response{}, fmt.Errorf("git push failed: %w\n%s", err, log.String())
		}
	}

	if err := runGitCommand(ctx, repoRoot, &log, "worktree", "remove", "--force", absWorktree); err != nil {
		return Response{}, fmt.Errorf("git worktree remove failed: %w\n%s", err, log.String())
	}

	if err := runGitCommand(ctx, repoRoot, &log, "branch", "-D", i.branch); err != nil {
		return Response{}, fmt.Errorf("git branch -D failed: %w\n%s", err, log.String())
	}

	log.WriteString("Merge completed successfully.\n")
	if onOutput != nil {
		onOutput(log.String())
	}
	return Response{DisplayText: "Merge completed", Parts: []map[string]any{{"log": log.String()}}}, nil
}

func runGitCommand(ctx context.Context, dir string, log *bytes.Buffer, args ...string) error {
	if log != nil {
		log.WriteString(fmt.Sprintf("$ git %s\n", strings.Join(args, " ")))
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = gitCommandEnv()
	if log != nil {
		cmd.Stdout = log
		cmd.Stderr = log
	}
	return cmd.Run()
}

func resolveRepoRoot(ctx context.Context, worktreePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", worktreePath, "rev-parse", "--git-common-dir")
	cmd.Env = gitCommandEnv()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git rev-parse --git-common-dir failed: %w (%s)", err, out.String())
	}

	commonDir := strings.TrimSpace(out.String())
	if commonDir == "" {
		return "", errors.New("git common dir not found")
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(worktreePath, commonDir)
	}
	return filepath.Dir(commonDir), nil
}

func gitCommandEnv() []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env))
	for _, value := range env {
		if strings.HasPrefix(value, "GIT_") {
			continue
		}
		filtered = append(filtered, value)
	}
	return filtered
}

// registerBuiltinTools registers every fixture tool the scheduler ships
// with, exercising the whole registry/policy/confirmation/execution
// pipeline end to end.
func registerBuiltinTools(r *ToolRegistry) {
	r.Register(ReadFileTool{})
	r.Register(WriteFileTool{})
	r.Register(ListDirectoryTool{})
	r.Register(ReplaceTextTool{})
	r.Register(RunInShellTool{})
	r.Register(ReadManyFilesTool{})
	r.Register(MergeTool{})
}
