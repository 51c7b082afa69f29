package main

import (
	"os"
	"os/exec"
	"path/filepath"
)

// findProjectRoot returns the nearest ancestor directory (including start)
// that contains a project marker like .git. Falls back to start.
func findProjectRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// isGitRepository checks if the current directory is a git repository.
func isGitRepository() bool {
	return isGitRepositoryAt("")
}

// isGitRepositoryAt checks if dir (or the current directory, if dir is
// empty) is inside a git repository.
func isGitRepositoryAt(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}
