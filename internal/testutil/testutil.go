// Package testutil provides testing utilities for rollout tests: an in-memory
// remote filesystem, configuration stores, and throwaway git repositories to
// deploy from.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/spf13/viper"
)

// NewStore returns a config store with defaults applied and values set on
// top. It never touches the global viper instance.
func NewStore(t *testing.T, values map[string]any) *config.Store {
	t.Helper()

	v := viper.New()
	config.SetDefaultsOn(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return config.NewStore(v)
}

// SetupTestRepo creates a temporary git repository with one commit on main,
// suitable as a clone source for deploy tests. The repository is removed
// when the test completes.
func SetupTestRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	if err := runGit(dir, "init"); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}

	if len(files) == 0 {
		files = map[string]string{"README.md": "# Test Application\n"}
	}
	for path, content := range files {
		writeFile(t, filepath.Join(dir, path), content)
	}

	if err := runGit(dir, "add", "."); err != nil {
		t.Fatalf("failed to stage files: %v", err)
	}
	if err := runGit(dir, "commit", "-m", "Initial commit"); err != nil {
		t.Fatalf("failed to create initial commit: %v", err)
	}
	// Some systems default to master.
	if err := runGit(dir, "branch", "-M", "main"); err != nil {
		t.Fatalf("failed to rename branch to main: %v", err)
	}

	return dir
}

// CommitFile creates or updates a file and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	writeFile(t, filepath.Join(repoDir, path), content)
	if err := runGit(repoDir, "add", path); err != nil {
		t.Fatalf("failed to stage file %s: %v", path, err)
	}
	if err := runGit(repoDir, "commit", "-m", message); err != nil {
		t.Fatalf("failed to commit file %s: %v", path, err)
	}
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

// SkipUnlessLinux skips tests that drive a real shell, whose scripts rely on
// GNU coreutils.
func SkipUnlessLinux(t *testing.T) {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("requires GNU coreutils, skipping test")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// runGit runs a git command in the specified directory.
func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Rollout Test",
		"GIT_AUTHOR_EMAIL=test@rollout.dev",
		"GIT_COMMITTER_NAME=Rollout Test",
		"GIT_COMMITTER_EMAIL=test@rollout.dev",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &gitError{args: args, output: output, err: err}
	}
	return nil
}

type gitError struct {
	args   []string
	output []byte
	err    error
}

func (e *gitError) Error() string {
	return "git " + strings.Join(e.args, " ") + ": " + e.err.Error() + "\n" + string(e.output)
}

func (e *gitError) Unwrap() error {
	return e.err
}
