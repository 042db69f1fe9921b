package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
)

// Command is a shell command line with an optional working directory.
type Command struct {
	Line string
	Dir  string
}

// String renders the command as it is sent to the shell.
func (c Command) String() string {
	if c.Dir == "" {
		return c.Line
	}
	return fmt.Sprintf("cd %s && %s", shellescape.Quote(c.Dir), c.Line)
}

// Executor is the set of remote operations the deploy lifecycle performs on a
// target. Every method that fails because of the remote side returns an
// *errors.ExecutionError.
type Executor interface {
	// Host names the target.
	Host() string
	// Run executes a command and fails on a non-zero exit.
	Run(ctx context.Context, cmd Command) (Result, error)
	// Move renames src to dst, treating dst as a plain path.
	Move(ctx context.Context, src, dst string) error
	// CreateDir creates path and its parents.
	CreateDir(ctx context.Context, path string) error
	// RemoveDir removes path recursively. A missing path is not an error.
	RemoveDir(ctx context.Context, path string) error
	// RemoveFile removes a single file. A missing file is not an error.
	RemoveFile(ctx context.Context, path string) error
	// ReplaceSymlink points link at target, replacing any existing link
	// atomically.
	ReplaceSymlink(ctx context.Context, link, target string) error
	// ListDir returns the entry names in dir.
	ListDir(ctx context.Context, dir string) ([]string, error)
	// Exists reports whether path exists. Dangling symlinks exist.
	Exists(ctx context.Context, path string) (bool, error)
	// ReadLink returns the target of a symlink, or "" when path is not one.
	ReadLink(ctx context.Context, path string) (string, error)
	// CreateExclusive creates path with content, failing if it exists.
	CreateExclusive(ctx context.Context, path, content string) error
	// ReadFile returns the content of path.
	ReadFile(ctx context.Context, path string) (string, error)
	// Touch creates path if missing and sets its mode.
	Touch(ctx context.Context, path string, mode os.FileMode) error
	// Chmod sets the permission bits of path.
	Chmod(ctx context.Context, path string, mode os.FileMode) error
}

// Host implements Executor with POSIX shell scripts sent through a Runner.
// The scripts rely on GNU coreutils (mv -T, ln -n).
type Host struct {
	runner Runner
	logger *logging.Logger
}

var _ Executor = (*Host)(nil)

// NewHost wraps runner. logger may be nil.
func NewHost(runner Runner, logger *logging.Logger) *Host {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Host{runner: runner, logger: logger.WithHost(runner.Target())}
}

// Host returns the runner's target name.
func (h *Host) Host() string {
	return h.runner.Target()
}

// Close closes the underlying runner.
func (h *Host) Close() error {
	return h.runner.Close()
}

// Run executes cmd in cmd.Dir.
func (h *Host) Run(ctx context.Context, cmd Command) (Result, error) {
	return h.exec(ctx, cmd.String())
}

func (h *Host) exec(ctx context.Context, script string) (Result, error) {
	h.logger.Debug("run", "command", script)

	res, err := h.runner.Run(ctx, script)
	if err != nil {
		retryable := errors.Is(err, errors.ErrConnectionFailed)
		return res, errors.NewExecutionError("command could not complete", err).
			WithHost(h.Host()).
			WithCommand(script).
			WithOutput(res.Output()).
			WithRetryable(retryable)
	}
	if !res.Success() {
		h.logger.Debug("command failed", "command", script, "exit_status", res.ExitStatus)
		return res, errors.NewExecutionError("command failed", nil).
			WithHost(h.Host()).
			WithCommand(script).
			WithExitStatus(res.ExitStatus).
			WithOutput(res.Output())
	}
	return res, nil
}

func (h *Host) execf(ctx context.Context, format string, paths ...string) (Result, error) {
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = shellescape.Quote(p)
	}
	return h.exec(ctx, fmt.Sprintf(format, args...))
}

// Move runs mv -T so an existing directory at dst is never entered.
func (h *Host) Move(ctx context.Context, src, dst string) error {
	_, err := h.execf(ctx, "mv -T -- %s %s", src, dst)
	return err
}

// CreateDir runs mkdir -p.
func (h *Host) CreateDir(ctx context.Context, dir string) error {
	_, err := h.execf(ctx, "mkdir -p -- %s", dir)
	return err
}

// RemoveDir runs rm -rf.
func (h *Host) RemoveDir(ctx context.Context, dir string) error {
	_, err := h.execf(ctx, "rm -rf -- %s", dir)
	return err
}

// RemoveFile runs rm -f.
func (h *Host) RemoveFile(ctx context.Context, file string) error {
	_, err := h.execf(ctx, "rm -f -- %s", file)
	return err
}

// ReplaceSymlink creates a temporary link beside link and renames it over
// link, so readers never observe a missing link.
func (h *Host) ReplaceSymlink(ctx context.Context, link, target string) error {
	tmp := link + ".tmp-" + path.Base(target)
	_, err := h.execf(ctx, "ln -sfn -- %s %s && mv -Tf -- %s %s", target, tmp, tmp, link)
	return err
}

// ListDir runs ls -1A and returns the names.
func (h *Host) ListDir(ctx context.Context, dir string) ([]string, error) {
	res, err := h.execf(ctx, "ls -1A -- %s", dir)
	if err != nil {
		return nil, err
	}
	return res.Lines(), nil
}

// Exists tests path with -e, and -L for dangling links.
func (h *Host) Exists(ctx context.Context, p string) (bool, error) {
	res, err := h.execf(ctx, "if [ -e %s ] || [ -L %s ]; then echo yes; else echo no; fi", p, p)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "yes", nil
}

// ReadLink returns the raw symlink target of p.
func (h *Host) ReadLink(ctx context.Context, p string) (string, error) {
	res, err := h.execf(ctx, "if [ -L %s ]; then readlink -- %s; fi", p, p)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CreateExclusive writes content to p under noclobber, which fails when p
// already exists.
func (h *Host) CreateExclusive(ctx context.Context, p, content string) error {
	_, err := h.execf(ctx, "(set -C; printf '%%s\\n' %s > %s)", content, p)
	return err
}

// ReadFile runs cat.
func (h *Host) ReadFile(ctx context.Context, p string) (string, error) {
	res, err := h.execf(ctx, "cat -- %s", p)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Touch creates p if missing and applies mode.
func (h *Host) Touch(ctx context.Context, p string, mode os.FileMode) error {
	if _, err := h.execf(ctx, "touch -- %s", p); err != nil {
		return err
	}
	return h.Chmod(ctx, p, mode)
}

// Chmod applies the permission bits of mode to p.
func (h *Host) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	_, err := h.exec(ctx, fmt.Sprintf("chmod %o -- %s", mode.Perm(), shellescape.Quote(p)))
	return err
}
