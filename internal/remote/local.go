package remote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// LocalRunner runs scripts with sh on this machine.
type LocalRunner struct {
	target string
	shell  string
}

// NewLocalRunner creates a LocalRunner reporting itself as target.
// An empty target defaults to "localhost".
func NewLocalRunner(target string) *LocalRunner {
	if target == "" {
		target = "localhost"
	}
	return &LocalRunner{target: target, shell: "sh"}
}

// Run executes script with `sh -c`. Cancelling ctx kills the shell.
func (r *LocalRunner) Run(ctx context.Context, script string) (Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.shell, "-c", script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitStatus = -1
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitCode()
		return res, nil
	default:
		res.ExitStatus = -1
		return res, err
	}
}

// Target returns the name this runner reports.
func (r *LocalRunner) Target() string {
	return r.target
}

// Close is a no-op.
func (r *LocalRunner) Close() error {
	return nil
}
