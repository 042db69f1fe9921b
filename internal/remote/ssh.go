package remote

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/rollout/internal/errors"
	"golang.org/x/crypto/ssh"
)

// SSHRunner runs scripts over an established SSH connection. Each Run opens
// its own session, so one runner may serve concurrent callers.
type SSHRunner struct {
	client *ssh.Client
	target Target
}

// NewSSHRunner wraps an established client.
func NewSSHRunner(client *ssh.Client, target Target) *SSHRunner {
	return &SSHRunner{client: client, target: target}
}

// Run executes script in a new session. When ctx is cancelled the remote
// process is sent SIGKILL and the session is closed.
func (r *SSHRunner) Run(ctx context.Context, script string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitStatus: -1}, err
	}

	session, err := r.client.NewSession()
	if err != nil {
		return Result{ExitStatus: -1}, errors.Wrap(errors.Join(errors.ErrConnectionFailed, err), "open session")
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	if err := session.Start(script); err != nil {
		return Result{ExitStatus: -1}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return Result{
			ExitStatus: -1,
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			Duration:   time.Since(start),
		}, ctx.Err()
	}

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *ssh.ExitError
	switch {
	case waitErr == nil:
		return res, nil
	case errors.As(waitErr, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
		return res, nil
	default:
		// ExitMissingError and dropped connections land here.
		res.ExitStatus = -1
		return res, errors.Wrap(errors.Join(errors.ErrConnectionFailed, waitErr), "wait for command")
	}
}

// Target returns the target in user@host form.
func (r *SSHRunner) Target() string {
	return r.target.String()
}

// Close closes the underlying connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}
