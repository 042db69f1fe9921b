// Package remote runs shell commands on deploy targets.
//
// A Runner is the transport: it executes a script on one target and reports
// the exit status and output. SSHRunner speaks SSH through
// golang.org/x/crypto/ssh; LocalRunner runs sh on this machine and is used for
// `transport: local` and for tests. Host layers the filesystem primitives the
// deploy core needs (move, mkdir, rm, atomic symlink swap, listing) on top of
// any Runner.
package remote

import (
	"context"
	"strings"
	"time"
)

// Runner executes shell scripts on a single target.
//
// Run returns a nil error whenever the script ran to completion, even with a
// non-zero exit status; the caller decides what a failing exit means. A
// non-nil error means the script could not be run or was interrupted.
type Runner interface {
	Run(ctx context.Context, script string) (Result, error)
	// Target names the host for logs and errors.
	Target() string
	Close() error
}

// Result is the outcome of one script.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
	Duration   time.Duration
}

// Success reports whether the script exited zero.
func (r Result) Success() bool {
	return r.ExitStatus == 0
}

// Output returns stdout and stderr joined, trimmed of surrounding whitespace.
func (r Result) Output() string {
	out := strings.TrimSpace(r.Stdout)
	errOut := strings.TrimSpace(r.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// Lines splits stdout into non-empty lines.
func (r Result) Lines() []string {
	var lines []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
