package deploy

import (
	"context"
	"path"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
)

// Body is the user-supplied work of the deploy phase. It builds the release
// inside the session's build directory.
//
// Returning a *errors.DeployError (which Session.Run does for failing
// commands) marks the deploy as failed and the run carries on to finalize.
// Any other error aborts the run after finalize.
type Body func(ctx context.Context, s *Session) error

// Session gives a Body access to the target, scoped to the build directory.
type Session struct {
	exec   remote.Executor
	layout config.Layout
	store  *config.Store
	logger *logging.Logger
}

// Host names the target.
func (s *Session) Host() string {
	return s.exec.Host()
}

// Layout returns the resolved remote paths of this run.
func (s *Session) Layout() config.Layout {
	return s.layout
}

// BuildPath is the working directory of the body.
func (s *Session) BuildPath() string {
	return s.layout.BuildTo
}

// Store returns the configuration store.
func (s *Session) Store() *config.Store {
	return s.store
}

// Executor returns the raw executor for operations outside the build dir.
func (s *Session) Executor() remote.Executor {
	return s.exec
}

// Run executes line in the build directory.
func (s *Session) Run(ctx context.Context, line string) (remote.Result, error) {
	return s.RunIn(ctx, s.layout.BuildTo, line)
}

// RunIn executes line in dir. A failing command becomes a DeployError;
// cancellation of ctx is returned as is.
func (s *Session) RunIn(ctx context.Context, dir, line string) (remote.Result, error) {
	s.logger.Info("running command", "command", line, "dir", dir)

	res, err := s.exec.Run(ctx, remote.Command{Line: line, Dir: dir})
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, errors.NewDeployError("command failed", err).
		WithHost(s.Host()).
		WithStep(line)
}

// LinkShared replaces rel in the build directory with a symlink to the same
// path under shared/. rel must be relative and stay inside the build.
func (s *Session) LinkShared(ctx context.Context, rel string) error {
	if clean := path.Clean(rel); path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.NewDeployError("shared path must stay inside the release", errors.ErrInvalidInput).
			WithHost(s.Host()).
			WithStep("link " + rel)
	}
	rel = strings.Trim(path.Clean(rel), "/")
	target := path.Join(s.layout.SharedPath, rel)
	link := path.Join(s.layout.BuildTo, rel)

	steps := []func() error{
		func() error { return s.exec.RemoveDir(ctx, link) },
		func() error { return s.exec.CreateDir(ctx, path.Dir(link)) },
		func() error {
			_, err := s.exec.Run(ctx, remote.Command{Line: "ln -s -- " + shellescape.Quote(target) + " " + shellescape.Quote(link)})
			return err
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return errors.NewDeployError("link shared path", err).WithHost(s.Host()).WithStep("link " + rel)
		}
	}
	return nil
}
