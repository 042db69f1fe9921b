package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
	"github.com/google/uuid"
)

// DefaultFinalizeTimeout bounds finalize when no timeout is configured.
const DefaultFinalizeTimeout = 2 * time.Minute

// Reporter prints the outcome of a run that completed naturally. It is never
// called for a run that ended with an error from Run.
type Reporter interface {
	ReportPhase(host string, phase Phase, elapsed time.Duration, err error)
	ReportSummary(result *Result)
}

// Observer receives phase transitions as they happen. Implementations must
// be safe for concurrent use when shared by a Fleet.
type Observer interface {
	PhaseStarted(host string, phase Phase)
	PhaseFinished(host string, phase Phase, result PhaseResult)
}

// Result describes one deploy run on one host.
type Result struct {
	Host            string
	RunID           string
	Release         string
	PreviousRelease string
	State           *RunState
	StartedAt       time.Time
	Duration        time.Duration
}

// Failed reports whether any phase failed.
func (r *Result) Failed() bool {
	return r.State != nil && r.State.Failed()
}

// Err joins the errors of the failed phases.
func (r *Result) Err() error {
	if r.State == nil {
		return nil
	}
	return r.State.Err()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithReporter sets the reporter used after natural completion.
func WithReporter(r Reporter) Option {
	return func(d *Deployer) { d.reporter = r }
}

// WithObserver adds a phase observer. Observers are notified in the order
// they were added.
func WithObserver(o Observer) Option {
	return func(d *Deployer) { d.observers = append(d.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Deployer) { d.logger = l }
}

// WithClock overrides time.Now, for labels and timing.
func WithClock(clock func() time.Time) Option {
	return func(d *Deployer) { d.clock = clock }
}

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) Option {
	return func(d *Deployer) { d.runID = id }
}

// WithFinalizeTimeout bounds the finalize phase.
func WithFinalizeTimeout(timeout time.Duration) Option {
	return func(d *Deployer) { d.finalizeTimeout = timeout }
}

// Deployer runs the deploy lifecycle against one target.
type Deployer struct {
	exec            remote.Executor
	store           *config.Store
	reporter        Reporter
	observers       []Observer
	logger          *logging.Logger
	clock           func() time.Time
	runID           string
	finalizeTimeout time.Duration
}

// NewDeployer creates a Deployer for exec reading configuration from store.
func NewDeployer(exec remote.Executor, store *config.Store, opts ...Option) *Deployer {
	d := &Deployer{
		exec:            exec,
		store:           store,
		logger:          logging.NopLogger(),
		clock:           time.Now,
		finalizeTimeout: DefaultFinalizeTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runID == "" {
		d.runID = NewRunID()
	}
	return d
}

// run carries the state of a single invocation of Deployer.Run.
type run struct {
	d        *Deployer
	host     string
	logger   *logging.Logger
	lock     *LockManager
	releases *ReleaseManager
	state    *RunState
	result   *Result
}

// Run executes pre, deploy, post and finalize against the target.
//
// Failures inside pre, deploy (as DeployError), post and finalize are
// recorded in the result's RunState and Run returns a nil error; callers
// inspect Result.Failed. An error from body that is not a DeployError skips
// post and is returned after finalize has run. A panic in body likewise runs
// finalize before it continues. The reporter is only called when Run
// completes without an error.
//
// Before any phase runs the layout is resolved; a missing deploy_to or
// build_to fails with a ConfigError and touches nothing.
func (d *Deployer) Run(ctx context.Context, body Body) (*Result, error) {
	started := d.clock()
	layout, err := config.ResolveLayout(d.store, started.UTC().Format(LabelFormat))
	if err != nil {
		return nil, err
	}
	if err := layout.Check(); err != nil {
		return nil, err
	}

	host := d.exec.Host()
	logger := d.logger.WithRun(d.runID).WithHost(host)
	r := &run{
		d:        d,
		host:     host,
		logger:   logger,
		lock:     NewLockManager(d.exec, layout.LockPath, HolderInfo(d.runID, started), logger),
		releases: NewReleaseManager(d.exec, layout, d.clock, logger),
		state:    NewRunState(),
	}
	r.result = &Result{
		Host:      host,
		RunID:     d.runID,
		State:     r.state,
		StartedAt: started,
	}

	logger.Info("deploy started", "deploy_to", layout.DeployTo, "build_to", layout.BuildTo)

	completed := false
	defer func() {
		r.finalize(ctx)
		r.result.Duration = d.clock().Sub(started)
		if completed {
			logger.Info("deploy finished", "release", r.result.Release, "failed", r.result.Failed())
			r.report()
		}
	}()

	r.pre(ctx)
	if err := r.deploy(ctx, body, layout); err != nil {
		logger.Error("deploy aborted", "error", err.Error())
		return r.result, err
	}
	r.post(ctx)

	completed = true
	return r.result, nil
}

func (r *run) begin(phase Phase) time.Time {
	r.logger.Debug("phase started", "phase", string(phase))
	for _, o := range r.d.observers {
		o.PhaseStarted(r.host, phase)
	}
	return r.d.clock()
}

func (r *run) finish(phase Phase, started time.Time, result PhaseResult) {
	result.Elapsed = r.d.clock().Sub(started)
	if err := r.state.Record(phase, result); err != nil {
		r.logger.Error("phase outcome not recorded", "phase", string(phase), "error", err.Error())
		return
	}

	logger := r.logger.WithPhase(string(phase))
	if result.Outcome == OutcomeFailed {
		logger.Warn("phase failed", "elapsed", result.Elapsed.String(), "error", fmt.Sprint(result.Err))
	} else {
		logger.Info("phase succeeded", "elapsed", result.Elapsed.String())
	}
	for _, o := range r.d.observers {
		o.PhaseFinished(r.host, phase, result)
	}
}

type step struct {
	name string
	fn   func(context.Context) error
}

// pre stages the run. It records its outcome and never stops the run.
func (r *run) pre(ctx context.Context) {
	started := r.begin(PhasePre)

	steps := []step{
		{"check_lock", r.lock.Check},
		{"acquire_lock", r.lock.Acquire},
		{"create_build_path", r.releases.CreateBuildPath},
		{"discover_latest_release", func(ctx context.Context) error {
			latest, err := r.releases.DiscoverLatestRelease(ctx)
			r.result.PreviousRelease = latest
			return err
		}},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			var preErr *errors.PreDeployError
			if !errors.As(err, &preErr) {
				preErr = errors.NewPreDeployError(s.name, err)
			}
			r.finish(PhasePre, started, Failed(preErr.WithHost(r.host)))
			return
		}
	}
	r.finish(PhasePre, started, Succeeded())
}

// deploy runs body. Only errors that are not DeployErrors are returned.
func (r *run) deploy(ctx context.Context, body Body, layout config.Layout) (err error) {
	started := r.begin(PhaseDeploy)

	defer func() {
		if p := recover(); p != nil {
			r.finish(PhaseDeploy, started, Failed(fmt.Errorf("deploy body panicked: %v", p)))
			panic(p)
		}
	}()

	session := &Session{
		exec:   r.d.exec,
		layout: layout,
		store:  r.d.store,
		logger: r.logger.WithPhase(string(PhaseDeploy)),
	}

	err = body(ctx, session)
	var deployErr *errors.DeployError
	switch {
	case err == nil:
		r.finish(PhaseDeploy, started, Succeeded())
		return nil
	case errors.As(err, &deployErr):
		r.finish(PhaseDeploy, started, Failed(err))
		return nil
	default:
		r.finish(PhaseDeploy, started, Failed(err))
		return err
	}
}

// post promotes the build when deploy succeeded.
func (r *run) post(ctx context.Context) {
	started := r.begin(PhasePost)

	if !r.state.Succeeded(PhaseDeploy) {
		r.logger.Info("deploy did not succeed, nothing to promote")
		r.finish(PhasePost, started, Succeeded())
		return
	}

	label, err := r.releases.MoveBuildToReleases(ctx)
	if err != nil {
		r.finish(PhasePost, started, Failed(asPostError("move_build_to_releases", err, r.host)))
		return
	}
	r.result.Release = label

	if err := r.releases.LinkReleaseToCurrent(ctx, label); err != nil {
		r.finish(PhasePost, started, Failed(asPostError("link_release_to_current", err, r.host)))
		return
	}
	r.finish(PhasePost, started, Succeeded())
}

func asPostError(name string, err error, host string) error {
	var postErr *errors.PostDeployError
	if !errors.As(err, &postErr) {
		postErr = errors.NewPostDeployError(name, err)
	}
	return postErr.WithHost(host)
}

// finalize cleans up after the run. Every step is attempted; failures are
// recorded and never returned. It runs detached from caller cancellation.
func (r *run) finalize(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.d.finalizeTimeout)
	defer cancel()

	started := r.begin(PhaseFinalize)

	var steps []step
	if r.state.Succeeded(PhaseDeploy) {
		steps = append(steps, step{"cleanup_releases", r.releases.CleanupReleases})
	}
	steps = append(steps,
		step{"remove_build_path", r.releases.RemoveBuildPath},
		step{"release_lock", r.lock.Release},
	)

	var errs []error
	for _, s := range steps {
		if err := attempt(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.NewTimeoutError("finalize", r.d.finalizeTimeout).WithCause(err)
	}
	if err != nil {
		r.finish(PhaseFinalize, started, Failed(errors.NewFinalizeError(err).WithHost(r.host)))
		return
	}
	r.finish(PhaseFinalize, started, Succeeded())
}

// attempt runs one finalize step, converting a panic into an error.
func attempt(ctx context.Context, s step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", s.name, p)
		}
	}()
	if err := s.fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

func (r *run) report() {
	rep := r.d.reporter
	if rep == nil {
		return
	}
	for _, phase := range Phases() {
		res, _ := r.state.Result(phase)
		rep.ReportPhase(r.host, phase, res.Elapsed, res.Err)
	}
	rep.ReportSummary(r.result)
}
