package deploy

import (
	"context"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
	"github.com/sourcegraph/conc/pool"
)

// Target is an executor with a connection to release.
type Target interface {
	remote.Executor
	Close() error
}

// Connector opens a Target for a host name.
type Connector func(ctx context.Context, host string) (Target, error)

// HostError ties a connection or Run error to the host it came from.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return e.Host + ": " + e.Err.Error()
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// HostErrors splits an error returned by Fleet.Run into per-host errors.
func HostErrors(err error) map[string]error {
	out := map[string]error{}
	var walk func(error)
	walk = func(err error) {
		var he *HostError
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		if errors.As(err, &he) {
			out[he.Host] = he.Err
		}
	}
	if err != nil {
		walk(err)
	}
	return out
}

// Fleet deploys to several hosts, each with its own Deployer, RunState and
// connection.
type Fleet struct {
	hosts       []string
	connect     Connector
	store       *config.Store
	maxParallel int
	opts        []Option
	logger      *logging.Logger
	clock       func() time.Time
}

// FleetConfig holds the settings of a Fleet.
type FleetConfig struct {
	Hosts       []string
	Connect     Connector
	Store       *config.Store
	MaxParallel int
	Logger      *logging.Logger
	Clock       func() time.Time
	// Options are applied to every host's Deployer.
	Options []Option
}

// NewFleet creates a Fleet.
func NewFleet(cfg FleetConfig) *Fleet {
	f := &Fleet{
		hosts:       cfg.Hosts,
		connect:     cfg.Connect,
		store:       cfg.Store,
		maxParallel: cfg.MaxParallel,
		opts:        cfg.Options,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
	}
	if f.maxParallel < 1 {
		f.maxParallel = 1
	}
	if f.logger == nil {
		f.logger = logging.NopLogger()
	}
	if f.clock == nil {
		f.clock = time.Now
	}
	return f
}

// Run deploys body to every host with at most maxParallel hosts in flight.
//
// The returned slice is indexed like the hosts; a host that could not be
// reached has a nil entry. A failure on one host does not stop the others.
// Connection errors and errors returned by Deployer.Run are joined. A panic
// on any host is re-raised once all hosts have finished.
func (f *Fleet) Run(ctx context.Context, runID string, body Body) ([]*Result, error) {
	// Resolve the staging path once so every host builds under the same stamp.
	if _, err := config.ResolveLayout(f.store, f.clock().UTC().Format(LabelFormat)); err != nil {
		return nil, err
	}

	results := make([]*Result, len(f.hosts))
	p := pool.New().WithErrors().WithMaxGoroutines(f.maxParallel)

	for i, host := range f.hosts {
		p.Go(func() error {
			target, err := f.connect(ctx, host)
			if err != nil {
				f.logger.WithRun(runID).WithHost(host).Error("connect failed", "error", err.Error())
				return &HostError{Host: host, Err: err}
			}
			defer func() {
				if err := target.Close(); err != nil {
					f.logger.WithHost(host).Warn("close connection", "error", err.Error())
				}
			}()

			opts := append([]Option{WithRunID(runID), WithLogger(f.logger), WithClock(f.clock)}, f.opts...)
			res, err := NewDeployer(target, f.store, opts...).Run(ctx, body)
			results[i] = res
			if err != nil {
				return &HostError{Host: host, Err: err}
			}
			return nil
		})
	}

	err := p.Wait()
	return results, err
}
