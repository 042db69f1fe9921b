package cmd

import (
	"context"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
)

// connectedHost is a live connection to one configured host.
type connectedHost struct {
	deploy.Target
	name string
}

// newConnector opens hosts with the configured transport.
func newConnector(cfg *config.Config, logger *logging.Logger) deploy.Connector {
	return func(ctx context.Context, host string) (deploy.Target, error) {
		runner, err := remote.Connect(ctx, cfg, host, logger)
		if err != nil {
			return nil, err
		}
		return remote.NewHost(runner, logger), nil
	}
}
