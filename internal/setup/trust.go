package setup

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
)

// TrustHost records the host key of spec in the local known_hosts file so
// that later strict dials succeed. It reports whether a key was added. A host
// whose recorded key differs fails with ErrHostKeyMismatch and is left alone.
func TrustHost(ctx context.Context, cfg config.SSHConfig, user, spec string, logger *logging.Logger) (bool, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	target, err := remote.ParseTarget(spec, user, cfg.Port)
	if err != nil {
		return false, err
	}
	file := cfg.KnownHostsPath()

	key, err := remote.ScanHostKey(ctx, target.Addr(), cfg.ConnectTimeout)
	if err != nil {
		return false, err
	}

	known, err := remote.HasKey(file, target.Addr(), key)
	if err != nil {
		return false, err
	}
	if known {
		logger.Debug("host key already known", "host", target.Host)
		return false, nil
	}

	if err := remote.AppendKnownHost(file, target.Addr(), key); err != nil {
		return false, fmt.Errorf("trust %s: %w", target.Host, err)
	}
	logger.Info("host key added", "host", target.Host, "type", key.Type(), "file", file)
	return true, nil
}
