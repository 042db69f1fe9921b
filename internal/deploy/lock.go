package deploy

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
)

// LockManager guards a deploy root with a marker file. The marker body names
// the holder for diagnostics; its presence alone means locked.
type LockManager struct {
	exec   remote.Executor
	path   string
	holder string
	logger *logging.Logger
}

// NewLockManager creates a LockManager for the marker at path. holder is
// written into the marker on Acquire.
func NewLockManager(exec remote.Executor, path, holder string, logger *logging.Logger) *LockManager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LockManager{exec: exec, path: path, holder: holder, logger: logger}
}

// Path returns the marker path.
func (m *LockManager) Path() string {
	return m.path
}

// Check fails with a LockError when the marker exists.
func (m *LockManager) Check(ctx context.Context) error {
	exists, err := m.exec.Exists(ctx, m.path)
	if err != nil {
		return errors.NewLockError("could not check deploy lock", err).WithPath(m.path)
	}
	if !exists {
		return nil
	}

	lockErr := errors.NewLockError("deploy lock is held", errors.ErrLockHeld).WithPath(m.path)
	if holder, err := m.Holder(ctx); err == nil {
		lockErr.WithHolder(holder)
	}
	return lockErr
}

// Acquire creates the marker under noclobber. Losing a race to another
// deploy fails the same way as finding the marker in Check.
func (m *LockManager) Acquire(ctx context.Context) error {
	if err := m.exec.CreateExclusive(ctx, m.path, m.holder); err != nil {
		var execErr *errors.ExecutionError
		if errors.As(err, &execErr) && execErr.ExitStatus > 0 {
			// A failed create only means a lost race when the marker is there.
			if exists, existsErr := m.exec.Exists(ctx, m.path); existsErr == nil && exists {
				lockErr := errors.NewLockError("deploy lock is held", errors.Join(errors.ErrLockHeld, err)).WithPath(m.path)
				if holder, holderErr := m.Holder(ctx); holderErr == nil {
					lockErr.WithHolder(holder)
				}
				return lockErr
			}
		}
		return errors.NewLockError("could not create deploy lock", err).WithPath(m.path)
	}
	m.logger.Debug("deploy lock acquired", "path", m.path)
	return nil
}

// Release removes the marker. A missing marker is not an error.
func (m *LockManager) Release(ctx context.Context) error {
	if err := m.exec.RemoveFile(ctx, m.path); err != nil {
		return errors.NewLockError("could not remove deploy lock", err).WithPath(m.path)
	}
	m.logger.Debug("deploy lock released", "path", m.path)
	return nil
}

// Holder returns the marker body, or ErrNotLocked when there is no marker.
func (m *LockManager) Holder(ctx context.Context) (string, error) {
	exists, err := m.exec.Exists(ctx, m.path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.ErrNotLocked
	}
	body, err := m.exec.ReadFile(ctx, m.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// HolderInfo describes who holds a lock: local user and machine, run id, and
// acquisition time.
func HolderInfo(runID string, at time.Time) string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	machine, err := os.Hostname()
	if err != nil {
		machine = "unknown"
	}
	return fmt.Sprintf("%s@%s run=%s at=%s", name, machine, runID, at.UTC().Format(time.RFC3339))
}
