package deploy

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
)

// LabelFormat is the time layout of release directory names (UTC).
const LabelFormat = "20060102150405"

// ParseLabel parses a release label. Anything that does not round-trip
// through LabelFormat is rejected with ErrInvalidLabel.
func ParseLabel(label string) (time.Time, error) {
	t, err := time.Parse(LabelFormat, label)
	if err != nil || t.Format(LabelFormat) != label {
		return time.Time{}, fmt.Errorf("%w: %q", errors.ErrInvalidLabel, label)
	}
	return t, nil
}

// IsLabel reports whether name is a valid release label.
func IsLabel(name string) bool {
	_, err := ParseLabel(name)
	return err == nil
}

// NextLabel returns the label for a release created at now. Labels strictly
// increase: when now does not sort after latest, the result is latest plus
// one second.
func NextLabel(now time.Time, latest string) string {
	label := now.UTC().Format(LabelFormat)
	if latest == "" || label > latest {
		return label
	}
	t, err := ParseLabel(latest)
	if err != nil {
		return label
	}
	return t.Add(time.Second).Format(LabelFormat)
}

// SortLabels returns the valid labels among names, oldest first.
func SortLabels(names []string) []string {
	labels := make([]string, 0, len(names))
	for _, name := range names {
		if IsLabel(name) {
			labels = append(labels, name)
		}
	}
	sort.Strings(labels)
	return labels
}

// ReleaseManager stages, promotes and prunes releases under one deploy root.
type ReleaseManager struct {
	exec   remote.Executor
	layout config.Layout
	clock  func() time.Time
	logger *logging.Logger
}

// NewReleaseManager creates a ReleaseManager. clock may be nil.
func NewReleaseManager(exec remote.Executor, layout config.Layout, clock func() time.Time, logger *logging.Logger) *ReleaseManager {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ReleaseManager{exec: exec, layout: layout, clock: clock, logger: logger}
}

// Layout returns the paths this manager works on.
func (m *ReleaseManager) Layout() config.Layout {
	return m.layout
}

// CreateBuildPath replaces any stale build directory with an empty one.
func (m *ReleaseManager) CreateBuildPath(ctx context.Context) error {
	if err := m.exec.RemoveDir(ctx, m.layout.BuildTo); err != nil {
		return errors.NewPreDeployError("create_build_path", err)
	}
	if err := m.exec.CreateDir(ctx, m.layout.BuildTo); err != nil {
		return errors.NewPreDeployError("create_build_path", err)
	}
	return nil
}

// DiscoverLatestRelease returns the newest release label, or "" when there
// is none.
func (m *ReleaseManager) DiscoverLatestRelease(ctx context.Context) (string, error) {
	labels, err := m.List(ctx)
	if err != nil {
		return "", errors.NewPreDeployError("discover_latest_release", err)
	}
	if len(labels) == 0 {
		return "", nil
	}
	return labels[len(labels)-1], nil
}

// List returns the release labels, oldest first. A missing releases
// directory yields none.
func (m *ReleaseManager) List(ctx context.Context) ([]string, error) {
	exists, err := m.exec.Exists(ctx, m.layout.ReleasesPath)
	if err != nil || !exists {
		return nil, err
	}
	names, err := m.exec.ListDir(ctx, m.layout.ReleasesPath)
	if err != nil {
		return nil, err
	}
	return SortLabels(names), nil
}

// Current returns the label current points at, or "" when current is
// missing or does not point at a release.
func (m *ReleaseManager) Current(ctx context.Context) (string, error) {
	target, err := m.exec.ReadLink(ctx, m.layout.CurrentPath)
	if err != nil || target == "" {
		return "", err
	}
	if label := path.Base(target); IsLabel(label) {
		return label, nil
	}
	return "", nil
}

// MoveBuildToReleases renames the build directory into releases/ under the
// next label and returns that label. The releases directory is listed again
// so the label stays strictly increasing even when discovery failed in pre.
func (m *ReleaseManager) MoveBuildToReleases(ctx context.Context) (string, error) {
	labels, err := m.List(ctx)
	if err != nil {
		return "", errors.NewPostDeployError("move_build_to_releases", err)
	}
	latest := ""
	if len(labels) > 0 {
		latest = labels[len(labels)-1]
	}
	label := NextLabel(m.clock(), latest)

	if err := m.exec.CreateDir(ctx, m.layout.ReleasesPath); err != nil {
		return "", errors.NewPostDeployError("move_build_to_releases", err).WithRelease(label)
	}
	if err := m.exec.Move(ctx, m.layout.BuildTo, m.layout.ReleasePath(label)); err != nil {
		return "", errors.NewPostDeployError("move_build_to_releases", err).WithRelease(label)
	}
	m.logger.Info("build promoted", "release", label)
	return label, nil
}

// LinkReleaseToCurrent swaps current to releases/<label> atomically.
func (m *ReleaseManager) LinkReleaseToCurrent(ctx context.Context, label string) error {
	if !IsLabel(label) {
		return errors.NewPostDeployError("link_release_to_current", fmt.Errorf("%w: %q", errors.ErrInvalidLabel, label))
	}
	if err := m.exec.ReplaceSymlink(ctx, m.layout.CurrentPath, m.layout.ReleasePath(label)); err != nil {
		return errors.NewPostDeployError("link_release_to_current", err).WithRelease(label)
	}
	m.logger.Info("current linked", "release", label)
	return nil
}

// CleanupReleases keeps the newest ReleasesToKeep releases and removes the
// rest, oldest first. The release current points at is never removed.
func (m *ReleaseManager) CleanupReleases(ctx context.Context) error {
	labels, err := m.List(ctx)
	if err != nil {
		return err
	}
	excess := len(labels) - m.layout.ReleasesToKeep
	if excess <= 0 {
		return nil
	}

	current, err := m.Current(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, label := range labels[:excess] {
		if label == current {
			m.logger.Warn("kept release referenced by current", "release", label)
			continue
		}
		if err := m.exec.RemoveDir(ctx, m.layout.ReleasePath(label)); err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("release removed", "release", label)
	}
	return errors.Join(errs...)
}

// RemoveBuildPath deletes the build directory if it still exists.
func (m *ReleaseManager) RemoveBuildPath(ctx context.Context) error {
	return m.exec.RemoveDir(ctx, m.layout.BuildTo)
}

// Rollback points current at the release before the one it references and
// returns both labels. It needs at least two releases.
func (m *ReleaseManager) Rollback(ctx context.Context) (from, to string, err error) {
	labels, err := m.List(ctx)
	if err != nil {
		return "", "", err
	}
	if len(labels) < 2 {
		return "", "", fmt.Errorf("%w: rollback needs at least 2 releases, found %d", errors.ErrNoReleases, len(labels))
	}

	current, err := m.Current(ctx)
	if err != nil {
		return "", "", err
	}
	if current == "" {
		return "", "", fmt.Errorf("%w: current is not linked to a release", errors.ErrReleaseNotFound)
	}
	idx := sort.SearchStrings(labels, current)
	switch {
	case idx == len(labels) || labels[idx] != current:
		return "", "", fmt.Errorf("%w: current points at %s", errors.ErrReleaseNotFound, current)
	case idx == 0:
		return "", "", fmt.Errorf("%w: %s is the oldest release", errors.ErrNoReleases, current)
	}

	from, to = current, labels[idx-1]
	if err := m.LinkReleaseToCurrent(ctx, to); err != nil {
		return "", "", err
	}
	return from, to, nil
}
