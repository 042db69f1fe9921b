// Package setup prepares a host for its first deploy: the directory layout
// under deploy_to, the shared paths linked into every release, and trust for
// the repository's SSH host key.
package setup

import (
	"context"
	"fmt"
	"net"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/remote"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Task names, in the order Run performs them.
const (
	TaskStructure      = "create_required_structure"
	TaskSharedPaths    = "create_shared_paths"
	TaskRepoKnownHosts = "add_repository_to_known_hosts"
)

// SharedFileMode is applied to shared files created by setup.
const SharedFileMode = 0o640

// TaskResult is the outcome of one setup task.
type TaskResult struct {
	Name    string
	Elapsed time.Duration
	Err     error
	// Skipped is set when an earlier task failed or the task had nothing to do.
	Skipped bool
}

// Report collects the task results for one host.
type Report struct {
	Host  string
	Tasks []TaskResult
	// Warnings name shared files that were created empty and need content.
	Warnings []string
}

// Failed reports whether any task failed.
func (r *Report) Failed() bool {
	return r.Err() != nil
}

// Err returns the first task failure.
func (r *Report) Err() error {
	for _, t := range r.Tasks {
		if t.Err != nil {
			return fmt.Errorf("%s: %w", t.Name, t.Err)
		}
	}
	return nil
}

// Summary renders a task line the way setup prints it.
func (t TaskResult) Summary() string {
	timing := fmt.Sprintf("(time: %.2fs)", t.Elapsed.Seconds())
	switch {
	case t.Err != nil:
		return fmt.Sprintf("Task %q failed %s", t.Name, timing)
	case t.Skipped:
		return fmt.Sprintf("Task %q skipped", t.Name)
	default:
		return fmt.Sprintf("Task %q finished %s", t.Name, timing)
	}
}

// Run creates the deploy layout on exec's host. Tasks run in order and stop
// at the first failure; the returned error is reserved for configuration
// problems found before any remote call.
func Run(ctx context.Context, exec remote.Executor, store *config.Store, logger *logging.Logger) (*Report, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	layout, err := config.ResolveLayout(store, "")
	if err != nil {
		return nil, err
	}

	s := &setup{
		exec:   exec,
		store:  store,
		layout: layout,
		logger: logger.WithHost(exec.Host()),
		report: &Report{Host: exec.Host()},
	}
	tasks := []struct {
		name string
		fn   func(context.Context) (bool, error)
	}{
		{TaskStructure, s.createStructure},
		{TaskSharedPaths, s.createSharedPaths},
		{TaskRepoKnownHosts, s.addRepositoryToKnownHosts},
	}

	failed := false
	for _, task := range tasks {
		if failed {
			s.report.Tasks = append(s.report.Tasks, TaskResult{Name: task.name, Skipped: true})
			continue
		}
		started := time.Now()
		ran, err := task.fn(ctx)
		res := TaskResult{Name: task.name, Elapsed: time.Since(started), Err: err, Skipped: !ran && err == nil}
		s.report.Tasks = append(s.report.Tasks, res)

		if err != nil {
			failed = true
			s.logger.Error("setup task failed", "task", task.name, "error", err.Error())
			continue
		}
		s.logger.Info("setup task finished", "task", task.name, "elapsed", res.Elapsed.String(), "skipped", res.Skipped)
	}
	return s.report, nil
}

type setup struct {
	exec   remote.Executor
	store  *config.Store
	layout config.Layout
	logger *logging.Logger
	report *Report
}

func (s *setup) createStructure(ctx context.Context) (bool, error) {
	for _, dir := range []string{s.layout.DeployTo, s.layout.SharedPath, s.layout.ReleasesPath, s.layout.TmpPath} {
		if err := s.exec.CreateDir(ctx, dir); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *setup) createSharedPaths(ctx context.Context) (bool, error) {
	dirs := s.store.StringSlice(deploy.KeySharedDirs)
	files := s.store.StringSlice(deploy.KeySharedFiles)
	if len(dirs) == 0 && len(files) == 0 {
		return false, nil
	}

	for _, rel := range dirs {
		if err := s.exec.CreateDir(ctx, s.sharedPath(rel)); err != nil {
			return true, err
		}
	}

	for _, rel := range files {
		p := s.sharedPath(rel)
		if err := s.exec.CreateDir(ctx, path.Dir(p)); err != nil {
			return true, err
		}
		exists, err := s.exec.Exists(ctx, p)
		if err != nil {
			return true, err
		}
		if err := s.exec.Touch(ctx, p, SharedFileMode); err != nil {
			return true, err
		}
		if !exists {
			s.report.Warnings = append(s.report.Warnings, fmt.Sprintf("[%s] %s is empty, fill it in before deploying", s.report.Host, p))
		}
	}
	return true, nil
}

func (s *setup) sharedPath(rel string) string {
	return path.Join(s.layout.SharedPath, strings.Trim(path.Clean(rel), "/"))
}

func (s *setup) addRepositoryToKnownHosts(ctx context.Context) (bool, error) {
	host, port, ok := RepositoryHost(s.store.String(deploy.KeyRepository, ""))
	if !ok {
		return false, nil
	}

	_, err := s.exec.Run(ctx, remote.Command{Line: KnownHostsScript(host, port)})
	if err != nil {
		return true, errors.Wrapf(err, "trust %s", host)
	}
	return true, nil
}

// KnownHostsScript adds host's keys to the remote user's known_hosts unless
// an entry already exists.
func KnownHostsScript(host string, port int) string {
	entry := knownhosts.Normalize(net.JoinHostPort(host, strconv.Itoa(port)))
	return fmt.Sprintf(
		"mkdir -p ~/.ssh && chmod 700 ~/.ssh && "+
			"{ ssh-keygen -F %s >/dev/null 2>&1 || ssh-keyscan -p %d -H %s >> ~/.ssh/known_hosts; }",
		shellescape.Quote(entry), port, shellescape.Quote(host))
}

var (
	scpLike = regexp.MustCompile(`^(?:[^@/]+@)?([^:/]+):`)
	sshURL  = regexp.MustCompile(`^(?:ssh|git\+ssh)://(?:[^@/]+@)?(\[[^\]]+\]|[^:/]+)(?::(\d+))?/`)
)

// RepositoryHost extracts the SSH host and port from a repository address.
// Only SSH remotes qualify: "user@host:path" and "ssh://[user@]host[:port]/path".
func RepositoryHost(repo string) (string, int, bool) {
	repo = strings.TrimSpace(repo)
	if m := sshURL.FindStringSubmatch(repo); m != nil {
		port := 22
		if m[2] != "" {
			p, err := strconv.Atoi(m[2])
			if err != nil || p < 1 || p > 65535 {
				return "", 0, false
			}
			port = p
		}
		return strings.Trim(m[1], "[]"), port, true
	}
	if strings.Contains(repo, "://") {
		return "", 0, false
	}
	if m := scpLike.FindStringSubmatch(repo); m != nil {
		return m[1], 22, true
	}
	return "", 0, false
}
