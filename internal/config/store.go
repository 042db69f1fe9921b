package config

import (
	"fmt"
	"path"
	"reflect"
	"sync"

	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Store is the key/value view of the configuration used by the deploy core.
// It reads through to viper, so file, env and flag values all apply.
// Store is safe for concurrent use; the deployers of a fleet share one.
type Store struct {
	mu sync.RWMutex
	v  *viper.Viper
}

// NewStore wraps v. A nil v uses the global viper instance.
func NewStore(v *viper.Viper) *Store {
	if v == nil {
		v = viper.GetViper()
	}
	return &Store{v: v}
}

// Store returns a Store seeded with c's deploy settings. It does not read
// through to viper, so derived keys written by ResolveLayout stay local to
// it and list values keep the shape Load decoded.
func (c *Config) Store() *Store {
	v := viper.New()
	SetDefaultsOn(v)
	v.Set("deploy_to", c.DeployTo)
	v.Set("build_to", c.BuildTo)
	v.Set("releases_to_keep", c.ReleasesToKeep)
	v.Set("shared_dirs", c.SharedDirs)
	v.Set("shared_files", c.SharedFiles)
	v.Set("repository", c.Repository)
	v.Set("branch", c.Branch)
	v.Set("commands", c.Commands)
	return NewStore(v)
}

// Fetch returns the value for key, or def when the key is unset or empty.
func (s *Store) Fetch(key string, def any) any {
	if val := s.get(key); !isEmpty(val) {
		return val
	}
	return def
}

// Ensure returns the value for key, failing with a ConfigError when it is
// unset or empty.
func (s *Store) Ensure(key string) (any, error) {
	val := s.get(key)
	if isEmpty(val) {
		return nil, errors.NewConfigError(key, errors.ErrMissingConfig)
	}
	return val, nil
}

// String returns the string value for key, or def.
func (s *Store) String(key, def string) string {
	return cast.ToString(s.Fetch(key, def))
}

// Int returns the integer value for key, or def.
func (s *Store) Int(key string, def int) int {
	return cast.ToInt(s.Fetch(key, def))
}

// StringSlice returns the string list for key, or nil.
func (s *Store) StringSlice(key string) []string {
	return cast.ToStringSlice(s.Fetch(key, []string(nil)))
}

// Set overrides key for the lifetime of the process.
func (s *Store) Set(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, val)
}

func (s *Store) get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Get(key)
}

func isEmpty(val any) bool {
	if val == nil {
		return true
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return rv.Len() == 0
	default:
		return false
	}
}

// Layout is the set of remote paths for one deploy root.
//
//	{deploy_to}/releases/{label}
//	{deploy_to}/current -> releases/{label}
//	{deploy_to}/shared
//	{deploy_to}/tmp/build-{stamp}
//	{deploy_to}/deploy.lock
type Layout struct {
	DeployTo       string
	BuildTo        string
	ReleasesPath   string
	CurrentPath    string
	SharedPath     string
	TmpPath        string
	LockPath       string
	ReleasesToKeep int
}

// Derived keys written back to the store by ResolveLayout.
const (
	KeyDeployTo       = "deploy_to"
	KeyBuildTo        = "build_to"
	KeySharedPath     = "shared_path"
	KeyReleasesToKeep = "releases_to_keep"
)

// DefaultReleasesToKeep applies when releases_to_keep is absent.
const DefaultReleasesToKeep = 5

// ResolveLayout derives the remote paths from deploy_to. stamp names the
// staging directory of this run when build_to is not configured; it is
// usually the run's start time. build_to and shared_path are written back to
// the store so later Ensure calls see them.
func ResolveLayout(s *Store, stamp string) (Layout, error) {
	raw, err := s.Ensure(KeyDeployTo)
	if err != nil {
		return Layout{}, err
	}
	root := path.Clean(cast.ToString(raw))
	if !path.IsAbs(root) || root == "/" {
		return Layout{}, errors.NewConfigError(KeyDeployTo, nil).
			WithMessage(fmt.Sprintf("%q is not a usable deployment root", root))
	}

	keep := s.Int(KeyReleasesToKeep, DefaultReleasesToKeep)
	if keep < 1 {
		return Layout{}, errors.NewConfigError(KeyReleasesToKeep, nil).
			WithMessage(fmt.Sprintf("must be at least 1, got %d", keep))
	}

	l := Layout{
		DeployTo:       root,
		ReleasesPath:   path.Join(root, "releases"),
		CurrentPath:    path.Join(root, "current"),
		SharedPath:     path.Join(root, "shared"),
		TmpPath:        path.Join(root, "tmp"),
		LockPath:       path.Join(root, "deploy.lock"),
		ReleasesToKeep: keep,
	}
	l.BuildTo = s.String(KeyBuildTo, "")
	if l.BuildTo == "" && stamp != "" {
		l.BuildTo = path.Join(l.TmpPath, "build-"+stamp)
	}

	if l.BuildTo != "" {
		s.Set(KeyBuildTo, l.BuildTo)
	}
	s.Set(KeySharedPath, l.SharedPath)
	return l, nil
}

// ReleasePath returns the directory of the release with the given label.
func (l Layout) ReleasePath(label string) string {
	return path.Join(l.ReleasesPath, label)
}

// Check fails with a ConfigError when a path the deploy core needs is unset.
func (l Layout) Check() error {
	if l.DeployTo == "" {
		return errors.NewConfigError(KeyDeployTo, errors.ErrMissingConfig)
	}
	if l.BuildTo == "" {
		return errors.NewConfigError(KeyBuildTo, errors.ErrMissingConfig)
	}
	if l.ReleasesToKeep < 1 {
		return errors.NewConfigError(KeyReleasesToKeep, nil).
			WithMessage(fmt.Sprintf("must be at least 1, got %d", l.ReleasesToKeep))
	}
	return nil
}
