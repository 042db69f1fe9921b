package config

import (
	"testing"

	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/spf13/viper"
)

func newTestStore(values map[string]any) *Store {
	v := viper.New()
	SetDefaultsOn(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return NewStore(v)
}

func TestStore_Fetch(t *testing.T) {
	s := newTestStore(map[string]any{"branch": "release", "shared_dirs": []string{"log"}})

	if got := s.Fetch("branch", "main"); got != "release" {
		t.Errorf("Fetch(branch) = %v, want release", got)
	}
	if got := s.Fetch("missing", "fallback"); got != "fallback" {
		t.Errorf("Fetch(missing) = %v, want fallback", got)
	}
	// Registered but empty defaults fall back too.
	if got := s.Fetch("deploy_to", "/default"); got != "/default" {
		t.Errorf("Fetch(deploy_to) = %v, want /default", got)
	}
	if got := s.String("branch", ""); got != "release" {
		t.Errorf("String(branch) = %q", got)
	}
	if got := s.Int("releases_to_keep", 0); got != 5 {
		t.Errorf("Int(releases_to_keep) = %d, want 5", got)
	}
	if got := s.StringSlice("shared_dirs"); len(got) != 1 || got[0] != "log" {
		t.Errorf("StringSlice(shared_dirs) = %v", got)
	}
	if got := s.StringSlice("shared_files"); len(got) != 0 {
		t.Errorf("StringSlice(shared_files) = %v, want empty", got)
	}
}

func TestConfig_Store(t *testing.T) {
	cfg := Default()
	cfg.DeployTo = "/srv/app"
	cfg.Commands = []string{"make build", "make test"}

	s := cfg.Store()
	if got := s.StringSlice("commands"); len(got) != 2 || got[0] != "make build" {
		t.Errorf("StringSlice(commands) = %q", got)
	}

	layout, err := ResolveLayout(s, "20240301120000")
	if err != nil {
		t.Fatalf("ResolveLayout() error = %v", err)
	}
	if layout.BuildTo != "/srv/app/tmp/build-20240301120000" {
		t.Errorf("BuildTo = %q", layout.BuildTo)
	}

	// A second store from the same config does not see the derived build_to.
	if got := cfg.Store().String("build_to", ""); got != "" {
		t.Errorf("build_to leaked between stores: %q", got)
	}
}

func TestStore_Ensure(t *testing.T) {
	s := newTestStore(map[string]any{"deploy_to": "/srv/app"})

	got, err := s.Ensure("deploy_to")
	if err != nil || got != "/srv/app" {
		t.Errorf("Ensure(deploy_to) = %v, %v", got, err)
	}

	for _, key := range []string{"repository", "never_registered"} {
		_, err := s.Ensure(key)
		var cfgErr *errors.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("Ensure(%s) error = %v, want ConfigError", key, err)
		}
		if cfgErr.Key != key {
			t.Errorf("ConfigError.Key = %q, want %q", cfgErr.Key, key)
		}
		if !errors.Is(err, errors.ErrMissingConfig) {
			t.Error("error does not wrap ErrMissingConfig")
		}
	}
}

func TestResolveLayout(t *testing.T) {
	t.Run("derives paths from deploy_to", func(t *testing.T) {
		s := newTestStore(map[string]any{"deploy_to": "/srv/app/", "releases_to_keep": 3})

		l, err := ResolveLayout(s, "20240102030405")
		if err != nil {
			t.Fatalf("ResolveLayout: %v", err)
		}

		want := Layout{
			DeployTo:       "/srv/app",
			BuildTo:        "/srv/app/tmp/build-20240102030405",
			ReleasesPath:   "/srv/app/releases",
			CurrentPath:    "/srv/app/current",
			SharedPath:     "/srv/app/shared",
			TmpPath:        "/srv/app/tmp",
			LockPath:       "/srv/app/deploy.lock",
			ReleasesToKeep: 3,
		}
		if l != want {
			t.Errorf("ResolveLayout() = %+v\nwant %+v", l, want)
		}
		if got := l.ReleasePath("20240101000000"); got != "/srv/app/releases/20240101000000" {
			t.Errorf("ReleasePath() = %q", got)
		}
		if err := l.Check(); err != nil {
			t.Errorf("Check() = %v", err)
		}

		if got, err := s.Ensure("build_to"); err != nil || got != want.BuildTo {
			t.Errorf("build_to not written back: %v, %v", got, err)
		}
		if got := s.String("shared_path", ""); got != want.SharedPath {
			t.Errorf("shared_path = %q, want %q", got, want.SharedPath)
		}
	})

	t.Run("explicit build_to wins", func(t *testing.T) {
		s := newTestStore(map[string]any{"deploy_to": "/srv/app", "build_to": "/scratch/build"})

		l, err := ResolveLayout(s, "20240102030405")
		if err != nil {
			t.Fatalf("ResolveLayout: %v", err)
		}
		if l.BuildTo != "/scratch/build" {
			t.Errorf("BuildTo = %q", l.BuildTo)
		}
	})

	t.Run("no stamp leaves build_to unset", func(t *testing.T) {
		s := newTestStore(map[string]any{"deploy_to": "/srv/app"})

		l, err := ResolveLayout(s, "")
		if err != nil {
			t.Fatalf("ResolveLayout: %v", err)
		}
		var cfgErr *errors.ConfigError
		if err := l.Check(); !errors.As(err, &cfgErr) || cfgErr.Key != "build_to" {
			t.Errorf("Check() = %v, want ConfigError for build_to", err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			values  map[string]any
			wantKey string
		}{
			{"missing deploy_to", map[string]any{}, "deploy_to"},
			{"relative deploy_to", map[string]any{"deploy_to": "srv"}, "deploy_to"},
			{"root deploy_to", map[string]any{"deploy_to": "/"}, "deploy_to"},
			{"zero retention", map[string]any{"deploy_to": "/srv/app", "releases_to_keep": -2}, "releases_to_keep"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ResolveLayout(newTestStore(tt.values), "x")
				var cfgErr *errors.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("error = %v, want ConfigError", err)
				}
				if cfgErr.Key != tt.wantKey {
					t.Errorf("Key = %q, want %q", cfgErr.Key, tt.wantKey)
				}
			})
		}
	})
}

func TestLayout_Check(t *testing.T) {
	var cfgErr *errors.ConfigError
	if err := (Layout{}).Check(); !errors.As(err, &cfgErr) || cfgErr.Key != "deploy_to" {
		t.Errorf("empty Layout Check() = %v", err)
	}

	l := Layout{DeployTo: "/srv/app", BuildTo: "/srv/app/tmp/b", ReleasesToKeep: 0}
	if err := l.Check(); !errors.As(err, &cfgErr) || cfgErr.Key != "releases_to_keep" {
		t.Errorf("Check() = %v, want releases_to_keep error", err)
	}
}
