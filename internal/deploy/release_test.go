package deploy

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/testutil"
)

func testLayout(keep int) config.Layout {
	return config.Layout{
		DeployTo:       testRoot,
		BuildTo:        testBuild,
		ReleasesPath:   testReleases,
		CurrentPath:    testCurrent,
		SharedPath:     testRoot + "/shared",
		TmpPath:        testRoot + "/tmp",
		LockPath:       testLock,
		ReleasesToKeep: keep,
	}
}

func newTestReleases(f *testutil.FakeRemote, keep int) *ReleaseManager {
	return NewReleaseManager(f, testLayout(keep), fixedClock(testNow), nil)
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		label string
		valid bool
	}{
		{"20240301120000", true},
		{"19991231235959", true},
		{"2024030112000", false},
		{"202403011200000", false},
		{"20241301120000", false},
		{"20240230120000", false},
		{"2024-03-01", false},
		{"current", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			_, err := ParseLabel(tt.label)
			if (err == nil) != tt.valid {
				t.Errorf("ParseLabel(%q) error = %v, want valid %v", tt.label, err, tt.valid)
			}
			if !tt.valid && !errors.Is(err, errors.ErrInvalidLabel) {
				t.Errorf("error %v does not wrap ErrInvalidLabel", err)
			}
			if IsLabel(tt.label) != tt.valid {
				t.Errorf("IsLabel(%q) = %v", tt.label, !tt.valid)
			}
		})
	}
}

func TestNextLabel(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		latest string
		want   string
	}{
		{"no releases", testNow, "", "20240301120000"},
		{"clock ahead", testNow, "20240301115959", "20240301120000"},
		{"same second", testNow, "20240301120000", "20240301120001"},
		{"clock behind", testNow, "20250101000000", "20250101000001"},
		{"rolls over minute", testNow, "20240301120059", "20240301120100"},
		{"non-UTC clock", testNow.In(time.FixedZone("X", 3600)), "", "20240301120000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextLabel(tt.now, tt.latest); got != tt.want {
				t.Errorf("NextLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSortLabels(t *testing.T) {
	got := SortLabels([]string{"20240103000000", "backup", "20240101000000", ".keep", "20240102000000"})
	want := []string{"20240101000000", "20240102000000", "20240103000000"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortLabels() = %v, want %v", got, want)
	}
}

func TestReleaseManager_CreateBuildPathReplacesStale(t *testing.T) {
	f := newTestRemote()
	f.SeedFile(testBuild+"/stale.txt", "old")

	if err := newTestReleases(f, 5).CreateBuildPath(context.Background()); err != nil {
		t.Fatalf("CreateBuildPath: %v", err)
	}
	if !f.HasPath(testBuild) || f.HasPath(testBuild+"/stale.txt") {
		t.Error("stale build contents survived")
	}
}

func TestReleaseManager_CreateBuildPathError(t *testing.T) {
	f := newTestRemote()
	f.FailOn = testutil.FailOp("CreateDir", testutil.ErrInjected)

	err := newTestReleases(f, 5).CreateBuildPath(context.Background())
	var preErr *errors.PreDeployError
	if !errors.As(err, &preErr) || preErr.Step != "create_build_path" {
		t.Fatalf("err = %v, want PreDeployError", err)
	}
	if !errors.Is(err, testutil.ErrInjected) {
		t.Error("cause lost")
	}
}

func TestReleaseManager_ListAndCurrent(t *testing.T) {
	ctx := context.Background()

	t.Run("missing releases dir", func(t *testing.T) {
		f := newTestRemote()
		m := newTestReleases(f, 5)
		labels, err := m.List(ctx)
		if err != nil || labels != nil {
			t.Errorf("List() = %v, %v", labels, err)
		}
		latest, err := m.DiscoverLatestRelease(ctx)
		if err != nil || latest != "" {
			t.Errorf("DiscoverLatestRelease() = %q, %v", latest, err)
		}
		current, err := m.Current(ctx)
		if err != nil || current != "" {
			t.Errorf("Current() = %q, %v", current, err)
		}
	})

	t.Run("ignores foreign entries", func(t *testing.T) {
		f := newTestRemote("20240101000000", "20240102000000")
		f.SeedDir(testReleases + "/backup")
		m := newTestReleases(f, 5)

		labels, err := m.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if want := []string{"20240101000000", "20240102000000"}; !reflect.DeepEqual(labels, want) {
			t.Errorf("List() = %v, want %v", labels, want)
		}
		if current, _ := m.Current(ctx); current != "20240102000000" {
			t.Errorf("Current() = %q", current)
		}
	})

	t.Run("current not a release", func(t *testing.T) {
		f := newTestRemote()
		f.SeedLink(testCurrent, "/opt/elsewhere")
		if current, err := newTestReleases(f, 5).Current(ctx); err != nil || current != "" {
			t.Errorf("Current() = %q, %v", current, err)
		}
	})

	t.Run("discovery failure", func(t *testing.T) {
		f := newTestRemote("20240101000000")
		f.FailOn = testutil.FailOp("ListDir", testutil.ErrInjected)
		_, err := newTestReleases(f, 5).DiscoverLatestRelease(ctx)
		var preErr *errors.PreDeployError
		if !errors.As(err, &preErr) || preErr.Step != "discover_latest_release" {
			t.Errorf("err = %v", err)
		}
	})
}

func TestReleaseManager_MoveAndLink(t *testing.T) {
	ctx := context.Background()
	f := newTestRemote("20240301120000")
	f.SeedDir(testBuild)
	f.SeedFile(testBuild+"/index.html", "hello")
	m := newTestReleases(f, 5)

	label, err := m.MoveBuildToReleases(ctx)
	if err != nil {
		t.Fatalf("MoveBuildToReleases: %v", err)
	}
	if label != "20240301120001" {
		t.Errorf("label = %q, want one past the existing release", label)
	}
	if f.HasPath(testBuild) {
		t.Error("build path still present")
	}
	if f.Content(testReleases+"/"+label+"/index.html") != "hello" {
		t.Error("build contents not moved")
	}

	if err := m.LinkReleaseToCurrent(ctx, label); err != nil {
		t.Fatalf("LinkReleaseToCurrent: %v", err)
	}
	if got := f.LinkTarget(testCurrent); got != testReleases+"/"+label {
		t.Errorf("current -> %q", got)
	}
}

func TestReleaseManager_MoveFailure(t *testing.T) {
	f := newTestRemote()
	f.SeedDir(testBuild)
	f.FailOn = testutil.FailOp("Move", testutil.ErrInjected)

	_, err := newTestReleases(f, 5).MoveBuildToReleases(context.Background())
	var postErr *errors.PostDeployError
	if !errors.As(err, &postErr) {
		t.Fatalf("err = %v, want PostDeployError", err)
	}
	if postErr.Step != "move_build_to_releases" || postErr.Release != testLabel {
		t.Errorf("PostDeployError = %+v", postErr)
	}
}

func TestReleaseManager_LinkRejectsInvalidLabel(t *testing.T) {
	f := newTestRemote()
	err := newTestReleases(f, 5).LinkReleaseToCurrent(context.Background(), "../etc")
	if !errors.Is(err, errors.ErrInvalidLabel) {
		t.Fatalf("err = %v, want ErrInvalidLabel", err)
	}
	if f.CountPrefix("ReplaceSymlink") != 0 {
		t.Error("symlink replaced for an invalid label")
	}
}

func TestReleaseManager_CleanupReleases(t *testing.T) {
	ctx := context.Background()
	all := []string{"20240101000000", "20240102000000", "20240103000000", "20240104000000", "20240105000000"}

	tests := []struct {
		name    string
		keep    int
		current string
		want    []string
	}{
		{"keeps newest", 3, "20240105000000", all[2:]},
		{"nothing to prune", 5, "20240105000000", all},
		{"keep one", 1, "20240105000000", all[4:]},
		{"never removes current", 2, "20240102000000", []string{"20240102000000", "20240104000000", "20240105000000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestRemote(all...)
			f.SeedLink(testCurrent, testReleases+"/"+tt.current)
			m := newTestReleases(f, tt.keep)

			if err := m.CleanupReleases(ctx); err != nil {
				t.Fatalf("CleanupReleases: %v", err)
			}
			if got := f.Children(testReleases); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("releases = %v, want %v", got, tt.want)
			}

			// A second pass changes nothing.
			calls := f.CountPrefix("RemoveDir")
			if err := m.CleanupReleases(ctx); err != nil {
				t.Fatalf("second CleanupReleases: %v", err)
			}
			if got := f.Children(testReleases); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("releases after second pass = %v", got)
			}
			if tt.current == all[4] && f.CountPrefix("RemoveDir") != calls {
				t.Error("second pass removed more releases")
			}
		})
	}
}

func TestReleaseManager_CleanupContinuesPastFailure(t *testing.T) {
	f := newTestRemote("20240101000000", "20240102000000", "20240103000000")
	f.FailOn = testutil.FailWhen("RemoveDir", testReleases+"/20240101000000", testutil.ErrInjected)

	err := newTestReleases(f, 1).CleanupReleases(context.Background())
	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	if f.HasPath(testReleases + "/20240102000000") {
		t.Error("cleanup stopped after the first failure")
	}
}

func TestReleaseManager_Rollback(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		releases []string
		current  string
		wantFrom string
		wantTo   string
		wantErr  error
	}{
		{
			name:     "previous release",
			releases: []string{"20240101000000", "20240102000000", "20240103000000"},
			current:  "20240103000000",
			wantFrom: "20240103000000",
			wantTo:   "20240102000000",
		},
		{
			name:     "current in the middle",
			releases: []string{"20240101000000", "20240102000000", "20240103000000"},
			current:  "20240102000000",
			wantFrom: "20240102000000",
			wantTo:   "20240101000000",
		},
		{
			name:     "no current link",
			releases: []string{"20240101000000", "20240102000000"},
			wantErr:  errors.ErrReleaseNotFound,
		},
		{
			name:     "single release",
			releases: []string{"20240101000000"},
			current:  "20240101000000",
			wantErr:  errors.ErrNoReleases,
		},
		{
			name:     "current is oldest",
			releases: []string{"20240101000000", "20240102000000"},
			current:  "20240101000000",
			wantErr:  errors.ErrNoReleases,
		},
		{
			name:     "current points at a missing release",
			releases: []string{"20240101000000", "20240102000000"},
			current:  "20231231000000",
			wantErr:  errors.ErrReleaseNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testutil.NewFakeRemote("app1")
			f.SeedDir(testRoot)
			for _, label := range tt.releases {
				f.SeedDir(testReleases + "/" + label)
			}
			if tt.current != "" {
				f.SeedLink(testCurrent, testReleases+"/"+tt.current)
			}
			before := f.LinkTarget(testCurrent)

			from, to, err := newTestReleases(f, 5).Rollback(ctx)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Rollback() error = %v, want %v", err, tt.wantErr)
				}
				if f.LinkTarget(testCurrent) != before {
					t.Error("current changed on failed rollback")
				}
				return
			}
			if err != nil {
				t.Fatalf("Rollback: %v", err)
			}
			if from != tt.wantFrom || to != tt.wantTo {
				t.Errorf("Rollback() = %q -> %q, want %q -> %q", from, to, tt.wantFrom, tt.wantTo)
			}
			if got := f.LinkTarget(testCurrent); got != testReleases+"/"+tt.wantTo {
				t.Errorf("current -> %q", got)
			}
		})
	}
}
