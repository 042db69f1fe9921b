// Package internal contains integration tests that drive a fleet deploy end
// to end: the deploy lifecycle, the history recorder and the console report
// wired together the way the deploy command wires them.
package internal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/history"
	"github.com/Iron-Ham/rollout/internal/remote"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/Iron-Ham/rollout/internal/testutil"
)

const deployTo = "/srv/app"

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRemotes(hosts ...string) map[string]*testutil.FakeRemote {
	remotes := make(map[string]*testutil.FakeRemote, len(hosts))
	for _, h := range hosts {
		f := testutil.NewFakeRemote(h)
		f.SeedDir(deployTo)
		f.SeedDir(deployTo + "/releases/20240229100000")
		f.SeedLink(deployTo+"/current", deployTo+"/releases/20240229100000")
		remotes[h] = f
	}
	return remotes
}

func connectTo(remotes map[string]*testutil.FakeRemote) deploy.Connector {
	return func(_ context.Context, host string) (deploy.Target, error) {
		return remotes[host], nil
	}
}

func openHistory(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestFleetDeployRecordsHistory deploys to two hosts where the build fails
// on one, then checks the console output, the remote trees and what history
// kept for each host.
func TestFleetDeployRecordsHistory(t *testing.T) {
	ctx := context.Background()
	hosts := []string{"app1", "app2"}
	remotes := newRemotes(hosts...)
	remotes["app2"].OnRun = func(_ context.Context, cmd remote.Command) (remote.Result, error) {
		if cmd.Line == "make test" {
			return remote.Result{ExitStatus: 2}, testutil.ErrInjected
		}
		return remote.Result{}, nil
	}

	hist := openHistory(t)
	var out bytes.Buffer
	runID := deploy.NewRunID()
	fleet := deploy.NewFleet(deploy.FleetConfig{
		Hosts:       hosts,
		Connect:     connectTo(remotes),
		Store:       testutil.NewStore(t, map[string]any{"deploy_to": deployTo, "commands": []string{"make build", "make test"}}),
		MaxParallel: 2,
		Clock:       func() time.Time { return now },
		Options: []deploy.Option{
			deploy.WithRunID(runID),
			deploy.WithClock(func() time.Time { return now }),
			deploy.WithReporter(report.NewConsole(&out)),
			deploy.WithObserver(history.NewRecorder(hist, runID, nil)),
		},
	})

	results, err := fleet.Run(ctx, runID, deploy.ScriptBody())
	if err != nil {
		t.Fatalf("fleet.Run: %v", err)
	}
	for _, res := range results {
		if _, err := hist.RecordRun(ctx, res, nil); err != nil {
			t.Fatalf("RecordRun(%s): %v", res.Host, err)
		}
	}

	if got := remotes["app1"].LinkTarget(deployTo + "/current"); got != deployTo+"/releases/20240301120000" {
		t.Errorf("app1 current -> %q", got)
	}
	if got := remotes["app2"].LinkTarget(deployTo + "/current"); got != deployTo+"/releases/20240229100000" {
		t.Errorf("app2 current moved to %q after a failed build", got)
	}
	for _, h := range hosts {
		if remotes[h].HasPath(deployTo + "/deploy.lock") {
			t.Errorf("%s lock not released", h)
		}
		if remotes[h].HasPath(deployTo + "/tmp/build-20240301120000") {
			t.Errorf("%s staging not removed", h)
		}
	}

	console := out.String()
	if strings.Count(console, "deployed") != 1 || strings.Count(console, "failed") < 1 {
		t.Errorf("console output:\n%s", console)
	}
	if !strings.Contains(console, "make test") {
		t.Errorf("failing step missing from console output:\n%s", console)
	}

	runs, err := hist.ListRuns(ctx, history.Query{RunID: runID})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	byHost := map[string]history.Run{}
	for _, r := range runs {
		byHost[r.Host] = r
	}
	if r := byHost["app1"]; r.Failed || r.Release != "20240301120000" || r.PreviousRelease != "20240229100000" {
		t.Errorf("app1 run = %+v", r)
	}
	if r := byHost["app2"]; !r.Failed || r.Outcomes[deploy.PhaseDeploy] != deploy.OutcomeFailed.String() {
		t.Errorf("app2 run = %+v", r)
	}

	events, err := hist.Events(ctx, runID, "app2")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != len(deploy.Phases()) {
		t.Fatalf("app2 events = %d, want one per phase", len(events))
	}

	var printed bytes.Buffer
	report.PrintRuns(&printed, runs)
	report.PrintEvents(&printed, "app2", events)
	if !strings.Contains(printed.String(), "app1") || !strings.Contains(printed.String(), "deploy=failed") {
		t.Errorf("printed history:\n%s", printed.String())
	}
}

// TestFleetDeployCancelledStillFinalizes cancels the deploy mid-build and
// checks that every host still gave up its lock and staging directory.
func TestFleetDeployCancelledStillFinalizes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hosts := []string{"app1", "app2", "app3"}
	remotes := newRemotes(hosts...)
	for _, f := range remotes {
		f.OnRun = func(ctx context.Context, cmd remote.Command) (remote.Result, error) {
			if cmd.Line == "make build" {
				cancel()
				<-ctx.Done()
				return remote.Result{ExitStatus: -1}, ctx.Err()
			}
			return remote.Result{}, nil
		}
	}

	hist := openHistory(t)
	runID := deploy.NewRunID()
	fleet := deploy.NewFleet(deploy.FleetConfig{
		Hosts:       hosts,
		Connect:     connectTo(remotes),
		Store:       testutil.NewStore(t, map[string]any{"deploy_to": deployTo, "commands": []string{"make build"}}),
		MaxParallel: 3,
		Clock:       func() time.Time { return now },
		Options: []deploy.Option{
			deploy.WithRunID(runID),
			deploy.WithClock(func() time.Time { return now }),
			deploy.WithObserver(history.NewRecorder(hist, runID, nil)),
		},
	})

	_, err := fleet.Run(ctx, runID, deploy.ScriptBody())
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	for _, h := range hosts {
		f := remotes[h]
		if f.HasPath(deployTo + "/deploy.lock") {
			t.Errorf("%s lock not released after cancellation", h)
		}
		if got := f.LinkTarget(deployTo + "/current"); got != deployTo+"/releases/20240229100000" {
			t.Errorf("%s current moved to %q", h, got)
		}
	}
}
