package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/history"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new release to the configured hosts",
	Long: `Deploy a new release to every configured host.

Each host is locked, a build is staged under build_to and the deploy body
(clone, shared links, commands) runs there. When the body succeeds the build
is moved into releases/, current is repointed and old releases are pruned.
The lock and the staging directory are always cleaned up.

Examples:
  # Deploy to every host
  rollout deploy

  # Deploy to one host only
  rollout deploy --host app1.example.com

  # Show the resolved paths and steps without contacting any host
  rollout deploy --dry-run`,
	RunE: runDeploy,
}

var (
	deployHosts  []string
	deployDryRun bool
	deployPlain  bool
)

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringSliceVar(&deployHosts, "host", nil, "Deploy only to these hosts (repeatable)")
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "Print the plan without contacting any host")
	deployCmd.Flags().BoolVar(&deployPlain, "plain", false, "Disable the live progress view")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	hosts, err := selectHosts(e.cfg, deployHosts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if deployDryRun {
		return printPlan(out, e.store, hosts)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := deploy.NewRunID()
	logger := e.logger.WithRun(runID)

	// With the live view active, phase lines and summaries are held back
	// and printed once it has stopped.
	var held bytes.Buffer
	consoleOut := out
	var opts []deploy.Option

	if !deployPlain && isTerminal(out) {
		live := report.NewLive(hosts, out)
		live.Start()
		defer func() {
			live.Stop()
			_, _ = io.Copy(out, &held)
		}()
		consoleOut = &held
		opts = append(opts, deploy.WithObserver(live))
	}
	opts = append(opts, deploy.WithReporter(report.NewConsole(consoleOut)))

	var hist *history.Store
	if e.cfg.History.Enabled {
		hist, err = history.Open(ctx, e.cfg.HistoryPath())
		if err != nil {
			logger.Warn("history disabled", "error", err.Error())
		} else {
			defer func() { _ = hist.Close() }()
			opts = append(opts, deploy.WithObserver(history.NewRecorder(hist, runID, logger)))
		}
	}
	opts = append(opts, deploy.WithFinalizeTimeout(e.cfg.FinalizeTimeout))

	fleet := deploy.NewFleet(deploy.FleetConfig{
		Hosts:       hosts,
		Connect:     newConnector(e.cfg, e.logger),
		Store:       e.store,
		MaxParallel: e.cfg.MaxParallel,
		Logger:      e.logger,
		Options:     opts,
	})

	results, runErr := fleet.Run(ctx, runID, deploy.ScriptBody())
	if hist != nil {
		recordResults(hist, hosts, results, runErr, logger)
	}

	if runErr != nil {
		return runErr
	}
	for _, res := range results {
		if res != nil && res.Failed() {
			return errFailed
		}
	}
	return nil
}

// recordResults stores one history row per host that ran. results is indexed
// like hosts.
func recordResults(hist *history.Store, hosts []string, results []*deploy.Result, runErr error, logger *logging.Logger) {
	// The run context may already be cancelled by an interrupt.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	perHost := deploy.HostErrors(runErr)
	for i, res := range results {
		if res == nil {
			continue
		}
		if _, err := hist.RecordRun(ctx, res, perHost[hosts[i]]); err != nil {
			logger.Warn("failed to record run", "host", hosts[i], "error", err.Error())
		}
	}
}

func printPlan(out io.Writer, store *config.Store, hosts []string) error {
	layout, err := config.ResolveLayout(store, time.Now().UTC().Format(deploy.LabelFormat))
	if err != nil {
		return err
	}
	if err := layout.Check(); err != nil {
		return err
	}
	report.PrintLayout(out, hosts, layout, deploy.PlannedSteps(store))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
