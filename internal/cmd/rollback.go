package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Point current at the previous release",
	Long: `Repoint current to the release before the one it references, on every
selected host. The deploy lock is held while current is swapped, so a
rollback never races a deploy. The newer release is kept on disk.`,
	RunE: runRollback,
}

var rollbackHosts []string

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().StringSliceVar(&rollbackHosts, "host", nil, "Roll back only these hosts (repeatable)")
}

func runRollback(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	hosts, err := selectHosts(e.cfg, rollbackHosts)
	if err != nil {
		return err
	}
	layout, err := config.ResolveLayout(e.store, "")
	if err != nil {
		return err
	}

	runID := deploy.NewRunID()
	out := cmd.OutOrStdout()
	return forEachHost(cmd.Context(), e, hosts, func(ctx context.Context, h *connectedHost) (err error) {
		logger := e.logger.WithRun(runID).WithHost(h.name)
		lock := deploy.NewLockManager(h, layout.LockPath, deploy.HolderInfo(runID, time.Now()), logger)
		if err := lock.Check(ctx); err != nil {
			return err
		}
		if err := lock.Acquire(ctx); err != nil {
			return err
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
				err = relErr
			}
		}()

		from, to, err := deploy.NewReleaseManager(h, layout, time.Now, logger).Rollback(ctx)
		if err != nil {
			return err
		}
		logger.Info("rolled back", "from", from, "to", to)
		fmt.Fprintf(out, "%s %s %s → %s\n", report.HostName.Render(h.name), report.Success.Render("rolled back"), from, to)
		return nil
	})
}
