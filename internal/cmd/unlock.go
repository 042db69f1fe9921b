package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove a stale deploy lock",
	Long: `Show who holds the deploy lock on each host and remove it.

Only use this when the holding deploy is known to be gone, for example after
the machine running it lost power. Removing a live deploy's lock lets a
second deploy run alongside it.`,
	RunE: runUnlock,
}

var unlockHosts []string

func init() {
	rootCmd.AddCommand(unlockCmd)

	unlockCmd.Flags().StringSliceVar(&unlockHosts, "host", nil, "Unlock only these hosts (repeatable)")
}

func runUnlock(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	hosts, err := selectHosts(e.cfg, unlockHosts)
	if err != nil {
		return err
	}
	layout, err := config.ResolveLayout(e.store, "")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return forEachHost(cmd.Context(), e, hosts, func(ctx context.Context, h *connectedHost) error {
		lock := deploy.NewLockManager(h, layout.LockPath, "", e.logger.WithHost(h.name))
		holder, err := lock.Holder(ctx)
		if errors.Is(err, errors.ErrNotLocked) {
			fmt.Fprintf(out, "%s %s\n", report.HostName.Render(h.name), report.Muted.Render("not locked"))
			return nil
		}
		if err != nil {
			return err
		}
		if err := lock.Release(ctx); err != nil {
			return err
		}
		e.logger.Warn("deploy lock removed by hand", "host", h.name, "holder", holder)
		fmt.Fprintf(out, "%s %s (was held by %s)\n", report.HostName.Render(h.name), report.Warning.Render("unlocked"), holder)
		return nil
	})
}
