package cmd

import (
	"context"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/spf13/cobra"
)

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List the releases on each host",
	Long: `List the release directories on each host, newest first, and mark the
one current points to.`,
	RunE: runReleases,
}

var releasesHosts []string

func init() {
	rootCmd.AddCommand(releasesCmd)

	releasesCmd.Flags().StringSliceVar(&releasesHosts, "host", nil, "Only these hosts (repeatable)")
}

func runReleases(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	hosts, err := selectHosts(e.cfg, releasesHosts)
	if err != nil {
		return err
	}
	layout, err := config.ResolveLayout(e.store, "")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return forEachHost(cmd.Context(), e, hosts, func(ctx context.Context, h *connectedHost) error {
		rm := deploy.NewReleaseManager(h, layout, time.Now, e.logger)
		labels, err := rm.List(ctx)
		if err != nil {
			return err
		}
		current, err := rm.Current(ctx)
		if err != nil {
			return err
		}
		report.PrintReleases(out, h.name, labels, current)
		return nil
	})
}
