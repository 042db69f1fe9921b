package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/Iron-Ham/rollout/internal/setup"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prepare hosts for their first deploy",
	Long: `Create the deploy layout on every host: deploy_to with its shared/,
releases/ and tmp/ directories, the configured shared_dirs and empty
shared_files, and the repository's host key in the remote known_hosts.

With --trust, each host's SSH key is first added to the local known_hosts
file. A key that differs from the recorded one is never replaced.`,
	RunE: runSetup,
}

var (
	setupHosts []string
	setupTrust bool
)

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().StringSliceVar(&setupHosts, "host", nil, "Set up only these hosts (repeatable)")
	setupCmd.Flags().BoolVar(&setupTrust, "trust", false, "Add unknown host keys to the local known_hosts first")
}

func runSetup(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	hosts, err := selectHosts(e.cfg, setupHosts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if setupTrust && e.cfg.Transport == config.TransportSSH {
		for _, host := range hosts {
			added, err := setup.TrustHost(cmd.Context(), e.cfg.SSH, e.cfg.User, host, e.logger)
			if err != nil {
				return fmt.Errorf("trust %s: %w", host, err)
			}
			if added {
				fmt.Fprintf(out, "Added host key for %s to %s\n", host, e.cfg.SSH.KnownHostsPath())
			}
		}
	}

	return forEachHost(cmd.Context(), e, hosts, func(ctx context.Context, h *connectedHost) error {
		r, err := setup.Run(ctx, h, e.store, e.logger)
		if err != nil {
			return err
		}
		report.PrintSetup(out, r)
		if r.Failed() {
			return r.Err()
		}
		return nil
	})
}
