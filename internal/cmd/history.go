package cmd

import (
	"fmt"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/history"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent deploys",
	Long: `Show recent deploy runs recorded on this machine, newest first.

Examples:
  # Last 20 runs
  rollout history

  # Last 5 runs on one host
  rollout history --host app1.example.com -n 5

  # Phase log of one run
  rollout history --run 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed`,
	RunE: runHistory,
}

var (
	historyLimit int
	historyHost  string
	historyRun   string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", history.DefaultLimit, "Number of runs to show")
	historyCmd.Flags().StringVar(&historyHost, "host", "", "Only runs on this host")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show the phase log of this run id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()
	if !cfg.History.Enabled {
		fmt.Fprintln(out, "History is disabled (history.enabled: false).")
		return nil
	}

	store, err := history.Open(cmd.Context(), cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), history.Query{Host: historyHost, RunID: historyRun, Limit: historyLimit})
	if err != nil {
		return err
	}

	if historyRun == "" {
		report.PrintRuns(out, runs)
		return nil
	}

	if len(runs) == 0 {
		fmt.Fprintf(out, "No run %s recorded.\n", historyRun)
		return nil
	}
	report.PrintRuns(out, runs)
	fmt.Fprintln(out)
	for _, r := range runs {
		events, err := store.Events(cmd.Context(), r.RunID, r.Host)
		if err != nil {
			return err
		}
		report.PrintEvents(out, r.Host, events)
	}
	return nil
}
