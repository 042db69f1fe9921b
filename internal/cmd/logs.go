package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the deploy log",
	Long: `View and filter the rollout debug log.

By default, shows the last 50 entries. Use flags to filter and format the
output.

Examples:
  # Show the last 50 entries
  rollout logs

  # Everything one run did on one host
  rollout logs --run 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed --host app1 -n 0

  # Follow the log in real-time
  rollout logs -f

  # Warnings and errors from the last hour
  rollout logs --level warn --since 1h

  # Export finalize entries as CSV
  rollout logs --phase finalize --export finalize.csv --format csv`,
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsHost   string
	logsRun    string
	logsPhase  string
	logsGrep   string
	logsExport string
	logsFormat string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsHost, "host", "", "Only entries for this host")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "Only entries for this run id")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Only entries for this phase (pre/deploy/post/finalize)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write matching entries to this file instead of the terminal")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Export format: "+strings.Join(logging.ExportFormats(), ", "))
}

var (
	logTime    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	logContext = lipgloss.NewStyle().Foreground(lipgloss.Color("#22D3EE"))
)

var logLevels = map[string]lipgloss.Style{
	logging.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
	logging.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
	logging.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")),
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry logging.Entry) string {
	var sb strings.Builder

	sb.WriteString(logTime.Render("[" + entry.Timestamp.Local().Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(logLevels[strings.ToUpper(entry.Level)].Render("[" + strings.ToUpper(entry.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	for _, kv := range [][2]string{{"host", entry.Host}, {"phase", entry.Phase}} {
		if kv[1] != "" {
			sb.WriteString(" ")
			sb.WriteString(logContext.Render(kv[0] + "=" + kv[1]))
		}
	}
	for key, value := range entry.Attrs {
		sb.WriteString(" ")
		sb.WriteString(logContext.Render(key + "="))
		sb.WriteString(fmt.Sprintf("%v", value))
	}
	return sb.String()
}

func logsFilter(now time.Time) (logging.Filter, error) {
	filter := logging.Filter{
		RunID:           logsRun,
		Host:            logsHost,
		Phase:           logsPhase,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.Since = now.Add(-d)
	}
	return filter, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	dir := cfg.LogDir()
	out := cmd.OutOrStdout()

	filter, err := logsFilter(time.Now())
	if err != nil {
		return err
	}

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", filepath.Join(dir, logging.FileName))
		return logging.Follow(ctx, dir, filter, func(e logging.Entry) {
			fmt.Fprintln(out, formatLogEntry(e))
		})
	}

	entries, err := logging.ReadEntries(dir)
	if err != nil {
		return err
	}
	entries = logging.FilterEntries(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if logsExport != "" {
		return exportLogs(logsExport, entries, logsFormat)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintln(out, formatLogEntry(entry))
	}
	return nil
}

func exportLogs(path string, entries []logging.Entry, format string) (err error) {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, createErr := os.Create(path)
		if createErr != nil {
			return fmt.Errorf("failed to create export file: %w", createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return logging.ExportEntries(w, entries, format)
}
