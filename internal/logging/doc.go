// Package logging provides structured logging for rollout runs.
//
// Logs are JSON lines written through log/slog. Every deploy, setup or
// rollback invocation writes to a single file, {dir}/rollout.log, rotated by
// size with lumberjack. Entries carry the run ID, the target host and the
// lifecycle phase so one host's run can be pulled out of a fleet-wide deploy
// after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{
//	    Dir:        "/home/me/.config/rollout/logs",
//	    Level:      "INFO",
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	hostLog := logger.WithRun(runID).WithHost("app1.example.com")
//	hostLog.WithPhase("pre").Info("lock acquired", "path", lockPath)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"lock acquired","run_id":"...","host":"app1.example.com","phase":"pre","path":"/srv/app/deploy.lock"}
//
// # Reading Logs Back
//
// [ReadEntries] parses the active log file, [FilterEntries] narrows it down
// and [ExportEntries] renders the result as json, text or csv:
//
//	entries, err := logging.ReadEntries(dir)
//	failed := logging.FilterEntries(entries, logging.Filter{Level: "WARN", Host: "app1"})
//	err = logging.ExportEntries(os.Stdout, failed, "text")
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on what was logged.
package logging
