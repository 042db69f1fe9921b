package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/history"
	"github.com/Iron-Ham/rollout/internal/setup"
)

// Console writes phase lines and run summaries to w. It implements
// deploy.Reporter and is safe for use by the deployers of a fleet.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

var _ deploy.Reporter = (*Console)(nil)

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// ReportPhase prints one phase line.
func (c *Console) ReportPhase(host string, phase deploy.Phase, elapsed time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, PhaseLine(host, phase, elapsed, err))
}

// ReportSummary prints the result of one host run.
func (c *Console) ReportSummary(res *deploy.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, Summary(res))
}

// PhaseLine renders "host  phase  ✓ 1.20s" or the failure with its error.
func PhaseLine(host string, phase deploy.Phase, elapsed time.Duration, err error) string {
	timing := Muted.Render(formatElapsed(elapsed))
	prefix := HostName.Render(host) + "  " + PhaseName.Render(string(phase))
	if err != nil {
		return fmt.Sprintf("%s %s %s\n    %s", prefix, StepFailed.Render(iconFailed), timing, Error.Render(indent(err.Error())))
	}
	return fmt.Sprintf("%s %s %s", prefix, StepDone.Render(iconDone), timing)
}

// Summary renders the closing line of a host run.
func Summary(res *deploy.Result) string {
	status := Success.Render("deployed")
	if res.Failed() {
		status = Error.Render("failed")
	}

	release := res.Release
	if release == "" {
		release = "no new release"
	}
	line := fmt.Sprintf("%s %s %s in %s", HostName.Render(res.Host), status, release, formatElapsed(res.Duration))
	if res.PreviousRelease != "" && res.Release != "" {
		line += Muted.Render(" (previous " + res.PreviousRelease + ")")
	}
	return line
}

// PrintLayout prints the resolved paths and planned body steps of a dry run.
func PrintLayout(w io.Writer, hosts []string, layout config.Layout, steps []string) {
	_, _ = fmt.Fprintln(w, Title.Render("Dry run"))
	rows := [][2]string{
		{"hosts", strings.Join(hosts, ", ")},
		{"deploy_to", layout.DeployTo},
		{"build_to", layout.BuildTo},
		{"releases", layout.ReleasesPath},
		{"current", layout.CurrentPath},
		{"shared", layout.SharedPath},
		{"lock", layout.LockPath},
		{"releases_to_keep", fmt.Sprint(layout.ReleasesToKeep)},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, Key.Render(row[0])+row[1])
	}

	_, _ = fmt.Fprintln(w)
	if len(steps) == 0 {
		_, _ = fmt.Fprintln(w, Muted.Render("deploy body has no steps"))
		return
	}
	for i, step := range steps {
		_, _ = fmt.Fprintf(w, "%2d. %s\n", i+1, step)
	}
}

// PrintSetup prints the task lines and warnings of a setup report.
func PrintSetup(w io.Writer, r *setup.Report) {
	_, _ = fmt.Fprintln(w, HostName.Render(r.Host))
	for _, task := range r.Tasks {
		style := StepDone
		switch {
		case task.Err != nil:
			style = StepFailed
		case task.Skipped:
			style = StepPending
		}
		_, _ = fmt.Fprintln(w, "  "+style.Render(task.Summary()))
		if task.Err != nil {
			_, _ = fmt.Fprintln(w, "    "+Error.Render(indent(task.Err.Error())))
		}
	}
	for _, warning := range r.Warnings {
		_, _ = fmt.Fprintln(w, "  "+Warning.Render("Don't forget to update "+warning))
	}
}

// PrintReleases lists the releases of one host, marking current.
func PrintReleases(w io.Writer, host string, labels []string, current string) {
	_, _ = fmt.Fprintln(w, HostName.Render(host))
	if len(labels) == 0 {
		_, _ = fmt.Fprintln(w, Muted.Render("  no releases"))
		return
	}
	for i := len(labels) - 1; i >= 0; i-- {
		label := labels[i]
		marker := "  "
		text := label
		if label == current {
			marker = Success.Render("* ")
			text = Success.Render(label + " (current)")
		}
		_, _ = fmt.Fprintln(w, "  "+marker+text)
	}
}

// PrintRuns renders history rows, newest first.
func PrintRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, Muted.Render("No deploys recorded."))
		return
	}
	for _, r := range runs {
		status := Success.Render("ok    ")
		if r.Failed {
			status = Error.Render("failed")
		}
		var phases []string
		for _, phase := range deploy.Phases() {
			phases = append(phases, fmt.Sprintf("%s=%s", phase, r.Outcomes[phase]))
		}
		release := r.Release
		if release == "" {
			release = "-"
		}
		_, _ = fmt.Fprintf(w, "%s  %s  %-16s %-14s %s  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			status, r.Host, release, formatElapsed(r.Duration),
			Muted.Render(strings.Join(phases, " ")))
		if r.Failed && r.Error != "" {
			_, _ = fmt.Fprintln(w, "    "+Error.Render(indent(firstLine(r.Error))))
		}
	}
}

// PrintEvents renders the phase log of one host run.
func PrintEvents(w io.Writer, host string, events []history.Event) {
	_, _ = fmt.Fprintln(w, HostName.Render(host))
	for _, e := range events {
		icon := StepDone.Render(iconDone)
		if e.Outcome == deploy.OutcomeFailed.String() {
			icon = StepFailed.Render(iconFailed)
		}
		_, _ = fmt.Fprintf(w, "  %s %s %s %s\n", e.At.Local().Format("15:04:05"), PhaseName.Render(string(e.Phase)), icon, Muted.Render(formatElapsed(e.Elapsed)))
		if e.Error != "" {
			_, _ = fmt.Fprintln(w, "    "+Error.Render(indent(e.Error)))
		}
	}
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n    ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
