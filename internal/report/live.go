package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Live shows one spinner row per host while a deploy runs. It implements
// deploy.Observer; phase events are forwarded to a bubbletea program.
type Live struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

var _ deploy.Observer = (*Live)(nil)

// NewLive creates a Live view for hosts writing to out. Keyboard input is not
// read; interrupts reach the process as signals.
func NewLive(hosts []string, out io.Writer) *Live {
	return &Live{
		program: tea.NewProgram(newLiveModel(hosts, time.Now),
			tea.WithOutput(out),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
}

// Start runs the view in the background.
func (l *Live) Start() {
	go func() {
		defer close(l.done)
		_, _ = l.program.Run()
	}()
}

// Stop ends the view and waits for its final frame.
func (l *Live) Stop() {
	l.once.Do(func() {
		l.program.Send(stopMsg{})
		<-l.done
	})
}

// PhaseStarted marks phase as running on host.
func (l *Live) PhaseStarted(host string, phase deploy.Phase) {
	l.program.Send(phaseMsg{host: host, phase: phase, running: true})
}

// PhaseFinished records the outcome of phase on host.
func (l *Live) PhaseFinished(host string, phase deploy.Phase, res deploy.PhaseResult) {
	l.program.Send(phaseMsg{host: host, phase: phase, result: res})
}

// --- Messages ---

type phaseMsg struct {
	host    string
	phase   deploy.Phase
	running bool
	result  deploy.PhaseResult
}

type stopMsg struct{}

// --- Model ---

type hostRow struct {
	name    string
	current deploy.Phase
	results map[deploy.Phase]deploy.PhaseResult
}

type liveModel struct {
	spinner spinner.Model
	rows    []*hostRow
	index   map[string]*hostRow
	started time.Time
	clock   func() time.Time
	done    bool
}

func newLiveModel(hosts []string, clock func() time.Time) liveModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	m := liveModel{
		spinner: s,
		index:   make(map[string]*hostRow, len(hosts)),
		started: clock(),
		clock:   clock,
	}
	for _, h := range hosts {
		m.addRow(h)
	}
	return m
}

func (m *liveModel) addRow(host string) *hostRow {
	row := &hostRow{name: host, results: map[deploy.Phase]deploy.PhaseResult{}}
	m.rows = append(m.rows, row)
	m.index[host] = row
	return row
}

func (m liveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case phaseMsg:
		row, ok := m.index[msg.host]
		if !ok {
			// Hosts are usually known up front; a connector may report
			// a canonical name that differs from the configured one.
			row = m.addRow(msg.host)
		}
		if msg.running {
			row.current = msg.phase
		} else {
			row.results[msg.phase] = msg.result
			if row.current == msg.phase {
				row.current = ""
			}
		}
		return m, nil

	case stopMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m liveModel) View() string {
	var b strings.Builder

	b.WriteString(Title.Render("rollout"))
	b.WriteString(Muted.Render(fmt.Sprintf("  %s", m.clock().Sub(m.started).Round(time.Second))))
	b.WriteString("\n\n")

	width := 0
	for _, row := range m.rows {
		width = max(width, lipgloss.Width(row.name))
	}

	for _, row := range m.rows {
		b.WriteString("  ")
		b.WriteString(HostName.Width(width + 2).Render(row.name))
		for _, phase := range deploy.Phases() {
			b.WriteString(m.phaseCell(row, phase))
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m liveModel) phaseCell(row *hostRow, phase deploy.Phase) string {
	name := string(phase)
	if res, ok := row.results[phase]; ok {
		if res.Outcome == deploy.OutcomeFailed {
			return StepFailed.Render(iconFailed + " " + name)
		}
		return StepDone.Render(iconDone + " " + name)
	}
	if row.current == phase && !m.done {
		return m.spinner.View() + StepRunning.Render(name)
	}
	return StepPending.Render(iconPending + " " + name)
}
