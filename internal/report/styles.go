// Package report renders deploy progress and results for the terminal: a
// plain Console reporter and a Live spinner view for interactive sessions.
package report

import "github.com/charmbracelet/lipgloss"

// Colors
var (
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	SuccessColor = lipgloss.Color("#10B981") // Green
	WarningColor = lipgloss.Color("#F59E0B") // Amber
	ErrorColor   = lipgloss.Color("#F87171") // Red
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
)

var (
	Title = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)

	Key = lipgloss.NewStyle().Foreground(MutedColor).Width(18)

	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Success = lipgloss.NewStyle().Foreground(SuccessColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Error   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)

	HostName = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)

	PhaseName = lipgloss.NewStyle().Width(10)
)

// Step indicators
var (
	StepPending = Muted
	StepRunning = lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	StepDone    = Success
	StepFailed  = Error
)

const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconPending = "·"
)
