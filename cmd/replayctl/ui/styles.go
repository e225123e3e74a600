// Package ui renders the terminal replay bar: the location input, the
// loading indicator, the capture title and date, and the credential prompt.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Foreground  = lipgloss.Color("#f2f2f2")
	Primary     = lipgloss.Color("#8BC34A")
	Muted       = lipgloss.Color("#6b7a90")
	Border      = lipgloss.Color("#2a3850")
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
)

// Styles holds the rendered styles of the bar.
type Styles struct {
	Bar        lipgloss.Style
	Prompt     lipgloss.Style
	Input      lipgloss.Style
	Spinner    lipgloss.Style
	Ready      lipgloss.Style
	Title      lipgloss.Style
	Date       lipgloss.Style
	Fullscreen lipgloss.Style
	Auth       lipgloss.Style
	Error      lipgloss.Style
	Help       lipgloss.Style
}

// DefaultStyles returns the bar styles. NO_COLOR disables colors.
func DefaultStyles() Styles {
	if noColor() {
		plain := lipgloss.NewStyle()
		return Styles{
			Bar: plain, Prompt: plain, Input: plain, Spinner: plain, Ready: plain,
			Title: plain.Bold(true), Date: plain, Fullscreen: plain, Auth: plain.Bold(true),
			Error: plain, Help: plain,
		}
	}
	return Styles{
		Bar: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(Border).
			Padding(0, 1),
		Prompt:     lipgloss.NewStyle().Foreground(Primary).Bold(true),
		Input:      lipgloss.NewStyle().Foreground(Foreground),
		Spinner:    lipgloss.NewStyle().Foreground(Info),
		Ready:      lipgloss.NewStyle().Foreground(Primary),
		Title:      lipgloss.NewStyle().Foreground(Foreground).Bold(true),
		Date:       lipgloss.NewStyle().Foreground(Muted),
		Fullscreen: lipgloss.NewStyle().Foreground(Info).Bold(true),
		Auth:       lipgloss.NewStyle().Foreground(Warning).Bold(true),
		Error:      lipgloss.NewStyle().Foreground(Destructive),
		Help:       lipgloss.NewStyle().Foreground(Muted).Italic(true),
	}
}

func noColor() bool {
	v, ok := os.LookupEnv("NO_COLOR")
	return ok && strings.TrimSpace(v) != ""
}
