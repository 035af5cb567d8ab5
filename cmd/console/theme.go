package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
)

type uiTheme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	footer      lipgloss.Style
	modal       lipgloss.Style
	cursor      lipgloss.Style
	disabled    lipgloss.Style
	danger      lipgloss.Style
	helpText    lipgloss.Style
	clock       lipgloss.Style
	severity    map[opconsole.Severity]lipgloss.Style
}

func newTheme() uiTheme {
	red := lipgloss.Color("#ff5f6d")
	amber := lipgloss.Color("#ffd166")
	mint := lipgloss.Color("#05ffa1")
	blue := lipgloss.Color("#01cdfe")
	panelBg := lipgloss.Color("#141a2e")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#8a93b8")

	return uiTheme{
		root: lipgloss.NewStyle().
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(blue).
			Foreground(lipgloss.Color("#0b1020")).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		footer: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1),
		modal: lipgloss.NewStyle().
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(red).
			Padding(1, 2),
		cursor:   lipgloss.NewStyle().Foreground(mint).Bold(true),
		disabled: lipgloss.NewStyle().Foreground(muted),
		danger:   lipgloss.NewStyle().Foreground(red),
		helpText: lipgloss.NewStyle().Foreground(muted),
		clock:    lipgloss.NewStyle().Foreground(muted),
		severity: map[opconsole.Severity]lipgloss.Style{
			opconsole.SeverityInfo:     lipgloss.NewStyle().Foreground(text),
			opconsole.SeveritySuccess:  lipgloss.NewStyle().Foreground(mint),
			opconsole.SeverityWarning:  lipgloss.NewStyle().Foreground(amber),
			opconsole.SeverityError:    lipgloss.NewStyle().Foreground(red).Bold(true),
			opconsole.SeveritySentinel: lipgloss.NewStyle().Foreground(blue),
		},
	}
}
