package tui

import "github.com/charmbracelet/lipgloss"

// Logo style definitions for the TUI status bar logo.
var (
	styleLogoPulse = lipgloss.NewStyle().Background(colorSurface).Foreground(colorMutedLight)
	styleLogoCore  = lipgloss.NewStyle().Background(colorSurface).Foreground(colorPrimary).Bold(true)
)

// Logo returns a styled single-line pulsar logo for the TUI status bar.
// The design evokes a pulsar's periodic beam sweeping past the observer.
func Logo() string {
	sp := styleLogoPulse.Render(" ")
	return styleLogoPulse.Render("·━·━") +
		sp +
		styleLogoCore.Render("PULSAR") +
		sp +
		styleLogoPulse.Render("━·━·")
}

// LogoPlain returns the unstyled ASCII logo text for plain contexts.
func LogoPlain() string {
	return "·━·━ PULSAR ━·━·"
}
