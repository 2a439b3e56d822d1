package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBar renders the persistent top bar with plan name, progress, and
// elapsed time.
type StatusBar struct {
	Plan         string
	RunID        string
	Workers      int
	Succeeded    int
	Failed       int
	Skipped      int
	Running      int
	Total        int
	StartTime    time.Time
	FinalElapsed time.Duration
	Width        int
	Paused       bool
	Stopping     bool
	Status       string // terminal run status, set once the run finishes
}

// View renders the status bar as a single line. Adapts to narrow terminals
// by truncating the plan name and dropping the elapsed and worker segments
// to guarantee single-line rendering.
func (s StatusBar) View() string {
	compact := s.Width < CompactWidth

	// The outer styleStatusBar applies Padding(0,1), consuming 2 columns.
	const barPadding = 2
	innerWidth := s.Width - barPadding
	if innerWidth < 0 {
		innerWidth = 0
	}

	barBg := lipgloss.NewStyle().Background(colorSurface)

	right := s.buildRightSegment(compact)
	rightWidth := lipgloss.Width(right)

	logo := barBg.Render(" ") + Logo() + barBg.Render("  ")
	mode := styleStatusMode.Render("run ")

	stateIndicator := s.renderStateIndicator()
	stateWidth := lipgloss.Width(stateIndicator)

	fixedWidth := lipgloss.Width(logo) + lipgloss.Width(mode)

	const minGap = 1
	availableForName := innerWidth - fixedWidth - stateWidth - rightWidth - minGap
	nameSegment := s.buildNameSegment(compact, availableForName)

	left := logo + mode + nameSegment + stateIndicator
	leftWidth := lipgloss.Width(left)

	// Drop the right segment entirely when the name leaves no room.
	if leftWidth+rightWidth+minGap > innerWidth {
		right = ""
		rightWidth = 0
	}

	gap := innerWidth - leftWidth - rightWidth
	if gap < 1 {
		gap = 1
	}
	padding := barBg.Render(strings.Repeat(" ", gap))

	line := left + padding + right
	if lipgloss.Width(line) > innerWidth {
		line = truncateToWidth(line, innerWidth)
	}

	return styleStatusBar.Width(s.Width).Render(line)
}

// buildRightSegment assembles the worker count, step counter, and elapsed
// time shown on the right edge of the bar.
func (s StatusBar) buildRightSegment(compact bool) string {
	barBg := lipgloss.NewStyle().Background(colorSurface)
	var parts []string

	if s.Workers > 0 && !compact {
		parts = append(parts, styleStatusCounts.Render(fmt.Sprintf("%d worker(s)", s.Workers)))
	}

	if s.Total > 0 {
		finished := s.Succeeded + s.Failed + s.Skipped
		counter := fmt.Sprintf("%d/%d", finished, s.Total)
		if s.Failed > 0 {
			counter += fmt.Sprintf(" (%d failed)", s.Failed)
		}
		parts = append(parts, styleStatusCounts.Render(counter))
	}

	var elapsed time.Duration
	if s.FinalElapsed > 0 {
		elapsed = s.FinalElapsed
	} else if !s.StartTime.IsZero() {
		elapsed = time.Since(s.StartTime).Truncate(time.Second)
	}
	if elapsed > 0 && !compact {
		parts = append(parts, styleStatusElapsed.Render(formatElapsedCompact(elapsed)))
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, barBg.Render("  ")) + barBg.Render(" ")
}

// buildNameSegment returns the plan name with an inline progress bar,
// truncated to fit maxWidth.
func (s StatusBar) buildNameSegment(compact bool, maxWidth int) string {
	barBg := lipgloss.NewStyle().Background(colorSurface)
	if maxWidth < 0 {
		maxWidth = 0
	}

	name := s.Plan
	if compact || s.Total == 0 {
		return styleStatusName.Render(TruncateWithEllipsis(name, maxWidth))
	}

	bar := renderStepBar(s.Succeeded, s.Failed, s.Skipped, s.Running, s.Total, 12)
	suffix := barBg.Render("  ") + bar
	suffixWidth := lipgloss.Width(suffix)

	availableForName := maxWidth - suffixWidth
	if availableForName < 4 {
		availableForName = 4
	}
	name = TruncateWithEllipsis(name, availableForName)
	return styleStatusName.Render(name) + suffix
}

// renderStateIndicator returns the styled run-state suffix, or "".
func (s StatusBar) renderStateIndicator() string {
	barBg := lipgloss.NewStyle().Background(colorSurface)
	if s.Status != "" {
		return barBg.Render("  ") + s.renderFinalStatus()
	}
	if s.Stopping {
		return barBg.Render("  ") + styleStatusStopping.Render("STOPPING")
	}
	if s.Paused {
		return barBg.Render("  ") + styleStatusPaused.Render("PAUSED")
	}
	return ""
}

// renderFinalStatus styles the terminal run status word.
func (s StatusBar) renderFinalStatus() string {
	word := strings.ToUpper(s.Status)
	style := lipgloss.NewStyle().Background(colorSurface).Bold(true)
	switch s.Status {
	case "succeeded":
		style = style.Foreground(colorSuccess)
	case "failed":
		style = style.Foreground(colorDanger)
	default:
		style = style.Foreground(colorAccent)
	}
	return style.Render(word)
}

// renderStepBar creates a segmented progress bar: succeeded green, failed
// red, skipped purple, running blue, remainder gray.
func renderStepBar(succeeded, failed, skipped, running, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}

	seg := func(n int) int {
		return n * width / total
	}
	doneW := seg(succeeded)
	failW := seg(failed)
	skipW := seg(skipped)
	runW := seg(running)
	if doneW+failW+skipW+runW > width {
		runW = width - doneW - failW - skipW
		if runW < 0 {
			runW = 0
		}
	}
	emptyW := width - doneW - failW - skipW - runW

	bg := lipgloss.NewStyle().Background(colorSurface)
	return bg.Foreground(colorSuccess).Render(strings.Repeat("━", doneW)) +
		bg.Foreground(colorDanger).Render(strings.Repeat("━", failW)) +
		bg.Foreground(colorSkipped).Render(strings.Repeat("━", skipW)) +
		bg.Foreground(colorBlue).Render(strings.Repeat("━", runW)) +
		bg.Foreground(colorMuted).Render(strings.Repeat("░", emptyW))
}

// formatElapsedCompact formats a duration as "Xs", "Xm Xs", or "Xh Xm".
// Zero duration renders as "0s".
func formatElapsedCompact(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
