package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// maxTranscriptLines is the maximum number of lines shown before truncation.
const maxTranscriptLines = 500

// DetailPanel wraps a viewport showing the per-step event transcript.
type DetailPanel struct {
	viewport   viewport.Model
	title      string
	totalLines int
	emptyHint  string
}

// NewDetailPanel creates a detail panel with the given dimensions.
func NewDetailPanel(width, height int) DetailPanel {
	vp := viewport.New(width, height)
	vp.SetContent("")
	return DetailPanel{viewport: vp}
}

// SetSize updates the viewport dimensions.
func (d *DetailPanel) SetSize(width, height int) {
	d.viewport.Width = width
	d.viewport.Height = height
}

// SetTranscript replaces the panel content with a step's transcript lines,
// highlighted and scrolled to the bottom so the latest activity is visible.
func (d *DetailPanel) SetTranscript(title string, lines []string) {
	d.title = title
	d.emptyHint = ""
	content := formatTranscript(lines)
	d.totalLines = strings.Count(content, "\n") + 1
	d.viewport.SetContent(content)
	d.viewport.GotoBottom()
}

// SetEmpty sets the detail panel to show an empty-state hint.
func (d *DetailPanel) SetEmpty(hint string) {
	d.title = ""
	d.emptyHint = hint
	d.totalLines = 0
	d.viewport.SetContent("")
	d.viewport.GotoTop()
}

// Update handles viewport scroll messages. Home/g and End/G are handled
// explicitly because the viewport's built-in KeyMap does not bind them.
func (d *DetailPanel) Update(msg tea.Msg) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "home", "g":
			d.viewport.GotoTop()
			return
		case "end", "G":
			d.viewport.GotoBottom()
			return
		}
	}
	d.viewport, _ = d.viewport.Update(msg)
}

// View renders the detail panel with a rounded border and scroll indicators.
func (d DetailPanel) View() string {
	if d.emptyHint != "" {
		content := styleDetailDim.Render(d.emptyHint)
		return styleDetailBorder.Render(content)
	}

	var b strings.Builder

	if d.title != "" {
		b.WriteString(styleDetailTitle.Render(d.title))
		b.WriteString("\n")
	}

	if upMore := d.linesAbove(); upMore > 0 {
		b.WriteString(styleScrollIndicator.Render(fmt.Sprintf("↑ %d more", upMore)))
		b.WriteString("\n")
	}

	b.WriteString(d.viewport.View())

	if downMore := d.linesBelow(); downMore > 0 {
		b.WriteString("\n")
		b.WriteString(styleScrollIndicator.Render(fmt.Sprintf("↓ %d more", downMore)))
	}

	return styleDetailBorder.Render(b.String())
}

// linesAbove returns the number of content lines above the viewport.
func (d DetailPanel) linesAbove() int {
	return d.viewport.YOffset
}

// linesBelow returns the number of content lines below the viewport.
func (d DetailPanel) linesBelow() int {
	below := d.totalLines - d.viewport.YOffset - d.viewport.Height
	if below < 0 {
		return 0
	}
	return below
}

// formatTranscript joins transcript lines with glyph-based highlighting,
// truncating overly long transcripts from the front so the tail survives.
func formatTranscript(lines []string) string {
	if len(lines) > maxTranscriptLines {
		dropped := len(lines) - maxTranscriptLines
		head := styleDetailDim.Render(fmt.Sprintf("(%d earlier lines truncated)", dropped))
		lines = append([]string{head}, lines[dropped:]...)
	}
	highlighted := make([]string, len(lines))
	for i, line := range lines {
		highlighted[i] = highlightLine(line)
	}
	return strings.Join(highlighted, "\n")
}

// highlightLine colors a transcript line based on its leading glyph.
func highlightLine(line string) string {
	switch {
	case strings.HasPrefix(line, "✓"):
		return styleLineOK.Render(line)
	case strings.HasPrefix(line, "✗"):
		return styleLineFail.Render(line)
	case strings.HasPrefix(line, "⚠"):
		return styleLineWarn.Render(line)
	default:
		return line
	}
}
