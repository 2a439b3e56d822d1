package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// StepState represents the display state of a plan step.
type StepState int

const (
	StepWaiting StepState = iota
	StepRunning
	StepDone
	StepFailed
	StepSkipped
)

// StepEntry represents one step row on the board.
type StepEntry struct {
	ID         string
	Title      string
	State      StepState
	Wave       int
	Needs      []string
	BlockedBy  string
	Variant    string // variant currently attempted, or the one that won
	Iteration  int    // current self-correction iteration while running
	Iterations int    // total iterations once done
	Failure    string
	SkipCause  string
	StartedAt  time.Time
	Elapsed    time.Duration // frozen at terminal state
}

// Board renders the step table for a plan run, grouped by execution wave.
type Board struct {
	Steps   []StepEntry
	Cursor  int
	Spinner spinner.Model
	Width   int
}

// NewBoard creates a board pre-populated from the plan's steps.
func NewBoard(steps []StepInfo) Board {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(colorBlue)

	b := Board{Spinner: s}
	b.Steps = make([]StepEntry, len(steps))
	for i, st := range steps {
		b.Steps[i] = StepEntry{
			ID:        st.ID,
			Title:     st.Title,
			State:     StepWaiting,
			Wave:      st.Wave,
			Needs:     st.Needs,
			BlockedBy: blockedLabel(st.Needs),
		}
	}
	return b
}

// blockedLabel summarizes a dependency list as "first +N".
func blockedLabel(needs []string) string {
	if len(needs) == 0 {
		return ""
	}
	label := needs[0]
	if len(needs) > 1 {
		label += fmt.Sprintf(" +%d", len(needs)-1)
	}
	return label
}

// Selected returns the step entry at the cursor, or nil for an empty board.
func (b *Board) Selected() *StepEntry {
	if b.Cursor < 0 || b.Cursor >= len(b.Steps) {
		return nil
	}
	return &b.Steps[b.Cursor]
}

// MoveUp moves the cursor up.
func (b *Board) MoveUp() {
	if b.Cursor > 0 {
		b.Cursor--
	}
}

// MoveDown moves the cursor down.
func (b *Board) MoveDown() {
	max := len(b.Steps) - 1
	if max < 0 {
		max = 0
	}
	if b.Cursor < max {
		b.Cursor++
	}
}

// entry returns the board entry for a step, appending a bare row when the
// step is unknown. Continuation merges introduce steps after startup, so
// events may reference IDs the board has never seen.
func (b *Board) entry(stepID string) *StepEntry {
	for i := range b.Steps {
		if b.Steps[i].ID == stepID {
			return &b.Steps[i]
		}
	}
	b.Steps = append(b.Steps, StepEntry{ID: stepID, State: StepWaiting})
	return &b.Steps[len(b.Steps)-1]
}

// Start marks a step as running.
func (b *Board) Start(stepID string) {
	e := b.entry(stepID)
	e.State = StepRunning
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
}

// SetVariant records the variant currently being attempted for a step.
func (b *Board) SetVariant(stepID, variant string) {
	b.entry(stepID).Variant = variant
}

// SetIteration records the current self-correction iteration for a step.
func (b *Board) SetIteration(stepID string, iteration int) {
	b.entry(stepID).Iteration = iteration
}

// Finish marks a step as done with the winning variant and iteration count.
func (b *Board) Finish(stepID, variant string, iterations int) {
	e := b.entry(stepID)
	e.State = StepDone
	e.Variant = variant
	e.Iterations = iterations
	e.freezeElapsed()
}

// Fail marks a step as failed.
func (b *Board) Fail(stepID, kind, errText string) {
	e := b.entry(stepID)
	e.State = StepFailed
	e.Failure = kind
	if errText != "" {
		e.Failure = fmt.Sprintf("%s: %s", kind, errText)
	}
	e.freezeElapsed()
}

// Skip marks a step as skipped.
func (b *Board) Skip(stepID, cause string) {
	e := b.entry(stepID)
	e.State = StepSkipped
	e.SkipCause = cause
	e.freezeElapsed()
}

func (e *StepEntry) freezeElapsed() {
	if !e.StartedAt.IsZero() {
		e.Elapsed = time.Since(e.StartedAt).Truncate(time.Second)
	}
}

// Counts returns the number of steps in each terminal state plus running.
func (b *Board) Counts() (done, failed, skipped, running int) {
	for i := range b.Steps {
		switch b.Steps[i].State {
		case StepDone:
			done++
		case StepFailed:
			failed++
		case StepSkipped:
			skipped++
		case StepRunning:
			running++
		}
	}
	return done, failed, skipped, running
}

// View renders the step table with wave separators and aligned columns.
func (b Board) View() string {
	var sb strings.Builder
	lastWave := -1
	for i, s := range b.Steps {
		if s.Wave > 0 && s.Wave != lastWave {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.renderWaveHeader(s.Wave))
			sb.WriteString("\n")
		}
		lastWave = s.Wave

		sb.WriteString(b.renderStepRow(i, s))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderWaveHeader renders a subtle wave separator line.
func (b Board) renderWaveHeader(wave int) string {
	label := fmt.Sprintf("── Wave %d ──", wave)
	return "  " + styleWaveHeader.Render(label)
}

// renderStepRow renders a single step row with aligned columns. The step ID
// is rendered in a brighter style while status detail (variant, iteration,
// elapsed) uses a muted style for easy scanning. The selected row carries a
// blue indicator bar on the left edge.
func (b Board) renderStepRow(i int, s StepEntry) string {
	selected := i == b.Cursor
	indicator := "  "
	if selected {
		indicator = styleSelectionIndicator.Render(selectionIndicator) + " "
	}

	icon := b.stateIcon(s)

	idWidth := 24
	if b.Width > 0 && b.Width < CompactWidth {
		idWidth = b.Width / 3
		if idWidth < 8 {
			idWidth = 8
		}
	}
	stepID := TruncateWithEllipsis(s.ID, idWidth)
	paddedID := fmt.Sprintf("%-*s", idWidth, stepID)

	var styledID string
	if selected {
		styledID = styleRowSelected.Render(paddedID)
	} else {
		styledID = styleStepID.Render(paddedID)
	}

	detail := b.stepDetail(s)
	var styledDetail string
	if detail != "" {
		styledDetail = "  " + styleStepDetail.Render(detail)
	}

	return fmt.Sprintf("%s%s %s%s", indicator, icon, styledID, styledDetail)
}

// stateIcon returns the styled status icon for a step.
func (b Board) stateIcon(s StepEntry) string {
	switch s.State {
	case StepDone:
		return styleRowDone.Render(iconDone)
	case StepRunning:
		return styleRowRunning.Render(iconRunning)
	case StepFailed:
		return styleRowFailed.Render(iconFailed)
	case StepSkipped:
		return styleRowSkipped.Render(iconSkipped)
	default:
		return styleRowWaiting.Render(iconWaiting)
	}
}

// stepDetail builds the detail text for a step row.
func (b Board) stepDetail(s StepEntry) string {
	switch s.State {
	case StepDone:
		parts := []string{}
		if s.Variant != "" {
			parts = append(parts, "via "+s.Variant)
		}
		if s.Iterations > 1 {
			parts = append(parts, fmt.Sprintf("%d iterations", s.Iterations))
		}
		if s.Elapsed > 0 {
			parts = append(parts, formatElapsedCompact(s.Elapsed))
		}
		return strings.Join(parts, "  ")
	case StepRunning:
		parts := []string{}
		if s.Variant != "" {
			parts = append(parts, "variant "+s.Variant)
		}
		if s.Iteration > 1 {
			parts = append(parts, fmt.Sprintf("iteration %d", s.Iteration))
		}
		if elapsed := liveElapsed(s.StartedAt); elapsed != "" {
			parts = append(parts, elapsed)
		}
		parts = append(parts, b.Spinner.View())
		return strings.Join(parts, "  ")
	case StepFailed:
		return TruncateWithEllipsis(s.Failure, 56)
	case StepSkipped:
		return TruncateWithEllipsis("skipped: "+s.SkipCause, 56)
	default:
		if s.BlockedBy != "" {
			return fmt.Sprintf("needs: %s", s.BlockedBy)
		}
		return ""
	}
}

// liveElapsed formats the running elapsed time for a step, or "" before start.
func liveElapsed(start time.Time) string {
	if start.IsZero() {
		return ""
	}
	return formatElapsedCompact(time.Since(start).Truncate(time.Second))
}
