package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/pulsar/internal/plan"
)

// Options configures the root model for a plan run.
type Options struct {
	PlanName string
	PlanDir  string // directory for PAUSE/STOP control files
	Steps    []StepInfo
	Workers  int
}

// Model is the root BubbleTea model composing the status bar, step board,
// detail panel, and footer.
type Model struct {
	StatusBar StatusBar
	Board     Board
	Detail    DetailPanel
	Keys      KeyMap
	Width     int
	Height    int
	StartTime time.Time
	Done      bool
	DoneErr   error
	Paused    bool
	Stopping  bool
	PlanDir   string

	// ShowDetail controls whether the transcript panel is visible.
	ShowDetail bool

	// transcript accumulates event lines per step for the detail panel.
	transcript map[string][]string

	// Notes holds run-level messages (interventions, continuations, errors).
	Notes []string
}

// NewModel creates a root model for the given plan.
func NewModel(opts Options) Model {
	m := Model{
		Board:      NewBoard(opts.Steps),
		Detail:     NewDetailPanel(80, 10),
		Keys:       DefaultKeyMap(),
		StartTime:  time.Now(),
		PlanDir:    opts.PlanDir,
		transcript: make(map[string][]string),
	}
	m.StatusBar.Plan = opts.PlanName
	m.StatusBar.Workers = opts.Workers
	m.StatusBar.StartTime = m.StartTime
	return m
}

// Init starts the spinner and tick timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.Board.Spinner.Tick,
		tickCmd(),
	)
}

// tickCmd returns a command that sends a tick every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return MsgTick{Time: t}
	})
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.StatusBar.Width = msg.Width
		m.Detail.SetSize(msg.Width-4, m.detailHeight())

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Board.Spinner, cmd = m.Board.Spinner.Update(msg)
		cmds = append(cmds, cmd)

	case MsgTick:
		cmds = append(cmds, tickCmd())

	case MsgRunStart:
		m.StatusBar.RunID = msg.RunID
		if msg.Workers > 0 {
			m.StatusBar.Workers = msg.Workers
		}

	case MsgStepStart:
		m.Board.Start(msg.StepID)
		m.addStepLine(msg.StepID, "▶ dispatched")

	case MsgVariantStart:
		m.Board.SetVariant(msg.StepID, msg.Variant)
		m.Board.SetIteration(msg.StepID, msg.Iteration)
		if msg.Iteration > 1 {
			m.addStepLine(msg.StepID, "· iteration %d: trying variant %s", msg.Iteration, msg.Variant)
		} else {
			m.addStepLine(msg.StepID, "· trying variant %s", msg.Variant)
		}

	case MsgVariantOK:
		m.addStepLine(msg.StepID, "✓ variant %s (%d tool call(s), %dms)", msg.Variant, msg.ToolCalls, msg.ElapsedMs)

	case MsgVariantFail:
		m.addStepLine(msg.StepID, "⚠ variant %s failed (%s): %s", msg.Variant, msg.Kind, msg.Reason)

	case MsgStepDone:
		m.Board.Finish(msg.StepID, msg.Variant, msg.Iterations)
		if msg.Iterations > 1 {
			m.addStepLine(msg.StepID, "✓ done via %s after %d iterations", msg.Variant, msg.Iterations)
		} else {
			m.addStepLine(msg.StepID, "✓ done via %s", msg.Variant)
		}

	case MsgStepFailed:
		m.Board.Fail(msg.StepID, msg.Kind, msg.Error)
		m.addStepLine(msg.StepID, "✗ failed (%s): %s", msg.Kind, msg.Error)

	case MsgStepSkipped:
		m.Board.Skip(msg.StepID, msg.Cause)
		m.addStepLine(msg.StepID, "– skipped (%s)", msg.Cause)

	case MsgLoopIteration:
		m.Board.SetIteration(msg.StepID, msg.Iteration)
		m.addStepLine(msg.StepID, "↻ iteration %d: %s", msg.Iteration, TruncateWithEllipsis(msg.Instruction, 64))

	case MsgLoopAborted:
		m.addStepLine(msg.StepID, "✗ iteration %d exceeds budget of %d", msg.Iteration, msg.Budget)

	case MsgStoreCommit:
		m.addStepLine(msg.StepID, "• committed %s", strings.Join(msg.Names, ", "))

	case MsgIntervention:
		switch msg.Action {
		case "pause":
			m.Paused = true
			m.addNote("run paused")
		case "resume":
			m.Paused = false
			m.addNote("run resumed")
		case "stop":
			m.Stopping = true
			m.addNote("stop requested, letting in-flight steps finish")
		}

	case MsgContinuation:
		switch msg.Action {
		case "merged":
			m.addNote("plan change merged: %s", msg.File)
		case "updated":
			m.addNote("step updated: %s", msg.File)
		case "rejected":
			if len(msg.Reasons) > 0 {
				m.addNote("plan change rejected: %s (%s)", msg.File, strings.Join(msg.Reasons, "; "))
			} else {
				m.addNote("plan change rejected: %s", msg.File)
			}
		case "ignored":
			m.addNote("plan change ignored: %s", msg.File)
		}

	case MsgRunDone:
		m.Done = true
		m.StatusBar.Status = msg.Status
		m.StatusBar.FinalElapsed = time.Since(m.StartTime).Truncate(time.Second)

	case MsgEngineDone:
		m.Done = true
		m.DoneErr = msg.Err
		if m.StatusBar.FinalElapsed == 0 {
			m.StatusBar.FinalElapsed = time.Since(m.StartTime).Truncate(time.Second)
		}
		if msg.Err != nil {
			m.addNote("run finished with error: %v", msg.Err)
		}
	}

	return m, tea.Batch(cmds...)
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.Keys.Pause):
		m.handlePauseKey()

	case key.Matches(msg, m.Keys.Stop):
		m.handleStopKey()

	case key.Matches(msg, m.Keys.Up):
		m.Board.MoveUp()
		m.refreshDetail()

	case key.Matches(msg, m.Keys.Down):
		m.Board.MoveDown()
		m.refreshDetail()

	case key.Matches(msg, m.Keys.Enter):
		m.ShowDetail = true
		m.refreshDetail()

	case key.Matches(msg, m.Keys.Back):
		m.ShowDetail = false

	default:
		if m.ShowDetail {
			m.Detail.Update(msg)
		}
	}

	return m, nil
}

// handlePauseKey toggles pause state by writing or removing the PAUSE
// control file. The engine's watcher picks up the change and confirms it
// with an intervention event.
func (m *Model) handlePauseKey() {
	if m.PlanDir == "" || m.Stopping || m.Done {
		return
	}

	pausePath := filepath.Join(m.PlanDir, plan.PauseFile)
	if m.Paused {
		_ = os.Remove(pausePath)
		m.Paused = false
		return
	}
	if err := os.WriteFile(pausePath, []byte("paused by TUI\n"), 0o644); err != nil {
		m.addNote("failed to write PAUSE file: %s", err)
		return
	}
	m.Paused = true
}

// handleStopKey writes the STOP control file, requesting a graceful stop.
func (m *Model) handleStopKey() {
	if m.PlanDir == "" || m.Stopping || m.Done {
		return
	}

	stopPath := filepath.Join(m.PlanDir, plan.StopFile)
	if err := os.WriteFile(stopPath, []byte("stopped by TUI\n"), 0o644); err != nil {
		m.addNote("failed to write STOP file: %s", err)
		return
	}
	m.Stopping = true
}

// addStepLine appends a formatted line to a step's transcript and refreshes
// the detail panel when that step is in view.
func (m *Model) addStepLine(stepID, format string, args ...any) {
	line := format
	if len(args) > 0 {
		line = fmt.Sprintf(format, args...)
	}
	m.transcript[stepID] = append(m.transcript[stepID], line)

	if m.ShowDetail {
		if sel := m.Board.Selected(); sel != nil && sel.ID == stepID {
			m.refreshDetail()
		}
	}
}

// addNote appends a run-level message shown above the footer.
func (m *Model) addNote(format string, args ...any) {
	note := format
	if len(args) > 0 {
		note = fmt.Sprintf(format, args...)
	}
	m.Notes = append(m.Notes, note)
}

// refreshDetail updates the detail panel from the selected step's transcript.
func (m *Model) refreshDetail() {
	sel := m.Board.Selected()
	if sel == nil {
		m.Detail.SetEmpty("(no steps)")
		return
	}
	title := sel.ID
	if sel.Title != "" {
		title = fmt.Sprintf("%s — %s", sel.ID, sel.Title)
	}
	lines := m.transcript[sel.ID]
	if len(lines) == 0 {
		lines = []string{"(no activity yet)"}
	}
	m.Detail.SetTranscript(title, lines)
}

// detailHeight computes available height for the detail panel.
func (m Model) detailHeight() int {
	used := 3
	mainH := m.Height - used
	if mainH < 4 {
		return 0
	}
	return mainH * 2 / 5
}

// View renders the full TUI.
func (m Model) View() string {
	if m.Width == 0 {
		return "initializing..."
	}

	done, failed, skipped, running := m.Board.Counts()
	m.StatusBar.Succeeded = done
	m.StatusBar.Failed = failed
	m.StatusBar.Skipped = skipped
	m.StatusBar.Running = running
	m.StatusBar.Total = len(m.Board.Steps)
	m.StatusBar.Paused = m.Paused
	m.StatusBar.Stopping = m.Stopping

	var sections []string
	sections = append(sections, m.StatusBar.View())

	m.Board.Width = m.Width
	sections = append(sections, m.Board.View())

	if m.ShowDetail {
		sep := styleSectionBorder.Width(m.Width).Render("")
		sections = append(sections, sep, m.Detail.View())
	}

	if note := m.lastNote(); note != "" {
		sections = append(sections, styleNote.Render("  "+note))
	}

	sections = append(sections, m.buildFooter().View())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// lastNote returns the most recent run-level note, or "".
func (m Model) lastNote() string {
	if len(m.Notes) == 0 {
		return ""
	}
	return m.Notes[len(m.Notes)-1]
}

// buildFooter creates the footer with bindings for the current state.
func (m Model) buildFooter() Footer {
	f := Footer{Width: m.Width}
	switch {
	case m.Done:
		f.Bindings = DoneFooterBindings(m.Keys)
	case m.ShowDetail:
		f.Bindings = DetailFooterBindings(m.Keys)
	default:
		f.Bindings = BoardFooterBindings(m.Keys)
	}
	return f
}
