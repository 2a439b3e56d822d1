package tui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/papapumpkin/pulsar/internal/plan"
)

// newRunModel creates a model sized for rendering with a control directory.
func newRunModel(planDir string) *Model {
	m := NewModel(Options{
		PlanName: "pipeline",
		PlanDir:  planDir,
		Steps:    testSteps(),
		Workers:  2,
	})
	m.Width = 100
	m.Height = 30
	m.StatusBar.Width = 100
	return &m
}

// apply feeds a message through Update and returns the resulting model.
func apply(t *testing.T, m *Model, msg tea.Msg) *Model {
	t.Helper()
	updated, _ := m.Update(msg)
	next, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", updated)
	}
	return &next
}

func TestModel_StepLifecycleMessages(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgStepStart{StepID: "fetch"})
	m = apply(t, m, MsgVariantStart{StepID: "fetch", Variant: "a", Iteration: 1})
	m = apply(t, m, MsgVariantFail{StepID: "fetch", Variant: "a", Iteration: 1, Kind: "contract", Reason: "missing write"})
	m = apply(t, m, MsgVariantStart{StepID: "fetch", Variant: "b", Iteration: 1})
	m = apply(t, m, MsgStepDone{StepID: "fetch", Variant: "b", Iterations: 1})

	if m.Board.Steps[0].State != StepDone {
		t.Errorf("fetch state = %d, want StepDone", m.Board.Steps[0].State)
	}
	if m.Board.Steps[0].Variant != "b" {
		t.Errorf("fetch variant = %q, want b", m.Board.Steps[0].Variant)
	}

	lines := m.transcript["fetch"]
	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"▶ dispatched",
		"· trying variant a",
		"⚠ variant a failed (contract): missing write",
		"· trying variant b",
		"✓ done via b",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("transcript missing %q:\n%s", want, joined)
		}
	}
}

func TestModel_FailAndSkipCascade(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgStepStart{StepID: "fetch"})
	m = apply(t, m, MsgStepFailed{StepID: "fetch", Kind: "variants_exhausted", Error: "all 2 variants failed"})
	m = apply(t, m, MsgStepSkipped{StepID: "crunch", Cause: "needs failed: fetch"})
	m = apply(t, m, MsgStepSkipped{StepID: "publish", Cause: "needs failed: crunch"})

	done, failed, skipped, _ := m.Board.Counts()
	if done != 0 || failed != 1 || skipped != 2 {
		t.Errorf("counts = %d/%d/%d, want 0/1/2", done, failed, skipped)
	}

	view := m.View()
	if !strings.Contains(view, "1 failed") {
		t.Errorf("expected failure count in status bar, got:\n%s", view)
	}
}

func TestModel_LoopMessages(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgStepStart{StepID: "crunch"})
	m = apply(t, m, MsgLoopIteration{StepID: "crunch", Iteration: 2, Instruction: "tighten the threshold"})
	m = apply(t, m, MsgStoreCommit{StepID: "crunch", Iteration: 2, Names: []string{"total_crunch_a"}})
	m = apply(t, m, MsgLoopAborted{StepID: "crunch", Iteration: 6, Budget: 5})

	joined := strings.Join(m.transcript["crunch"], "\n")
	for _, want := range []string{
		"↻ iteration 2: tighten the threshold",
		"• committed total_crunch_a",
		"✗ iteration 6 exceeds budget of 5",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("transcript missing %q:\n%s", want, joined)
		}
	}

	if m.Board.Steps[1].Iteration != 2 {
		t.Errorf("crunch iteration = %d, want 2", m.Board.Steps[1].Iteration)
	}
}

func TestModel_InterventionMessages(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgIntervention{Action: "pause"})
	if !m.Paused {
		t.Error("expected Paused after pause intervention")
	}

	m = apply(t, m, MsgIntervention{Action: "resume"})
	if m.Paused {
		t.Error("expected resume to clear Paused")
	}

	m = apply(t, m, MsgIntervention{Action: "stop"})
	if !m.Stopping {
		t.Error("expected Stopping after stop intervention")
	}
	if note := m.lastNote(); !strings.Contains(note, "stop requested") {
		t.Errorf("note = %q", note)
	}
}

func TestModel_ContinuationNotes(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgContinuation{Action: "merged", File: "hotfix.md"})
	if note := m.lastNote(); !strings.Contains(note, "merged: hotfix.md") {
		t.Errorf("note = %q", note)
	}

	m = apply(t, m, MsgContinuation{
		Action:  "rejected",
		File:    "bad.md",
		Reasons: []string{"unknown dependency ghost"},
	})
	if note := m.lastNote(); !strings.Contains(note, "unknown dependency ghost") {
		t.Errorf("note = %q", note)
	}
}

func TestModel_RunDoneFreezesStatus(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgStepDone{StepID: "fetch", Variant: "a", Iterations: 1})
	m = apply(t, m, MsgRunDone{Status: "succeeded", Succeeded: 1})

	if !m.Done {
		t.Error("expected Done after run_done")
	}
	view := m.View()
	if !strings.Contains(view, "SUCCEEDED") {
		t.Errorf("expected terminal status in view, got:\n%s", view)
	}
}

func TestModel_EngineDoneRecordsError(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgEngineDone{Err: plan.ErrManualStop})

	if !m.Done || m.DoneErr != plan.ErrManualStop {
		t.Errorf("Done=%v DoneErr=%v", m.Done, m.DoneErr)
	}
	if note := m.lastNote(); !strings.Contains(note, "stopped by user") {
		t.Errorf("note = %q", note)
	}
}

func TestHandlePauseKey(t *testing.T) {
	t.Parallel()

	t.Run("writes PAUSE file and sets Paused flag", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		m := newRunModel(dir)

		m.handlePauseKey()

		if !m.Paused {
			t.Error("expected Paused to be true after handlePauseKey")
		}
		data, err := os.ReadFile(filepath.Join(dir, plan.PauseFile))
		if err != nil {
			t.Fatalf("expected PAUSE file to exist: %v", err)
		}
		if string(data) != "paused by TUI\n" {
			t.Errorf("unexpected PAUSE file content: %q", string(data))
		}
	})

	t.Run("second press removes PAUSE file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		m := newRunModel(dir)

		m.handlePauseKey()
		m.handlePauseKey()

		if m.Paused {
			t.Error("expected Paused to be false after second press")
		}
		assertNoFile(t, filepath.Join(dir, plan.PauseFile))
	})

	t.Run("no-op while stopping", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		m := newRunModel(dir)
		m.Stopping = true

		m.handlePauseKey()

		if m.Paused {
			t.Error("expected Paused to remain false while stopping")
		}
		assertNoFile(t, filepath.Join(dir, plan.PauseFile))
	})

	t.Run("no-op when PlanDir is empty", func(t *testing.T) {
		t.Parallel()
		m := newRunModel("")

		m.handlePauseKey()

		if m.Paused {
			t.Error("expected Paused to remain false without a plan dir")
		}
	})
}

func TestHandleStopKey(t *testing.T) {
	t.Parallel()

	t.Run("writes STOP file and sets Stopping flag", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		m := newRunModel(dir)

		m.handleStopKey()

		if !m.Stopping {
			t.Error("expected Stopping to be true after handleStopKey")
		}
		data, err := os.ReadFile(filepath.Join(dir, plan.StopFile))
		if err != nil {
			t.Fatalf("expected STOP file to exist: %v", err)
		}
		if string(data) != "stopped by TUI\n" {
			t.Errorf("unexpected STOP file content: %q", string(data))
		}
	})

	t.Run("no-op once the run is done", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		m := newRunModel(dir)
		m.Done = true

		m.handleStopKey()

		if m.Stopping {
			t.Error("expected Stopping to remain false after done")
		}
		assertNoFile(t, filepath.Join(dir, plan.StopFile))
	})
}

func TestHandleKey_Navigation(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next := updated.(Model)
	if next.Board.Cursor != 1 {
		t.Errorf("cursor = %d after down, want 1", next.Board.Cursor)
	}

	updated, _ = next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	next = updated.(Model)
	if !next.ShowDetail {
		t.Error("expected detail panel open after enter")
	}

	updated, _ = next.Update(tea.KeyMsg{Type: tea.KeyEsc})
	next = updated.(Model)
	if next.ShowDetail {
		t.Error("expected detail panel closed after esc")
	}
}

func TestHandleKey_QuitReturnsQuitCmd(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg == nil {
		t.Error("expected quit message from command")
	}
}

func TestModelView_ComposesSections(t *testing.T) {
	t.Parallel()
	m := newRunModel("")

	m = apply(t, m, MsgStepStart{StepID: "fetch"})

	view := m.View()
	for _, want := range []string{"PULSAR", "pipeline", "fetch", "crunch", "publish", "quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelView_ZeroWidth(t *testing.T) {
	t.Parallel()
	m := NewModel(Options{PlanName: "pipeline", Steps: testSteps()})

	if got := m.View(); got != "initializing..." {
		t.Errorf("View() = %q before first WindowSizeMsg", got)
	}
}

// assertNoFile asserts that the given file path does not exist.
func assertNoFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file %s to not exist", path)
	}
}
