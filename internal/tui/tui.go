// Package tui provides the BubbleTea-based live dashboard for plan runs.
// A step board shows every step's state as the engine works through the
// graph, a detail panel holds per-step event transcripts, and the p/s keys
// drive the PAUSE/STOP control files.
package tui

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// Program is an alias for tea.Program, exposed so callers don't need to
// import bubbletea directly.
type Program = tea.Program

// NewProgram creates a BubbleTea program for the given plan. The program
// uses the alternate screen buffer for a clean TUI experience.
func NewProgram(opts Options, progOpts ...tea.ProgramOption) *Program {
	model := NewModel(opts)

	allOpts := []tea.ProgramOption{
		tea.WithAltScreen(),
	}
	allOpts = append(allOpts, progOpts...)

	return tea.NewProgram(model, allOpts...)
}

// Run creates and runs a TUI program, blocking until it exits.
func Run(opts Options) error {
	p := NewProgram(opts)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// WithOutput returns a program option that directs TUI output to the given
// writer. Useful for testing or redirecting output.
func WithOutput(w io.Writer) tea.ProgramOption {
	return tea.WithOutput(w)
}

// WithoutInput returns a program option that disables the TTY input reader.
// Used in tests where no terminal is attached.
func WithoutInput() tea.ProgramOption {
	return tea.WithInput(nil)
}
