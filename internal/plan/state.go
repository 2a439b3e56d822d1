package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const stateFileName = "pulse.state.toml"

// StateFile returns the path of the run state file inside a plan directory.
func StateFile(dir string) string {
	return filepath.Join(dir, stateFileName)
}

// NewState creates a fresh run state for the given run and plan.
func NewState(runID, planName string) *State {
	return &State{
		Version:   1,
		RunID:     runID,
		PlanName:  planName,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
		Steps:     make(map[string]*StepState),
	}
}

// LoadState reads the state file from the plan directory.
// Returns (nil, nil) if the file does not exist.
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(StateFile(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := toml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	if state.Steps == nil {
		state.Steps = make(map[string]*StepState)
	}
	return &state, nil
}

// SaveState writes the state file atomically (write temp + rename).
func SaveState(dir string, state *State) error {
	data, err := toml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	path := StateFile(dir)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming state file: %w", err)
	}

	return nil
}

// SetStepStatus updates or creates a step's state entry.
func (s *State) SetStepStatus(stepID string, status StepStatus) *StepState {
	now := time.Now().UTC()
	ss, ok := s.Steps[stepID]
	if !ok {
		ss = &StepState{StartedAt: now}
		s.Steps[stepID] = ss
	}
	if status == StepRunning && ss.Status != StepRunning {
		ss.StartedAt = now
	}
	ss.Status = status
	ss.UpdatedAt = now
	return ss
}

// ResetInFlight downgrades any running steps back to pending. Used when
// resuming: a step recorded as running was interrupted mid-execution and
// must re-run from scratch.
func (s *State) ResetInFlight() {
	for _, ss := range s.Steps {
		if ss.Status == StepRunning {
			ss.Status = StepPending
			ss.UpdatedAt = time.Now().UTC()
		}
	}
}

// Counts returns how many steps sit in each terminal/active bucket.
func (s *State) Counts() (succeeded, failed, skipped, pending, running int) {
	for _, ss := range s.Steps {
		switch ss.Status {
		case StepSucceeded:
			succeeded++
		case StepFailed:
			failed++
		case StepSkipped:
			skipped++
		case StepRunning:
			running++
		default:
			pending++
		}
	}
	return
}
