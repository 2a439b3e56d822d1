package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// Default thresholds for stale state detection.
const (
	DefaultStaleMarker = 30 * time.Minute
	DefaultStaleRun    = 1 * time.Hour
)

// ReapAction describes a cleanup action taken by the Reaper.
type ReapAction struct {
	Kind    string // "removed_marker", "flagged_run"
	Details string
}

// Reaper identifies and cleans up stale state in a plan directory.
type Reaper struct {
	PlanDir     string
	StaleMarker time.Duration    // STOP/PAUSE markers older than this with no live run get removed
	StaleRun    time.Duration    // running state with no telemetry activity in this duration gets flagged
	Now         func() time.Time // injectable clock for testing; defaults to time.Now
}

// Run checks for stale intervention markers and a stalled run, removing
// or flagging as appropriate.
//
// STOP and PAUSE markers older than StaleMarker are removed when no run
// is live; a live run may still be honoring them. A state file marked
// running whose event stream has been quiet for StaleRun is flagged for
// review but NOT touched — resuming resets its in-flight steps.
func (r *Reaper) Run() ([]ReapAction, error) {
	staleMarker := r.StaleMarker
	if staleMarker == 0 {
		staleMarker = DefaultStaleMarker
	}
	staleRun := r.StaleRun
	if staleRun == 0 {
		staleRun = DefaultStaleRun
	}
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	st, err := plan.LoadState(r.PlanDir)
	if err != nil {
		return nil, fmt.Errorf("archive: load state: %w", err)
	}
	running := st != nil && st.Status == plan.RunRunning

	actions, err := r.reapMarkers(now, staleMarker, running)
	if err != nil {
		return nil, err
	}

	if running {
		flagActions, err := r.flagStalledRun(now, staleRun, st)
		if err != nil {
			return nil, err
		}
		actions = append(actions, flagActions...)
	}

	return actions, nil
}

// reapMarkers removes STOP and PAUSE marker files that have outlived the
// threshold while no run is live.
func (r *Reaper) reapMarkers(now time.Time, threshold time.Duration, running bool) ([]ReapAction, error) {
	if running {
		return nil, nil
	}

	var actions []ReapAction
	for _, name := range []string{plan.StopFile, plan.PauseFile} {
		path := filepath.Join(r.PlanDir, name)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return actions, fmt.Errorf("archive: stat marker %s: %w", name, err)
		}

		age := now.Sub(info.ModTime())
		if age < threshold {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return actions, fmt.Errorf("archive: remove marker %s: %w", name, err)
		}
		actions = append(actions, ReapAction{
			Kind:    "removed_marker",
			Details: fmt.Sprintf("removed stale %s marker (age: %s)", name, age.Round(time.Second)),
		})
	}
	return actions, nil
}

// flagStalledRun reports a run that claims to be live but has produced no
// telemetry within the threshold, the signature of a crashed runner. The
// event stream's modification time is the activity signal; when no events
// were ever written, the state file's stands in.
func (r *Reaper) flagStalledRun(now time.Time, threshold time.Duration, st *plan.State) ([]ReapAction, error) {
	info, err := os.Stat(telemetry.EventsFile(r.PlanDir))
	if os.IsNotExist(err) {
		info, err = os.Stat(plan.StateFile(r.PlanDir))
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: stat run artifacts: %w", err)
	}

	quiet := now.Sub(info.ModTime())
	if quiet < threshold {
		return nil, nil
	}

	return []ReapAction{{
		Kind:    "flagged_run",
		Details: fmt.Sprintf("run %q marked running but telemetry quiet for %s", st.RunID, quiet.Round(time.Second)),
	}}, nil
}
