// Package archive preserves finished runs as standalone SQLite files.
//
// An archive is a self-contained snapshot of one run: the run summary,
// per-step outcomes, every committed variable version, the alias table,
// and the telemetry events. After archival the run's rows are purged from
// the live ledger and its state and events are removed from the plan
// directory, so the directory stays clean for future runs.
package archive

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/telemetry"
	"github.com/papapumpkin/pulsar/internal/vars"
)

// Sentinel errors for archive validation.
var (
	// ErrNoRun indicates the plan directory has no recorded run.
	ErrNoRun = errors.New("archive: no run recorded")
	// ErrRunActive indicates the recorded run is still marked running.
	ErrRunActive = errors.New("archive: run still active")
	// ErrRunResumable indicates the run failed or was stopped and could
	// still be resumed. Archiving it discards that option.
	ErrRunResumable = errors.New("archive: run is resumable")
)

// archiveSchema is the DDL for the standalone archive SQLite file.
const archiveSchema = `
CREATE TABLE IF NOT EXISTS run (
    run_id      TEXT NOT NULL,
    plan_name   TEXT NOT NULL,
    status      TEXT NOT NULL,
    started_at  TIMESTAMP,
    finished_at TIMESTAMP,
    archived_at TIMESTAMP NOT NULL,
    step_count  INTEGER
);

CREATE TABLE IF NOT EXISTS steps (
    step_id    TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    variant    TEXT NOT NULL DEFAULT '',
    iterations INTEGER NOT NULL DEFAULT 0,
    error_kind TEXT NOT NULL DEFAULT '',
    error      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS variables (
    name       TEXT NOT NULL,
    version    INTEGER NOT NULL,
    type       TEXT NOT NULL,
    value      TEXT NOT NULL DEFAULT 'null',
    path       TEXT NOT NULL DEFAULT '',
    step       TEXT NOT NULL,
    variant    TEXT NOT NULL DEFAULT '',
    iteration  INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP,
    PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS bindings (
    alias  TEXT PRIMARY KEY,
    target TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id      INTEGER PRIMARY KEY,
    ts      TIMESTAMP,
    kind    TEXT NOT NULL,
    step    TEXT NOT NULL DEFAULT '',
    variant TEXT NOT NULL DEFAULT '',
    data    TEXT
);
`

// Archive describes one archived run.
type Archive struct {
	RunID      string
	PlanName   string
	Status     string
	ArchivedAt time.Time
	Path       string // path of the archive SQLite file

	Steps     int
	Variables int
	Events    int
}

// Options controls optional behavior during archival.
type Options struct {
	// Force archives a failed or stopped run even though resuming it
	// would no longer be possible afterwards.
	Force bool
}

// Run archives the run recorded in planDir into a standalone SQLite file
// at outPath, defaulting to <planDir>/archives/<run-id>.db when outPath
// is empty. It validates that the run is terminal (failed and stopped
// runs need Force, since archiving forfeits resume), copies the run state,
// ledger rows, and telemetry into the archive in a single transaction,
// then purges the run from the live ledger and removes its state file and
// event lines.
func Run(ctx context.Context, planDir, outPath string, opts Options) (*Archive, error) {
	st, err := plan.LoadState(planDir)
	if err != nil {
		return nil, fmt.Errorf("archive: load state: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoRun, planDir)
	}
	switch st.Status {
	case plan.RunRunning:
		return nil, fmt.Errorf("%w: run %s", ErrRunActive, st.RunID)
	case plan.RunFailed, plan.RunStopped:
		if !opts.Force {
			return nil, fmt.Errorf("%w: %s run %s", ErrRunResumable, st.Status, st.RunID)
		}
	}

	if outPath == "" {
		outPath = filepath.Join(planDir, "archives", st.RunID+".db")
	}

	ledger, err := vars.OpenLedger(ctx, vars.LedgerFile(planDir))
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	entries, err := ledger.Entries(ctx, st.RunID)
	if err != nil {
		return nil, err
	}
	bindings, err := ledger.Bindings(ctx, st.RunID)
	if err != nil {
		return nil, err
	}

	eventsPath := telemetry.EventsFile(planDir)
	archived, kept, err := splitEvents(eventsPath, st.RunID)
	if err != nil {
		return nil, err
	}

	a, err := writeArchive(ctx, outPath, st, entries, bindings, archived)
	if err != nil {
		return nil, err
	}

	if err := ledger.PurgeRun(ctx, st.RunID); err != nil {
		return nil, err
	}
	if err := os.Remove(plan.StateFile(planDir)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("archive: remove state file: %w", err)
	}
	if err := rewriteEvents(eventsPath, kept); err != nil {
		return nil, err
	}
	return a, nil
}

// writeArchive creates the archive file and copies all run data into it
// in one transaction.
func writeArchive(ctx context.Context, outPath string, st *plan.State, entries []vars.Entry, bindings map[string]string, events []telemetry.Event) (*Archive, error) {
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: create directory %s: %w", dir, err)
		}
	}

	db, err := openArchiveDB(ctx, outPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var finished any
	if !st.FinishedAt.IsZero() {
		finished = st.FinishedAt.UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run (run_id, plan_name, status, started_at, finished_at, archived_at, step_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.RunID, st.PlanName, string(st.Status), st.StartedAt.UTC(), finished, now, len(st.Steps)); err != nil {
		return nil, fmt.Errorf("archive: insert run: %w", err)
	}

	ids := make([]string, 0, len(st.Steps))
	for id := range st.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ss := st.Steps[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (step_id, status, variant, iterations, error_kind, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(ss.Status), ss.Variant, ss.Iterations, ss.ErrorKind, ss.Error); err != nil {
			return nil, fmt.Errorf("archive: insert step %s: %w", id, err)
		}
	}

	for _, e := range entries {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("archive: encode value for %q: %w", e.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO variables (name, version, type, value, path, step, variant, iteration, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Name, e.Version, string(e.Type), string(value),
			e.Path, e.Step, e.Variant, e.Iteration, e.UpdatedAt.UTC()); err != nil {
			return nil, fmt.Errorf("archive: insert variable %s v%d: %w", e.Name, e.Version, err)
		}
	}

	aliases := make([]string, 0, len(bindings))
	for alias := range bindings {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bindings (alias, target) VALUES (?, ?)`,
			alias, bindings[alias]); err != nil {
			return nil, fmt.Errorf("archive: insert binding %s: %w", alias, err)
		}
	}

	for _, evt := range events {
		var data any
		if evt.Data != nil {
			encoded, err := json.Marshal(evt.Data)
			if err != nil {
				return nil, fmt.Errorf("archive: encode event data: %w", err)
			}
			data = string(encoded)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (ts, kind, step, variant, data) VALUES (?, ?, ?, ?, ?)`,
			evt.Timestamp.UTC(), evt.Kind, evt.StepID, evt.Variant, data); err != nil {
			return nil, fmt.Errorf("archive: insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("archive: commit: %w", err)
	}

	return &Archive{
		RunID:      st.RunID,
		PlanName:   st.PlanName,
		Status:     string(st.Status),
		ArchivedAt: now,
		Path:       outPath,
		Steps:      len(st.Steps),
		Variables:  len(entries),
		Events:     len(events),
	}, nil
}

// openArchiveDB creates and initializes a new archive SQLite file.
func openArchiveDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return db, nil
}

// splitEvents reads the event stream and partitions it by run: events of
// runID are decoded for archival, everything else (other runs' lines and
// lines that fail to parse) is kept verbatim for the rewritten file. A
// missing file yields empty results.
func splitEvents(path, runID string) ([]telemetry.Event, []string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open events: %w", err)
	}
	defer f.Close()

	var archived []telemetry.Event
	var kept []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var evt telemetry.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil || evt.RunID != runID {
			kept = append(kept, line)
			continue
		}
		archived = append(archived, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("archive: read events: %w", err)
	}
	return archived, kept, nil
}

// rewriteEvents replaces the event stream with the kept lines, removing
// the file entirely when nothing remains.
func rewriteEvents(path string, kept []string) error {
	if len(kept) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("archive: remove events: %w", err)
		}
		return nil
	}

	tmp := path + ".tmp"
	data := strings.Join(kept, "\n") + "\n"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("archive: write events: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("archive: replace events: %w", err)
	}
	return nil
}

// Read opens an existing archive file and returns its metadata.
func Read(ctx context.Context, path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer db.Close()

	var a Archive
	a.Path = path
	err = db.QueryRowContext(ctx,
		`SELECT run_id, plan_name, status, archived_at, step_count FROM run LIMIT 1`).
		Scan(&a.RunID, &a.PlanName, &a.Status, &a.ArchivedAt, &a.Steps)
	if err != nil {
		return nil, fmt.Errorf("archive: read run metadata from %s: %w", path, err)
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM variables`).Scan(&a.Variables); err != nil {
		return nil, fmt.Errorf("archive: count variables: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&a.Events); err != nil {
		return nil, fmt.Errorf("archive: count events: %w", err)
	}
	return &a, nil
}
