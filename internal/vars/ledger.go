package vars

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const ledgerFileName = "pulse.ledger.db"

// LedgerFile returns the path of the variable ledger inside a plan directory.
func LedgerFile(dir string) string {
	return filepath.Join(dir, ledgerFileName)
}

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    plan_name   TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'running',
    started_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entries (
    run_id     TEXT NOT NULL,
    name       TEXT NOT NULL,
    version    INTEGER NOT NULL,
    type       TEXT NOT NULL,
    value      TEXT NOT NULL DEFAULT 'null',
    path       TEXT NOT NULL DEFAULT '',
    step       TEXT NOT NULL,
    variant    TEXT NOT NULL DEFAULT '',
    iteration  INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (run_id, name, version)
);

CREATE TABLE IF NOT EXISTS bindings (
    run_id TEXT NOT NULL,
    alias  TEXT NOT NULL,
    target TEXT NOT NULL,
    PRIMARY KEY (run_id, alias)
);
`

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID      string
	PlanName   string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Ledger is the durable, append-only record of every variable version a run
// commits, backed by a local SQLite database in WAL mode. Restarting a run
// replays the ledger to rebuild the in-memory store.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (or creates) the ledger database at dbPath, enables WAL
// mode and busy timeout, and creates the schema tables if they do not exist.
func OpenLedger(ctx context.Context, dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}

	// Limit to one connection. SQLite only supports a single writer; using
	// one connection avoids SQLITE_BUSY contention between pooled connections
	// that each need their own PRAGMA setup.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// BeginRun registers a run, or refreshes its status if the row exists
// already (a resumed run keeps its original start time).
func (l *Ledger) BeginRun(ctx context.Context, runID, planName string) error {
	const q = `
		INSERT INTO runs (run_id, plan_name, status)
		VALUES (?, ?, 'running')
		ON CONFLICT(run_id) DO UPDATE SET status = 'running', finished_at = NULL`
	if _, err := l.db.ExecContext(ctx, q, runID, planName); err != nil {
		return fmt.Errorf("ledger: begin run %q: %w", runID, err)
	}
	return nil
}

// FinishRun records a run's terminal status and finish time.
func (l *Ledger) FinishRun(ctx context.Context, runID, status string) error {
	const q = `UPDATE runs SET status = ?, finished_at = CURRENT_TIMESTAMP WHERE run_id = ?`
	res, err := l.db.ExecContext(ctx, q, status, runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run %q: %w", runID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: finish run rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ledger: run %q not found", runID)
	}
	return nil
}

// Run returns the record for a run ID, or (nil, nil) if it does not exist.
func (l *Ledger) Run(ctx context.Context, runID string) (*RunRecord, error) {
	const q = `SELECT run_id, plan_name, status, started_at, COALESCE(finished_at, '')
		FROM runs WHERE run_id = ?`
	return l.scanRun(l.db.QueryRowContext(ctx, q, runID))
}

// LatestRun returns the most recently started run, or (nil, nil) if the
// ledger holds none.
func (l *Ledger) LatestRun(ctx context.Context) (*RunRecord, error) {
	const q = `SELECT run_id, plan_name, status, started_at, COALESCE(finished_at, '')
		FROM runs ORDER BY started_at DESC, run_id DESC LIMIT 1`
	return l.scanRun(l.db.QueryRowContext(ctx, q))
}

func (l *Ledger) scanRun(row *sql.Row) (*RunRecord, error) {
	var r RunRecord
	var started, finished string
	err := row.Scan(&r.RunID, &r.PlanName, &r.Status, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan run: %w", err)
	}
	if r.StartedAt, err = parseTimestamp(started); err != nil {
		return nil, fmt.Errorf("ledger: parse run start time: %w", err)
	}
	if finished != "" {
		if r.FinishedAt, err = parseTimestamp(finished); err != nil {
			return nil, fmt.Errorf("ledger: parse run finish time: %w", err)
		}
	}
	return &r, nil
}

// Append records one committed variable version. Values are stored as JSON
// text; structured values round-trip with JSON number semantics. Replaying
// a version already recorded is a no-op, matching the store's dedupe of
// identical re-commits.
func (l *Ledger) Append(ctx context.Context, runID string, e Entry) error {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("ledger: encode value for %q: %w", e.Name, err)
	}

	const q = `
		INSERT INTO entries (run_id, name, version, type, value, path, step, variant, iteration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, name, version) DO NOTHING`
	if _, err := l.db.ExecContext(ctx, q,
		runID, e.Name, e.Version, string(e.Type), string(value),
		e.Path, e.Step, e.Variant, e.Iteration); err != nil {
		return fmt.Errorf("ledger: append %q v%d: %w", e.Name, e.Version, err)
	}
	return nil
}

// Bind records (or updates) an alias for a run.
func (l *Ledger) Bind(ctx context.Context, runID, alias, target string) error {
	const q = `
		INSERT INTO bindings (run_id, alias, target)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, alias) DO UPDATE SET target = excluded.target`
	if _, err := l.db.ExecContext(ctx, q, runID, alias, target); err != nil {
		return fmt.Errorf("ledger: bind %q to %q: %w", alias, target, err)
	}
	return nil
}

// Entries returns every entry of a run in commit order.
func (l *Ledger) Entries(ctx context.Context, runID string) ([]Entry, error) {
	const q = `SELECT name, version, type, value, path, step, variant, iteration, created_at
		FROM entries WHERE run_id = ? ORDER BY rowid`
	rows, err := l.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query entries: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var e Entry
		var typ, value, ts string
		if err := rows.Scan(&e.Name, &e.Version, &typ, &value, &e.Path, &e.Step, &e.Variant, &e.Iteration, &ts); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		e.Type = Type(typ)
		if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
			return nil, fmt.Errorf("ledger: decode value for %q: %w", e.Name, err)
		}
		if e.UpdatedAt, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("ledger: parse entry timestamp: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return result, nil
}

// Bindings returns the alias table recorded for a run.
func (l *Ledger) Bindings(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT alias, target FROM bindings WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query bindings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var alias, target string
		if err := rows.Scan(&alias, &target); err != nil {
			return nil, fmt.Errorf("ledger: scan binding: %w", err)
		}
		out[alias] = target
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate bindings: %w", err)
	}
	return out, nil
}

// Restore rebuilds an in-memory store from a run's ledger, entries first so
// every alias target exists before binding.
func (l *Ledger) Restore(ctx context.Context, runID string) (*Store, error) {
	entries, err := l.Entries(ctx, runID)
	if err != nil {
		return nil, err
	}

	store := New()
	for _, e := range entries {
		store.restore(e)
	}

	bindings, err := l.Bindings(ctx, runID)
	if err != nil {
		return nil, err
	}
	for alias, target := range bindings {
		if err := store.Bind(alias, target); err != nil {
			return nil, fmt.Errorf("ledger: restore binding %q: %w", alias, err)
		}
	}
	return store, nil
}

// PurgeRun deletes everything a run wrote: its entries, its bindings, and
// the run record itself. Used after a run has been archived to a
// standalone file, so the live ledger only carries runs still of interest.
func (l *Ledger) PurgeRun(ctx context.Context, runID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin purge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, q := range []string{
		`DELETE FROM entries WHERE run_id = ?`,
		`DELETE FROM bindings WHERE run_id = ?`,
		`DELETE FROM runs WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, runID); err != nil {
			return fmt.Errorf("ledger: purge run %q: %w", runID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit purge: %w", err)
	}
	return nil
}

// timestampFormats lists the formats SQLite drivers may produce for
// CURRENT_TIMESTAMP. modernc.org/sqlite typically returns RFC 3339,
// while canonical SQLite returns the space-separated DateTime format.
var timestampFormats = []string{
	time.RFC3339,
	time.DateTime,
}

// parseTimestamp attempts to parse a SQLite timestamp string using known formats.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
