// Package history keeps a local SQLite record of deploy runs: one row per
// host run and a per-phase event log.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeFormat has fixed width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one host's deploy as stored in history.
type Run struct {
	ID              string
	RunID           string
	Host            string
	Release         string
	PreviousRelease string
	Outcomes        map[deploy.Phase]string
	Failed          bool
	Error           string
	StartedAt       time.Time
	Duration        time.Duration
}

// Event is one finished phase.
type Event struct {
	ID      int64
	RunID   string
	Host    string
	Phase   deploy.Phase
	Outcome string
	Error   string
	Elapsed time.Duration
	At      time.Time
}

// Query narrows ListRuns.
type Query struct {
	Host  string
	RunID string
	// Limit caps the number of rows; zero means 20.
	Limit int
}

// DefaultLimit is the number of runs ListRuns returns without a limit.
const DefaultLimit = 20

// Store is the history database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its directory as needed,
// and applies pending migrations. Use ":memory:" in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: an in-memory database exists per connection, and the
	// CLI never needs concurrent writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores the outcome of one host run. runErr is the error
// Deployer.Run returned, if any, and is kept alongside the phase errors.
func (s *Store) RecordRun(ctx context.Context, res *deploy.Result, runErr error) (string, error) {
	if res == nil {
		return "", errors.NewValidationError("no result to record")
	}

	outcomes := map[deploy.Phase]string{}
	for _, phase := range deploy.Phases() {
		outcomes[phase] = deploy.OutcomeUnset.String()
		if res.State != nil {
			outcomes[phase] = res.State.Outcome(phase).String()
		}
	}

	var msgs []string
	if err := res.Err(); err != nil {
		msgs = append(msgs, err.Error())
	}
	if runErr != nil {
		msgs = append(msgs, runErr.Error())
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, run_id, host, release_label, previous_release, pre, deploy, post, finalize, failed, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.RunID, res.Host, res.Release, res.PreviousRelease,
		outcomes[deploy.PhasePre], outcomes[deploy.PhaseDeploy], outcomes[deploy.PhasePost], outcomes[deploy.PhaseFinalize],
		res.Failed() || runErr != nil, strings.Join(msgs, "\n"),
		res.StartedAt.UTC().Format(timeFormat), res.Duration.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordEvent appends a phase event.
func (s *Store) RecordEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, host, phase, outcome, error, elapsed_ms, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Host, string(e.Phase), e.Outcome, e.Error, e.Elapsed.Milliseconds(), e.At.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListRuns returns runs, newest first.
func (s *Store) ListRuns(ctx context.Context, q Query) ([]Run, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, run_id, host, release_label, previous_release, pre, deploy, post, finalize, failed, error, started_at, duration_ms FROM runs`
	var where []string
	var args []any
	if q.Host != "" {
		where = append(where, "host = ?")
		args = append(args, q.Host)
	}
	if q.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, q.RunID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, host ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Events returns the events of runID on host in the order they happened.
func (s *Store) Events(ctx context.Context, runID, host string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, host, phase, outcome, error, elapsed_ms, at FROM events WHERE run_id = ? AND host = ? ORDER BY id`,
		runID, host,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			phase   string
			elapsed int64
			at      string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Host, &phase, &e.Outcome, &e.Error, &elapsed, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Phase = deploy.Phase(phase)
		e.Elapsed = time.Duration(elapsed) * time.Millisecond
		if e.At, err = time.Parse(timeFormat, at); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                          Run
		pre, dep, post, fin, start string
		durationMS                 int64
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.Host, &r.Release, &r.PreviousRelease,
		&pre, &dep, &post, &fin, &r.Failed, &r.Error, &start, &durationMS); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Outcomes = map[deploy.Phase]string{
		deploy.PhasePre:      pre,
		deploy.PhaseDeploy:   dep,
		deploy.PhasePost:     post,
		deploy.PhaseFinalize: fin,
	}
	started, err := time.Parse(timeFormat, start)
	if err != nil {
		return Run{}, fmt.Errorf("parse run time: %w", err)
	}
	r.StartedAt = started
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return r, nil
}
