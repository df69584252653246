// Package history keeps a SQLite ledger of every completed benchmark run
// so latency can be compared across invocations.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weiihann/fetchsim/measure"
	"github.com/weiihann/fetchsim/pipeline"
)

// DefaultLimit caps List when no limit is given.
const DefaultLimit = 20

// Fixed-width so recorded_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded run.
type Entry struct {
	ID             int64
	InvocationID   string
	Size           string
	Run            int
	CountOnly      bool
	Seed           *int64
	Status         string
	Detail         string
	TotalLatencyMs float64
	PerStage       map[string]string
	Bandwidth      map[string]string
	RecordedAt     time.Time
}

// Filter narrows List. A zero Filter returns the latest DefaultLimit runs.
type Filter struct {
	Size  string
	Limit int
}

// Store is the SQLite-backed run ledger.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path, creating the parent
// directory if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var tables int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tables)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tables == 0 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}

		return nil
	}

	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}

	return nil
}

// Record inserts one run. Recording the same invocation and run twice is
// an error.
func (s *Store) Record(ctx context.Context, e Entry) error {
	return insert(ctx, s.db, e, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, db execer, e Entry, now time.Time) error {
	perStage, err := json.Marshal(orEmpty(e.PerStage))
	if err != nil {
		return fmt.Errorf("encode per_stage: %w", err)
	}
	bandwidth, err := json.Marshal(orEmpty(e.Bandwidth))
	if err != nil {
		return fmt.Errorf("encode bandwidth: %w", err)
	}

	at := e.RecordedAt
	if at.IsZero() {
		at = now
	}

	var seed sql.NullInt64
	if e.Seed != nil {
		seed = sql.NullInt64{Int64: *e.Seed, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (invocation_id, size, run, count_only, seed, status, detail,
			total_latency_ms, per_stage, bandwidth, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.InvocationID, e.Size, e.Run, e.CountOnly, seed, e.Status, e.Detail,
		e.TotalLatencyMs, string(perStage), string(bandwidth), at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run %s/%d: %w", e.InvocationID, e.Run, err)
	}

	return nil
}

// RecordSummary records every completed run of an invocation in one
// transaction.
func (s *Store) RecordSummary(ctx context.Context, sum *pipeline.Summary, countOnly bool, seed *int64) error {
	if len(sum.Runs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range sum.Runs {
		e := FromRun(sum.InvocationID, sum.Size.String(), r.Run, r.Report, r.Outcome.Status.String(), r.Outcome.Detail)
		e.CountOnly = countOnly
		e.Seed = seed

		if err := insert(ctx, tx, e, s.now()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// FromRun builds an Entry from a persisted run report.
func FromRun(invocation, size string, run int, rep measure.Report, status, detail string) Entry {
	return Entry{
		InvocationID:   invocation,
		Size:           size,
		Run:            run,
		Status:         status,
		Detail:         detail,
		TotalLatencyMs: rep.TotalLatencyMs,
		PerStage:       rep.PerStage,
		Bandwidth:      rep.Bandwidth,
	}
}

// List returns recorded runs, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, invocation_id, size, run, count_only, seed, status, detail,
		total_latency_ms, per_stage, bandwidth, recorded_at FROM runs`
	var args []any
	if f.Size != "" {
		query += " WHERE size = ?"
		args = append(args, f.Size)
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return out, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                   Entry
		seed                sql.NullInt64
		perStage, bandwidth string
		at                  string
	)

	err := rows.Scan(&e.ID, &e.InvocationID, &e.Size, &e.Run, &e.CountOnly, &seed,
		&e.Status, &e.Detail, &e.TotalLatencyMs, &perStage, &bandwidth, &at)
	if err != nil {
		return Entry{}, fmt.Errorf("scan run: %w", err)
	}

	if seed.Valid {
		v := seed.Int64
		e.Seed = &v
	}

	if err := json.Unmarshal([]byte(perStage), &e.PerStage); err != nil {
		return Entry{}, fmt.Errorf("decode per_stage of run %d: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(bandwidth), &e.Bandwidth); err != nil {
		return Entry{}, fmt.Errorf("decode bandwidth of run %d: %w", e.ID, err)
	}

	e.RecordedAt, err = time.Parse(timeLayout, at)
	if err != nil {
		return Entry{}, fmt.Errorf("parse recorded_at of run %d: %w", e.ID, err)
	}

	return e, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}

	return m
}
