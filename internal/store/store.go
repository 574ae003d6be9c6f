// Package store keeps the queryable history of the assistant in SQLite:
// a mirror of the service log, one-shot command history, audit runs, tool
// calls and approval decisions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KafClaw/sysclaw/internal/approval"
	"github.com/KafClaw/sysclaw/internal/engine"
	"github.com/KafClaw/sysclaw/internal/servicelog"
)

// maxStoredText caps large text columns.
const maxStoredText = 64 * 1024

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}
	s, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB applies the schema to an already opened database.
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// Append mirrors a service log record. It satisfies servicelog.Appender.
func (s *Store) Append(ctx context.Context, r servicelog.Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO service_log (timestamp, outcome, detail, job, run_id, iterations, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UTC(), string(r.Outcome), clip(r.Detail), r.Job, r.RunID, r.Iterations, r.DurationMs)
	return err
}

// ServiceLog returns the newest records first.
func (s *Store) ServiceLog(ctx context.Context, limit int, outcome servicelog.Outcome) ([]servicelog.Record, error) {
	query := `SELECT timestamp, outcome, detail, job, run_id, iterations, duration_ms FROM service_log WHERE 1=1`
	args := []interface{}{}
	if outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(outcome))
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []servicelog.Record
	for rows.Next() {
		var r servicelog.Record
		var o string
		if err := rows.Scan(&r.Timestamp, &o, &r.Detail, &r.Job, &r.RunID, &r.Iterations, &r.DurationMs); err != nil {
			return nil, err
		}
		r.Outcome = servicelog.Outcome(o)
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutcomeCounts tallies mirrored records by outcome.
func (s *Store) OutcomeCounts(ctx context.Context) (map[servicelog.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM service_log GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[servicelog.Outcome]int{}
	for rows.Next() {
		var o string
		var n int
		if err := rows.Scan(&o, &n); err != nil {
			return nil, err
		}
		out[servicelog.Outcome(o)] = n
	}
	return out, rows.Err()
}

// CommandRecord is one executed one-shot command.
type CommandRecord struct {
	ID          int64
	Instruction string
	Command     string
	Explanation string
	Success     bool
	Reason      string
	Output      string
	ExecutedAt  time.Time
}

// AddCommand records a one-shot command execution.
func (s *Store) AddCommand(ctx context.Context, c CommandRecord) error {
	if c.ExecutedAt.IsZero() {
		c.ExecutedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO command_history (instruction, command, explanation, success, reason, output, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Instruction, c.Command, c.Explanation, c.Success, c.Reason, clip(c.Output), c.ExecutedAt.UTC())
	return err
}

// Commands returns the newest commands first.
func (s *Store) Commands(ctx context.Context, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, instruction, command, explanation, success, reason, output, executed_at
		FROM command_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var c CommandRecord
		if err := rows.Scan(&c.ID, &c.Instruction, &c.Command, &c.Explanation, &c.Success, &c.Reason, &c.Output, &c.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AuditRun is the persisted summary of one audit.
type AuditRun struct {
	RunID      string
	StartedAt  time.Time
	Duration   time.Duration
	Violations int
	Gaps       []string
	ReportPath string
	Report     string
}

// AddAuditRun records an audit.
func (s *Store) AddAuditRun(ctx context.Context, a AuditRun) error {
	gaps, err := json.Marshal(a.Gaps)
	if err != nil {
		return err
	}
	if a.Gaps == nil {
		gaps = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_runs (run_id, started_at, duration_ms, violations, gaps, report_path, report)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.StartedAt.UTC(), a.Duration.Milliseconds(), a.Violations, string(gaps), a.ReportPath, a.Report)
	return err
}

// AuditRuns returns the newest audits first.
func (s *Store) AuditRuns(ctx context.Context, limit int) ([]AuditRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, started_at, duration_ms, violations, gaps, report_path, report
		FROM audit_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRun
	for rows.Next() {
		var a AuditRun
		var ms int64
		var gaps string
		if err := rows.Scan(&a.RunID, &a.StartedAt, &ms, &a.Violations, &gaps, &a.ReportPath, &a.Report); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		_ = json.Unmarshal([]byte(gaps), &a.Gaps)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordToolCall satisfies engine.Journal.
func (s *Store) RecordToolCall(ctx context.Context, rec engine.CallRecord) error {
	args, err := json.Marshal(rec.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tool_calls (call_id, run_id, tool, arguments, success, reason, result, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.RunID, rec.Tool, string(args), rec.Success, rec.Reason, clip(rec.Result), rec.StartedAt.UTC(), rec.Duration.Milliseconds())
	return err
}

// ToolCalls returns the calls of one run in execution order.
func (s *Store) ToolCalls(ctx context.Context, runID string) ([]engine.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT call_id, run_id, tool, arguments, success, reason, result, started_at, duration_ms
		FROM tool_calls WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.CallRecord
	for rows.Next() {
		var r engine.CallRecord
		var args string
		var ms int64
		if err := rows.Scan(&r.CallID, &r.RunID, &r.Tool, &args, &r.Success, &r.Reason, &r.Result, &r.StartedAt, &ms); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(args), &r.Arguments)
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Decision is a persisted approval decision.
type Decision struct {
	RunID     string
	Tool      string
	Tier      int
	Mode      string
	Decision  string
	Reason    string
	CreatedAt time.Time
}

// RecordDecision satisfies approval.Recorder.
func (s *Store) RecordDecision(ctx context.Context, req approval.Request, out approval.Outcome) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approval_decisions (run_id, tool, tier, mode, decision, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.RunID, req.Tool, req.Tier, string(req.Mode), out.Decision.String(), out.Reason, time.Now().UTC())
	return err
}

// Decisions returns the decisions of one run in order.
func (s *Store) Decisions(ctx context.Context, runID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, tool, tier, mode, decision, reason, created_at
		FROM approval_decisions WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.RunID, &d.Tool, &d.Tier, &d.Mode, &d.Decision, &d.Reason, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func clip(s string) string {
	if len(s) <= maxStoredText {
		return s
	}
	return s[:maxStoredText]
}
