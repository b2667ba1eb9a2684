// Package sqlite stores solve history in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/quiz-agent/state"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50
)

const runColumns = `id, run_id, thread_id, assistant_id, status, quiz_url, email, answer,
  attachments, error, tool_calls, created_at, updated_at, completed_at`

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	s := &Store{busyTimeout: defaultBusyTimeout, enableWAL: true}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := s.busyTimeout.Milliseconds()
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

func (s *Store) SaveRun(ctx context.Context, run state.RunRecord) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("id is required")
	}
	if run.Status == "" {
		run.Status = "queued"
	}
	run.Stamp(time.Now())

	attachments, err := json.Marshal(nonNil(run.Attachments))
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	calls, err := json.Marshal(nonNil(run.ToolCalls))
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}

	q := `INSERT INTO solve_runs (` + runColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  run_id=excluded.run_id,
  thread_id=excluded.thread_id,
  assistant_id=excluded.assistant_id,
  status=excluded.status,
  quiz_url=excluded.quiz_url,
  email=excluded.email,
  answer=excluded.answer,
  attachments=excluded.attachments,
  error=excluded.error,
  tool_calls=excluded.tool_calls,
  updated_at=excluded.updated_at,
  completed_at=excluded.completed_at;`

	_, err = s.db.ExecContext(ctx, q,
		run.ID,
		run.RunID,
		run.ThreadID,
		run.AssistantID,
		run.Status,
		run.QuizURL,
		run.Email,
		nullableString(run.Answer),
		string(attachments),
		run.Error,
		string(calls),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
		formatTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) LoadRun(ctx context.Context, id string) (state.RunRecord, error) {
	if strings.TrimSpace(id) == "" {
		return state.RunRecord{}, errors.New("id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM solve_runs WHERE id = ?;`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return state.RunRecord{}, state.ErrNotFound
	}
	if err != nil {
		return state.RunRecord{}, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, query state.ListRunsQuery) ([]state.RunRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(query.Offset, 0)

	var (
		where []string
		args  []any
	)
	if query.Email != "" {
		where = append(where, "email = ?")
		args = append(args, query.Email)
	}
	if query.Status != "" {
		where = append(where, "status = ?")
		args = append(args, query.Status)
	}
	q := `SELECT ` + runColumns + ` FROM solve_runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?;"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []state.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (state.RunRecord, error) {
	var (
		run         state.RunRecord
		answer      sql.NullString
		attachments string
		calls       string
		created     string
		updated     string
		completed   sql.NullString
	)
	if err := scanner.Scan(
		&run.ID, &run.RunID, &run.ThreadID, &run.AssistantID, &run.Status,
		&run.QuizURL, &run.Email, &answer, &attachments, &run.Error, &calls,
		&created, &updated, &completed,
	); err != nil {
		return state.RunRecord{}, err
	}
	if answer.Valid {
		run.Answer = &answer.String
	}
	if err := json.Unmarshal([]byte(attachments), &run.Attachments); err != nil {
		return state.RunRecord{}, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(calls), &run.ToolCalls); err != nil {
		return state.RunRecord{}, fmt.Errorf("decode tool calls: %w", err)
	}
	var err error
	if run.CreatedAt, err = parseTime(created); err != nil {
		return state.RunRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if run.UpdatedAt, err = parseTime(updated); err != nil {
		return state.RunRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if completed.Valid && completed.String != "" {
		if run.CompletedAt, err = parseTime(completed.String); err != nil {
			return state.RunRecord{}, fmt.Errorf("parse completed_at: %w", err)
		}
	}
	return run, nil
}

func parseTime(raw string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

var _ state.Store = (*Store)(nil)
