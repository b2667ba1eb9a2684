// Package sqlite keeps trace events in a local SQLite file.
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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/quiz-agent/observe"
	observestore "github.com/PipeOpsHQ/quiz-agent/observe/store"
)

//go:embed schema.sql
var schemaSQL string

const defaultLimit = 200

const eventColumns = `event_id, run_id, thread_id, span_id, parent_span_id, kind, status, name, tool_name,
  message, error, duration_ms, attributes, timestamp`

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite trace path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize trace schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveEvent(ctx context.Context, event observe.Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	event.Normalize()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("encode trace attributes: %w", err)
	}
	q := `INSERT OR REPLACE INTO trace_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	_, err = s.db.ExecContext(ctx, q,
		event.ID,
		event.RunID,
		event.ThreadID,
		event.SpanID,
		event.ParentSpanID,
		string(event.Kind),
		string(event.Status),
		event.Name,
		event.ToolName,
		event.Message,
		event.Error,
		event.DurationMs,
		string(attrs),
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save trace event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsByRun(ctx context.Context, runID string, query observestore.ListQuery) ([]observe.Event, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("runID is required")
	}
	return s.list(ctx, "run_id = ?", runID, query)
}

func (s *Store) ListEventsByThread(ctx context.Context, threadID string, query observestore.ListQuery) ([]observe.Event, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("threadID is required")
	}
	return s.list(ctx, "thread_id = ?", threadID, query)
}

func (s *Store) list(ctx context.Context, predicate, value string, query observestore.ListQuery) ([]observe.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(query.Offset, 0)

	q := fmt.Sprintf(`SELECT %s FROM trace_events WHERE %s ORDER BY timestamp ASC LIMIT ? OFFSET ?;`, eventColumns, predicate)
	rows, err := s.db.QueryContext(ctx, q, value, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trace events: %w", err)
	}
	defer rows.Close()

	var out []observe.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace events: %w", err)
	}
	return out, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (observe.Event, error) {
	var (
		e      observe.Event
		kind   string
		status string
		attrs  string
		tsRaw  string
	)
	if err := scanner.Scan(
		&e.ID, &e.RunID, &e.ThreadID, &e.SpanID, &e.ParentSpanID,
		&kind, &status, &e.Name, &e.ToolName,
		&e.Message, &e.Error, &e.DurationMs, &attrs, &tsRaw,
	); err != nil {
		return observe.Event{}, fmt.Errorf("scan trace event: %w", err)
	}
	e.Kind = observe.Kind(kind)
	e.Status = observe.Status(status)
	if ts, err := time.Parse(time.RFC3339Nano, tsRaw); err == nil {
		e.Timestamp = ts
	}
	if attrs != "" {
		_ = json.Unmarshal([]byte(attrs), &e.Attributes)
	}
	e.Normalize()
	return e, nil
}

// AggregateMetrics counts events per kind and status in one pass.
func (s *Store) AggregateMetrics(ctx context.Context, query observestore.MetricsQuery) (observestore.MetricsSummary, error) {
	var m observestore.MetricsSummary
	if s == nil || s.db == nil {
		return m, nil
	}
	since := ""
	if query.Since != nil {
		since = query.Since.UTC().Format(time.RFC3339Nano)
	}
	const q = `
SELECT
  COALESCE(SUM(kind = 'run' AND status = 'started'), 0),
  COALESCE(SUM(kind = 'run' AND status = 'completed'), 0),
  COALESCE(SUM(kind = 'run' AND status = 'failed'), 0),
  COALESCE(SUM(kind = 'poll'), 0),
  COALESCE(SUM(kind = 'submit'), 0),
  COALESCE(SUM(kind = 'tool' AND status = 'completed'), 0),
  COALESCE(SUM(kind = 'tool' AND status = 'failed'), 0)
FROM trace_events
WHERE (? = '' OR timestamp >= ?);`
	err := s.db.QueryRowContext(ctx, q, since, since).Scan(
		&m.RunsStarted, &m.RunsCompleted, &m.RunsFailed,
		&m.Polls, &m.Submissions, &m.ToolCalls, &m.ToolFailures,
	)
	if err != nil {
		return observestore.MetricsSummary{}, fmt.Errorf("aggregate trace metrics: %w", err)
	}
	return m, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ observestore.Store = (*Store)(nil)
