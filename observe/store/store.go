package store

import (
	"context"
	"time"

	"github.com/PipeOpsHQ/quiz-agent/observe"
)

type ListQuery struct {
	Limit  int
	Offset int
}

type MetricsQuery struct {
	Since *time.Time
}

type MetricsSummary struct {
	RunsStarted   int64 `json:"runsStarted"`
	RunsCompleted int64 `json:"runsCompleted"`
	RunsFailed    int64 `json:"runsFailed"`
	Polls         int64 `json:"polls"`
	Submissions   int64 `json:"submissions"`
	ToolCalls     int64 `json:"toolCalls"`
	ToolFailures  int64 `json:"toolFailures"`
}

// Store persists trace events for later inspection.
type Store interface {
	SaveEvent(ctx context.Context, event observe.Event) error
	ListEventsByRun(ctx context.Context, runID string, query ListQuery) ([]observe.Event, error)
	ListEventsByThread(ctx context.Context, threadID string, query ListQuery) ([]observe.Event, error)
	AggregateMetrics(ctx context.Context, query MetricsQuery) (MetricsSummary, error)
	Close() error
}

// Sink adapts a Store to observe.Sink.
func Sink(s Store) observe.Sink {
	return observe.SinkFunc(func(ctx context.Context, event observe.Event) error {
		return s.SaveEvent(ctx, event)
	})
}
