package observe

import (
	"context"
	"log/slog"
	"sync"
)

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) error { return nil }

type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

// Emit forwards to every sink and returns the first error. A failing sink
// does not stop the rest.
func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	var first error
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event Event) error {
	attrs := []any{
		"kind", string(event.Kind),
		"status", string(event.Status),
		"run_id", event.RunID,
		"thread_id", event.ThreadID,
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool", event.ToolName)
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, "duration_ms", event.DurationMs)
	}
	if v, ok := event.Attributes["runStatus"]; ok {
		attrs = append(attrs, "run_status", v)
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	level := slog.LevelInfo
	switch {
	case event.Status == StatusFailed:
		level = slog.LevelWarn
		attrs = append(attrs, "error", event.Error)
	case event.Kind == KindPoll:
		level = slog.LevelDebug
	}
	s.logger.Log(ctx, level, event.Name, attrs...)
	return nil
}

// AsyncSink decouples the driver from slow sinks such as the trace store.
type AsyncSink struct {
	downstream Sink
	queue      chan Event
	once       sync.Once
	done       chan struct{}
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	go as.loop()
	return as
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		// Full queue: drop rather than stall the run loop.
		return nil
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.queue) })
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for event := range s.queue {
		_ = s.downstream.Emit(context.Background(), event)
	}
}
