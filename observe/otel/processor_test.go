package otel

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/PipeOpsHQ/quiz-agent/observe"
)

func TestLogProcessor_LogsEndedSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tp := NewTracerProvider(logger)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sink := NewSink(tp)
	if err := sink.Emit(context.Background(), observe.Event{
		Kind: observe.KindRun, Status: observe.StatusCompleted, RunID: "run_9", ThreadID: "thread_9",
	}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"span quiz.run", "quiz.run.id=run_9", "trace_id="} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
