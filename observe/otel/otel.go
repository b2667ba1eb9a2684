// Package otel turns trace events into OpenTelemetry spans so quiz runs,
// polls and tool calls show up in any OTLP-compatible backend.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/PipeOpsHQ/quiz-agent/observe"
)

const instrumentationName = "github.com/PipeOpsHQ/quiz-agent/observe"

const maxMessageAttr = 1024

type Sink struct {
	tracer trace.Tracer
}

// NewSink uses a noop provider when tp is nil.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{tracer: tp.Tracer(instrumentationName)}
}

func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()
	start := event.Timestamp

	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(start))

	attrs := []attribute.KeyValue{
		attribute.String("quiz.event.kind", string(event.Kind)),
	}
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	add("quiz.run.id", event.RunID)
	add("quiz.thread.id", event.ThreadID)
	add("quiz.span.id", event.SpanID)
	add("quiz.parent_span.id", event.ParentSpanID)
	add("quiz.tool.name", event.ToolName)
	add("quiz.event.name", event.Name)
	add("quiz.status", string(event.Status))
	if event.Message != "" {
		attrs = append(attrs, attribute.String("quiz.message", clip(event.Message, maxMessageAttr)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("quiz.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("quiz.attr."+k, fmt.Sprint(v)))
	}
	span.SetAttributes(attrs...)

	switch event.Status {
	case observe.StatusFailed:
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(errors.New(event.Error))
		}
	case observe.StatusCompleted:
		span.SetStatus(codes.Ok, "")
	}

	end := start
	if event.DurationMs > 0 {
		end = start.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(end))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindRun:
		return "quiz.run"
	case observe.KindPoll:
		return "quiz.poll"
	case observe.KindSubmit:
		return "quiz.submit"
	case observe.KindTool:
		if event.ToolName != "" {
			return "quiz.tool." + event.ToolName
		}
		return "quiz.tool"
	default:
		if event.Name != "" {
			return "quiz." + event.Name
		}
		return "quiz.event"
	}
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
