package otel

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogProcessor writes every finished span as a debug log line. It lets the
// span pipeline run without an OTLP collector.
type LogProcessor struct {
	logger *slog.Logger
}

var _ sdktrace.SpanProcessor = (*LogProcessor)(nil)

func NewLogProcessor(logger *slog.Logger) *LogProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProcessor{logger: logger}
}

func (p *LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := []any{
		"trace_id", s.SpanContext().TraceID().String(),
		"span_id", s.SpanContext().SpanID().String(),
		"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
		"status", s.Status().Code.String(),
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}
	p.logger.Debug("span "+s.Name(), attrs...)
}

func (p *LogProcessor) Shutdown(context.Context) error   { return nil }
func (p *LogProcessor) ForceFlush(context.Context) error { return nil }

// NewTracerProvider builds an SDK provider that reports spans through
// LogProcessor.
func NewTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewLogProcessor(logger)))
}
