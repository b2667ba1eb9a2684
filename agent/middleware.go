package agent

import (
	"context"
	"errors"
	"time"

	"github.com/PipeOpsHQ/quiz-agent/types"
)

// Middleware observes or rewrites tool dispatch. An error from BeforeTool
// skips the call; an error from AfterTool replaces its output. Either way
// only that call is affected.
type Middleware interface {
	BeforeTool(ctx context.Context, event *ToolEvent) error
	AfterTool(ctx context.Context, event *ToolEvent) error
	OnError(ctx context.Context, event *ErrorEvent)
}

type NoopMiddleware struct{}

func (NoopMiddleware) BeforeTool(ctx context.Context, event *ToolEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return errors.New("before-tool event is required")
	}
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now().UTC()
	}
	return nil
}

func (NoopMiddleware) AfterTool(ctx context.Context, event *ToolEvent) error {
	if event == nil {
		return errors.New("after-tool event is required")
	}
	if event.FinishedAt.IsZero() {
		event.FinishedAt = time.Now().UTC()
	}
	return nil
}

func (NoopMiddleware) OnError(ctx context.Context, event *ErrorEvent) {
	if event == nil {
		return
	}
	if event.Stage == "" {
		event.Stage = "unknown"
	}
	if event.Err == nil && ctx.Err() != nil {
		event.Err = ctx.Err()
	}
}

type ToolEvent struct {
	RunID      string
	ThreadID   string
	Iteration  int
	StartedAt  time.Time
	FinishedAt time.Time
	Call       types.ToolCall
	// Output is what will be submitted; AfterTool may rewrite it.
	Output string
	Err    error
}

func (e *ToolEvent) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

type ErrorEvent struct {
	RunID     string
	ThreadID  string
	Iteration int
	Stage     string
	ToolName  string
	Err       error
}
