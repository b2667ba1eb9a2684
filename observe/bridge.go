package observe

import (
	"fmt"

	"github.com/PipeOpsHQ/quiz-agent/types"
)

// FromRuntimeEvent maps a driver event onto the trace model. Tool spans hang
// off the poll that requested them; polls hang off the run.
func FromRuntimeEvent(in types.Event) Event {
	e := Event{
		Timestamp:  in.Timestamp,
		RunID:      in.RunID,
		ThreadID:   in.ThreadID,
		Name:       string(in.Type),
		ToolName:   in.ToolName,
		Message:    in.Message,
		Error:      in.Error,
		DurationMs: in.DurationMs,
		Attributes: map[string]any{
			"eventType": string(in.Type),
		},
	}
	if in.Iteration > 0 {
		e.Attributes["iteration"] = in.Iteration
	}
	if in.ToolCallID != "" {
		e.Attributes["toolCallId"] = in.ToolCallID
	}
	if in.Status != "" {
		e.Attributes["runStatus"] = string(in.Status)
	}

	switch in.Type {
	case types.EventRunStarted:
		e.Kind, e.Status = KindRun, StatusStarted
	case types.EventRunCompleted:
		e.Kind, e.Status = KindRun, StatusCompleted
	case types.EventRunFailed:
		e.Kind, e.Status = KindRun, StatusFailed
	case types.EventRunPolled:
		e.Kind, e.Status = KindPoll, StatusCompleted
	case types.EventBeforeTool:
		e.Kind, e.Status = KindTool, StatusStarted
	case types.EventAfterTool:
		e.Kind, e.Status = KindTool, StatusCompleted
	case types.EventOutputsSubmitted:
		e.Kind, e.Status = KindSubmit, StatusCompleted
	default:
		e.Kind, e.Status = KindCustom, StatusCompleted
	}
	if in.Error != "" && e.Status != StatusStarted {
		e.Status = StatusFailed
	}

	e.SpanID = spanIDForRuntimeEvent(in)
	e.ParentSpanID = parentSpanIDForRuntimeEvent(in)
	e.Normalize()
	return e
}

func spanIDForRuntimeEvent(in types.Event) string {
	if in.RunID == "" {
		return ""
	}
	if in.ToolCallID != "" {
		return fmt.Sprintf("%s:tool:%d:%s", in.RunID, in.Iteration, in.ToolCallID)
	}
	if in.Iteration > 0 {
		return fmt.Sprintf("%s:poll:%d", in.RunID, in.Iteration)
	}
	return in.RunID
}

func parentSpanIDForRuntimeEvent(in types.Event) string {
	if in.RunID == "" {
		return ""
	}
	if in.ToolCallID != "" {
		return fmt.Sprintf("%s:poll:%d", in.RunID, in.Iteration)
	}
	if in.Iteration > 0 {
		return in.RunID
	}
	return ""
}
