package types

import "time"

type EventType string

const (
	EventRunStarted       EventType = "run.started"
	EventRunPolled        EventType = "run.polled"
	EventBeforeTool       EventType = "run.before_tool"
	EventAfterTool        EventType = "run.after_tool"
	EventOutputsSubmitted EventType = "run.outputs_submitted"
	EventRunCompleted     EventType = "run.completed"
	EventRunFailed        EventType = "run.failed"
)

type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId,omitempty"`
	ThreadID   string    `json:"threadId,omitempty"`
	Status     RunStatus `json:"status,omitempty"`
	Iteration  int       `json:"iteration,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
}
