package types

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// StatusError is reported by Session.Solve when the orchestration itself
// failed before the run reached a terminal state.
const StatusError RunStatus = "error"

type RunError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Run mirrors the remote assistant run. Only the remote service changes its
// status; the local side resubmits tool outputs and polls again.
type Run struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"threadId"`
	AssistantID string     `json:"assistantId,omitempty"`
	Status      RunStatus  `json:"status"`
	ToolCalls   []ToolCall `json:"toolCalls,omitempty"`
	LastError   *RunError  `json:"lastError,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	JSONSchema  map[string]any `json:"jsonSchema,omitempty"`
}

// Assistant is the definition registered with the remote service before a run.
type Assistant struct {
	ID                    string           `json:"id,omitempty"`
	Name                  string           `json:"name"`
	Model                 string           `json:"model"`
	Instructions          string           `json:"instructions"`
	Tools                 []ToolDefinition `json:"tools,omitempty"`
	EnableCodeInterpreter bool             `json:"enableCodeInterpreter,omitempty"`
}

type ContentType string

const (
	ContentText      ContentType = "text"
	ContentImageFile ContentType = "image_file"
)

type ContentPart struct {
	Type   ContentType `json:"type"`
	Text   string      `json:"text,omitempty"`
	FileID string      `json:"fileId,omitempty"`
}

type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   []ContentPart `json:"content,omitempty"`
	RunID     string        `json:"runId,omitempty"`
	CreatedAt int64         `json:"createdAt,omitempty"`
}

// SolveResult is what the orchestrator reports for one prompt. Error carries
// either the run's last error or the orchestration failure.
type SolveResult struct {
	Status      RunStatus  `json:"status"`
	Answer      *string    `json:"answer,omitempty"`
	Attachments []string   `json:"attachments"`
	ThreadID    string     `json:"threadId,omitempty"`
	RunID       string     `json:"runId,omitempty"`
	AssistantID string     `json:"assistantId,omitempty"`
	Error       string     `json:"error,omitempty"`
	ToolCalls   int        `json:"toolCalls,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
