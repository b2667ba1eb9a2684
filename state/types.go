package state

import (
	"time"
)

// RunRecord is one solve attempt as remembered locally. ID is assigned before
// the remote run exists, so failed attempts without a run id are kept too.
type RunRecord struct {
	ID          string            `json:"id"`
	RunID       string            `json:"runId,omitempty"`
	ThreadID    string            `json:"threadId,omitempty"`
	AssistantID string            `json:"assistantId,omitempty"`
	Status      string            `json:"status"`
	QuizURL     string            `json:"quizUrl,omitempty"`
	Email       string            `json:"email,omitempty"`
	Answer      *string           `json:"answer,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`
	Error       string            `json:"error,omitempty"`
	ToolCalls   []ToolCallSummary `json:"toolCalls,omitempty"`
	CreatedAt   *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time        `json:"updatedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

type ToolCallSummary struct {
	CallID      string `json:"callId"`
	Tool        string `json:"tool"`
	Failed      bool   `json:"failed,omitempty"`
	OutputChars int    `json:"outputChars"`
	DurationMs  int64  `json:"durationMs,omitempty"`
}

// Stamp fills CreatedAt and refreshes UpdatedAt.
func (r *RunRecord) Stamp(now time.Time) {
	now = now.UTC()
	if r.CreatedAt == nil {
		created := now
		r.CreatedAt = &created
	}
	r.UpdatedAt = &now
}
