package openai

import (
	"github.com/PipeOpsHQ/quiz-agent/types"
)

type assistantRequest struct {
	Name         string          `json:"name,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Model        string          `json:"model"`
	Tools        []assistantTool `json:"tools,omitempty"`
}

type assistantTool struct {
	Type     string       `json:"type"`
	Function *functionDef `json:"function,omitempty"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type assistantResponse struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

type threadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type threadRunRequest struct {
	AssistantID string `json:"assistant_id"`
	Model       string `json:"model,omitempty"`
	Thread      struct {
		Messages []threadMessage `json:"messages"`
	} `json:"thread"`
}

type runResponse struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         string          `json:"status"`
	RequiredAction *requiredAction `json:"required_action"`
	LastError      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type requiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []runToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

type runToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (r runResponse) toRun() types.Run {
	out := types.Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      types.RunStatus(r.Status),
	}
	if r.RequiredAction != nil {
		calls := r.RequiredAction.SubmitToolOutputs.ToolCalls
		out.ToolCalls = make([]types.ToolCall, 0, len(calls))
		for _, tc := range calls {
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: normalizeJSONArgs(tc.Function.Arguments),
			})
		}
	}
	if r.LastError != nil {
		out.LastError = &types.RunError{Code: r.LastError.Code, Message: r.LastError.Message}
	}
	return out
}

type messageListResponse struct {
	Data []threadMessageResponse `json:"data"`
}

type threadMessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	RunID     string `json:"run_id"`
	CreatedAt int64  `json:"created_at"`
	Content   []struct {
		Type string `json:"type"`
		Text *struct {
			Value string `json:"value"`
		} `json:"text"`
		ImageFile *struct {
			FileID string `json:"file_id"`
		} `json:"image_file"`
	} `json:"content"`
}

func (m threadMessageResponse) toMessage() types.Message {
	out := types.Message{
		ID:        m.ID,
		Role:      types.Role(m.Role),
		RunID:     m.RunID,
		CreatedAt: m.CreatedAt,
	}
	for _, part := range m.Content {
		switch types.ContentType(part.Type) {
		case types.ContentText:
			if part.Text != nil {
				out.Content = append(out.Content, types.ContentPart{Type: types.ContentText, Text: part.Text.Value})
			}
		case types.ContentImageFile:
			if part.ImageFile != nil {
				out.Content = append(out.Content, types.ContentPart{Type: types.ContentImageFile, FileID: part.ImageFile.FileID})
			}
		}
	}
	return out
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
