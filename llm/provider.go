package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"io"

	"github.com/PipeOpsHQ/quiz-agent/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

// AssistantAPI is the remote assistant-run service. Runs are created and
// advanced remotely; callers only poll and submit tool outputs.
type AssistantAPI interface {
	Name() string
	CreateAssistant(ctx context.Context, def types.Assistant) (types.Assistant, error)
	CreateThreadAndRun(ctx context.Context, assistantID, model, prompt string) (types.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (types.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []types.ToolOutput) (types.Run, error)
	// ListMessages returns thread messages newest first.
	ListMessages(ctx context.Context, threadID string) ([]types.Message, error)
}

// FileStore is the assistant's remote file storage.
type FileStore interface {
	UploadFile(ctx context.Context, filename string, content io.Reader, purpose string) (string, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, filename, mediaType string, audio io.Reader) (string, error)
}

type ImageInput struct {
	Data      []byte
	MediaType string
	Question  string
}

func (in ImageInput) DataURI() string {
	mediaType := in.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(in.Data)
}

type Vision interface {
	Name() string
	DescribeImage(ctx context.Context, in ImageInput) (string, error)
}
