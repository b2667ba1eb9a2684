package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/PipeOpsHQ/quiz-agent/llm"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

const (
	defaultModel              = "gpt-4o"
	defaultBaseURL            = "https://aipipe.org/openai/v1"
	defaultFilesBaseURL       = "https://api.openai.com/v1"
	defaultTranscriptionModel = "whisper-1"
	defaultMaxRetries         = 3
	assistantsBeta            = "assistants=v2"
)

var (
	_ llm.AssistantAPI = (*Client)(nil)
	_ llm.FileStore    = (*Client)(nil)
	_ llm.Transcriber  = (*Client)(nil)
	_ llm.Vision       = (*Client)(nil)
)

// Client talks to the assistants v2 API. Threads, runs and messages go
// through baseURL; file storage and transcription go through filesBaseURL.
type Client struct {
	apiKey             string
	model              string
	transcriptionModel string
	baseURL            string
	filesBaseURL       string
	maxRetries         uint64
	httpClient         *http.Client
	logger             *slog.Logger
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithTranscriptionModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.transcriptionModel = model
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithFilesBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.filesBaseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxRetries bounds retries of rate-limited or 5xx responses. Zero disables retry.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	c := &Client{
		apiKey:             apiKey,
		model:              defaultModel,
		transcriptionModel: defaultTranscriptionModel,
		baseURL:            defaultBaseURL,
		filesBaseURL:       defaultFilesBaseURL,
		maxRetries:         defaultMaxRetries,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Model() string { return c.model }

// APIError is a non-2xx response from the remote service.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai API error (%d) %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *Client) CreateAssistant(ctx context.Context, def types.Assistant) (types.Assistant, error) {
	model := def.Model
	if model == "" {
		model = c.model
	}
	payload := assistantRequest{
		Name:         def.Name,
		Instructions: def.Instructions,
		Model:        model,
		Tools:        toAssistantTools(def.Tools, def.EnableCodeInterpreter),
	}
	var resp assistantResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/assistants", payload, &resp); err != nil {
		return types.Assistant{}, fmt.Errorf("create assistant: %w", err)
	}
	out := def
	out.ID = resp.ID
	out.Model = resp.Model
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func (c *Client) CreateThreadAndRun(ctx context.Context, assistantID, model, prompt string) (types.Run, error) {
	if model == "" {
		model = c.model
	}
	payload := threadRunRequest{
		AssistantID: assistantID,
		Model:       model,
	}
	payload.Thread.Messages = []threadMessage{{Role: string(types.RoleUser), Content: prompt}}

	var resp runResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/threads/runs", payload, &resp); err != nil {
		return types.Run{}, fmt.Errorf("create thread and run: %w", err)
	}
	return resp.toRun(), nil
}

func (c *Client) GetRun(ctx context.Context, threadID, runID string) (types.Run, error) {
	var resp runResponse
	url := fmt.Sprintf("%s/threads/%s/runs/%s", c.baseURL, threadID, runID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return types.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return resp.toRun(), nil
}

func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []types.ToolOutput) (types.Run, error) {
	if outputs == nil {
		outputs = []types.ToolOutput{}
	}
	payload := map[string]any{"tool_outputs": outputs}
	var resp runResponse
	url := fmt.Sprintf("%s/threads/%s/runs/%s/submit_tool_outputs", c.baseURL, threadID, runID)
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return types.Run{}, fmt.Errorf("submit tool outputs for run %s: %w", runID, err)
	}
	return resp.toRun(), nil
}

func (c *Client) ListMessages(ctx context.Context, threadID string) ([]types.Message, error) {
	var resp messageListResponse
	url := fmt.Sprintf("%s/threads/%s/messages", c.baseURL, threadID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("list messages for thread %s: %w", threadID, err)
	}
	out := make([]types.Message, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, m.toMessage())
	}
	return out, nil
}

func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader, purpose string) (string, error) {
	if purpose == "" {
		purpose = "assistants"
	}
	body, contentType, err := buildMultipart(map[string]string{"purpose": purpose}, "file", filename, "", content)
	if err != nil {
		return "", fmt.Errorf("build upload for %s: %w", filename, err)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.filesBaseURL+"/files", contentType, body, &resp); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("upload %s: response had no file id", filename)
	}
	return resp.ID, nil
}

func (c *Client) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	var raw []byte
	url := fmt.Sprintf("%s/files/%s/content", c.filesBaseURL, fileID)
	if err := c.do(ctx, http.MethodGet, url, "", nil, &raw); err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	return raw, nil
}

func (c *Client) Transcribe(ctx context.Context, filename, mediaType string, audio io.Reader) (string, error) {
	body, contentType, err := buildMultipart(map[string]string{"model": c.transcriptionModel}, "file", filename, mediaType, audio)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := c.do(ctx, http.MethodPost, c.filesBaseURL+"/audio/transcriptions", contentType, body, &resp); err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filename, err)
	}
	return resp.Text, nil
}

func (c *Client) DescribeImage(ctx context.Context, in llm.ImageInput) (string, error) {
	payload := chatRequest{
		Model:     c.model,
		MaxTokens: 1000,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "text", Text: in.Question},
				{Type: "image_url", ImageURL: &chatImageURL{URL: in.DataURI()}},
			},
		}},
	}
	var resp chatResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/chat/completions", payload, &resp); err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision response had no choices")
	}
	return messageContentToString(resp.Choices[0].Message.Content), nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload, out any) error {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal openai request: %w", err)
		}
	}
	contentType := ""
	if raw != nil {
		contentType = "application/json"
	}
	return c.do(ctx, method, url, contentType, raw, out)
}

// do sends one request, retrying with exponential backoff on 429 for any
// method and on 5xx or transport errors for GET. out may be *[]byte for
// raw bodies.
func (c *Client) do(ctx context.Context, method, url, contentType string, body []byte, out any) error {
	var respBody []byte
	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create openai request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("OpenAI-Beta", assistantsBeta)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("openai request failed: %w", err)
			if method == http.MethodGet && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to read openai response: %w", err))
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Method:     method,
				URL:        url,
				Body:       strings.TrimSpace(string(data)),
			}
			c.logger.Error("openai API error", "status", resp.StatusCode, "method", method, "url", url, "body", apiErr.Body)
			if resp.StatusCode == http.StatusTooManyRequests || (apiErr.Temporary() && method == http.MethodGet) {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		respBody = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying openai request", "method", method, "url", url, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return err
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = respBody
		return nil
	default:
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode openai response: %w", err)
		}
		return nil
	}
}

// IsStatus reports whether err carries an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

func buildMultipart(fields map[string]string, fileField, filename, mediaType string, content io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	var part io.Writer
	var err error
	if mediaType == "" {
		part, err = w.CreateFormFile(fileField, filename)
	} else {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, filename))
		h.Set("Content-Type", mediaType)
		part, err = w.CreatePart(h)
	}
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func toAssistantTools(in []types.ToolDefinition, codeInterpreter bool) []assistantTool {
	tools := make([]assistantTool, 0, len(in)+1)
	if codeInterpreter {
		tools = append(tools, assistantTool{Type: "code_interpreter"})
	}
	for _, t := range in {
		params := t.JSONSchema
		if len(params) == 0 {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		tools = append(tools, assistantTool{
			Type: "function",
			Function: &functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func messageContentToString(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(b)
	}
}

func normalizeJSONArgs(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	escaped, _ := json.Marshal(raw)
	return json.RawMessage(fmt.Sprintf(`{"raw":%s}`, string(escaped)))
}
