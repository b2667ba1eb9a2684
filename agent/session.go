package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PipeOpsHQ/quiz-agent/configs"
	"github.com/PipeOpsHQ/quiz-agent/llm"
	"github.com/PipeOpsHQ/quiz-agent/state"
	"github.com/PipeOpsHQ/quiz-agent/tools"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

// Session registers the assistant, starts a run for a prompt and turns the
// finished thread into a SolveResult. Every Solve gets its own resource
// cache, so concurrent solves never share downloads.
type Session struct {
	api           llm.AssistantAPI
	files         llm.FileStore
	assistant     configs.Assistant
	model         string
	extractorOpts []tools.ExtractorOption
	driverOpts    []Option
	store         state.Store
	logger        *slog.Logger
}

type SessionOption func(*Session)

func WithAssistant(a configs.Assistant) SessionOption {
	return func(s *Session) { s.assistant = a }
}

// WithModel overrides the model named in the assistant definition.
func WithModel(model string) SessionOption {
	return func(s *Session) { s.model = strings.TrimSpace(model) }
}

func WithExtractorOptions(opts ...tools.ExtractorOption) SessionOption {
	return func(s *Session) { s.extractorOpts = append(s.extractorOpts, opts...) }
}

func WithDriverOptions(opts ...Option) SessionOption {
	return func(s *Session) { s.driverOpts = append(s.driverOpts, opts...) }
}

// WithStore records every SolveQuiz outcome. A nil store disables history.
func WithStore(store state.Store) SessionOption {
	return func(s *Session) { s.store = store }
}

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSession(api llm.AssistantAPI, files llm.FileStore, opts ...SessionOption) (*Session, error) {
	if api == nil {
		return nil, errors.New("assistant api is required")
	}
	s := &Session{
		api:    api,
		files:  files,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assistant.Name == "" {
		def, err := configs.DefaultAssistant()
		if err != nil {
			return nil, err
		}
		s.assistant = def
	}
	return s, nil
}

// Solve never returns an error: every failure lands in the result's Status
// and Error fields.
func (s *Session) Solve(ctx context.Context, prompt string, verbose bool) types.SolveResult {
	res, _ := s.solve(ctx, prompt, verbose)
	return res
}

func (s *Session) solve(ctx context.Context, prompt string, verbose bool) (res types.SolveResult, calls []state.ToolCallSummary) {
	started := time.Now().UTC()
	res = types.SolveResult{Attachments: []string{}, StartedAt: &started}
	recorder := &toolRecorder{}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("solve panicked", "panic", r)
			res.Status = types.StatusError
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		completed := time.Now().UTC()
		res.CompletedAt = &completed
		calls = recorder.summaries()
		res.ToolCalls = len(calls)
	}()

	if strings.TrimSpace(prompt) == "" {
		return errorResult(res, errors.New("prompt is required")), nil
	}

	exOpts := []tools.ExtractorOption{tools.WithFileStore(s.files), tools.WithLogger(s.logger)}
	exOpts = append(exOpts, s.extractorOpts...)
	exOpts = append(exOpts, tools.WithCache(tools.NewResourceCache()))
	toolset := tools.NewToolset(tools.NewExtractor(exOpts...))

	drOpts := []Option{WithLogger(s.logger)}
	drOpts = append(drOpts, s.driverOpts...)
	drOpts = append(drOpts, WithVerbose(verbose), WithMiddleware(recorder))
	driver, err := NewDriver(s.api, s.files, toolset, drOpts...)
	if err != nil {
		return errorResult(res, err), nil
	}

	model := s.assistant.Model
	if s.model != "" {
		model = s.model
	}
	asst, err := s.api.CreateAssistant(ctx, types.Assistant{
		Name:                  s.assistant.Name,
		Model:                 model,
		Instructions:          s.assistant.Instructions,
		Tools:                 tools.Definitions(),
		EnableCodeInterpreter: s.assistant.CodeInterpreter,
	})
	if err != nil {
		return errorResult(res, err), nil
	}
	res.AssistantID = asst.ID

	run, err := s.api.CreateThreadAndRun(ctx, asst.ID, asst.Model, prompt)
	if err != nil {
		return errorResult(res, err), nil
	}
	res.ThreadID, res.RunID = run.ThreadID, run.ID
	s.logger.Info("run started", "assistant_id", asst.ID, "thread_id", run.ThreadID, "run_id", run.ID)

	final, err := driver.Drive(ctx, run.ThreadID, run.ID)
	if err != nil {
		return errorResult(res, err), nil
	}
	res.Status = final.Status
	if final.Status != types.RunCompleted {
		res.Error = failureText(final)
		return res, nil
	}

	msgs, err := s.api.ListMessages(ctx, run.ThreadID)
	if err != nil {
		return errorResult(res, fmt.Errorf("list messages: %w", err)), nil
	}
	res.Answer, res.Attachments = finalAnswer(msgs)
	s.logger.Info("run completed", "run_id", run.ID, "attachments", len(res.Attachments))
	return res, nil
}

// QuizRequest is what the quiz endpoint receives.
type QuizRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// Prompt phrases the request the way the quiz server expects answers to be
// posted back.
func (q QuizRequest) Prompt() string {
	return fmt.Sprintf("solve %s, When posting the JSON, include 'email': '%s' and 'secret': '%s' in the payload. "+
		"keep checking any urls provided until you get the final answer. "+
		"a successful response might contain urls with additional problems", q.URL, q.Email, q.Secret)
}

// SolveQuiz solves a quiz URL and records the outcome when a store is set.
func (s *Session) SolveQuiz(ctx context.Context, req QuizRequest) types.SolveResult {
	res, calls := s.solve(ctx, req.Prompt(), false)
	if s.store == nil {
		return res
	}
	rec := state.RunRecord{
		ID:          uuid.NewString(),
		RunID:       res.RunID,
		ThreadID:    res.ThreadID,
		AssistantID: res.AssistantID,
		Status:      string(res.Status),
		QuizURL:     req.URL,
		Email:       req.Email,
		Answer:      res.Answer,
		Attachments: res.Attachments,
		Error:       res.Error,
		ToolCalls:   calls,
		CreatedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
	}
	if err := s.store.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to record solve", "run_id", res.RunID, "error", err)
	}
	return res
}

// finalAnswer reads the newest assistant message: its first text part is the
// answer and every image part is an attachment.
func finalAnswer(msgs []types.Message) (*string, []string) {
	attachments := []string{}
	for _, m := range msgs {
		if m.Role != types.RoleAssistant {
			continue
		}
		var answer *string
		for _, part := range m.Content {
			switch part.Type {
			case types.ContentText:
				if answer == nil {
					text := part.Text
					answer = &text
				}
			case types.ContentImageFile:
				if part.FileID != "" {
					attachments = append(attachments, part.FileID)
				}
			}
		}
		return answer, attachments
	}
	return nil, attachments
}

func errorResult(res types.SolveResult, err error) types.SolveResult {
	res.Status = types.StatusError
	res.Error = err.Error()
	return res
}

// toolRecorder keeps a summary of every call the driver executed.
type toolRecorder struct {
	NoopMiddleware
	mu    sync.Mutex
	calls []state.ToolCallSummary
}

func (r *toolRecorder) AfterTool(ctx context.Context, event *ToolEvent) error {
	if err := r.NoopMiddleware.AfterTool(ctx, event); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, state.ToolCallSummary{
		CallID:      event.Call.ID,
		Tool:        event.Call.Name,
		Failed:      event.Err != nil,
		OutputChars: len([]rune(event.Output)),
		DurationMs:  event.Duration().Milliseconds(),
	})
	return nil
}

func (r *toolRecorder) summaries() []state.ToolCallSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]state.ToolCallSummary(nil), r.calls...)
}
