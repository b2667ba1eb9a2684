package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PipeOpsHQ/quiz-agent/llm"
	"github.com/PipeOpsHQ/quiz-agent/observe"
	"github.com/PipeOpsHQ/quiz-agent/tools"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

const (
	defaultPollInterval = 2 * time.Second
	imageDataURIPrefix  = "data:image/png;base64,"
)

// Driver advances one remote run to a terminal state: it polls, executes the
// tool calls the run asks for and submits their outputs in one batch.
type Driver struct {
	api           llm.AssistantAPI
	files         llm.FileStore
	toolset       *tools.Toolset
	pollInterval  time.Duration
	terminal      map[types.RunStatus]bool
	maxToolOutput int
	middlewares   []Middleware
	observer      observe.Sink
	logger        *slog.Logger
	verbose       bool
}

type Option func(*Driver)

func WithPollInterval(d time.Duration) Option {
	return func(dr *Driver) {
		if d >= 0 {
			dr.pollInterval = d
		}
	}
}

// WithTerminalStatuses replaces the set of statuses treated as terminal
// failures. "completed" is always terminal.
func WithTerminalStatuses(statuses ...types.RunStatus) Option {
	return func(dr *Driver) {
		if len(statuses) == 0 {
			return
		}
		dr.terminal = make(map[types.RunStatus]bool, len(statuses))
		for _, s := range statuses {
			dr.terminal[s] = true
		}
	}
}

func WithMaxToolOutput(n int) Option {
	return func(dr *Driver) {
		if n > 0 {
			dr.maxToolOutput = n
		}
	}
}

func WithMiddleware(middlewares ...Middleware) Option {
	return func(dr *Driver) {
		for _, m := range middlewares {
			if m != nil {
				dr.middlewares = append(dr.middlewares, m)
			}
		}
	}
}

func WithObserver(sink observe.Sink) Option {
	return func(dr *Driver) { dr.observer = sink }
}

func WithLogger(l *slog.Logger) Option {
	return func(dr *Driver) {
		if l != nil {
			dr.logger = l
		}
	}
}

// WithVerbose logs every poll at info level instead of debug.
func WithVerbose(v bool) Option {
	return func(dr *Driver) { dr.verbose = v }
}

func NewDriver(api llm.AssistantAPI, files llm.FileStore, toolset *tools.Toolset, opts ...Option) (*Driver, error) {
	if api == nil {
		return nil, errors.New("assistant api is required")
	}
	if toolset == nil {
		return nil, errors.New("toolset is required")
	}
	d := &Driver{
		api:           api,
		files:         files,
		toolset:       toolset,
		pollInterval:  defaultPollInterval,
		maxToolOutput: tools.MaxToolOutputChars,
		terminal: map[types.RunStatus]bool{
			types.RunFailed:     true,
			types.RunCancelled:  true,
			types.RunExpired:    true,
			types.RunIncomplete: true,
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Drive polls until the run completes or fails. A terminal failure is
// reported through the returned run's LastError, not as an error; errors are
// reserved for the remote API and context cancellation.
func (d *Driver) Drive(ctx context.Context, threadID, runID string) (types.Run, error) {
	started := time.Now()
	d.emit(ctx, types.Event{Type: types.EventRunStarted, RunID: runID, ThreadID: threadID, Message: "driving run"})

	var last types.Run
	for iteration := 1; ; iteration++ {
		if err := sleep(ctx, d.pollInterval); err != nil {
			return last, d.fail(ctx, threadID, runID, iteration, "poll_wait", started, err)
		}

		run, err := d.api.GetRun(ctx, threadID, runID)
		if err != nil {
			return last, d.fail(ctx, threadID, runID, iteration, "poll", started, fmt.Errorf("poll run: %w", err))
		}
		last = run
		d.logPoll(run, iteration)
		d.emit(ctx, types.Event{Type: types.EventRunPolled, RunID: runID, ThreadID: threadID, Iteration: iteration, Status: run.Status})

		switch {
		case run.Status == types.RunCompleted:
			d.emit(ctx, types.Event{
				Type: types.EventRunCompleted, RunID: runID, ThreadID: threadID, Iteration: iteration,
				Status: run.Status, DurationMs: time.Since(started).Milliseconds(), Message: "run completed",
			})
			return run, nil

		case run.Status == types.RunRequiresAction:
			outputs := d.dispatch(ctx, run, iteration)
			if _, err := d.api.SubmitToolOutputs(ctx, threadID, runID, outputs); err != nil {
				return run, d.fail(ctx, threadID, runID, iteration, "submit", started, fmt.Errorf("submit tool outputs: %w", err))
			}
			d.emit(ctx, types.Event{
				Type: types.EventOutputsSubmitted, RunID: runID, ThreadID: threadID, Iteration: iteration,
				Message: fmt.Sprintf("submitted %d tool output(s)", len(outputs)),
			})

		case d.terminal[run.Status]:
			d.logger.Warn("run ended without completing", "run_id", runID, "status", run.Status, "last_error", run.LastError.String())
			d.emit(ctx, types.Event{
				Type: types.EventRunFailed, RunID: runID, ThreadID: threadID, Iteration: iteration,
				Status: run.Status, DurationMs: time.Since(started).Milliseconds(),
				Error: failureText(run),
			})
			return run, nil
		}
	}
}

// dispatch runs every pending call in order and always yields exactly one
// output per call.
func (d *Driver) dispatch(ctx context.Context, run types.Run, iteration int) []types.ToolOutput {
	outputs := make([]types.ToolOutput, 0, len(run.ToolCalls))
	for _, call := range run.ToolCalls {
		outputs = append(outputs, types.ToolOutput{
			ToolCallID: call.ID,
			Output:     d.runCall(ctx, run, iteration, call),
		})
	}
	return outputs
}

func (d *Driver) runCall(ctx context.Context, run types.Run, iteration int, call types.ToolCall) string {
	event := &ToolEvent{
		RunID:     run.ID,
		ThreadID:  run.ThreadID,
		Iteration: iteration,
		StartedAt: time.Now().UTC(),
		Call:      call,
	}
	d.emit(ctx, types.Event{
		Type: types.EventBeforeTool, RunID: run.ID, ThreadID: run.ThreadID, Iteration: iteration,
		ToolName: call.Name, ToolCallID: call.ID,
	})
	d.logger.Info("executing tool", "tool", call.Name, "call_id", call.ID)

	var res tools.Result
	if err := d.runBeforeTool(ctx, event); err != nil {
		res = tools.Result{Err: fmt.Errorf("skipped: %w", err)}
	} else {
		res = d.execute(ctx, run.ThreadID, call)
	}
	if res.Failed() {
		d.logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error", res.Err)
	}

	event.FinishedAt = time.Now().UTC()
	event.Output = tools.Truncate(res.Text(), d.maxToolOutput)
	event.Err = res.Err
	if err := d.runAfterTool(ctx, event); err != nil {
		event.Output = tools.ErrorPrefix + err.Error()
		event.Err = err
	}

	after := types.Event{
		Type: types.EventAfterTool, RunID: run.ID, ThreadID: run.ThreadID, Iteration: iteration,
		ToolName: call.Name, ToolCallID: call.ID, DurationMs: event.Duration().Milliseconds(),
	}
	if event.Err != nil {
		after.Error = event.Err.Error()
	}
	d.emit(ctx, after)
	return event.Output
}

func (d *Driver) execute(ctx context.Context, threadID string, raw types.ToolCall) tools.Result {
	call, err := tools.Decode(raw)
	if err != nil {
		return tools.Result{Err: err}
	}
	if req, ok := call.(tools.APIRequestArgs); ok {
		call = d.substituteLatestFile(ctx, threadID, req)
	}
	return d.toolset.Execute(ctx, call)
}

// substituteLatestFile replaces top-level payload values equal to the
// sentinel with the newest image the assistant attached to the thread. When
// no image exists or it cannot be fetched the payload is sent unchanged.
func (d *Driver) substituteLatestFile(ctx context.Context, threadID string, args tools.APIRequestArgs) tools.APIRequestArgs {
	if !strings.EqualFold(args.Method, "POST") || !strings.Contains(args.DataJSON, tools.LatestFileSentinel) {
		return args
	}
	payload, err := args.Payload()
	if err != nil {
		return args
	}
	var keys []string
	for k, v := range payload {
		if s, ok := v.(string); ok && s == tools.LatestFileSentinel {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return args
	}

	dataURI, err := d.latestImage(ctx, threadID)
	if err != nil {
		d.logger.Warn("could not fetch latest thread image; sending payload unchanged", "thread_id", threadID, "error", err)
		return args
	}
	if dataURI == "" {
		d.logger.Info("no assistant image on thread; sending payload unchanged", "thread_id", threadID)
		return args
	}
	for _, k := range keys {
		payload[k] = dataURI
	}
	updated, err := args.WithPayload(payload)
	if err != nil {
		d.logger.Warn("could not re-encode payload", "error", err)
		return args
	}
	d.logger.Info("injected latest image into payload", "keys", keys)
	return updated
}

func (d *Driver) latestImage(ctx context.Context, threadID string) (string, error) {
	msgs, err := d.api.ListMessages(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	fileID := latestAssistantImage(msgs)
	if fileID == "" {
		return "", nil
	}
	if d.files == nil {
		return "", errors.New("file storage is not configured")
	}
	raw, err := d.files.FileContent(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileID, err)
	}
	return imageDataURIPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// latestAssistantImage expects messages newest first.
func latestAssistantImage(msgs []types.Message) string {
	for _, m := range msgs {
		if m.Role != types.RoleAssistant {
			continue
		}
		for _, part := range m.Content {
			if part.Type == types.ContentImageFile && part.FileID != "" {
				return part.FileID
			}
		}
	}
	return ""
}

func (d *Driver) runBeforeTool(ctx context.Context, event *ToolEvent) error {
	for _, m := range d.middlewares {
		if err := d.guard(event, "before_tool", func() error { return m.BeforeTool(ctx, event) }); err != nil {
			d.notifyError(ctx, &ErrorEvent{
				RunID: event.RunID, ThreadID: event.ThreadID, Iteration: event.Iteration,
				Stage: "before_tool", ToolName: event.Call.Name, Err: err,
			})
			return err
		}
	}
	return nil
}

func (d *Driver) runAfterTool(ctx context.Context, event *ToolEvent) error {
	for _, m := range d.middlewares {
		if err := d.guard(event, "after_tool", func() error { return m.AfterTool(ctx, event) }); err != nil {
			d.notifyError(ctx, &ErrorEvent{
				RunID: event.RunID, ThreadID: event.ThreadID, Iteration: event.Iteration,
				Stage: "after_tool", ToolName: event.Call.Name, Err: err,
			})
			return err
		}
	}
	return nil
}

// guard turns a middleware panic into an error for that call alone.
func (d *Driver) guard(event *ToolEvent, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("middleware panicked", "stage", stage, "tool", event.Call.Name, "call_id", event.Call.ID, "panic", r)
			err = fmt.Errorf("%s middleware panicked: %v", stage, r)
		}
	}()
	return fn()
}

func (d *Driver) notifyError(ctx context.Context, event *ErrorEvent) {
	for _, m := range d.middlewares {
		func(m Middleware) {
			defer func() { _ = recover() }()
			m.OnError(ctx, event)
		}(m)
	}
}

func (d *Driver) fail(ctx context.Context, threadID, runID string, iteration int, stage string, started time.Time, err error) error {
	d.notifyError(ctx, &ErrorEvent{RunID: runID, ThreadID: threadID, Iteration: iteration, Stage: stage, Err: err})
	d.logger.Error("run driver stopped", "run_id", runID, "stage", stage, "error", err)
	d.emit(ctx, types.Event{
		Type: types.EventRunFailed, RunID: runID, ThreadID: threadID, Iteration: iteration,
		DurationMs: time.Since(started).Milliseconds(), Error: err.Error(),
	})
	return err
}

func (d *Driver) logPoll(run types.Run, iteration int) {
	level := slog.LevelDebug
	if d.verbose {
		level = slog.LevelInfo
	}
	d.logger.Log(context.Background(), level, "run status", "run_id", run.ID, "status", run.Status, "poll", iteration)
}

func (d *Driver) emit(ctx context.Context, event types.Event) {
	if d.observer == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	// Sink failures never stop a run.
	_ = d.observer.Emit(context.WithoutCancel(ctx), observe.FromRuntimeEvent(event))
}

func failureText(run types.Run) string {
	if msg := run.LastError.String(); msg != "" {
		return msg
	}
	return fmt.Sprintf("run ended with status %s", run.Status)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
