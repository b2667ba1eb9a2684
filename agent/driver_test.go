package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/quiz-agent/observe"
	"github.com/PipeOpsHQ/quiz-agent/tools"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

// fakeAPI replays scripted run states; the last state repeats.
type fakeAPI struct {
	mu         sync.Mutex
	runs       []types.Run
	polls      int
	getErr     error
	submitErr  error
	submitted  [][]types.ToolOutput
	messages   []types.Message
	created    []types.Assistant
	prompt     string
	createErr  error
	messageErr error
}

func (f *fakeAPI) Name() string { return "fake" }

func (f *fakeAPI) CreateAssistant(_ context.Context, def types.Assistant) (types.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return types.Assistant{}, f.createErr
	}
	def.ID = "asst_1"
	f.created = append(f.created, def)
	return def, nil
}

func (f *fakeAPI) CreateThreadAndRun(_ context.Context, assistantID, _, prompt string) (types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt = prompt
	return types.Run{ID: "run_1", ThreadID: "thread_1", AssistantID: assistantID, Status: types.RunQueued}, nil
}

func (f *fakeAPI) GetRun(_ context.Context, threadID, runID string) (types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return types.Run{}, f.getErr
	}
	i := min(f.polls, len(f.runs)-1)
	f.polls++
	run := f.runs[i]
	run.ID, run.ThreadID = runID, threadID
	return run, nil
}

func (f *fakeAPI) SubmitToolOutputs(_ context.Context, _, _ string, outputs []types.ToolOutput) (types.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return types.Run{}, f.submitErr
	}
	f.submitted = append(f.submitted, outputs)
	return types.Run{Status: types.RunQueued}, nil
}

func (f *fakeAPI) ListMessages(context.Context, string) ([]types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, f.messageErr
}

type fakeFiles struct {
	content map[string][]byte
}

func (f *fakeFiles) UploadFile(context.Context, string, io.Reader, string) (string, error) {
	return "", errors.New("uploads not expected")
}

func (f *fakeFiles) FileContent(_ context.Context, id string) ([]byte, error) {
	raw, ok := f.content[id]
	if !ok {
		return nil, fmt.Errorf("no such file %s", id)
	}
	return raw, nil
}

func toolCall(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func newTestDriver(t *testing.T, api *fakeAPI, files *fakeFiles, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithPollInterval(0)}, opts...)
	d, err := NewDriver(api, files, tools.NewToolset(tools.NewExtractor()), opts...)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	return d
}

// capture records request bodies posted to it.
type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capture) server(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"correct": true, "url": null}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestDrive_BatchesOutputsAndIsolatesFailures(t *testing.T) {
	sink := &capture{}
	ts := sink.server(t)
	api := &fakeAPI{runs: []types.Run{
		{Status: types.RunInProgress},
		{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{
			toolCall("call_ok", "api_request", fmt.Sprintf(`{"url":%q,"method":"GET"}`, ts.URL)),
			toolCall("call_bad", "web_downloader", `{}`),
			toolCall("call_unknown", "shell_command", `{"cmd":"ls"}`),
		}},
		{Status: types.RunCompleted},
	}}
	run, err := newTestDriver(t, api, nil).Drive(context.Background(), "thread_1", "run_1")
	if err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if len(api.submitted) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(api.submitted))
	}
	outputs := api.submitted[0]
	gotIDs := []string{outputs[0].ToolCallID, outputs[1].ToolCallID, outputs[2].ToolCallID}
	if diff := cmp.Diff([]string{"call_ok", "call_bad", "call_unknown"}, gotIDs); diff != "" {
		t.Fatalf("output order mismatch (-want +got):\n%s", diff)
	}
	if outputs[0].Output != `{"correct":true,"url":null}` {
		t.Fatalf("unexpected success output: %q", outputs[0].Output)
	}
	for _, o := range outputs[1:] {
		if !strings.HasPrefix(o.Output, tools.ErrorPrefix) {
			t.Fatalf("expected error output for %s, got %q", o.ToolCallID, o.Output)
		}
	}
}

func TestDrive_SubstitutesLatestImage(t *testing.T) {
	sink := &capture{}
	ts := sink.server(t)
	payload := `{\"chart\":\"__LATEST_FILE__\",\"email\":\"student@example.com\"}`
	api := &fakeAPI{
		runs: []types.Run{
			{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{
				toolCall("call_1", "api_request", fmt.Sprintf(`{"url":%q,"method":"POST","data_json":"%s"}`, ts.URL, payload)),
			}},
			{Status: types.RunCompleted},
		},
		messages: []types.Message{
			{Role: types.RoleUser, Content: []types.ContentPart{{Type: types.ContentImageFile, FileID: "file-user"}}},
			{Role: types.RoleAssistant, Content: []types.ContentPart{
				{Type: types.ContentText, Text: "Here is the chart"},
				{Type: types.ContentImageFile, FileID: "file-chart"},
			}},
			{Role: types.RoleAssistant, Content: []types.ContentPart{{Type: types.ContentImageFile, FileID: "file-old"}}},
		},
	}
	files := &fakeFiles{content: map[string][]byte{"file-chart": []byte("PNGDATA")}}

	if _, err := newTestDriver(t, api, files).Drive(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if len(sink.bodies) != 1 {
		t.Fatalf("expected one POST, got %d", len(sink.bodies))
	}
	chart, _ := sink.bodies[0]["chart"].(string)
	if chart != "data:image/png;base64,UE5HREFUQQ==" {
		t.Fatalf("sentinel not substituted: %q", chart)
	}
	if sink.bodies[0]["email"] != "student@example.com" {
		t.Fatalf("other keys changed: %v", sink.bodies[0])
	}
}

func TestDrive_SentinelLeftWhenNoImage(t *testing.T) {
	sink := &capture{}
	ts := sink.server(t)
	api := &fakeAPI{
		runs: []types.Run{
			{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{
				toolCall("call_1", "api_request", fmt.Sprintf(`{"url":%q,"method":"POST","data_json":"{\"chart\":\"__LATEST_FILE__\"}"}`, ts.URL)),
			}},
			{Status: types.RunCompleted},
		},
		messages: []types.Message{{Role: types.RoleAssistant, Content: []types.ContentPart{{Type: types.ContentText, Text: "no chart yet"}}}},
	}
	if _, err := newTestDriver(t, api, &fakeFiles{}).Drive(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if got := sink.bodies[0]["chart"]; got != tools.LatestFileSentinel {
		t.Fatalf("expected sentinel to pass through, got %v", got)
	}
}

func TestDrive_SentinelLeftWhenDownloadFails(t *testing.T) {
	sink := &capture{}
	ts := sink.server(t)
	api := &fakeAPI{
		runs: []types.Run{
			{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{
				toolCall("call_1", "api_request", fmt.Sprintf(`{"url":%q,"method":"POST","data_json":"{\"chart\":\"__LATEST_FILE__\"}"}`, ts.URL)),
			}},
			{Status: types.RunCompleted},
		},
		messages: []types.Message{{Role: types.RoleAssistant, Content: []types.ContentPart{{Type: types.ContentImageFile, FileID: "file-gone"}}}},
	}
	if _, err := newTestDriver(t, api, &fakeFiles{}).Drive(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatalf("Drive failed: %v", err)
	}
	if got := sink.bodies[0]["chart"]; got != tools.LatestFileSentinel {
		t.Fatalf("expected sentinel to pass through, got %v", got)
	}
}

func TestDrive_TerminalFailureIsNotAnError(t *testing.T) {
	for _, status := range []types.RunStatus{types.RunFailed, types.RunCancelled, types.RunExpired, types.RunIncomplete} {
		t.Run(string(status), func(t *testing.T) {
			api := &fakeAPI{runs: []types.Run{
				{Status: status, LastError: &types.RunError{Code: "server_error", Message: "boom"}},
			}}
			run, err := newTestDriver(t, api, nil).Drive(context.Background(), "thread_1", "run_1")
			if err != nil {
				t.Fatalf("Drive failed: %v", err)
			}
			if run.Status != status || run.LastError.String() != "server_error: boom" {
				t.Fatalf("unexpected run: %+v", run)
			}
		})
	}
}

func TestDrive_CustomTerminalStatuses(t *testing.T) {
	api := &fakeAPI{runs: []types.Run{{Status: types.RunCancelling}}}
	run, err := newTestDriver(t, api, nil, WithTerminalStatuses(types.RunCancelling)).Drive(context.Background(), "thread_1", "run_1")
	if err != nil || run.Status != types.RunCancelling {
		t.Fatalf("expected cancelling to end the run, got %s (%v)", run.Status, err)
	}
}

func TestDrive_RemoteErrorsEndTheAttempt(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("openai API error (401)")}
	if _, err := newTestDriver(t, api, nil).Drive(context.Background(), "thread_1", "run_1"); err == nil || !strings.Contains(err.Error(), "poll run") {
		t.Fatalf("expected poll error, got %v", err)
	}

	api = &fakeAPI{
		runs:      []types.Run{{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{toolCall("c", "chart_generator", `{"data_csv":"a,b\n1,2","chart_type":"bar","x_col":"a","y_col":"b"}`)}}},
		submitErr: errors.New("openai API error (400)"),
	}
	if _, err := newTestDriver(t, api, nil).Drive(context.Background(), "thread_1", "run_1"); err == nil || !strings.Contains(err.Error(), "submit tool outputs") {
		t.Fatalf("expected submit error, got %v", err)
	}
}

func TestDrive_HonorsCancellation(t *testing.T) {
	api := &fakeAPI{runs: []types.Run{{Status: types.RunInProgress}}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d := newTestDriver(t, api, nil, WithPollInterval(10*time.Millisecond))
	if _, err := d.Drive(ctx, "thread_1", "run_1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDrive_TruncatesOutputs(t *testing.T) {
	api := &fakeAPI{runs: []types.Run{
		{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{
			toolCall("c", "chart_generator", `{"data_csv":"a,b\n1,2","chart_type":"bar","x_col":"a","y_col":"b"}`),
		}},
		{Status: types.RunCompleted},
	}}
	if _, err := newTestDriver(t, api, nil, WithMaxToolOutput(10)).Drive(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatal(err)
	}
	if got := api.submitted[0][0].Output; len([]rune(got)) != 10 {
		t.Fatalf("expected 10 chars, got %q", got)
	}
}

type denyMiddleware struct {
	NoopMiddleware
	errs []string
}

func (m *denyMiddleware) BeforeTool(ctx context.Context, event *ToolEvent) error {
	if event.Call.Name == "api_request" {
		return errors.New("network tools disabled")
	}
	return m.NoopMiddleware.BeforeTool(ctx, event)
}

func (m *denyMiddleware) OnError(_ context.Context, event *ErrorEvent) {
	m.errs = append(m.errs, event.Stage+":"+event.ToolName)
}

func TestDrive_MiddlewareSkipsOnlyThatCall(t *testing.T) {
	mw := &denyMiddleware{}
	api := &fakeAPI{runs: []types.Run{
		{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{
			toolCall("c1", "api_request", `{"url":"http://127.0.0.1:1","method":"GET"}`),
			toolCall("c2", "chart_generator", `{"data_csv":"a,b\n1,2","chart_type":"bar","x_col":"a","y_col":"b"}`),
		}},
		{Status: types.RunCompleted},
	}}
	if _, err := newTestDriver(t, api, nil, WithMiddleware(mw)).Drive(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatal(err)
	}
	outs := api.submitted[0]
	if outs[0].Output != "Error: skipped: network tools disabled" {
		t.Fatalf("unexpected skipped output: %q", outs[0].Output)
	}
	if strings.HasPrefix(outs[1].Output, tools.ErrorPrefix) {
		t.Fatalf("second call should run: %q", outs[1].Output)
	}
	if diff := cmp.Diff([]string{"before_tool:api_request"}, mw.errs); diff != "" {
		t.Fatalf("OnError mismatch (-want +got):\n%s", diff)
	}
}

type panicMiddleware struct {
	NoopMiddleware
	stage string
	errs  []string
}

func (m *panicMiddleware) BeforeTool(ctx context.Context, event *ToolEvent) error {
	if m.stage == "before_tool" && event.Call.ID == "c1" {
		panic("nil map write")
	}
	return m.NoopMiddleware.BeforeTool(ctx, event)
}

func (m *panicMiddleware) AfterTool(ctx context.Context, event *ToolEvent) error {
	if m.stage == "after_tool" && event.Call.ID == "c1" {
		panic("index out of range")
	}
	return m.NoopMiddleware.AfterTool(ctx, event)
}

func (m *panicMiddleware) OnError(_ context.Context, event *ErrorEvent) {
	m.errs = append(m.errs, event.Stage+":"+event.ToolName)
}

func TestDrive_MiddlewarePanicFailsOnlyThatCall(t *testing.T) {
	for _, stage := range []string{"before_tool", "after_tool"} {
		t.Run(stage, func(t *testing.T) {
			mw := &panicMiddleware{stage: stage}
			api := &fakeAPI{runs: []types.Run{
				{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{
					toolCall("c1", "chart_generator", `{"data_csv":"a,b\n1,2","chart_type":"bar","x_col":"a","y_col":"b"}`),
					toolCall("c2", "chart_generator", `{"data_csv":"a,b\n1,2","chart_type":"bar","x_col":"a","y_col":"b"}`),
				}},
				{Status: types.RunCompleted},
			}}
			run, err := newTestDriver(t, api, nil, WithMiddleware(mw)).Drive(context.Background(), "thread_1", "run_1")
			if err != nil {
				t.Fatalf("Drive failed: %v", err)
			}
			if run.Status != types.RunCompleted {
				t.Fatalf("expected completed, got %s", run.Status)
			}
			if len(api.submitted) != 1 || len(api.submitted[0]) != 2 {
				t.Fatalf("expected one batch of two outputs, got %+v", api.submitted)
			}
			outs := api.submitted[0]
			if !strings.HasPrefix(outs[0].Output, tools.ErrorPrefix) || !strings.Contains(outs[0].Output, "panicked") {
				t.Fatalf("unexpected output for panicking call: %q", outs[0].Output)
			}
			if strings.HasPrefix(outs[1].Output, tools.ErrorPrefix) {
				t.Fatalf("second call should succeed: %q", outs[1].Output)
			}
			if diff := cmp.Diff([]string{stage + ":chart_generator"}, mw.errs); diff != "" {
				t.Fatalf("OnError mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []observe.Event
}

func (l *eventLog) Emit(_ context.Context, e observe.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func TestDrive_EmitsTrace(t *testing.T) {
	log := &eventLog{}
	api := &fakeAPI{runs: []types.Run{
		{Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{toolCall("c1", "web_downloader", `{}`)}},
		{Status: types.RunCompleted},
	}}
	if _, err := newTestDriver(t, api, nil, WithObserver(log)).Drive(context.Background(), "thread_1", "run_1"); err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, e := range log.events {
		kinds = append(kinds, string(e.Kind)+"/"+string(e.Status))
	}
	want := []string{
		"run/started",
		"poll/completed",
		"tool/started",
		"tool/failed",
		"submit/completed",
		"poll/completed",
		"run/completed",
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("trace mismatch (-want +got):\n%s", diff)
	}
}
