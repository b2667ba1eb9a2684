package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/quiz-agent/llm"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

func newTestClient(t *testing.T, ts *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(ts.URL),
		WithFilesBaseURL(ts.URL),
		WithHTTPClient(ts.Client()),
		WithMaxRetries(0),
	}, opts...)
	c, err := New("test-key", opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestCreateAssistant_SendsToolsAndBetaHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assistants" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("OpenAI-Beta") != "assistants=v2" {
			t.Fatalf("missing beta header")
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing auth header")
		}
		var req assistantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Tools) != 2 || req.Tools[0].Type != "code_interpreter" || req.Tools[1].Function.Name != "web_scraper" {
			t.Fatalf("unexpected tools: %#v", req.Tools)
		}
		if req.Model != "gpt-4o" {
			t.Fatalf("unexpected model: %q", req.Model)
		}
		_, _ = w.Write([]byte(`{"id":"asst_1","model":"gpt-4o"}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts)
	got, err := c.CreateAssistant(context.Background(), types.Assistant{
		Name:                  "agent",
		Instructions:          "solve",
		EnableCodeInterpreter: true,
		Tools:                 []types.ToolDefinition{{Name: "web_scraper", Description: "scrape"}},
	})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	if got.ID != "asst_1" {
		t.Fatalf("unexpected id: %q", got.ID)
	}
}

func TestGetRun_MapsRequiredAction(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/th_1/runs/run_1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"id": "run_1", "thread_id": "th_1", "assistant_id": "asst_1",
			"status": "requires_action",
			"required_action": {"type": "submit_tool_outputs", "submit_tool_outputs": {"tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "pdf_scraper", "arguments": "{\"url\":\"https://x/a.pdf\"}"}},
				{"id": "call_2", "type": "function", "function": {"name": "web_downloader", "arguments": "not json"}}
			]}}
		}`))
	}))
	defer ts.Close()

	run, err := newTestClient(t, ts).GetRun(context.Background(), "th_1", "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != types.RunRequiresAction {
		t.Fatalf("unexpected status: %q", run.Status)
	}
	want := []types.ToolCall{
		{ID: "call_1", Name: "pdf_scraper", Arguments: json.RawMessage(`{"url":"https://x/a.pdf"}`)},
		{ID: "call_2", Name: "web_downloader", Arguments: json.RawMessage(`{"raw":"not json"}`)},
	}
	if diff := cmp.Diff(want, run.ToolCalls); diff != "" {
		t.Fatalf("tool calls mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRun_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "upstream", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"run_1","thread_id":"th_1","status":"completed"}`))
	}))
	defer ts.Close()

	run, err := newTestClient(t, ts, WithMaxRetries(2)).GetRun(context.Background(), "th_1", "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != types.RunCompleted || hits.Load() != 2 {
		t.Fatalf("unexpected result: status=%q hits=%d", run.Status, hits.Load())
	}
}

func TestSubmitToolOutputs_ReturnsAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts).SubmitToolOutputs(context.Background(), "th", "run", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected APIError 400, got %v", err)
	}
}

func TestListMessages_MapsContentParts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[
			{"id":"m2","role":"assistant","content":[
				{"type":"text","text":{"value":"42"}},
				{"type":"image_file","image_file":{"file_id":"file_img"}}
			]},
			{"id":"m1","role":"user","content":[{"type":"text","text":{"value":"solve"}}]}
		]}`))
	}))
	defer ts.Close()

	msgs, err := newTestClient(t, ts).ListMessages(context.Background(), "th")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	want := []types.Message{
		{ID: "m2", Role: types.RoleAssistant, Content: []types.ContentPart{
			{Type: types.ContentText, Text: "42"},
			{Type: types.ContentImageFile, FileID: "file_img"},
		}},
		{ID: "m1", Role: types.RoleUser, Content: []types.ContentPart{{Type: types.ContentText, Text: "solve"}}},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadFile_SendsMultipart(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("purpose") != "assistants" {
			t.Fatalf("unexpected purpose: %q", r.FormValue("purpose"))
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "photo.png" || string(data) != "PNGDATA" {
			t.Fatalf("unexpected upload: %s %q", hdr.Filename, data)
		}
		_, _ = w.Write([]byte(`{"id":"file_123"}`))
	}))
	defer ts.Close()

	id, err := newTestClient(t, ts).UploadFile(context.Background(), "photo.png", strings.NewReader("PNGDATA"), "")
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if id != "file_123" {
		t.Fatalf("unexpected id: %q", id)
	}
}

func TestTranscribe_SetsModelAndMediaType(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Fatalf("unexpected model: %q", r.FormValue("model"))
		}
		_, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if hdr.Header.Get("Content-Type") != "audio/ogg" {
			t.Fatalf("unexpected media type: %q", hdr.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"text":"the answer is seven"}`))
	}))
	defer ts.Close()

	text, err := newTestClient(t, ts).Transcribe(context.Background(), "clip.ogg", "audio/ogg", strings.NewReader("OGG"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "the answer is seven" {
		t.Fatalf("unexpected transcript: %q", text)
	}
}

func TestDescribeImage_SendsDataURI(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "data:image/jpeg;base64,") {
			t.Fatalf("expected data uri in request: %s", body)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"a bar chart"}}]}`))
	}))
	defer ts.Close()

	got, err := newTestClient(t, ts).DescribeImage(context.Background(), llm.ImageInput{
		Data:      []byte{0xff, 0xd8},
		MediaType: "image/jpeg",
		Question:  "what is it?",
	})
	if err != nil {
		t.Fatalf("DescribeImage failed: %v", err)
	}
	if got != "a bar chart" {
		t.Fatalf("unexpected answer: %q", got)
	}
}

func TestFileContent_ReturnsRawBytes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/file_img/content" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer ts.Close()

	data, err := newTestClient(t, ts).FileContent(context.Background(), "file_img")
	if err != nil {
		t.Fatalf("FileContent failed: %v", err)
	}
	if string(data) != "\x89PNG" {
		t.Fatalf("unexpected content: %q", data)
	}
}
