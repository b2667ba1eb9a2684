package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/quiz-agent/observe"
	observestore "github.com/PipeOpsHQ/quiz-agent/observe/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SaveListAndMetrics(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	inputs := []observe.Event{
		{RunID: "r1", ThreadID: "t1", Kind: observe.KindRun, Status: observe.StatusStarted, Timestamp: now},
		{RunID: "r1", ThreadID: "t1", Kind: observe.KindPoll, Status: observe.StatusCompleted, Timestamp: now.Add(time.Millisecond)},
		{RunID: "r1", ThreadID: "t1", Kind: observe.KindTool, Status: observe.StatusCompleted, ToolName: "pdf_scraper", Timestamp: now.Add(2 * time.Millisecond)},
		{RunID: "r1", ThreadID: "t1", Kind: observe.KindTool, Status: observe.StatusFailed, ToolName: "web_downloader", Error: "404", Timestamp: now.Add(3 * time.Millisecond)},
		{RunID: "r1", ThreadID: "t1", Kind: observe.KindSubmit, Status: observe.StatusCompleted, Timestamp: now.Add(4 * time.Millisecond)},
		{RunID: "r1", ThreadID: "t1", Kind: observe.KindRun, Status: observe.StatusCompleted, Timestamp: now.Add(5 * time.Millisecond)},
		{RunID: "r2", ThreadID: "t2", Kind: observe.KindRun, Status: observe.StatusFailed, Timestamp: now.Add(6 * time.Millisecond)},
	}
	for _, in := range inputs {
		if err := store.SaveEvent(ctx, in); err != nil {
			t.Fatalf("save event: %v", err)
		}
	}

	events, err := store.ListEventsByRun(ctx, "r1", observestore.ListQuery{Limit: 20})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[3].ToolName != "web_downloader" || events[3].Error != "404" {
		t.Fatalf("events not returned in order: %+v", events[3])
	}

	byThread, err := store.ListEventsByThread(ctx, "t2", observestore.ListQuery{})
	if err != nil || len(byThread) != 1 {
		t.Fatalf("expected one event for t2, got %d (%v)", len(byThread), err)
	}

	metrics, err := store.AggregateMetrics(ctx, observestore.MetricsQuery{})
	if err != nil {
		t.Fatalf("aggregate metrics: %v", err)
	}
	want := observestore.MetricsSummary{
		RunsStarted: 1, RunsCompleted: 1, RunsFailed: 1,
		Polls: 1, Submissions: 1, ToolCalls: 1, ToolFailures: 1,
	}
	if diff := cmp.Diff(want, metrics); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}

	later := now.Add(5 * time.Millisecond)
	recent, err := store.AggregateMetrics(ctx, observestore.MetricsQuery{Since: &later})
	if err != nil {
		t.Fatalf("aggregate recent: %v", err)
	}
	if recent.RunsCompleted != 1 || recent.RunsFailed != 1 || recent.Polls != 0 {
		t.Fatalf("unexpected recent metrics: %+v", recent)
	}
}

func TestStore_AttributesRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	err := store.SaveEvent(ctx, observe.Event{
		RunID: "r1", Kind: observe.KindTool,
		Attributes: map[string]any{"toolCallId": "call_1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	events, err := store.ListEventsByRun(ctx, "r1", observestore.ListQuery{})
	if err != nil || len(events) != 1 {
		t.Fatalf("list: %v %d", err, len(events))
	}
	if events[0].ID == "" || events[0].Attributes["toolCallId"] != "call_1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestStore_RequiresIDs(t *testing.T) {
	store := newStore(t)
	if _, err := store.ListEventsByRun(context.Background(), " ", observestore.ListQuery{}); err == nil {
		t.Fatal("expected error for blank run id")
	}
	if _, err := store.ListEventsByThread(context.Background(), "", observestore.ListQuery{}); err == nil {
		t.Fatal("expected error for blank thread id")
	}
}
