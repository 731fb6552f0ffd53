package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/quotio/review-orchestrator/internal/domain"
)

func sampleItem(jobID, workspace string, createdAt time.Time) *domain.HistoryItem {
	return &domain.HistoryItem{
		JobID:         jobID,
		Workspace:     workspace,
		CreatedAt:     createdAt,
		WorkerCount:   4,
		FailedWorkers: 1,
		Model:         "gpt-5.1-codex",
		JobDir:        workspace + "/.review-runs/" + jobID,
		AggregatePath: workspace + "/.review-runs/" + jobID + "/aggregate.md",
		Phase:         domain.PhaseCompleted,
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	item := sampleItem("job-1", "/tmp/ws", time.Now())
	events := []domain.RunEvent{
		{Timestamp: time.Now(), Level: domain.LevelInfo, Message: "phase: reviewing"},
		{Timestamp: time.Now(), Level: domain.LevelWarning, Message: "worker 3 failed"},
	}

	if err := store.SaveRun(item, events); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", got.WorkerCount)
	}
	if got.FailedWorkers != 1 {
		t.Errorf("FailedWorkers = %d, want 1", got.FailedWorkers)
	}
	if got.Phase != domain.PhaseCompleted {
		t.Errorf("Phase = %s, want completed", got.Phase)
	}
	if got.AggregatePath != item.AggregatePath {
		t.Errorf("AggregatePath = %q", got.AggregatePath)
	}

	gotEvents, err := store.ListEvents("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotEvents) != 2 {
		t.Fatalf("events = %d, want 2", len(gotEvents))
	}
	if gotEvents[1].Level != domain.LevelWarning {
		t.Errorf("second event level = %s", gotEvents[1].Level)
	}
}

func TestStore_SaveRun_Upsert(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	item := sampleItem("job-1", "/tmp/ws", time.Now())
	if err := store.SaveRun(item, nil); err != nil {
		t.Fatal(err)
	}

	// Rerun of failed workers rewrites the same job id
	item.FailedWorkers = 0
	item.Phase = domain.PhaseCompleted
	if err := store.SaveRun(item, []domain.RunEvent{
		{Timestamp: time.Now(), Level: domain.LevelInfo, Message: "rerun finished"},
	}); err != nil {
		t.Fatal(err)
	}

	items, err := store.ListRuns("/tmp/ws", DefaultListLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1 after upsert", len(items))
	}
	if items[0].FailedWorkers != 0 {
		t.Errorf("FailedWorkers = %d, want 0", items[0].FailedWorkers)
	}

	events, _ := store.ListEvents("job-1")
	if len(events) != 1 || events[0].Message != "rerun finished" {
		t.Errorf("events after upsert = %+v", events)
	}
}

func TestStore_ListRuns_OrderAndLimit(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		item := sampleItem(fmt.Sprintf("job-%02d", i), "/tmp/ws", base.Add(time.Duration(i)*time.Minute))
		if err := store.SaveRun(item, nil); err != nil {
			t.Fatal(err)
		}
	}
	// A run in another workspace must not leak into the listing
	other := sampleItem("job-other", "/tmp/other", time.Now())
	if err := store.SaveRun(other, nil); err != nil {
		t.Fatal(err)
	}

	items, err := store.ListRuns("/tmp/ws", DefaultListLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != DefaultListLimit {
		t.Fatalf("items = %d, want %d", len(items), DefaultListLimit)
	}
	if items[0].JobID != "job-14" {
		t.Errorf("first item = %s, want most recent job-14", items[0].JobID)
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.After(items[i-1].CreatedAt) {
			t.Errorf("listing not most-recent-first at index %d", i)
		}
	}
}

func TestOpen_CreatesRunsDir(t *testing.T) {
	workspace := t.TempDir()
	store, err := Open(workspace)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	item := sampleItem("job-1", workspace, time.Now())
	if err := store.SaveRun(item, nil); err != nil {
		t.Fatal(err)
	}

	// Round-trip through a fresh store on the same index
	store2, err := Open(workspace)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	items, err := store2.ListRuns(workspace, DefaultListLimit)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].JobID != "job-1" {
		t.Errorf("round-trip items = %+v", items)
	}
}
