//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quotio/review-orchestrator/internal/config"
	"github.com/quotio/review-orchestrator/internal/domain"
	"github.com/quotio/review-orchestrator/internal/history"
	"github.com/quotio/review-orchestrator/internal/queue"
)

// TestRunFlow_RunFileToHistory tests the full pipeline:
// YAML run file -> queue -> agent artifacts -> history store
func TestRunFlow_RunFileToHistory(t *testing.T) {
	agent := StubAgentPath(t)
	workspace := TempWorkspace(t)

	runFilePath := filepath.Join(t.TempDir(), "run.yaml")
	runFile := `workspace: ` + workspace + `
prompts:
  - review error handling
  - review concurrency
aggregate: true
aggregate_prompt: merge the findings
`
	if err := os.WriteFile(runFilePath, []byte(runFile), 0o644); err != nil {
		t.Fatalf("Failed to write run file: %v", err)
	}

	// Step 1: resolve the run file against defaults
	runCfg, err := config.LoadRunFile(runFilePath, config.Default())
	if err != nil {
		t.Fatalf("LoadRunFile failed: %v", err)
	}
	if len(runCfg.PromptList) != 2 {
		t.Fatalf("PromptList len = %d, want 2", len(runCfg.PromptList))
	}

	// Step 2: run the queue against the stub agent
	q := queue.New(queue.Options{Binary: agent})
	jobID, err := q.StartRun(runCfg)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	q.Wait()

	if q.Phase() != domain.PhaseCompleted {
		t.Fatalf("Phase = %s, want completed", q.Phase())
	}

	// Step 3: worker artifacts exist under the job directory
	for _, w := range q.Workers() {
		data, err := os.ReadFile(w.OutputPath)
		if err != nil {
			t.Errorf("Worker %d output missing: %v", w.ID, err)
			continue
		}
		if len(data) == 0 {
			t.Errorf("Worker %d output is empty", w.ID)
		}
	}
	if q.AggregatePath() == "" {
		t.Error("AggregatePath should be set")
	}

	// Step 4: the run is persisted in the workspace history
	store, err := history.Open(workspace)
	if err != nil {
		t.Fatalf("history.Open failed: %v", err)
	}
	defer store.Close()

	item, err := store.GetRun(jobID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if item == nil {
		t.Fatal("Run not found in history")
	}
	if item.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want 2", item.WorkerCount)
	}
	if item.Phase != domain.PhaseCompleted {
		t.Errorf("Phase = %s, want completed", item.Phase)
	}

	events, err := store.ListEvents(jobID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) == 0 {
		t.Error("Persisted event log should not be empty")
	}
}
