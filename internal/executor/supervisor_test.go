package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quotio/review-orchestrator/internal/domain"
)

// writeStubAgent writes a shell script that honors the agent contract:
// it locates the --output-last-message argument and behaves per mode.
func writeStubAgent(t *testing.T, mode string) string {
	t.Helper()

	var body string
	switch mode {
	case "ok":
		body = `echo "reviewing..."
[ -n "$out" ] && printf 'finding: unchecked error in handler\n' > "$out"
exit 0`
	case "fail":
		body = `echo "model overloaded" >&2
exit 1`
	case "no-output":
		body = `echo "done, honest"
exit 0`
	case "hang":
		body = `sleep 30`
	}

	script := `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output-last-message" ]; then out="$arg"; fi
  prev="$arg"
done
` + body + "\n"

	path := filepath.Join(t.TempDir(), "stub-agent")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSupervisor_Completes(t *testing.T) {
	workspace := t.TempDir()
	worker := &domain.Worker{ID: 1, Prompt: "review it", Status: domain.WorkerPending}

	var transitions []domain.WorkerStatus
	sup := New(worker, Invocation{
		Binary:    writeStubAgent(t, "ok"),
		Workspace: workspace,
	}, filepath.Join(workspace, "worker-1"), func(w *domain.Worker, st domain.WorkerStatus, errMsg string) {
		transitions = append(transitions, st)
	})

	if err := sup.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if worker.Status != domain.WorkerCompleted {
		t.Errorf("Status = %s, want completed", worker.Status)
	}
	if len(transitions) != 2 || transitions[0] != domain.WorkerRunning || transitions[1] != domain.WorkerCompleted {
		t.Errorf("transitions = %v", transitions)
	}

	data, err := os.ReadFile(worker.OutputPath)
	if err != nil {
		t.Fatalf("reading output artifact: %v", err)
	}
	if !strings.Contains(string(data), "finding:") {
		t.Errorf("output artifact = %q", data)
	}
	if _, err := os.Stat(worker.StdoutPath); err != nil {
		t.Errorf("stdout artifact missing: %v", err)
	}
}

func TestSupervisor_AgentExitFailure(t *testing.T) {
	workspace := t.TempDir()
	worker := &domain.Worker{ID: 1, Prompt: "review it", Status: domain.WorkerPending}

	sup := New(worker, Invocation{
		Binary:    writeStubAgent(t, "fail"),
		Workspace: workspace,
	}, filepath.Join(workspace, "worker-1"), nil)

	err := sup.Run(context.Background())
	var exitErr *domain.AgentExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want AgentExitError", err)
	}

	if worker.Status != domain.WorkerFailed {
		t.Errorf("Status = %s, want failed", worker.Status)
	}
	if !strings.Contains(worker.ErrorMessage, "model overloaded") {
		t.Errorf("ErrorMessage = %q, want stderr tail included", worker.ErrorMessage)
	}

	data, _ := os.ReadFile(worker.StderrPath)
	if !strings.Contains(string(data), "model overloaded") {
		t.Errorf("stderr artifact = %q", data)
	}
}

func TestSupervisor_MissingOutputArtifact(t *testing.T) {
	workspace := t.TempDir()
	worker := &domain.Worker{ID: 1, Prompt: "review it", Status: domain.WorkerPending}

	sup := New(worker, Invocation{
		Binary:    writeStubAgent(t, "no-output"),
		Workspace: workspace,
	}, filepath.Join(workspace, "worker-1"), nil)

	err := sup.Run(context.Background())
	var exitErr *domain.AgentExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want AgentExitError", err)
	}
	if worker.Status != domain.WorkerFailed {
		t.Errorf("Status = %s, want failed", worker.Status)
	}
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	workspace := t.TempDir()
	worker := &domain.Worker{ID: 1, Prompt: "review it", Status: domain.WorkerPending}

	sup := New(worker, Invocation{
		Binary:    filepath.Join(workspace, "no-such-agent"),
		Workspace: workspace,
	}, filepath.Join(workspace, "worker-1"), nil)

	err := sup.Run(context.Background())
	var spawnErr *domain.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want SpawnError", err)
	}
	if worker.Status != domain.WorkerFailed {
		t.Errorf("Status = %s, want failed", worker.Status)
	}
}

func TestSupervisor_Cancellation(t *testing.T) {
	workspace := t.TempDir()
	worker := &domain.Worker{ID: 1, Prompt: "review it", Status: domain.WorkerPending}

	sup := New(worker, Invocation{
		Binary:    writeStubAgent(t, "hang"),
		Workspace: workspace,
	}, filepath.Join(workspace, "worker-1"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Give the process time to start, then cancel
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not settle after cancellation")
	}

	if worker.Status != domain.WorkerFailed {
		t.Errorf("Status = %s, want failed", worker.Status)
	}
	if worker.ErrorMessage != "cancelled" {
		t.Errorf("ErrorMessage = %q, want cancelled", worker.ErrorMessage)
	}
}

func TestBuildArgs(t *testing.T) {
	worker := &domain.Worker{ID: 1, Prompt: "look closely"}
	sup := New(worker, Invocation{
		Binary:           "codex",
		Workspace:        "/tmp/ws",
		Model:            "gpt-5.1-codex",
		FullAuto:         true,
		SkipGitRepoCheck: true,
		Ephemeral:        true,
	}, "/tmp/ws/.review-runs/j/worker-1", nil)

	args := sup.buildArgs()
	want := []string{
		"exec",
		"--skip-git-repo-check",
		"--output-last-message", "/tmp/ws/.review-runs/j/worker-1/output.md",
		"-m", "gpt-5.1-codex",
		"--full-auto",
		"--ephemeral",
		"look closely",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildAggregatePrompt(t *testing.T) {
	prompt := BuildAggregatePrompt("Merge the findings.", []string{"/j/worker-1/output.md", "/j/worker-4/output.md"})
	if !strings.Contains(prompt, "Merge the findings.") {
		t.Error("base prompt missing")
	}
	if !strings.Contains(prompt, "- /j/worker-1/output.md") || !strings.Contains(prompt, "- /j/worker-4/output.md") {
		t.Errorf("output paths missing from prompt:\n%s", prompt)
	}
}

func TestBuildFixPrompt(t *testing.T) {
	prompt := BuildFixPrompt("Fix what the report says.", "/j/aggregate.md")
	if !strings.Contains(prompt, "/j/aggregate.md") {
		t.Errorf("aggregate path missing:\n%s", prompt)
	}
}
