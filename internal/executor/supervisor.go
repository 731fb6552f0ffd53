// Package executor supervises individual invocations of the external
// coding agent: argument construction, spawning, artifact capture, and
// terminal status classification.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quotio/review-orchestrator/internal/domain"
)

// maxErrorMessage bounds the error text kept on the worker for display.
// The full text remains in the stderr artifact.
const maxErrorMessage = 500

// stderrTailLines is how many trailing stderr lines are scanned for a
// meaningful agent error message.
const stderrTailLines = 20

// Invocation holds the per-run options shared by every supervisor
type Invocation struct {
	Binary           string // agent executable, e.g. "codex"
	Workspace        string // working directory for the agent process
	Model            string
	FullAuto         bool
	SkipGitRepoCheck bool
	Ephemeral        bool
}

// StatusFunc is called on every worker status transition
type StatusFunc func(w *domain.Worker, status domain.WorkerStatus, errMsg string)

// Supervisor runs exactly one agent invocation to completion or cancellation
type Supervisor struct {
	worker   *domain.Worker
	inv      Invocation
	dir      string // artifact directory for this worker
	onStatus StatusFunc

	cmd *exec.Cmd
	mu  sync.Mutex
}

// New creates a supervisor for one worker. dir is the worker-scoped
// artifact directory; it is created on Run.
func New(worker *domain.Worker, inv Invocation, dir string, onStatus StatusFunc) *Supervisor {
	if inv.Binary == "" {
		inv.Binary = "codex"
	}
	return &Supervisor{
		worker:   worker,
		inv:      inv,
		dir:      dir,
		onStatus: onStatus,
	}
}

// OutputPath returns where the agent is told to write its structured output
func (s *Supervisor) OutputPath() string {
	return filepath.Join(s.dir, "output.md")
}

// Run executes the agent and blocks until the worker reaches a terminal
// status. The worker is mutated only from this goroutine.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return s.fail(&domain.SpawnError{Err: err})
	}

	stdoutPath := filepath.Join(s.dir, "stdout.log")
	stderrPath := filepath.Join(s.dir, "stderr.log")

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return s.fail(&domain.SpawnError{Err: err})
	}
	defer stdoutFile.Close()

	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		return s.fail(&domain.SpawnError{Err: err})
	}
	defer stderrFile.Close()

	s.worker.StdoutPath = stdoutPath
	s.worker.StderrPath = stderrPath

	if err := ctx.Err(); err != nil {
		return s.fail(domain.ErrCancelled)
	}

	cmd := exec.CommandContext(ctx, s.inv.Binary, s.buildArgs()...)
	cmd.Dir = s.inv.Workspace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.fail(&domain.SpawnError{Err: err})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.fail(&domain.SpawnError{Err: err})
	}

	now := time.Now()
	s.worker.StartedAt = &now
	s.transition(domain.WorkerRunning, "")

	if err := cmd.Start(); err != nil {
		return s.fail(&domain.SpawnError{Err: err})
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	var stderrTail []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, stdoutFile, nil)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, stderrFile, func(line string) {
			stderrTail = append(stderrTail, line)
			if len(stderrTail) > stderrTailLines {
				stderrTail = stderrTail[1:]
			}
		})
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	finished := time.Now()
	s.worker.FinishedAt = &finished

	if ctx.Err() != nil {
		return s.fail(domain.ErrCancelled)
	}

	if waitErr != nil {
		msg := fmt.Sprintf("agent exited: %v", waitErr)
		if tail := strings.TrimSpace(strings.Join(stderrTail, "\n")); tail != "" {
			msg = fmt.Sprintf("%s: %s", msg, tail)
		}
		return s.fail(&domain.AgentExitError{Message: msg})
	}

	output := s.OutputPath()
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		return s.fail(&domain.AgentExitError{Message: "agent produced no output artifact"})
	}

	s.worker.OutputPath = output
	s.transition(domain.WorkerCompleted, "")
	return nil
}

// Stop terminates the child process if it is still running. Cancellation
// of the Run context has the same effect; Stop covers callers without
// access to that context.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

// buildArgs renders the agent invocation contract
func (s *Supervisor) buildArgs() []string {
	args := []string{"exec"}
	if s.inv.SkipGitRepoCheck {
		args = append(args, "--skip-git-repo-check")
	}
	args = append(args, "--output-last-message", s.OutputPath())
	if s.inv.Model != "" {
		args = append(args, "-m", s.inv.Model)
	}
	if s.inv.FullAuto {
		args = append(args, "--full-auto")
	}
	if s.inv.Ephemeral {
		args = append(args, "--ephemeral")
	}
	args = append(args, s.worker.Prompt)
	return args
}

// fail settles the worker as failed with a bounded error message
func (s *Supervisor) fail(err error) error {
	msg := err.Error()
	if errors.Is(err, domain.ErrCancelled) {
		msg = "cancelled"
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	s.transition(domain.WorkerFailed, msg)
	return err
}

func (s *Supervisor) transition(status domain.WorkerStatus, errMsg string) {
	s.worker.Status = status
	s.worker.ErrorMessage = errMsg
	if s.onStatus != nil {
		s.onStatus(s.worker, status, errMsg)
	}
}

// streamLines copies r line by line into f, syncing after each line so the
// artifact can be tailed while the agent runs. onLine, if set, sees every
// line as it arrives.
func streamLines(r io.Reader, f *os.File, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		f.WriteString(line + "\n")
		f.Sync()
		if onLine != nil {
			onLine(line)
		}
	}
}
