// Package planner resolves a run configuration into an ordered set of
// prompt assignments and a batch plan bounded by the concurrency cap.
package planner

import (
	"fmt"
	"strings"

	"github.com/quotio/review-orchestrator/internal/domain"
)

// MaxConcurrentWorkers is the hard cap on simultaneously running agents.
// Runs with more assignments are split into sequential batches.
const MaxConcurrentWorkers = 8

// Assignment pairs a stable 1-based worker id with its prompt
type Assignment struct {
	WorkerID int
	Prompt   string
}

// Plan is the resolved execution plan for one run
type Plan struct {
	Assignments []Assignment
	Batches     [][]Assignment
}

// Resolve validates the configuration and produces the batch plan.
// All rejections happen here, before any process is spawned.
func Resolve(cfg *domain.RunConfig) (*Plan, error) {
	if cfg.Workspace == "" {
		return nil, &domain.ConfigError{Reason: "workspace path is required"}
	}
	if cfg.RunFix && !cfg.RunAggregate {
		return nil, &domain.ConfigError{Reason: "fix pass requires the aggregation pass"}
	}

	prompts, err := resolvePrompts(cfg)
	if err != nil {
		return nil, err
	}

	assignments := make([]Assignment, len(prompts))
	for i, p := range prompts {
		assignments[i] = Assignment{WorkerID: i + 1, Prompt: p}
	}

	return &Plan{
		Assignments: assignments,
		Batches:     splitBatches(assignments, MaxConcurrentWorkers),
	}, nil
}

// resolvePrompts returns the ordered prompt list for the run.
// An explicit prompt list takes precedence over the uniform worker plan.
func resolvePrompts(cfg *domain.RunConfig) ([]string, error) {
	if len(cfg.PromptList) > 0 {
		var prompts []string
		for _, line := range cfg.PromptList {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			prompts = append(prompts, line)
		}
		if len(prompts) == 0 {
			return nil, &domain.ConfigError{Reason: "prompt list resolves to zero assignments"}
		}
		return prompts, nil
	}

	if strings.TrimSpace(cfg.Prompt) == "" {
		return nil, &domain.ConfigError{Reason: "review prompt is empty"}
	}
	if cfg.WorkerCount < 1 || cfg.WorkerCount > MaxConcurrentWorkers {
		return nil, &domain.ConfigError{
			Reason: fmt.Sprintf("worker count %d outside [1, %d]", cfg.WorkerCount, MaxConcurrentWorkers),
		}
	}

	prompts := make([]string, cfg.WorkerCount)
	for i := range prompts {
		prompts[i] = cfg.Prompt
	}
	return prompts, nil
}

// splitBatches divides assignments into sequential batches of at most cap,
// preserving the original order
func splitBatches(assignments []Assignment, cap int) [][]Assignment {
	var batches [][]Assignment
	for len(assignments) > 0 {
		n := cap
		if len(assignments) < n {
			n = len(assignments)
		}
		batches = append(batches, assignments[:n])
		assignments = assignments[n:]
	}
	return batches
}

// ForWorkers builds a plan restricted to the given workers, keeping their
// existing ids. Used when rerunning failed workers within an existing run.
func ForWorkers(workers []*domain.Worker) *Plan {
	assignments := make([]Assignment, len(workers))
	for i, w := range workers {
		assignments[i] = Assignment{WorkerID: w.ID, Prompt: w.Prompt}
	}
	return &Plan{
		Assignments: assignments,
		Batches:     splitBatches(assignments, MaxConcurrentWorkers),
	}
}
