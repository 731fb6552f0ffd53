package domain

import "time"

// RunConfig holds the immutable configuration for one review run.
// Either PromptList is set (one worker per entry) or WorkerCount replicas
// of Prompt are planned; the two modes are mutually exclusive.
type RunConfig struct {
	Workspace        string
	WorkerCount      int
	PromptList       []string
	Prompt           string
	AggregatePrompt  string
	FixPrompt        string
	Model            string
	FullAuto         bool
	SkipGitRepoCheck bool
	Ephemeral        bool
	RunAggregate     bool
	RunFix           bool
}

// Worker represents one planned or executing agent invocation
type Worker struct {
	ID           int
	Prompt       string
	Status       WorkerStatus
	ErrorMessage string
	OutputPath   string
	StdoutPath   string
	StderrPath   string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// RunEvent is one immutable entry in the run event log
type RunEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
}

// HistoryItem is the persisted summary of a finished run
type HistoryItem struct {
	JobID         string
	Workspace     string
	CreatedAt     time.Time
	WorkerCount   int
	FailedWorkers int
	Model         string
	JobDir        string
	AggregatePath string
	FixPath       string
	Phase         Phase
}
