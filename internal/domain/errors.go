package domain

import (
	"errors"
	"fmt"
)

// ErrCancelled marks a worker or phase terminated by run-level cancellation
var ErrCancelled = errors.New("run cancelled")

// ConfigError reports an invalid run configuration, caught before any
// process is spawned. Fatal to the run, never to the process.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid run configuration: " + e.Reason
}

// SpawnError reports an OS-level failure to launch the agent process
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return "spawning agent: " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

// AgentExitError reports a nonzero agent exit or a missing/unreadable
// output artifact. Local to one worker or phase invocation.
type AgentExitError struct {
	Message string
}

func (e *AgentExitError) Error() string { return e.Message }

// PersistenceError reports a history store read or write failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
