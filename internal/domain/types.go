package domain

// WorkerStatus represents the lifecycle state of a review worker
type WorkerStatus string

const (
	WorkerPending   WorkerStatus = "pending"
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
)

// Terminal reports whether the status is a final state
func (s WorkerStatus) Terminal() bool {
	return s == WorkerCompleted || s == WorkerFailed
}

// Phase represents the macro-state of a review run
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePreparing   Phase = "preparing"
	PhaseReviewing   Phase = "reviewing"
	PhaseAggregating Phase = "aggregating"
	PhaseFixing      Phase = "fixing"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
	PhaseCancelled   Phase = "cancelled"
)

// Terminal reports whether the phase is a final, sticky state
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// EventLevel represents the severity of a run event
type EventLevel string

const (
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)
