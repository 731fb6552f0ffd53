// Package eventlog provides the append-only, leveled event record for one
// review run, independent of worker exit codes.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/quotio/review-orchestrator/internal/domain"
)

// Subscriber is called synchronously for every appended event
type Subscriber func(domain.RunEvent)

// Log is an append-only sequence of timestamped run events.
// Events are never mutated or removed; a new run starts a fresh Log.
type Log struct {
	mu     sync.RWMutex
	events []domain.RunEvent
	subs   []Subscriber
}

// New creates an empty event log
func New() *Log {
	return &Log{}
}

// Subscribe registers a callback invoked for every future event
func (l *Log) Subscribe(fn Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

// Append records one event at the given level
func (l *Log) Append(level domain.EventLevel, message string) {
	ev := domain.RunEvent{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}

	l.mu.Lock()
	l.events = append(l.events, ev)
	subs := make([]Subscriber, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// Infof appends an info-level event
func (l *Log) Infof(format string, args ...interface{}) {
	l.Append(domain.LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf appends a warning-level event
func (l *Log) Warnf(format string, args ...interface{}) {
	l.Append(domain.LevelWarning, fmt.Sprintf(format, args...))
}

// Errorf appends an error-level event
func (l *Log) Errorf(format string, args ...interface{}) {
	l.Append(domain.LevelError, fmt.Sprintf(format, args...))
}

// Events returns a copy of all events in emission order
func (l *Log) Events() []domain.RunEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.RunEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Tail returns a copy of the most recent n events
func (l *Log) Tail(n int) []domain.RunEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := len(l.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.RunEvent, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// LastError returns the most recent error-level event, if any
func (l *Log) LastError() (domain.RunEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Level == domain.LevelError {
			return l.events[i], true
		}
	}
	return domain.RunEvent{}, false
}
