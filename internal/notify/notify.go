// Package notify delivers run-termination notifications to the desktop
// and to Slack.
package notify

import (
	"fmt"

	"github.com/quotio/review-orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	JobID   string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

// Send implements Notifier
func (NoopNotifier) Send(Notification) error { return nil }

// ForRun builds the notification for a finished run
func ForRun(item *domain.HistoryItem) Notification {
	n := Notification{
		Title: "Review run finished",
		JobID: item.JobID,
	}

	switch item.Phase {
	case domain.PhaseCompleted:
		n.Type = NotifySuccess
		if item.FailedWorkers > 0 {
			n.Type = NotifyWarning
		}
	case domain.PhaseCancelled:
		n.Type = NotifyInfo
		n.Title = "Review run cancelled"
	default:
		n.Type = NotifyError
		n.Title = "Review run failed"
	}

	n.Message = fmt.Sprintf("%d workers, %d failed (%s)", item.WorkerCount, item.FailedWorkers, item.Phase)
	return n
}
