package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard five-field expressions: minute hour dom month dow.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires review runs when their cron entries come due. An entry
// never overlaps itself: while its run is in flight it is not due again,
// and its next due time is computed from when the run finished.
type Scheduler struct {
	mu      sync.RWMutex
	entries map[string]EntryConfig
	lastRun map[string]time.Time
	running map[string]bool

	stopChan chan struct{}
}

// NewScheduler creates a scheduler from validated entries
func NewScheduler(configs []EntryConfig) (*Scheduler, error) {
	s := &Scheduler{
		entries:  make(map[string]EntryConfig, len(configs)),
		lastRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
		stopChan: make(chan struct{}),
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		s.entries[cfg.Name] = cfg
	}
	return s, nil
}

// NextRun returns the next due time for an entry, zero when unknown
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	cfg, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}

	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// ShouldRun reports whether an entry is due and not already in flight
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.entries[name]
	if !ok || s.running[name] {
		return false
	}

	sched, err := ParseCron(cfg.Cron)
	if err != nil {
		return false
	}

	last := s.lastRun[name]
	if last.IsZero() {
		// Never ran: pretend the last run was a day ago so any
		// schedule with a due slot since then fires on the first tick
		last = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(sched.Next(last))
}

// MarkRunning records that an entry's run is in flight
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	s.running[name] = true
	s.mu.Unlock()
}

// MarkComplete records that an entry's run finished
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
	s.mu.Unlock()
}

// GetConfig returns the config for an entry
func (s *Scheduler) GetConfig(name string) (EntryConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.entries[name]
	return cfg, ok
}

// ListEntries returns all entry names
func (s *Scheduler) ListEntries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start checks every entry once a minute and fires due ones, each in its
// own goroutine. It blocks until Stop is called.
func (s *Scheduler) Start(runFunc func(EntryConfig) error) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.fireDue(runFunc)
		}
	}
}

func (s *Scheduler) fireDue(runFunc func(EntryConfig) error) {
	for _, name := range s.ListEntries() {
		if !s.ShouldRun(name) {
			continue
		}
		cfg, ok := s.GetConfig(name)
		if !ok {
			continue
		}
		s.MarkRunning(name)
		go func(c EntryConfig) {
			if err := runFunc(c); err != nil {
				fmt.Printf("Scheduled run %s failed: %v\n", c.Name, err)
			}
			s.MarkComplete(c.Name)
		}(cfg)
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}
