// Package queue implements the review queue orchestrator: it plans a run,
// drives worker batches against the concurrency cap, runs the optional
// aggregation and fix passes, and records the run in workspace history.
package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quotio/review-orchestrator/internal/domain"
	"github.com/quotio/review-orchestrator/internal/eventlog"
	"github.com/quotio/review-orchestrator/internal/executor"
	"github.com/quotio/review-orchestrator/internal/history"
	"github.com/quotio/review-orchestrator/internal/notify"
	"github.com/quotio/review-orchestrator/internal/planner"
)

// Options configures a Queue independent of any single run
type Options struct {
	Binary   string // agent executable; defaults to "codex"
	Notifier notify.Notifier
	OnEvent  eventlog.Subscriber // observes every run event, across runs
}

// Counts aggregates worker progress for the observable surface
type Counts struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Finished  int `json:"finished"`
}

// Queue owns one review run at a time. Live workers are mutated only by
// their supervisors; readers see snapshots taken on each status
// transition, so the observable surface never races the run.
type Queue struct {
	opts Options

	mu              sync.RWMutex
	cfg             *domain.RunConfig
	jobID           string
	jobDir          string
	phase           domain.Phase
	workers         []*domain.Worker
	views           map[int]domain.Worker
	events          *eventlog.Log
	startedAt       *time.Time
	finishedAt      *time.Time
	aggregatePath   string
	fixPath         string
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
	onChange        func()
}

// New creates an idle queue
func New(opts Options) *Queue {
	return &Queue{
		opts:   opts,
		phase:  domain.PhaseIdle,
		events: eventlog.New(),
		views:  make(map[int]domain.Worker),
	}
}

// OnChange registers a callback invoked after every observable state change
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// StartRun validates the configuration, plans the run, and starts it in
// the background. Rejections happen here, before any process is spawned,
// and leave the queue untouched.
func (q *Queue) StartRun(cfg *domain.RunConfig) (string, error) {
	plan, err := planner.Resolve(cfg)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	if q.phase != domain.PhaseIdle && !q.phase.Terminal() {
		q.mu.Unlock()
		return "", fmt.Errorf("a run is already in progress (phase %s)", q.phase)
	}

	q.cfg = cfg
	q.jobID = uuid.NewString()
	q.jobDir = filepath.Join(history.RunsDir(cfg.Workspace), q.jobID)
	q.events = eventlog.New()
	if q.opts.OnEvent != nil {
		q.events.Subscribe(q.opts.OnEvent)
	}
	q.views = make(map[int]domain.Worker, len(plan.Assignments))
	q.workers = q.workers[:0]
	for _, a := range plan.Assignments {
		w := &domain.Worker{ID: a.WorkerID, Prompt: a.Prompt, Status: domain.WorkerPending}
		q.workers = append(q.workers, w)
		q.views[w.ID] = *w
	}
	now := time.Now()
	q.startedAt = &now
	q.finishedAt = nil
	q.aggregatePath = ""
	q.fixPath = ""
	q.phase = domain.PhasePreparing

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.cancelRequested = false
	q.done = make(chan struct{})
	jobID := q.jobID
	events := q.events
	q.mu.Unlock()

	events.Infof("phase: %s", domain.PhasePreparing)
	events.Infof("planned %d workers in %d batches", len(plan.Assignments), len(plan.Batches))
	q.notifyChange()

	go q.run(ctx, plan)
	return jobID, nil
}

// CancelRun requests cooperative termination of the active run.
// Issuing it twice, or on an idle or finished queue, is a no-op.
func (q *Queue) CancelRun() {
	q.mu.Lock()
	if q.cancel == nil || q.cancelRequested || q.phase == domain.PhaseIdle || q.phase.Terminal() {
		q.mu.Unlock()
		return
	}
	q.cancelRequested = true
	cancel := q.cancel
	events := q.events
	q.mu.Unlock()

	events.Infof("cancellation requested")
	cancel()
}

// RerunFailedWorkers re-plans only the workers currently in failed status
// and runs them within the existing run, merging results into the worker
// list. A no-op when no worker has failed.
func (q *Queue) RerunFailedWorkers() error {
	q.mu.Lock()
	if q.phase == domain.PhaseIdle {
		// Nothing has run, so nothing has failed
		q.mu.Unlock()
		return nil
	}
	if !q.phase.Terminal() {
		q.mu.Unlock()
		return fmt.Errorf("cannot rerun while the run is in progress (phase %s)", q.phase)
	}

	var fresh []*domain.Worker
	for i, w := range q.workers {
		if q.views[w.ID].Status != domain.WorkerFailed {
			continue
		}
		nw := &domain.Worker{ID: w.ID, Prompt: w.Prompt, Status: domain.WorkerPending}
		q.workers[i] = nw
		q.views[nw.ID] = *nw
		fresh = append(fresh, nw)
	}
	if len(fresh) == 0 {
		q.mu.Unlock()
		return nil
	}

	plan := planner.ForWorkers(fresh)
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.cancelRequested = false
	q.done = make(chan struct{})
	q.finishedAt = nil
	q.phase = domain.PhaseReviewing
	events := q.events
	q.mu.Unlock()

	events.Infof("phase: %s", domain.PhaseReviewing)
	events.Infof("rerunning %d failed workers in %d batches", len(fresh), len(plan.Batches))
	q.notifyChange()

	go func() {
		q.runBatches(ctx, plan)
		if ctx.Err() != nil {
			q.finish(domain.PhaseCancelled)
			return
		}
		q.finish(q.runPostPhases(ctx))
	}()
	return nil
}

// Wait blocks until the active run reaches a terminal phase
func (q *Queue) Wait() {
	q.mu.RLock()
	done := q.done
	q.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (q *Queue) run(ctx context.Context, plan *planner.Plan) {
	if err := os.MkdirAll(q.JobDir(), 0755); err != nil {
		q.log().Errorf("creating job directory: %v", err)
		q.finish(domain.PhaseFailed)
		return
	}

	q.setPhase(domain.PhaseReviewing)
	q.runBatches(ctx, plan)
	if ctx.Err() != nil {
		q.finish(domain.PhaseCancelled)
		return
	}

	q.finish(q.runPostPhases(ctx))
}

// runBatches executes the plan's batches strictly in order; batch k+1
// never starts before every supervisor in batch k settled.
func (q *Queue) runBatches(ctx context.Context, plan *planner.Plan) {
	inv := q.invocation()
	events := q.log()

	for i, batch := range plan.Batches {
		if ctx.Err() != nil {
			return
		}
		events.Infof("batch %d/%d started (%d workers)", i+1, len(plan.Batches), len(batch))

		var g errgroup.Group
		for _, a := range batch {
			worker := q.workerByID(a.WorkerID)
			if worker == nil {
				continue
			}
			dir := filepath.Join(q.JobDir(), fmt.Sprintf("worker-%d", worker.ID))
			sup := executor.New(worker, inv, dir, q.onWorkerStatus)
			g.Go(func() error {
				// Worker errors are recorded on the worker itself and
				// must not abort siblings or later batches
				sup.Run(ctx)
				return nil
			})
		}
		g.Wait()

		events.Infof("batch %d/%d settled", i+1, len(plan.Batches))
	}
}

// runPostPhases runs aggregation and fix once all batches settled, and
// returns the run's terminal phase.
func (q *Queue) runPostPhases(ctx context.Context) domain.Phase {
	cfg := q.config()
	events := q.log()

	completed := q.completedOutputs()
	if len(completed) == 0 {
		events.Errorf("no workers completed")
		return domain.PhaseFailed
	}
	if !cfg.RunAggregate {
		return domain.PhaseCompleted
	}

	q.setPhase(domain.PhaseAggregating)
	prompt := executor.BuildAggregatePrompt(cfg.AggregatePrompt, completed)
	aggregatePath, err := q.runSingle(ctx, "aggregate", prompt)
	if ctx.Err() != nil {
		return domain.PhaseCancelled
	}
	if err != nil {
		events.Errorf("aggregation failed: %v", err)
		return domain.PhaseFailed
	}
	q.mu.Lock()
	q.aggregatePath = aggregatePath
	q.mu.Unlock()
	events.Infof("aggregate output written to %s", aggregatePath)

	if !cfg.RunFix {
		return domain.PhaseCompleted
	}

	q.setPhase(domain.PhaseFixing)
	prompt = executor.BuildFixPrompt(cfg.FixPrompt, aggregatePath)
	fixPath, err := q.runSingle(ctx, "fix", prompt)
	if ctx.Err() != nil {
		return domain.PhaseCancelled
	}
	if err != nil {
		// The aggregation artifact stays inspectable
		events.Errorf("fix pass failed: %v", err)
		return domain.PhaseFailed
	}
	q.mu.Lock()
	q.fixPath = fixPath
	q.mu.Unlock()
	events.Infof("fix output written to %s", fixPath)

	return domain.PhaseCompleted
}

// runSingle executes one phase-level agent invocation with the same
// supervision mechanics as a worker.
func (q *Queue) runSingle(ctx context.Context, name, prompt string) (string, error) {
	worker := &domain.Worker{Prompt: prompt, Status: domain.WorkerPending}
	sup := executor.New(worker, q.invocation(), filepath.Join(q.JobDir(), name), nil)
	if err := sup.Run(ctx); err != nil {
		return "", err
	}
	return worker.OutputPath, nil
}

// onWorkerStatus snapshots the worker for readers and records the
// transition in the event log.
func (q *Queue) onWorkerStatus(w *domain.Worker, status domain.WorkerStatus, errMsg string) {
	q.mu.Lock()
	q.views[w.ID] = *w
	events := q.events
	q.mu.Unlock()

	switch status {
	case domain.WorkerRunning:
		events.Infof("worker %d started", w.ID)
	case domain.WorkerCompleted:
		events.Infof("worker %d completed", w.ID)
	case domain.WorkerFailed:
		events.Warnf("worker %d failed: %s", w.ID, errMsg)
	}
	q.notifyChange()
}

// finish settles the run in its terminal phase and writes the history
// record. A persistence failure is logged, never fatal to the run.
func (q *Queue) finish(phase domain.Phase) {
	q.setPhase(phase)

	q.mu.Lock()
	now := time.Now()
	q.finishedAt = &now
	item := q.historyItemLocked()
	done := q.done
	events := q.events
	q.mu.Unlock()

	store, err := history.Open(item.Workspace)
	if err != nil {
		events.Errorf("%v", err)
	} else {
		if err := store.SaveRun(item, events.Events()); err != nil {
			events.Errorf("%v", err)
		}
		store.Close()
	}

	if q.opts.Notifier != nil {
		if err := q.opts.Notifier.Send(notify.ForRun(item)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: notification failed: %v\n", err)
		}
	}

	close(done)
	q.notifyChange()
}

func (q *Queue) setPhase(phase domain.Phase) {
	q.mu.Lock()
	if q.phase == phase || q.phase.Terminal() {
		q.mu.Unlock()
		return
	}
	q.phase = phase
	events := q.events
	q.mu.Unlock()

	events.Infof("phase: %s", phase)
	q.notifyChange()
}

func (q *Queue) historyItemLocked() *domain.HistoryItem {
	failed := 0
	for _, w := range q.workers {
		if q.views[w.ID].Status == domain.WorkerFailed {
			failed++
		}
	}
	createdAt := time.Now()
	if q.startedAt != nil {
		createdAt = *q.startedAt
	}
	return &domain.HistoryItem{
		JobID:         q.jobID,
		Workspace:     q.cfg.Workspace,
		CreatedAt:     createdAt,
		WorkerCount:   len(q.workers),
		FailedWorkers: failed,
		Model:         q.cfg.Model,
		JobDir:        q.jobDir,
		AggregatePath: q.aggregatePath,
		FixPath:       q.fixPath,
		Phase:         q.phase,
	}
}

func (q *Queue) invocation() executor.Invocation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return executor.Invocation{
		Binary:           q.opts.Binary,
		Workspace:        q.cfg.Workspace,
		Model:            q.cfg.Model,
		FullAuto:         q.cfg.FullAuto,
		SkipGitRepoCheck: q.cfg.SkipGitRepoCheck,
		Ephemeral:        q.cfg.Ephemeral,
	}
}

func (q *Queue) config() *domain.RunConfig {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cfg
}

func (q *Queue) log() *eventlog.Log {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.events
}

func (q *Queue) workerByID(id int) *domain.Worker {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, w := range q.workers {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (q *Queue) completedOutputs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var outputs []string
	for _, w := range q.workers {
		if v := q.views[w.ID]; v.Status == domain.WorkerCompleted {
			outputs = append(outputs, v.OutputPath)
		}
	}
	return outputs
}

func (q *Queue) notifyChange() {
	q.mu.RLock()
	fn := q.onChange
	q.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Phase returns the run's current macro-state
func (q *Queue) Phase() domain.Phase {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.phase
}

// JobID returns the active run's job id, empty when idle
func (q *Queue) JobID() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.jobID
}

// JobDir returns the active run's job directory
func (q *Queue) JobDir() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.jobDir
}

// Workers returns snapshots of all workers in plan order
func (q *Queue) Workers() []domain.Worker {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.Worker, 0, len(q.workers))
	for _, w := range q.workers {
		out = append(out, q.views[w.ID])
	}
	return out
}

// Counts returns aggregate worker counts for progress reporting
func (q *Queue) Counts() Counts {
	workers := q.Workers()
	c := Counts{Total: len(workers)}
	for _, w := range workers {
		switch w.Status {
		case domain.WorkerRunning:
			c.Running++
		case domain.WorkerCompleted:
			c.Completed++
		case domain.WorkerFailed:
			c.Failed++
		}
	}
	c.Finished = c.Completed + c.Failed
	return c
}

// Events returns the full run event log
func (q *Queue) Events() []domain.RunEvent {
	return q.log().Events()
}

// EventTail returns the most recent n run events
func (q *Queue) EventTail(n int) []domain.RunEvent {
	return q.log().Tail(n)
}

// Subscribe registers an event subscriber on the current run's log
func (q *Queue) Subscribe(fn eventlog.Subscriber) {
	q.log().Subscribe(fn)
}

// StartedAt returns when the active run started
func (q *Queue) StartedAt() *time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.startedAt
}

// FinishedAt returns when the active run finished
func (q *Queue) FinishedAt() *time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.finishedAt
}

// AggregatePath returns the aggregate artifact path, if produced
func (q *Queue) AggregatePath() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.aggregatePath
}

// FixPath returns the fix artifact path, if produced
func (q *Queue) FixPath() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.fixPath
}
