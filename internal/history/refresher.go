package history

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quotio/review-orchestrator/internal/domain"
)

// DefaultListLimit bounds how many history items a refresh exposes
const DefaultListLimit = 10

// RefreshCallback receives the refreshed listing, most recent first
type RefreshCallback func(items []*domain.HistoryItem)

// Refresher re-reads the history index for the current workspace.
// Refreshes are debounced so rapid workspace-path edits or bursts of
// filesystem events collapse into one disk scan.
type Refresher struct {
	callback RefreshCallback
	debounce time.Duration
	limit    int

	mu            sync.Mutex
	workspace     string
	timer         *time.Timer
	refreshing    bool
	lastRefreshAt time.Time
	lastErr       error
	items         []*domain.HistoryItem

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewRefresher creates a refresher with the default debounce and limit
func NewRefresher(callback RefreshCallback) *Refresher {
	return &Refresher{
		callback: callback,
		debounce: 500 * time.Millisecond,
		limit:    DefaultListLimit,
	}
}

// SetWorkspace switches the refresher to a new workspace path and
// schedules a refresh. Consecutive calls while the user is still typing
// a path coalesce into one scan.
func (r *Refresher) SetWorkspace(workspace string) {
	r.mu.Lock()
	changed := r.workspace != workspace
	r.workspace = workspace
	watcher := r.watcher
	r.mu.Unlock()

	if changed && watcher != nil {
		r.rewatch(workspace)
	}
	r.Schedule()
}

// Schedule requests a refresh after the debounce window. Calling it again
// before the window elapses restarts the timer.
func (r *Refresher) Schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.RefreshNow()
	})
}

// RefreshNow re-reads the history index immediately. A read failure keeps
// the previous listing and is surfaced via Err, never as a fatal error.
func (r *Refresher) RefreshNow() error {
	r.mu.Lock()
	if r.refreshing {
		r.mu.Unlock()
		return nil
	}
	r.refreshing = true
	workspace := r.workspace
	limit := r.limit
	r.mu.Unlock()

	items, err := listWorkspace(workspace, limit)

	r.mu.Lock()
	r.refreshing = false
	r.lastRefreshAt = time.Now()
	r.lastErr = err
	if err == nil {
		r.items = items
	}
	items = r.items
	callback := r.callback
	r.mu.Unlock()

	if err == nil && callback != nil {
		callback(items)
	}
	return err
}

func listWorkspace(workspace string, limit int) ([]*domain.HistoryItem, error) {
	if workspace == "" {
		return nil, nil
	}
	if _, err := os.Stat(DBPath(workspace)); os.IsNotExist(err) {
		// No runs recorded yet
		return nil, nil
	}

	store, err := New(DBPath(workspace))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: err}
	}
	defer store.Close()

	return store.ListRuns(workspace, limit)
}

// Items returns the most recently refreshed listing
func (r *Refresher) Items() []*domain.HistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.HistoryItem, len(r.items))
	copy(out, r.items)
	return out
}

// IsRefreshing reports whether a refresh is currently reading the index
func (r *Refresher) IsRefreshing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshing
}

// LastRefreshAt returns when the last refresh finished
func (r *Refresher) LastRefreshAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefreshAt
}

// Err returns the error from the last refresh, if any
func (r *Refresher) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Watch starts watching the workspace's job-records directory and
// schedules a refresh whenever it changes.
func (r *Refresher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = watcher
	workspace := r.workspace
	r.mu.Unlock()

	if workspace != "" {
		r.rewatch(workspace)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.Schedule()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}

// rewatch points the watcher at the new workspace's runs directory
func (r *Refresher) rewatch(workspace string) {
	r.mu.Lock()
	watcher := r.watcher
	r.mu.Unlock()
	if watcher == nil {
		return
	}

	for _, dir := range watcher.WatchList() {
		watcher.Remove(dir)
	}

	dir := RunsDir(workspace)
	if _, err := os.Stat(dir); err != nil {
		return // Nothing to watch until the first run creates it
	}
	watcher.Add(dir)
}

// Stop stops the watcher goroutine
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
