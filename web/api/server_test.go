package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quotio/review-orchestrator/internal/domain"
	"github.com/quotio/review-orchestrator/internal/queue"
)

func newTestServer(history HistoryStore) *Server {
	q := queue.New(queue.Options{})
	return NewServer(q, history, "/tmp/workspace", ":8080")
}

func TestStatusHandler(t *testing.T) {
	server := newTestServer(&mockHistory{})
	handler := server.statusHandler()

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}

	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if status.Phase != string(domain.PhaseIdle) {
		t.Errorf("Phase = %q, want %q", status.Phase, domain.PhaseIdle)
	}
	if status.Counts.Total != 0 {
		t.Errorf("Counts.Total = %d, want 0", status.Counts.Total)
	}
}

func TestListWorkersHandler_Empty(t *testing.T) {
	server := newTestServer(&mockHistory{})
	handler := server.listWorkersHandler()

	req := httptest.NewRequest("GET", "/api/workers", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}

	var workers []WorkerResponse
	json.NewDecoder(w.Body).Decode(&workers)

	if len(workers) != 0 {
		t.Errorf("Worker count = %d, want 0", len(workers))
	}
}

func TestListHistoryHandler(t *testing.T) {
	history := &mockHistory{
		items: []domain.HistoryItem{
			{JobID: "job-1", Workspace: "/tmp/workspace", CreatedAt: time.Now(), WorkerCount: 4, Phase: domain.PhaseCompleted},
			{JobID: "job-2", Workspace: "/tmp/workspace", CreatedAt: time.Now(), WorkerCount: 2, FailedWorkers: 1, Phase: domain.PhaseFailed},
		},
	}

	server := newTestServer(history)
	handler := server.listHistoryHandler()

	req := httptest.NewRequest("GET", "/api/history", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}

	var items []HistoryResponse
	json.NewDecoder(w.Body).Decode(&items)

	if len(items) != 2 {
		t.Fatalf("Item count = %d, want 2", len(items))
	}
	if items[0].JobID != "job-1" {
		t.Errorf("JobID = %q, want %q", items[0].JobID, "job-1")
	}
	if items[1].FailedWorkers != 1 {
		t.Errorf("FailedWorkers = %d, want 1", items[1].FailedWorkers)
	}
}

func TestGetHistoryHandler(t *testing.T) {
	history := &mockHistory{
		items: []domain.HistoryItem{
			{JobID: "job-1", Workspace: "/tmp/workspace", CreatedAt: time.Now(), WorkerCount: 4, Phase: domain.PhaseCompleted},
		},
		events: map[string][]domain.RunEvent{
			"job-1": {
				{Timestamp: time.Now(), Level: domain.LevelInfo, Message: "phase: preparing"},
				{Timestamp: time.Now(), Level: domain.LevelInfo, Message: "phase: completed"},
			},
		},
	}

	server := newTestServer(history)
	handler := server.getHistoryHandler()

	req := httptest.NewRequest("GET", "/api/history/job-1", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var item HistoryResponse
	json.NewDecoder(w.Body).Decode(&item)

	if item.JobID != "job-1" {
		t.Errorf("JobID = %q, want %q", item.JobID, "job-1")
	}
	if len(item.Events) != 2 {
		t.Errorf("Event count = %d, want 2", len(item.Events))
	}
}

func TestGetHistoryHandler_NotFound(t *testing.T) {
	server := newTestServer(&mockHistory{})
	handler := server.getHistoryHandler()

	req := httptest.NewRequest("GET", "/api/history/missing", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestStartRunHandler_InvalidConfig(t *testing.T) {
	server := newTestServer(&mockHistory{})
	handler := server.startRunHandler()

	// No prompt and no prompt list is rejected before anything starts
	body := strings.NewReader(`{"workspace": "/tmp/workspace", "workers": 4}`)
	req := httptest.NewRequest("POST", "/api/run", body)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
	if server.queue.Phase() != domain.PhaseIdle {
		t.Errorf("Phase = %q, want idle", server.queue.Phase())
	}
}

func TestStartRunHandler_MethodNotAllowed(t *testing.T) {
	server := newTestServer(&mockHistory{})
	handler := server.startRunHandler()

	req := httptest.NewRequest("GET", "/api/run", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", w.Code)
	}
}

type mockHistory struct {
	items  []domain.HistoryItem
	events map[string][]domain.RunEvent
}

func (m *mockHistory) ListRuns(workspace string, limit int) ([]*domain.HistoryItem, error) {
	out := make([]*domain.HistoryItem, len(m.items))
	for i := range m.items {
		out[i] = &m.items[i]
	}
	return out, nil
}

func (m *mockHistory) GetRun(jobID string) (*domain.HistoryItem, error) {
	for _, item := range m.items {
		if item.JobID == jobID {
			return &item, nil
		}
	}
	return nil, nil
}

func (m *mockHistory) ListEvents(jobID string) ([]domain.RunEvent, error) {
	return m.events[jobID], nil
}
