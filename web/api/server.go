package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/quotio/review-orchestrator/internal/domain"
	"github.com/quotio/review-orchestrator/internal/history"
	"github.com/quotio/review-orchestrator/internal/queue"
)

// HistoryStore is the subset of run history the API reads.
type HistoryStore interface {
	ListRuns(workspace string, limit int) ([]*domain.HistoryItem, error)
	GetRun(jobID string) (*domain.HistoryItem, error)
	ListEvents(jobID string) ([]domain.RunEvent, error)
}

// Server is the HTTP API server
type Server struct {
	queue     *queue.Queue
	history   HistoryStore
	workspace string
	addr      string
	mux       *http.ServeMux
	sseHub    *SSEHub
}

// NewServer creates a new API server
func NewServer(q *queue.Queue, history HistoryStore, workspace, addr string) *Server {
	s := &Server{
		queue:     q,
		history:   history,
		workspace: workspace,
		addr:      addr,
		mux:       http.NewServeMux(),
		sseHub:    NewSSEHub(),
	}
	s.setupRoutes()
	if q != nil {
		q.OnChange(func() {
			s.Broadcast(SSEEvent{Type: "status_update", Data: s.statusResponse()})
		})
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/workers", s.listWorkersHandler())
	s.mux.HandleFunc("/api/events", s.listEventsHandler())
	s.mux.HandleFunc("/api/history", s.listHistoryHandler())
	s.mux.HandleFunc("/api/history/", s.getHistoryHandler())
	s.mux.HandleFunc("/api/run", s.startRunHandler())
	s.mux.HandleFunc("/api/run/cancel", s.cancelRunHandler())
	s.mux.HandleFunc("/api/run/rerun-failed", s.rerunFailedHandler())
	s.mux.HandleFunc("/api/stream", s.sseHandler())
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go s.sseHub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler returns the server's root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// WatchHistory pushes a fresh history listing to SSE clients whenever
// the workspace runs directory changes on disk.
func (s *Server) WatchHistory(ctx context.Context) error {
	r := history.NewRefresher(func(items []*domain.HistoryItem) {
		resp := make([]HistoryResponse, len(items))
		for i, item := range items {
			resp[i] = historyToResponse(*item, nil)
		}
		s.Broadcast(SSEEvent{Type: "history_update", Data: resp})
	})
	r.SetWorkspace(s.workspace)
	return r.Watch(ctx)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
