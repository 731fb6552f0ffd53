package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/quotio/review-orchestrator/internal/domain"
	"github.com/quotio/review-orchestrator/internal/queue"
)

// historyListLimit caps the number of runs returned by the history endpoint.
const historyListLimit = 50

// StatusResponse is the API response for the current run status
type StatusResponse struct {
	Phase         string       `json:"phase"`
	JobID         string       `json:"job_id,omitempty"`
	JobDir        string       `json:"job_dir,omitempty"`
	Counts        queue.Counts `json:"counts"`
	StartedAt     *string      `json:"started_at,omitempty"`
	FinishedAt    *string      `json:"finished_at,omitempty"`
	AggregatePath string       `json:"aggregate_path,omitempty"`
	FixPath       string       `json:"fix_path,omitempty"`
}

// WorkerResponse is the API response for a worker
type WorkerResponse struct {
	ID         int     `json:"id"`
	Prompt     string  `json:"prompt"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
	StartedAt  *string `json:"started_at,omitempty"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Duration   string  `json:"duration,omitempty"`
}

// HistoryResponse is the API response for a persisted run
type HistoryResponse struct {
	JobID         string            `json:"job_id"`
	Workspace     string            `json:"workspace"`
	CreatedAt     string            `json:"created_at"`
	WorkerCount   int               `json:"worker_count"`
	FailedWorkers int               `json:"failed_workers"`
	Model         string            `json:"model,omitempty"`
	JobDir        string            `json:"job_dir"`
	AggregatePath string            `json:"aggregate_path,omitempty"`
	FixPath       string            `json:"fix_path,omitempty"`
	Phase         string            `json:"phase"`
	Events        []domain.RunEvent `json:"events,omitempty"`
}

// RunRequest is the API request body to start a run
type RunRequest struct {
	Workspace        string   `json:"workspace"`
	Workers          int      `json:"workers"`
	Prompt           string   `json:"prompt"`
	Prompts          []string `json:"prompts,omitempty"`
	AggregatePrompt  string   `json:"aggregate_prompt,omitempty"`
	FixPrompt        string   `json:"fix_prompt,omitempty"`
	Model            string   `json:"model,omitempty"`
	FullAuto         bool     `json:"full_auto"`
	SkipGitRepoCheck bool     `json:"skip_git_repo_check"`
	Ephemeral        bool     `json:"ephemeral"`
	Aggregate        bool     `json:"aggregate"`
	Fix              bool     `json:"fix"`
}

func workerToResponse(w domain.Worker) WorkerResponse {
	resp := WorkerResponse{
		ID:         w.ID,
		Prompt:     w.Prompt,
		Status:     string(w.Status),
		Error:      w.ErrorMessage,
		OutputPath: w.OutputPath,
	}

	if w.StartedAt != nil {
		t := w.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &t
	}
	if w.FinishedAt != nil {
		t := w.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	if w.StartedAt != nil {
		end := time.Now()
		if w.FinishedAt != nil {
			end = *w.FinishedAt
		}
		resp.Duration = end.Sub(*w.StartedAt).Round(time.Second).String()
	}

	return resp
}

func historyToResponse(item domain.HistoryItem, events []domain.RunEvent) HistoryResponse {
	return HistoryResponse{
		JobID:         item.JobID,
		Workspace:     item.Workspace,
		CreatedAt:     item.CreatedAt.Format(time.RFC3339),
		WorkerCount:   item.WorkerCount,
		FailedWorkers: item.FailedWorkers,
		Model:         item.Model,
		JobDir:        item.JobDir,
		AggregatePath: item.AggregatePath,
		FixPath:       item.FixPath,
		Phase:         string(item.Phase),
		Events:        events,
	}
}

func (s *Server) statusResponse() StatusResponse {
	resp := StatusResponse{
		Phase:         string(s.queue.Phase()),
		JobID:         s.queue.JobID(),
		JobDir:        s.queue.JobDir(),
		Counts:        s.queue.Counts(),
		AggregatePath: s.queue.AggregatePath(),
		FixPath:       s.queue.FixPath(),
	}
	if at := s.queue.StartedAt(); at != nil {
		t := at.Format(time.RFC3339)
		resp.StartedAt = &t
	}
	if at := s.queue.FinishedAt(); at != nil {
		t := at.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		writeJSON(w, s.statusResponse())
	}
}

func (s *Server) listWorkersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		workers := s.queue.Workers()
		resp := make([]WorkerResponse, len(workers))
		for i, wk := range workers {
			resp[i] = workerToResponse(wk)
		}

		writeJSON(w, resp)
	}
}

func (s *Server) listEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		events := s.queue.Events()
		if events == nil {
			events = []domain.RunEvent{}
		}
		writeJSON(w, events)
	}
}

func (s *Server) listHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		items, err := s.history.ListRuns(s.workspace, historyListLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]HistoryResponse, len(items))
		for i, item := range items {
			resp[i] = historyToResponse(*item, nil)
		}

		writeJSON(w, resp)
	}
}

func (s *Server) getHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		jobID := strings.TrimPrefix(r.URL.Path, "/api/history/")
		if jobID == "" || strings.Contains(jobID, "/") {
			writeError(w, http.StatusBadRequest, "job ID required")
			return
		}

		item, err := s.history.GetRun(jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if item == nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}

		events, err := s.history.ListEvents(jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, historyToResponse(*item, events))
	}
}

func (s *Server) startRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		workspace := req.Workspace
		if workspace == "" {
			workspace = s.workspace
		}

		cfg := &domain.RunConfig{
			Workspace:        workspace,
			WorkerCount:      req.Workers,
			PromptList:       req.Prompts,
			Prompt:           req.Prompt,
			AggregatePrompt:  req.AggregatePrompt,
			FixPrompt:        req.FixPrompt,
			Model:            req.Model,
			FullAuto:         req.FullAuto,
			SkipGitRepoCheck: req.SkipGitRepoCheck,
			Ephemeral:        req.Ephemeral,
			RunAggregate:     req.Aggregate,
			RunFix:           req.Fix,
		}

		jobID, err := s.queue.StartRun(cfg)
		if err != nil {
			var cfgErr *domain.ConfigError
			if errors.As(err, &cfgErr) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		writeJSON(w, map[string]string{"status": "started", "job_id": jobID})
	}
}

func (s *Server) cancelRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		s.queue.CancelRun()

		writeJSON(w, map[string]string{"status": "cancelling"})
	}
}

func (s *Server) rerunFailedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := s.queue.RerunFailedWorkers(); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		writeJSON(w, map[string]string{"status": "rerunning", "job_id": s.queue.JobID()})
	}
}
