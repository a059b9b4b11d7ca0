package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"superagent/app/core/interaction/gateway"
	"superagent/app/core/orchestrator/router"
	"superagent/app/core/orchestrator/task"
	"superagent/app/core/orchestrator/worker"
	"superagent/app/core/scheduler"
	"superagent/app/pkg/logger"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultListLimit       = 50
	maxListLimit           = 500
)

// Server exposes the dispatcher and scheduler over a JSON API.
type Server struct {
	port            int
	router          *router.Router
	sched           *scheduler.Scheduler
	store           *task.Store
	statusProvider  func() gateway.HealthStatus
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewServer(port int, r *router.Router, sched *scheduler.Scheduler, store *task.Store) *Server {
	return &Server{
		port:            port,
		router:          r,
		sched:           sched,
		store:           store,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

func (s *Server) SetStatusProvider(provider func() gateway.HealthStatus) {
	s.statusProvider = provider
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dispatch", s.handleDispatch)
	mux.HandleFunc("/api/schedules", s.handleSchedules)
	mux.HandleFunc("/api/schedules/", s.handleScheduleByID)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskByID)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error: %v", err)
		}
	}()

	logger.Info("HTTP API listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type dispatchRequest struct {
	Skill string `json:"skill"`
	Query string `json:"query"`
}

type dispatchResponse struct {
	RequestID string `json:"request_id"`
	Skill     string `json:"skill"`
	Result    string `json:"result"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Skill) == "" || strings.TrimSpace(req.Query) == "" {
		http.Error(w, "skill and query are required", http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	result, err := s.router.Dispatch(r.Context(), worker.Skill(strings.ToLower(req.Skill)), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{
		RequestID: requestID,
		Skill:     strings.ToLower(req.Skill),
		Result:    result,
	})
}

type scheduleRequest struct {
	Skill  string `json:"skill"`
	Query  string `json:"query"`
	FireAt string `json:"fire_at,omitempty"`
	Delay  string `json:"delay,omitempty"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req scheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Skill) == "" || strings.TrimSpace(req.Query) == "" {
			http.Error(w, "skill and query are required", http.StatusBadRequest)
			return
		}
		fireAt, err := resolveFireAt(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		record, err := s.sched.Schedule(r.Context(), worker.Skill(strings.ToLower(req.Skill)), req.Query, fireAt)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"schedules": s.sched.Jobs(),
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := parseTaskID(strings.TrimPrefix(r.URL.Path, "/api/schedules/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.sched.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": task.JobID(id),
		"status": string(task.StatusCancelled),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	records, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": records,
	})
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := parseTaskID(strings.TrimPrefix(r.URL.Path, "/api/tasks/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	record, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"scheduled_jobs": len(s.sched.Jobs()),
		"queue":          s.sched.QueueStats(),
	}
	if s.statusProvider != nil {
		status["gateway"] = s.statusProvider()
	}
	writeJSON(w, http.StatusOK, status)
}

func resolveFireAt(req scheduleRequest) (time.Time, error) {
	switch {
	case strings.TrimSpace(req.FireAt) != "":
		at, err := time.Parse(time.RFC3339, req.FireAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid fire_at: %v", err)
		}
		return at, nil
	case strings.TrimSpace(req.Delay) != "":
		d, err := time.ParseDuration(req.Delay)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid delay: %v", err)
		}
		return time.Now().Add(d), nil
	default:
		return time.Time{}, fmt.Errorf("fire_at or delay is required")
	}
}

func parseTaskID(raw string) (int64, error) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "task_"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id: %s", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, worker.ErrUnknownSkill):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, task.ErrNotFound), errors.Is(err, scheduler.ErrNotScheduled):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, task.ErrIllegalTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
