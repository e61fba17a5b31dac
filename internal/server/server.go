package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"multistack/internal/pipeline"
	"multistack/internal/storage"
)

// Server exposes run history and live progress over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a server. pipe may be nil for a read-only history view.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		log:      log,
	}
}

// Handler builds the router. The websocket hub lives until ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/api/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", s.handleRun).Methods("GET")
	r.HandleFunc("/api/runs/{id}/commands", s.handleRunCommands).Methods("GET")
	r.HandleFunc("/api/runs/{id}/frames", s.handleRunFrames).Methods("GET")

	if s.pipeline != nil {
		updates, unsubscribe := s.pipeline.Subscribe()
		h := newHub(s.log)
		go func() {
			h.run(ctx, updates)
			unsubscribe()
		}()
		r.HandleFunc("/ws", h.handleWebSocket).Methods("GET")
		r.HandleFunc("/stream", s.handleStream).Methods("GET")
	}
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down status server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("status server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return 50
	}
	return n
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(limit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type submitRequest struct {
	Type      pipeline.JobType `json:"type"`
	Workspace string           `json:"workspace"`
	Options   map[string]any   `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no pipeline attached"))
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Type {
	case pipeline.JobRun, pipeline.JobCheck, pipeline.JobClean:
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown job type "+string(req.Type)))
		return
	}
	if req.Workspace == "" {
		writeError(w, http.StatusBadRequest, errors.New("workspace is required"))
		return
	}

	job := pipeline.Job{ID: uuid.NewString(), Type: req.Type, Workspace: req.Workspace, Options: req.Options}
	if err := s.pipeline.Submit(job); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.log.Info("job submitted over http", "id", job.ID, "type", job.Type, "workspace", job.Workspace)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentRuns(limit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Run(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	states, err := s.store.SessionStates(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		storage.RunRecord
		States map[string]string `json:"states"`
	}{rec, states})
}

func (s *Server) handleRunCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.store.RunCommands(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) handleRunFrames(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.FrameMetadata(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleStream relays pipeline updates as server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	updates, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, _ := json.Marshal(u)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
