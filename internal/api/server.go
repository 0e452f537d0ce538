// Package api exposes the remediation pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/observability"
	"github.com/veridoc-ai/remediation-engine/internal/pipeline"
)

// Server runs remediation requests asynchronously and keeps finished
// results in memory for retrieval.
type Server struct {
	orchestrator *pipeline.Orchestrator
	logger       *observability.Logger
	maxUpload    int64

	mu      sync.RWMutex
	results map[uuid.UUID]*pipeline.Result
	pending map[uuid.UUID]bool
}

func NewServer(orchestrator *pipeline.Orchestrator, maxUpload int64, logger *observability.Logger) *Server {
	return &Server{
		orchestrator: orchestrator,
		logger:       logger,
		maxUpload:    maxUpload,
		results:      make(map[uuid.UUID]*pipeline.Result),
		pending:      make(map[uuid.UUID]bool),
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/{runID}", s.handleGetRun)
		r.Post("/{runID}/cancel", s.handleCancelRun)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRunResponse struct {
	RunID string `json:"runId"`
	State string `json:"state"`
}

// handleCreateRun accepts a multipart upload ("file" part plus a "userId"
// field), starts the pipeline in the background and returns the run id.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}
	userID := r.FormValue("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload: "+err.Error())
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
		return
	}

	req := pipeline.Request{
		UserID:   userID,
		FileName: header.Filename,
		FileType: header.Header.Get("Content-Type"),
		Data:     data,
	}

	runID := s.start(req)
	writeJSON(w, http.StatusAccepted, createRunResponse{RunID: runID.String(), State: string(pipeline.StateRegistered)})
}

// start launches the pipeline detached from the request context so an
// impatient client disconnect does not cancel the run.
func (s *Server) start(req pipeline.Request) uuid.UUID {
	req.RunID = uuid.New()

	s.mu.Lock()
	s.pending[req.RunID] = true
	s.mu.Unlock()

	go func() {
		result := s.orchestrator.Execute(context.Background(), req)
		s.mu.Lock()
		s.results[result.RunID] = result
		delete(s.pending, result.RunID)
		s.mu.Unlock()
	}()
	return req.RunID
}

type runStatusResponse struct {
	RunID  string           `json:"runId"`
	State  string           `json:"state"`
	Result *pipeline.Result `json:"result,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	if state, ok := s.orchestrator.Status(id); ok {
		writeJSON(w, http.StatusOK, runStatusResponse{RunID: id.String(), State: string(state)})
		return
	}

	s.mu.RLock()
	result, ok := s.results[id]
	isPending := s.pending[id]
	s.mu.RUnlock()
	if ok {
		writeJSON(w, http.StatusOK, runStatusResponse{RunID: id.String(), State: string(result.State), Result: result})
		return
	}
	if isPending {
		writeJSON(w, http.StatusOK, runStatusResponse{RunID: id.String(), State: string(pipeline.StateRegistered)})
		return
	}
	writeError(w, http.StatusNotFound, "run not found")
}

type cancelRunResponse struct {
	RunID     string `json:"runId"`
	State     string `json:"state"`
	Cancelled bool   `json:"cancelled"`
}

// handleCancelRun flags a live run for cancellation. Cancelling a run that
// already reached a terminal state is a no-op, not an error; only an unknown
// run id fails.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	if s.orchestrator.Cancel(id) {
		writeJSON(w, http.StatusAccepted, cancelRunResponse{RunID: id.String(), State: "cancelling", Cancelled: true})
		return
	}

	s.mu.RLock()
	result, finished := s.results[id]
	isPending := s.pending[id]
	s.mu.RUnlock()
	if finished {
		writeJSON(w, http.StatusOK, cancelRunResponse{RunID: id.String(), State: string(result.State), Cancelled: false})
		return
	}
	if isPending {
		writeJSON(w, http.StatusOK, cancelRunResponse{RunID: id.String(), State: string(pipeline.StateRegistered), Cancelled: false})
		return
	}
	writeError(w, http.StatusNotFound, "run not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// StatusForCode maps a pipeline error code to an HTTP status.
func StatusForCode(code domain.Code) int {
	switch code {
	case domain.CodeInvalidFormat:
		return http.StatusUnprocessableEntity
	case domain.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.CodeInsufficientCredit:
		return http.StatusPaymentRequired
	case domain.CodeCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
