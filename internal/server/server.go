// Package server exposes the orchestrator over HTTP: session CRUD, the
// human approval gate and the SSE event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/draftfoundry/foundry/internal/checkpoint"
	"github.com/draftfoundry/foundry/internal/orchestrator"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// Server is the daemon's HTTP front end.
type Server struct {
	engine *orchestrator.Engine
	store  checkpoint.Store
	server *http.Server

	// keepaliveInterval for SSE streams; tests shorten it.
	keepaliveInterval time.Duration
}

// NewServer creates the HTTP server on the given listen address.
func NewServer(engine *orchestrator.Engine, store checkpoint.Store, addr string) *Server {
	s := &Server{
		engine:            engine,
		store:             store,
		keepaliveInterval: 15 * time.Second,
	}
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: SSE streams stay open indefinitely.
	}
	return s
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/state", s.handleGetState)
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /api/sessions/{id}/approve", s.handleApprove)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Server] HTTP server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type createSessionRequest struct {
	Request string            `json:"request"`
	Hints   map[string]string `json:"hints,omitempty"`
	// MaxIterations overrides the daemon's iteration bound for this
	// session. Zero means use the default.
	MaxIterations int `json:"max_iterations,omitempty"`
}

type approveRequest struct {
	EditedDraft string `json:"edited_draft,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleCreateSession handles POST /api/sessions. Returns 202: the session
// runs asynchronously and the caller follows it via the stream or state
// endpoints.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if req.Request == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("request cannot be empty"))
		return
	}

	var info *blackboard.SessionInfo
	var err error
	if req.MaxIterations != 0 {
		info, err = s.engine.CreateSessionWithLimit(r.Context(), req.Request, req.Hints, req.MaxIterations)
	} else {
		info, err = s.engine.CreateSession(r.Context(), req.Request, req.Hints)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusAccepted, info)
}

// handleListSessions handles GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.engine.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleGetState handles GET /api/sessions/{id}/state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleApprove handles POST /api/sessions/{id}/approve. A session that is
// not parked at the gate returns 409 and mutates nothing.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
			return
		}
	}

	state, err := s.engine.Approve(r.Context(), r.PathValue("id"), req.EditedDraft, req.Feedback)
	if err != nil {
		if errors.Is(err, orchestrator.ErrConflict) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream handles GET /api/sessions/{id}/stream. The client first
// receives a state_snapshot of the current checkpoint (late joiners catch
// up), then live events until it disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	// Subscribe before the snapshot read so no event falls in the gap.
	sub, err := s.engine.Subscribe(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer sub.Close()

	state, err := s.engine.GetState(r.Context(), sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	setSSEHeaders(w)
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := sse.WriteEvent(&blackboard.Event{
		Kind:        blackboard.EventStateSnapshot,
		SessionID:   sessionID,
		State:       state,
		CreatedAtMs: time.Now().UnixMilli(),
	}); err != nil {
		return
	}

	keepalive := time.NewTicker(s.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sse.WriteEvent(event); err != nil {
				return
			}

		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			log.Printf("[Server] Stream error for session %s: %v", sessionID, err)

		case <-keepalive.C:
			if err := sse.WriteKeepalive(); err != nil {
				return
			}
		}
	}
}

// handleHealth handles GET /healthz. Returns 200 if the checkpoint backend
// is reachable, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeStoreError maps checkpoint errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if checkpoint.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
