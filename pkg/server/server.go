// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes runs over HTTP: start a run, watch its event
// stream via SSE, inspect team state, and cancel.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/teradata-labs/tapestry/pkg/run"
	"go.uber.org/zap"
)

// RunFactory builds a fresh, unstarted run per request.
type RunFactory func() (*run.Run, error)

// Options configures the HTTP server.
type Options struct {
	Addr   string
	NewRun RunFactory
	Logger *zap.Logger
}

// Server serves the run API. Each run gets its own SSE stream keyed by
// run id; subscribers attach at any point and receive events from then on.
type Server struct {
	newRun RunFactory
	logger *zap.Logger

	mu   sync.Mutex
	runs map[string]*run.Run

	events     *sse.Server
	httpServer *http.Server
}

// New creates the server. Start begins listening.
func New(opts Options) (*Server, error) {
	if opts.NewRun == nil {
		return nil, fmt.Errorf("server: a run factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	events := sse.New()
	events.AutoReplay = false

	s := &Server{
		newRun: opts.NewRun,
		logger: logger,
		runs:   make(map[string]*run.Run),
		events: events,
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the route mux, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/runs", s.handleStartRun)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleRunStatus)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", s.handleCancelRun)
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

type startRunRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "a non-empty prompt is required"})
		return
	}

	rn, err := s.newRun()
	if err != nil {
		s.logger.Error("failed to create run", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.runs[rn.ID()] = rn
	s.mu.Unlock()

	// The bridge must attach before Start so no events are missed.
	s.bridge(rn)

	if err := rn.Start(req.Prompt); err != nil {
		s.logger.Error("failed to start run", zap.String("run_id", rn.ID()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	s.logger.Info("run accepted", zap.String("run_id", rn.ID()))
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": rn.ID()})
}

// bridge forwards the run's bus onto its SSE stream. The stream closes
// when the bus does, after RunEnd.
func (s *Server) bridge(rn *run.Run) {
	id := rn.ID()
	s.events.CreateStream(id)
	sub := rn.Bus().Subscribe(512)
	go func() {
		for ev := range sub.C {
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("failed to encode event", zap.String("run_id", id), zap.Error(err))
				continue
			}
			s.events.Publish(id, &sse.Event{
				Event: []byte(ev.Type),
				Data:  data,
			})
		}
		s.events.RemoveStream(id)
	}()
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*run.Run, bool) {
	id := r.PathValue("id")
	s.mu.Lock()
	rn, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("unknown run %q", id)})
		return nil, false
	}
	return rn, true
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": rn.ID(),
		"team":   rn.Team().View(),
	})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	// The SSE library selects streams by query parameter.
	q := r.URL.Query()
	q.Set("stream", rn.ID())
	r.URL.RawQuery = q.Encode()
	s.events.ServeHTTP(w, r)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	rn.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": rn.ID(), "status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
