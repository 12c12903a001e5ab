// Package transport exposes the workflow engine over HTTP: a run-and-stream
// endpoint that emits one JSON line per event, and a Prometheus /metrics
// endpoint.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maverick-run/maverick/workflow"
)

// WorkflowLookup resolves a workflow by name, the same contract
// registry.Registry[*workflow.Workflow].Get already satisfies.
type WorkflowLookup func(name string) (*workflow.Workflow, error)

// Runner is the subset of runtime.Runtime the server needs: run a workflow
// and stream its events.
type Runner interface {
	Run(ctx context.Context, wf *workflow.Workflow, inputs map[string]any, journalPath string, emit workflow.EventCallback) (*workflow.RunResult, error)
}

// Server is the chi-routed HTTP front end.
type Server struct {
	router chi.Router
	runner Runner
	lookup WorkflowLookup
}

// New builds a Server. promHandler is typically promhttp.HandlerFor(reg, ...).
func New(runner Runner, lookup WorkflowLookup, promHandler http.Handler) *Server {
	s := &Server{runner: runner, lookup: lookup}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/workflows/{name}/runs", s.handleRun)
	if promHandler == nil {
		promHandler = promhttp.Handler()
	}
	r.Handle("/metrics", promHandler)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

type runRequest struct {
	Inputs      map[string]any `json:"inputs"`
	JournalPath string         `json:"journal_path"`
}

// handleRun runs the named workflow and streams its events back as
// newline-delimited JSON, flushing after every write so the client observes
// progress in real time.
func (s *Server) handleRun(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")
	wf, err := s.lookup(name)
	if err != nil {
		http.Error(w, fmt.Sprintf("unknown workflow %q: %v", name, err), http.StatusNotFound)
		return
	}

	var body runRequest
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	emit := func(ev workflow.Event) {
		_ = enc.Encode(ev)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if _, err := s.runner.Run(req.Context(), wf, body.Inputs, body.JournalPath, emit); err != nil {
		_ = enc.Encode(map[string]string{"error": err.Error()})
		if flusher != nil {
			flusher.Flush()
		}
	}
}
