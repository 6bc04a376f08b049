// Package admin implements a read-only HTTP surface over the supervisor's
// Child Table: a JSON listing, per-child output tails, SSE tailing, and a
// kill endpoint restricted to pids the supervisor already tracks. None of
// this drives supervision — it only observes and signals what the wire
// protocol's control channel already owns.
package admin

import (
	"context"
	"net/http"

	"github.com/rivenq/execport/supervisor"
)

// Server serves the admin dashboard for viewing and signalling children.
type Server struct {
	sup    *supervisor.Supervisor
	server *http.Server
}

// NewServer creates an admin server bound to addr, backed by sup.
func NewServer(addr string, sup *supervisor.Supervisor) *Server {
	s := &Server{sup: sup}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/processes", s.handleListProcesses)
	mux.HandleFunc("GET /api/processes/{pid}/logs", s.handleGetLogs)
	mux.HandleFunc("GET /api/processes/{pid}/logs/stream", s.handleStreamLogs)
	mux.HandleFunc("POST /api/processes/{pid}/kill", s.handleKillProcess)
	mux.HandleFunc("GET /", s.handleIndex)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// Start begins serving HTTP requests. This blocks until the server is shut down.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("execport admin surface: GET /api/processes, GET /api/processes/{pid}/logs, GET /api/processes/{pid}/logs/stream, POST /api/processes/{pid}/kill\n"))
}
