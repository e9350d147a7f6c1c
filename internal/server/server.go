// Package server exposes the engine over HTTP: one worker endpoint per
// registered stage, a job intake and inspection API, and a daemon status
// endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pressroom/internal/background"
	"pressroom/internal/logging"
	"pressroom/internal/pipeline"
	"pressroom/internal/queue"
	"pressroom/internal/runner"
)

// Server is the daemon's HTTP surface.
type Server struct {
	store    *queue.Store
	registry *pipeline.Registry
	runner   *runner.Runner
	tasks    *background.Group
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New assembles the server and its routes.
func New(bind string, store *queue.Store, registry *pipeline.Registry, run *runner.Runner, tasks *background.Group, logger *slog.Logger) *Server {
	s := &Server{
		store:    store,
		registry: registry,
		runner:   run,
		tasks:    tasks,
		logger:   logging.WithComponent(logger, "server"),
	}

	router := chi.NewRouter()
	router.MethodNotAllowed(s.handleMethodNotAllowed)

	for _, stage := range registry.HandlerStages() {
		route := "/" + stage + "-worker"
		router.Post(route, s.workerHandler(stage))
		router.Options(route, s.handleOptions)
	}

	router.Post("/jobs", s.handleCreateJob)
	router.Get("/jobs/{id}", s.handleGetJob)
	router.Get("/status", s.handleStatus)

	s.httpSrv = &http.Server{
		Addr:         bind,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", logging.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
}

func writeCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
