// Package server exposes the control API and the embedded UI over a
// loopback HTTP listener, with a websocket stream for run events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/webpilot/webpilot/internal/browser"
	"github.com/webpilot/webpilot/internal/config"
	"github.com/webpilot/webpilot/internal/events"
	"github.com/webpilot/webpilot/internal/task"
	"github.com/webpilot/webpilot/web"
)

// Options wires the server to the rest of the application.
type Options struct {
	Cfg    *config.Store
	Bus    *events.Subject
	Runner *task.Runner
	Log    *slog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	cfg    *config.Store
	bus    *events.Subject
	runner *task.Runner
	log    *slog.Logger
	hub    *Hub

	// detect is swapped out in tests.
	detect func(candidates ...int) []int

	mu       sync.Mutex
	launched *browser.RunningChrome
}

// New builds a server; Run starts it.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:    opts.Cfg,
		bus:    opts.Bus,
		runner: opts.Runner,
		log:    log,
		hub:    newHub(log),
		detect: func(candidates ...int) []int {
			return browser.NewPortScanner().Detect(candidates...)
		},
	}
	s.hub.bind(opts.Bus)
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	host := s.cfg.GetString("server.host", "127.0.0.1")
	port := s.cfg.GetInt("server.port", 28710)
	return fmt.Sprintf("%s:%d", host, port)
}

// URL returns the base URL the UI is served from.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Run serves until ctx is cancelled, then shuts down gracefully and
// stops any Chrome instance the server launched.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.run(hubCtx)

	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	s.log.Info("control server listening", "url", s.URL())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	s.stopLaunchedChrome()
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/ws", s.hub.handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/tasks/run", s.handleRunStart)
		r.Post("/tasks/stop", s.handleRunStop)
		r.Get("/instances", s.handleInstances)
		r.Post("/chrome/launch", s.handleChromeLaunch)
		r.Get("/reports", s.handleReportList)
		r.Get("/reports/{name}", s.handleReportGet)
		r.Get("/config", s.handleConfigGet)
		r.Put("/config", s.handleConfigPut)
	})

	r.Handle("/*", http.FileServer(web.FileSystem()))
	return r
}

func (s *Server) stopLaunchedChrome() {
	s.mu.Lock()
	launched := s.launched
	s.launched = nil
	s.mu.Unlock()

	if launched == nil {
		return
	}
	if err := launched.Stop(5 * time.Second); err != nil {
		s.log.Warn("stopping launched chrome failed", "pid", launched.PID, "error", err)
	}
}
