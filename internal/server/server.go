package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/trader-chat/internal/chat"
)

// Sender runs a send cycle on a session.
type Sender interface {
	Send(ctx context.Context, s *chat.Session, text string) error
}

// Checker is a dependency probed by /health.
type Checker interface {
	Ping(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	AllowedOrigins []string
	SendTimeout    time.Duration
	PingInterval   time.Duration
	MetricsPath    string
}

// Server serves the session API.
type Server struct {
	cfg      Config
	sender   Sender
	sessions *Registry
	checks   map[string]Checker
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCheck adds a named dependency to /health.
func WithCheck(name string, c Checker) Option {
	return func(s *Server) {
		s.checks[name] = c
	}
}

// WithRegistry uses an existing session registry.
func WithRegistry(r *Registry) Option {
	return func(s *Server) {
		s.sessions = r
	}
}

// New creates a server that runs sends through sender.
func New(cfg Config, sender Sender, opts ...Option) *Server {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		cfg:      cfg,
		sender:   sender,
		sessions: NewRegistry(),
		checks:   make(map[string]Checker),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sessions returns the session registry.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(recordMetrics)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle(s.cfg.MetricsPath, promhttp.Handler())

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Put("/provider", s.handleSelectProvider)
			r.Post("/messages", s.handleSendMessage)
			r.Get("/stream", s.handleStream)
		})
	})

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully and
// closes every session.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Closing sessions ends their streams so Shutdown does not wait on them.
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
