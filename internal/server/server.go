// Package server exposes the vault over HTTP.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/mediavault/internal/auth"
	"github.com/koustreak/mediavault/internal/logger"
	"github.com/koustreak/mediavault/internal/notify"
	"github.com/koustreak/mediavault/internal/notify/journal"
	"github.com/koustreak/mediavault/internal/vault"
)

// Config holds listener settings.
type Config struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds a whole response. Zero leaves long downloads
	// unbounded; idle clients are still cut by the stream context.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DefaultConfig returns listener defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		MaxUploadBytes:    5 << 30, // 5 GiB
	}
}

// Files is the vault surface the handlers need.
type Files interface {
	Upload(ctx context.Context, filename string, r io.Reader) (vault.Receipt, error)
	Describe(ctx context.Context, key, rawRange string) (*vault.Descriptor, error)
	Download(ctx context.Context, key, rawRange string) (*vault.Descriptor, error)
}

// Authenticator logs users in and checks bearer tokens.
type Authenticator interface {
	Login(username, password string) (auth.Token, error)
	Verify(raw string) (auth.Principal, error)
}

// EventLog lists recently published events.
type EventLog interface {
	Recent(ctx context.Context, kind notify.Kind, limit, offset int) ([]journal.Entry, error)
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the vault.
type Server struct {
	cfg    *Config
	files  Files
	auth   Authenticator
	events EventLog
	ready  []Pinger
	log    *logger.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithEventLog enables GET /api/events.
func WithEventLog(l EventLog) Option { return func(s *Server) { s.events = l } }

// WithReadiness adds a dependency checked by GET /ready.
func WithReadiness(p Pinger) Option { return func(s *Server) { s.ready = append(s.ready, p) } }

// WithLogger sets the server logger.
func WithLogger(l *logger.Logger) Option { return func(s *Server) { s.log = l } }

// New creates a server. A nil cfg means DefaultConfig.
func New(cfg *Config, files Files, authn Authenticator, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:   cfg,
		files: files,
		auth:  authn,
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Component("http")
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// HTTPServer builds an http.Server for the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
// within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := s.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogging)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Post("/auth/login", s.handleLogin)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/files", s.handleUpload)
		r.Get("/files/{key}", s.handleDownload)
		r.Head("/files/{key}", s.handleHead)
		r.Get("/events", s.handleEvents)
	})
	return r
}
