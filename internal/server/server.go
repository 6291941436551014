// Package server wires the PolyDocs HTTP surface: the GitHub webhook endpoint,
// the health probe, build status lookups and the Prometheus scrape endpoint.
package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/polydocs/internal/config"
	"git.home.luguber.info/inful/polydocs/internal/foundation/errors"
	"git.home.luguber.info/inful/polydocs/internal/logfields"
	"git.home.luguber.info/inful/polydocs/internal/metrics"
	"git.home.luguber.info/inful/polydocs/internal/server/handlers"
	"git.home.luguber.info/inful/polydocs/internal/server/middleware"
)

// Ledger is the part of the build ledger the HTTP surface reads.
type Ledger interface {
	handlers.Pinger
	handlers.BuildReader
}

// Dependencies are the collaborators behind the routes. Intake is required;
// a nil Ledger drops the build routes and the ledger health check, and a nil
// Gatherer drops /metrics.
type Dependencies struct {
	Intake   handlers.Intake
	Ledger   Ledger
	Gatherer prom.Gatherer
	Logger   *slog.Logger
}

// Server is the PolyDocs HTTP server.
type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger
	errCh  chan error
}

// New builds the router and the underlying http.Server.
func New(cfg config.ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: logger,
		errCh:  make(chan error, 1),
	}
	s.setupRoutes(deps)
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(deps Dependencies) {
	adapter := errors.NewHTTPErrorAdapter(s.logger)
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Chain(s.logger, adapter))

	var pinger handlers.Pinger
	if deps.Ledger != nil {
		pinger = deps.Ledger
	}
	monitoring := handlers.NewMonitoringHandlers(pinger, s.logger)
	s.router.Get("/health", monitoring.HandleHealthCheck)

	// Registered for every method so non-POST requests get the handler's 405 body.
	s.router.Handle(s.cfg.WebhookPath, handlers.NewWebhookHandler(deps.Intake, s.cfg.MaxBodyBytes, s.logger))

	if deps.Ledger != nil {
		builds := handlers.NewBuildHandlers(deps.Ledger, s.logger)
		s.router.Get("/builds/{id}", builds.HandleGetBuild)
	}
	if deps.Gatherer != nil {
		s.router.Handle("/metrics", metrics.HTTPHandler(deps.Gatherer))
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listen address and serves in the background. Bind errors
// are returned; later serve errors arrive on Err.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.http.Addr)
	if err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to bind HTTP listener").
			WithContext("addr", s.http.Addr).
			Fatal().
			Build()
	}
	s.logger.Info("HTTP server listening",
		slog.String("addr", ln.Addr().String()),
		logfields.Path(s.cfg.WebhookPath))
	go func() {
		if err := s.http.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Err reports a serve failure after Start. It is closed when serving ends.
func (s *Server) Err() <-chan error { return s.errCh }

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
