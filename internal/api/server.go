package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/unplug/internal/authz"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/goodtune/unplug/internal/storage"
	"github.com/rs/zerolog"
)

// AppliedReader reads back the blocked set an actuator last applied.
type AppliedReader interface {
	Blocked(ctx context.Context) ([]string, error)
}

// Deps holds what the API handlers operate on.
type Deps struct {
	Ledger      *limits.Ledger
	Coordinator *enforcement.Coordinator
	Gate        *authz.Static
	History     storage.HistoryStore
	Applied     AppliedReader // optional
}

// Server is the limits API HTTP server.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates the API server.
func NewServer(addr string, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(deps, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps, logger zerolog.Logger) *gin.Engine {
	if logger.GetLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// No default middleware; requests are logged through zerolog
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(logger))

	SetupRoutes(router, deps, logger)
	return router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}
