// Package http provides the HTTP API for memoryd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Pinger reports whether the backing store is reachable. The record store
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP endpoints for memoryd.
type Server struct {
	echo    *echo.Echo
	service memory.Service
	pinger  Pinger
	logger  *zap.Logger
	config  *config.ServerConfig
	metrics *HTTPMetrics
}

// requestIDPattern mirrors the logging package's request ID rules. Inbound
// X-Request-ID headers are client-controlled, so anything else stays out
// of the log context.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// NewServer creates the HTTP server. pinger may be nil, in which case
// readiness only reports that the server is up.
func NewServer(service memory.Service, pinger Pinger, logger *zap.Logger, cfg *config.ServerConfig) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &config.ServerConfig{
			Host: "127.0.0.1",
			Port: 9180,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if cfg.ReadTimeout > 0 {
		e.Server.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		e.Server.WriteTimeout = cfg.WriteTimeout.Duration()
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(logContextMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		service: service,
		pinger:  pinger,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(s.metrics.Middleware())

	// Register routes
	s.registerRoutes()

	return s, nil
}

// logContextMiddleware threads the request ID and the subject path
// parameter into the request context so every downstream log line
// carries them.
func logContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if reqID := c.Response().Header().Get(echo.HeaderXRequestID); requestIDPattern.MatchString(reqID) {
				ctx = logging.WithRequestID(ctx, reqID)
			}
			if subjectID := c.Param("subject_id"); subjectID != "" {
				ctx = logging.WithSubjectID(ctx, subjectID)
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/subjects/:subject_id/observations", s.handleObserve)
	v1.GET("/subjects/:subject_id/records", s.handleRecords)
	v1.GET("/subjects/:subject_id/summary", s.handleSummary)
	v1.POST("/records/:id/promote", s.handlePromote)
	v1.POST("/records/:id/validate", s.handleValidate)
	v1.POST("/sweeps/decay", s.handleDecaySweep)
	v1.POST("/sweeps/expired", s.handleExpiredSweep)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "memoryd"})
}

// handleReady reports readiness, including store reachability when a
// pinger is wired.
func (s *Server) handleReady(c echo.Context) error {
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request().Context()); err != nil {
			s.logger.Warn("readiness store ping failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Service: "memoryd"})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ready", Service: "memoryd"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for registering additional
// routes, such as the metrics handler.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
