// Package http provides the HTTP API for memoryd.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// handleDecaySweep runs the decay sweep for one subject on demand.
func (s *Server) handleDecaySweep(c echo.Context) error {
	var req DecaySweepRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid decay sweep request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	changed, err := s.service.Decay(c.Request().Context(), req.SubjectID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, SweepResponse{
		Sweep:   memory.SweepDecay,
		Changed: changed,
	})
}

// handleExpiredSweep runs the expiration sweep across all subjects on
// demand.
func (s *Server) handleExpiredSweep(c echo.Context) error {
	changed, err := s.service.CleanupExpired(c.Request().Context())
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, SweepResponse{
		Sweep:   memory.SweepExpired,
		Changed: changed,
	})
}
