// Package http provides the HTTP API for memoryd.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// httpError maps engine errors onto transport status codes: validation
// failures are 400, unknown records 404, transition conflicts 409, a
// down store 503, anything else 500.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, memory.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, memory.ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, memory.ErrIllegalTransition), errors.Is(err, memory.ErrStateConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, memory.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// handleObserve records one observation for a subject. Responds 201 when
// the observation created a record, 200 when it merged into an existing
// one.
func (s *Server) handleObserve(c echo.Context) error {
	var req ObserveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid observation request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.service.Write(c.Request().Context(), &memory.WriteRequest{
		SubjectID:  c.Param("subject_id"),
		Layer:      memory.Layer(req.Layer),
		Key:        req.Key,
		Content:    req.Content,
		Confidence: memory.Confidence(req.Confidence),
		TTLDays:    req.TTLDays,
	})
	if err != nil {
		return httpError(err)
	}

	status := http.StatusOK
	if rec.EvidenceCount == 1 {
		status = http.StatusCreated
	}
	return c.JSON(status, rec)
}

// handleRecords lists a subject's records. Filters arrive as query
// params: layer, status (repeatable or comma-separated), key (substring),
// min_confidence.
func (s *Server) handleRecords(c echo.Context) error {
	q := &memory.Query{
		SubjectID:     c.Param("subject_id"),
		Layer:         memory.Layer(c.QueryParam("layer")),
		KeyPattern:    c.QueryParam("key"),
		MinConfidence: memory.Confidence(c.QueryParam("min_confidence")),
	}
	for _, raw := range c.QueryParams()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				q.Statuses = append(q.Statuses, memory.Status(part))
			}
		}
	}

	records, err := s.service.Read(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, RecordsResponse{
		Records: records,
		Count:   len(records),
	})
}

// handleSummary builds the layered snapshot for a subject.
func (s *Server) handleSummary(c echo.Context) error {
	summary, err := s.service.Summarize(c.Request().Context(), c.Param("subject_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// handlePromote moves a record one tier up.
func (s *Server) handlePromote(c echo.Context) error {
	rec, err := s.service.Promote(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// handleValidate settles a hypothesis as validated or rejected.
func (s *Server) handleValidate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid validate request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	outcome, err := memory.ParseOutcome(req.Outcome)
	if err != nil {
		return httpError(err)
	}

	rec, err := s.service.ValidateHypothesis(c.Request().Context(), c.Param("id"), outcome)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
