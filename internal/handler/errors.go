package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/correlation"
	"github.com/iliyamo/concert-seat-admission/internal/middleware"
	"github.com/iliyamo/concert-seat-admission/internal/queue"
)

// errorStatus maps an error onto an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, admission.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, admission.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, admission.ErrAlreadyQueued):
		return http.StatusConflict, "already_queued"
	case errors.Is(err, admission.ErrNotHolder):
		return http.StatusForbidden, "not_holder"
	case errors.Is(err, admission.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, admission.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, admission.ErrConflictExhausted):
		return http.StatusServiceUnavailable, "conflict_exhausted"
	case errors.Is(err, correlation.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, queue.ErrPublish), errors.Is(err, queue.ErrRemote), errors.Is(err, correlation.ErrCanceled):
		return http.StatusBadGateway, "broker_error"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError renders err as {"error": code, "message": ...}. Server side
// failures are logged and their details withheld from the client.
func writeError(c echo.Context, logger *logrus.Logger, err error) error {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
		msg = "internal error"
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}

// httpError is rendered by Echo's error handler with the same body
// shape as writeError.
func httpError(status int, code, msg string) *echo.HTTPError {
	return echo.NewHTTPError(status, echo.Map{"error": code, "message": msg})
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// callerID returns the user ID from the body value, falling back to the
// X-User-ID header.
func callerID(c echo.Context, fromBody uint64) uint64 {
	if fromBody > 0 {
		return fromBody
	}
	n, err := strconv.ParseUint(c.Request().Header.Get(middleware.HeaderUserID), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
