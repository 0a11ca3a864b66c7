package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/admission"
	"github.com/iliyamo/concert-seat-admission/internal/middleware"
	"github.com/iliyamo/concert-seat-admission/internal/model"
	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

// Admission is the engine behind the reservation endpoints.
// *admission.Service satisfies it.
type Admission interface {
	Attempt(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error)
	GetAvailableSeats(ctx context.Context, concertID uint64) ([]model.Seat, error)
	QueueStatus(ctx context.Context, waitingID uint64) (admission.QueueStatus, error)
	Confirm(ctx context.Context, userID, seatDetailID uint64) (model.SeatDetail, error)
	Release(ctx context.Context, userID, seatDetailID uint64) (admission.ReleaseResult, error)
	Cancel(ctx context.Context, userID, seatDetailID uint64) (model.SeatDetail, error)
}

// Reserver runs an attempt through the broker. *queue.Dispatcher
// satisfies it.
type Reserver interface {
	Reserve(ctx context.Context, userID, seatDetailID uint64) (model.AccessToken, error)
}

// ReservationHandler serves seat listing, admission attempts and the
// lifecycle of a granted seat detail.
type ReservationHandler struct {
	svc    Admission
	async  Reserver
	logger *logrus.Logger
}

// NewReservationHandler panics when svc is nil. async may be nil, in
// which case the async endpoint answers 503.
func NewReservationHandler(svc Admission, async Reserver, logger *logrus.Logger) *ReservationHandler {
	if svc == nil {
		panic("nil admission service passed to NewReservationHandler")
	}
	return &ReservationHandler{svc: svc, async: async, logger: obs.OrDiscard(logger)}
}

type attemptRequest struct {
	UserID       uint64 `json:"user_id"`
	SeatDetailID uint64 `json:"seat_detail_id"`
}

// ListSeats handles GET /v1/concerts/:id/seats.
func (h *ReservationHandler) ListSeats(c echo.Context) error {
	concertID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid concert id")
	}
	seats, err := h.svc.GetAvailableSeats(c.Request().Context(), concertID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"concert_id": concertID, "seats": seats})
}

// Reserve handles POST /v1/reservations. A granted token answers 201,
// a queued one 202.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	req, err := h.bindAttempt(c)
	if err != nil {
		return err
	}
	tok, err := h.svc.Attempt(c.Request().Context(), req.UserID, req.SeatDetailID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(tokenStatus(tok), tok)
}

// ReserveAsync handles POST /v1/reservations/async. The attempt runs on
// a worker behind the broker; the response is the same as Reserve.
func (h *ReservationHandler) ReserveAsync(c echo.Context) error {
	if h.async == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "unavailable", "message": "async reservations are disabled"})
	}
	req, err := h.bindAttempt(c)
	if err != nil {
		return err
	}
	tok, err := h.async.Reserve(c.Request().Context(), req.UserID, req.SeatDetailID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(tokenStatus(tok), tok)
}

func (h *ReservationHandler) bindAttempt(c echo.Context) (attemptRequest, error) {
	var req attemptRequest
	if err := c.Bind(&req); err != nil {
		return req, httpError(http.StatusBadRequest, "invalid_request", "invalid request body")
	}
	req.UserID = callerID(c, req.UserID)
	if req.UserID == 0 || req.SeatDetailID == 0 {
		return req, httpError(http.StatusBadRequest, "invalid_request", "user_id and seat_detail_id are required")
	}
	return req, nil
}

func tokenStatus(tok model.AccessToken) int {
	if tok.Granted() {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

// QueueStatus handles GET /v1/queue/:id.
func (h *ReservationHandler) QueueStatus(c echo.Context) error {
	waitingID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid waiting id")
	}
	st, err := h.svc.QueueStatus(c.Request().Context(), waitingID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Confirm handles POST /v1/reservations/confirm.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	tok, err := h.heldDetail(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Confirm(c.Request().Context(), tok.UserID, tok.SeatDetailID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Release handles POST /v1/reservations/release.
func (h *ReservationHandler) Release(c echo.Context) error {
	tok, err := h.heldDetail(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Release(c.Request().Context(), tok.UserID, tok.SeatDetailID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Cancel handles POST /v1/reservations/cancel.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	tok, err := h.heldDetail(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Cancel(c.Request().Context(), tok.UserID, tok.SeatDetailID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, d)
}

// heldDetail returns the access token of the request. A body
// seat_detail_id, when present, must match the token's. Whether the
// token's user still holds the detail is checked by the engine.
func (h *ReservationHandler) heldDetail(c echo.Context) (model.AccessToken, error) {
	tok, ok := middleware.AccessTokenFrom(c)
	if !ok {
		return tok, httpError(http.StatusUnauthorized, "unauthorized", "missing access token")
	}
	var body struct {
		SeatDetailID uint64 `json:"seat_detail_id"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return tok, httpError(http.StatusBadRequest, "invalid_request", "invalid request body")
		}
	}
	if body.SeatDetailID != 0 && body.SeatDetailID != tok.SeatDetailID {
		return tok, httpError(http.StatusForbidden, "forbidden", "access token is for another seat detail")
	}
	return tok, nil
}
