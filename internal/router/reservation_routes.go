package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-seat-admission/internal/handler"
	"github.com/iliyamo/concert-seat-admission/internal/middleware"
)

// RegisterReservations registers the admission endpoints under /v1.
// limiter, when non-nil, guards every one of them. Confirm, release and
// cancel additionally require a granted access token for the seat
// detail they act on.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, parser middleware.TokenParser, limiter echo.MiddlewareFunc) {
	var g *echo.Group
	if limiter != nil {
		g = e.Group("/v1", limiter)
	} else {
		g = e.Group("/v1")
	}

	g.GET("/concerts/:id/seats", h.ListSeats)
	g.POST("/reservations", h.Reserve)
	g.POST("/reservations/async", h.ReserveAsync)
	g.GET("/queue/:id", h.QueueStatus)

	held := []echo.MiddlewareFunc{
		middleware.RequireAccessToken(parser),
		middleware.RequireGranted(),
	}
	g.POST("/reservations/confirm", h.Confirm, held...)
	g.POST("/reservations/release", h.Release, held...)
	g.POST("/reservations/cancel", h.Cancel, held...)
}
