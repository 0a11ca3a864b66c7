package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-seat-admission/internal/model"
)

// HeaderUserID identifies the caller on endpoints that run before any
// access token exists. Authentication happens upstream of this service.
const HeaderUserID = "X-User-ID"

// AccessTokenFrom returns the token stored by RequireAccessToken.
func AccessTokenFrom(c echo.Context) (model.AccessToken, bool) {
	tok, ok := c.Get(ctxAccessToken).(model.AccessToken)
	return tok, ok
}

// userID identifies the caller for rate limiting: the access token
// subject, else the X-User-ID header, else "anon".
func userID(c echo.Context) string {
	if v, ok := c.Get(ctxUserID).(string); ok && v != "" {
		return v
	}
	if v := c.Request().Header.Get(HeaderUserID); v != "" {
		return v
	}
	return "anon"
}
