package middleware

import (
	"github.com/labstack/echo/v4"
)

// connectionHeaders describe the caller's connection to this server. net/http
// manages the upstream connection itself and its HTTP/2 transport rejects
// requests that carry them, so they are dropped. End-to-end headers,
// including Proxy-Authorization and names listed in Connection, pass through.
var connectionHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"TE",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop returns an Echo middleware that removes connection-scoped
// headers from the incoming request.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			for _, name := range connectionHeaders {
				h.Del(name)
			}
			return next(c)
		}
	}
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// the forwarder's own responses. It is not applied to relayed responses.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}
