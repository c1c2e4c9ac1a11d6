// Package handler contains the Echo handlers and route table.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anon-forwarder/internal/config"
	"anon-forwarder/internal/metrics"
	"anon-forwarder/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Internal endpoints live under config.InternalPrefix; every other path is
// forwarded with its method, whatever that method is. m may be nil when
// metrics are disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	internal := e.Group(config.InternalPrefix, middleware.SecurityHeaders())
	internal.GET("/healthz", health.Healthz)
	internal.GET("/status", health.Status)

	if m != nil && cfg.Metrics.Enabled {
		h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
		e.GET(cfg.Metrics.Path, echo.WrapHandler(h), middleware.SecurityHeaders())
	}

	// Any covers only the standard methods; everything else (PURGE, MKCOL,
	// LOCK, ...) lands on the not-found handler, which forwards too.
	e.Any("/*", proxy.Handle)
	e.RouteNotFound("/*", proxy.Handle)
}
