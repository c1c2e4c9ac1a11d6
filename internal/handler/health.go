package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"anon-forwarder/internal/config"
)

// Version is the build version reported by the status endpoint.
type Version string

// statusReport is the body of GET /_forwarder/status.
type statusReport struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	TargetHost    string `json:"target_host"`
	TargetOrigin  string `json:"target_origin"`
	StripResponse bool   `json:"strip_response_identity_headers"`
	Metrics       bool   `json:"metrics_enabled"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthHandler serves the forwarder's own liveness and status routes.
type HealthHandler struct {
	upstream config.UpstreamConfig
	metrics  bool
	version  Version
	started  time.Time
}

// NewHealthHandler creates a HealthHandler. Uptime is counted from this call.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{
		upstream: cfg.Upstream,
		metrics:  cfg.Metrics.Enabled,
		version:  v,
		started:  time.Now(),
	}
}

// Healthz answers liveness probes. It never contacts the upstream.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Status describes where requests are forwarded and how.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusReport{
		Status:        "ok",
		Version:       string(h.version),
		TargetHost:    h.upstream.TargetHost,
		TargetOrigin:  h.upstream.Origin(),
		StripResponse: h.upstream.StripResponseIdentityHeaders,
		Metrics:       h.metrics,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}
