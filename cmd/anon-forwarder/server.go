package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"anon-forwarder/internal/config"
	"anon-forwarder/internal/metrics"
	"anon-forwarder/internal/middleware"
)

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := e.Server
	srv.ReadHeaderTimeout = 10 * time.Second
	srv.ReadTimeout = 30 * time.Second
	srv.IdleTimeout = 120 * time.Second
	// Relayed bodies may stream for as long as the upstream client timeout
	// allows, so writes are not bounded here.
	srv.WriteTimeout = 0

	e.Use(echomw.Recover(), echomw.RequestID(), middleware.RequestLogger(logger))
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(
		echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)),
		middleware.StripHopByHop(),
	)

	if rl := cfg.Server.RateLimit; rl.Enabled {
		e.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(rate.Limit(rl.RequestsPerSecond))))
		logger.Info("per-ip rate limit on", "rps", rl.RequestsPerSecond)
	}

	return e
}

// startServer binds on start so a busy port fails fx startup instead of
// surfacing later from the serve goroutine.
func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.StartStopHook(
		func() error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("forwarder listening", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("serve", "err", err)
				}
			}()
			return nil
		},
		func(ctx context.Context) error {
			logger.Info("forwarder stopping")
			return e.Shutdown(ctx)
		},
	))
}
