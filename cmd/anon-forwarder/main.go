// Command anon-forwarder relays HTTP requests to a single HTTPS origin with
// the caller's identifying headers removed.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"anon-forwarder/internal/client"
	"anon-forwarder/internal/config"
	"anon-forwarder/internal/handler"
	"anon-forwarder/internal/metrics"
	"anon-forwarder/internal/service"
)

// Overridable with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("anon-forwarder"),
		kong.Description("Anonymizing HTTP forwarder for a single HTTPS origin."),
		kong.Vars{"version": fmt.Sprintf("%s (%s)", version, commit)},
	)

	fx.New(
		fx.Supply(&cli, handler.Version(version)),
		fx.Provide(
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			client.NewUpstreamClient,
			newForwarder,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			func(cfg *config.Config, logger *slog.Logger) { cfg.WarnPermissions(logger) },
			handler.RegisterRoutes,
			startServer,
		),
	).Run()
}

// newForwarder exposes the service to the handler through its interface.
func newForwarder(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) handler.Forwarder {
	return service.NewForwarder(c, cfg, logger)
}

// newLogger builds the process logger. Level and format were validated by
// config.Load, so unknown values cannot reach here.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With("target_host", cfg.Upstream.TargetHost)
}

// newMetrics returns nil when metrics are disabled; every consumer accepts nil.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}
