package main

import (
	"context"
	"log/slog"
	"testing"

	"anon-forwarder/internal/config"
)

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &config.Config{Log: config.LogConfig{Level: tt.level, Format: "text"}}
			logger := newLogger(cfg)
			if !logger.Enabled(context.Background(), tt.want) {
				t.Errorf("level %s not enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-1) {
				t.Errorf("level below %s enabled", tt.want)
			}
		})
	}
}

func TestNewMetrics_Disabled(t *testing.T) {
	if m := newMetrics(&config.Config{}); m != nil {
		t.Fatal("expected nil metrics when disabled")
	}
	if m := newMetrics(&config.Config{Metrics: config.MetricsConfig{Enabled: true}}); m == nil {
		t.Fatal("expected metrics when enabled")
	}
}
