package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger, JSON in deployments and text locally
// by LOG_FORMAT. Every line carries the service tag so the API server and the
// worker are distinguishable in shared log streams only by their address.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "agrilink"))
}
