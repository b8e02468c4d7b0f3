package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide slog.Logger. JSON output is opt-in via
// LOG_FORMAT=json; every other value falls back to the text handler.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
