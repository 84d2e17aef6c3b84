package main

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// newLogger builds the server logger from cfg.Log. Without an explicit
// format, production logs JSON and every other environment logs tinted text.
// Without an explicit level, production logs at info and others at debug.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Log.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			level = slog.LevelInfo
		}
	} else if !cfg.production() {
		level = slog.LevelDebug
	}

	format := cfg.Log.Format
	if format == "" {
		format = "text"
		if cfg.production() {
			format = "json"
		}
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		h = tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			TimeFormat: "15:04:05.000",
		})
	}

	return slog.New(h).With(
		slog.String("service", "multipartd"),
		slog.String("version", version),
	)
}
