// Package logger wires the process-wide slog logger to the Prism logging
// config and hands out scoped loggers for the engine's components. Every
// subsystem logs through a Component logger so log lines are filterable by
// the part of the engine that produced them; collection-scoped code adds
// the collection name as a second standing attribute.
package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/prismsearch/prism/pkg/config"
)

type requestIDKey struct{}

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Init installs the default slog logger per the logging config. Unknown
// levels fall back to info, unknown formats to text.
func Init(cfg config.LoggingConfig) {
	level, ok := levelNames[cfg.Level]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Component returns a logger carrying the engine component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// ForCollection returns a component logger scoped to one collection.
func ForCollection(component string, collection string) *slog.Logger {
	return Component(component).With("collection", collection)
}

// ContextWithRequestID stamps the HTTP request id into ctx so handler-side
// logs can be correlated with the X-Request-ID header of the response.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// FromContext returns the default logger, annotated with the request id in
// ctx when one was stamped.
func FromContext(ctx context.Context) *slog.Logger {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return slog.Default().With("request_id", requestID)
	}
	return slog.Default()
}
