// Package logging carries a slog.Logger in the context so cache, fetch and
// state-machine code can log with consumer- and resource-scoped metadata
// without threading a logger through every call.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type loggerContextKey struct{}

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		fallback := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		fallback = fallback.With(slog.String("logger", "fallback"))
		return fallback
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

func AddMetaToContext(ctx context.Context, args ...slog.Attr) context.Context {
	logger := FromContext(ctx)

	// Convert our []slog.Attr to []any
	anySlice := make([]any, len(args))
	for i, arg := range args {
		anySlice[i] = arg
	}

	withMeta := logger.With(anySlice...)

	return AddToContext(ctx, withMeta)
}

// WithResource scopes the context logger to one declared resource of one
// consumer.
func WithResource(ctx context.Context, consumerID string, resourceName string) context.Context {
	return AddMetaToContext(ctx,
		slog.String("consumerID", consumerID),
		slog.String("resource", resourceName),
	)
}
