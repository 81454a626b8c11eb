// Package reporting forwards terminal errors to Sentry. The demo binary
// installs it as the engine's error hook; hosts bring their own hook.
package reporting

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/noahgrant/resourcerer/internal/logging"
)

// Cache keys embed resolved identity values; strip them so one failing
// resource type groups into one Sentry issue.
var keyValueRx = regexp.MustCompile(`~[^\s]+`)

func sanitizeError(err string) string {
	return keyValueRx.ReplaceAllString(err, "~<fields>")
}

// Init configures the global Sentry hub and binds it to the returned
// context. The returned flush function must be deferred by the caller.
func Init(ctx context.Context, dsn string, environment string) (context.Context, func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return ctx, func() {}, err
	}

	hub := sentry.CurrentHub()
	flush := func() {
		hub.Flush(2 * time.Second)
	}
	return sentry.SetHubOnContext(ctx, hub), flush, nil
}

// Report captures err on the context's hub with the given extras.
func Report(ctx context.Context, err error, extras ...map[string]string) {
	logger := logging.FromContext(ctx)

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		logger.Warn("Failed to get Sentry hub from context", "error", err, "extras", extras)
		return
	}

	logger.Error(
		"Reporting error to Sentry",
		slog.String("error", err.Error()),
		slog.Any("extras", extras),
	)

	hub.WithScope(func(scope *sentry.Scope) {
		for _, extra := range extras {
			if extra == nil {
				continue
			}
			for key, value := range extra {
				scope.SetExtra(key, value)
			}
		}

		if err == nil {
			err = errors.New("No error provided")
		}

		scope.SetFingerprint([]string{"{{ default }}", sanitizeError(err.Error())})
		hub.CaptureException(err)
	})
}
