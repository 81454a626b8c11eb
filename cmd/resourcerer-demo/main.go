// Demo wiring: declares a user resource and a posts resource chained off
// it against a JSON API, and prints the loading states as they settle.
//
// RESOURCERER_API_BASE_URL should point at a JSONPlaceholder-compatible
// API, e.g. https://jsonplaceholder.typicode.com
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/noahgrant/resourcerer"
	"github.com/noahgrant/resourcerer/entity"
	"github.com/noahgrant/resourcerer/fetcher"
	"github.com/noahgrant/resourcerer/internal/config"
	"github.com/noahgrant/resourcerer/internal/logging"
	"github.com/noahgrant/resourcerer/internal/reporting"
	"github.com/noahgrant/resourcerer/internal/telemetry"
)

type jsonEntity struct {
	transport entity.Transport
	url       string
	attrs     json.RawMessage
}

func (e *jsonEntity) Fetch(ctx context.Context) (int, error) {
	body, resp, err := e.transport.Request(ctx, e.url, entity.RequestOptions{})
	if err != nil {
		if resp != nil {
			return resp.StatusCode, err
		}
		return -1, err
	}
	e.attrs = body
	return resp.StatusCode, nil
}

func (e *jsonEntity) ToJSON() json.RawMessage {
	return e.attrs
}

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	conf, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", conf.NonSensitiveString())

	ctx := logging.AddToContext(context.Background(), logger)

	if conf.SentryDSN() != "" {
		var flush func()
		ctx, flush, err = reporting.Init(ctx, conf.SentryDSN(), conf.Environment())
		if err != nil {
			fail("Failed to initialize Sentry", "error", err.Error())
		}
		defer flush()
		logger.Info("Initialized Sentry")
	}

	otelShutdown, err := telemetry.SetupOTelSDK(ctx, "resourcerer-demo")
	if err != nil {
		logger.Warn("Failed to set up OpenTelemetry SDK", "error", err.Error())
	} else {
		defer func() {
			if err := otelShutdown(context.Background()); err != nil {
				logger.Warn("Failed to shut down OpenTelemetry SDK", "error", err.Error())
			}
		}()
	}

	engine := resourcerer.New(resourcerer.Config{
		GracePeriod: conf.GracePeriod(),
		OnError: func(ctx context.Context, resourceName string, err error) {
			reporting.Report(ctx, err, map[string]string{"resource": resourceName})
		},
	})
	defer engine.Close()

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}
	transport := entity.NewHTTPTransport(httpClient, nil)

	const userID = 7

	descriptors := map[string]fetcher.Descriptor{
		"user": {
			Type: "user",
			Kind: entity.KindRecord,
			New: func() entity.Entity {
				return &jsonEntity{
					transport: transport,
					url:       fmt.Sprintf("%s/users/%d", conf.APIBaseURL(), userID),
				}
			},
			CacheFields: []string{"id"},
			Provides: map[string]fetcher.Projection{
				"userId": func(ent entity.Entity, input fetcher.Input) any {
					return input.Path["id"]
				},
			},
		},
		"posts": {
			Type: "post",
			Kind: entity.KindList,
			New: func() entity.Entity {
				return &jsonEntity{
					transport: transport,
					url:       fmt.Sprintf("%s/posts?userId=%d", conf.APIBaseURL(), userID),
				}
			},
			CacheFields: []string{"userId"},
			DependsOn:   []string{"userId"},
		},
	}

	consumer := engine.NewFetcher()
	defer consumer.Close()

	settled := make(chan struct{}, 16)
	consumer.Subscribe(func() {
		settled <- struct{}{}
	})

	result := consumer.Evaluate(ctx, descriptors, fetcher.Input{
		Path: map[string]any{"id": userID},
	})
	logger.Info("Evaluated", "states", result.States)

	for !result.HasLoaded && !result.HasErrored {
		select {
		case <-settled:
		case <-time.After(30 * time.Second):
			fail("Timed out waiting for resources")
		}
		result = consumer.Snapshot()
		logger.Info("Settled", "states", result.States)
	}

	if result.HasErrored {
		fail("Failed to load resources", "statuses", result.Statuses)
	}

	logger.Info("Loaded all resources",
		"user", result.Entities["user"].ToJSON(),
		"posts", result.Entities["posts"].ToJSON(),
	)
}
