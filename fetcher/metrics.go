package fetcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type fetcherMetricsCollection struct {
	issuedCount metric.Int64Counter
	staleCount  metric.Int64Counter
}

var metrics fetcherMetricsCollection

func init() {
	const name = "resourcerer/fetcher"
	meter := otel.Meter(name)

	issuedCount, err := meter.Int64Counter(
		"fetcher/issued_count",
		metric.WithDescription("Total number of fetches issued, by class"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create issued count metric: %w", err))
	}

	staleCount, err := meter.Int64Counter(
		"fetcher/stale_count",
		metric.WithDescription("Total number of settlements discarded as stale"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create stale count metric: %w", err))
	}

	metrics = fetcherMetricsCollection{
		issuedCount: issuedCount,
		staleCount:  staleCount,
	}
}

func recordIssued(class string) {
	metrics.issuedCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("class", class),
	))
}

func recordStale() {
	metrics.staleCount.Add(context.Background(), 1)
}
