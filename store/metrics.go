package store

import (
	"context"
	"fmt"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type storeMetricsCollection struct {
	lookupCount   metric.Int64Counter
	evictionCount metric.Int64Counter
}

var metrics storeMetricsCollection

func init() {
	const name = "resourcerer/store"
	meter := otel.Meter(name)

	lookupCount, err := meter.Int64Counter(
		"store/lookup_count",
		metric.WithDescription("Total number of record lookups, by hit/miss"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lookup count metric: %w", err))
	}

	evictionCount, err := meter.Int64Counter(
		"store/eviction_count",
		metric.WithDescription("Total number of evicted records, by reason"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create eviction count metric: %w", err))
	}

	metrics = storeMetricsCollection{
		lookupCount:   lookupCount,
		evictionCount: evictionCount,
	}
}

func recordLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.lookupCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

func recordEviction(reason ttlcache.EvictionReason) {
	why := "deleted"
	if reason == ttlcache.EvictionReasonExpired {
		why = "expired"
	}
	metrics.evictionCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", why),
	))
}
