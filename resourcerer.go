// Package resourcerer lets many independent consumers declaratively
// request server-backed resources by name and parameters against one
// shared client-side cache, so identical requests are never duplicated and
// already-loaded data is reused across consumers.
//
// An Engine bundles the resource store, the request coordinator and the
// prefetch gate. Hosts normally construct one Engine per process and one
// Fetcher per consumer; tests construct isolated Engines per case.
package resourcerer

import (
	"context"
	"time"

	"github.com/noahgrant/resourcerer/cachekey"
	"github.com/noahgrant/resourcerer/coordinator"
	"github.com/noahgrant/resourcerer/fetcher"
	"github.com/noahgrant/resourcerer/store"
)

// Config is the host-overridable surface of an Engine. The zero value is
// usable.
type Config struct {
	// GracePeriod is how long an unreferenced record stays cached. Default
	// store.DefaultGracePeriod.
	GracePeriod time.Duration

	// GracePeriods overrides the grace period per resource type.
	GracePeriods map[string]time.Duration

	// Stringify overrides cache-key rendering for complex query values.
	Stringify cachekey.Stringify

	// PrefetchDebounce spaces speculative fetches of one key. Default
	// fetcher.DefaultPrefetchDebounce.
	PrefetchDebounce time.Duration

	// DisableRefetchCascade keeps provides-dependent resources on their
	// cached entries when their provider is explicitly refetched.
	DisableRefetchCascade bool

	// OnError is invoked for terminal fetch failures after the error state
	// has been applied; hosts hook error reporting here.
	OnError func(ctx context.Context, resourceName string, err error)
}

// Engine owns the process-wide cache machinery.
type Engine struct {
	cfg         Config
	store       *store.Store
	coordinator *coordinator.Coordinator
	gate        *fetcher.PrefetchGate
	stopGate    func()
}

func New(cfg Config) *Engine {
	s := store.New(cfg.GracePeriod)
	for resourceType, grace := range cfg.GracePeriods {
		s.SetGrace(resourceType, grace)
	}

	gate, stopGate := fetcher.NewPrefetchGate(cfg.PrefetchDebounce)

	return &Engine{
		cfg:         cfg,
		store:       s,
		coordinator: coordinator.New(s),
		gate:        gate,
		stopGate:    stopGate,
	}
}

// NewFetcher hands out the orchestrator for one consumer. The caller must
// Close it when the consumer unmounts.
func (e *Engine) NewFetcher() *fetcher.Fetcher {
	return fetcher.New(fetcher.Config{
		Store:          e.store,
		Coordinator:    e.coordinator,
		Gate:           e.gate,
		Stringify:      e.cfg.Stringify,
		CascadeRefetch: !e.cfg.DisableRefetchCascade,
		OnError:        e.cfg.OnError,
	})
}

// Store exposes the underlying record store, mainly for explicit
// invalidation from mutation paths.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Coordinator exposes the request coordinator for hosts that fetch outside
// any consumer (imperative prefetch).
func (e *Engine) Coordinator() *coordinator.Coordinator {
	return e.coordinator
}

// Close stops the engine's background bookkeeping. Fetchers must be closed
// first.
func (e *Engine) Close() {
	e.store.Stop()
	e.stopGate()
}
