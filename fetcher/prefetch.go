package fetcher

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// DefaultPrefetchDebounce is the minimum spacing between speculative
// fetches of one key, so brief pointer transits do not fire requests.
const DefaultPrefetchDebounce = 250 * time.Millisecond

// PrefetchGate debounces speculative fetches per cache key. One gate is
// shared by all fetchers of an engine.
type PrefetchGate struct {
	limiters *ttlcache.Cache[string, *rate.Limiter]
	window   time.Duration
}

// NewPrefetchGate returns a gate allowing one prefetch per key per window,
// and a stop function for its bookkeeping.
func NewPrefetchGate(window time.Duration) (*PrefetchGate, func()) {
	if window <= 0 {
		window = DefaultPrefetchDebounce
	}

	limiterTTLCache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiterTTLCache.Start()

	return &PrefetchGate{
		limiters: limiterTTLCache,
		window:   window,
	}, limiterTTLCache.Stop
}

// Allow reports whether a prefetch for key may fire now.
func (g *PrefetchGate) Allow(key string) bool {
	limiter, _ := g.limiters.GetOrSet(key, rate.NewLimiter(rate.Every(g.window), 1))
	return limiter.Value().Allow()
}
