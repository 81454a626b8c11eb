package fetcher

import (
	"time"

	"github.com/noahgrant/resourcerer/cachekey"
	"github.com/noahgrant/resourcerer/entity"
)

// Projection derives a field value from a settled entity and the
// consumer's current input. Provided fields feed the dependency
// resolution of sibling descriptors, enabling chained fetches.
type Projection func(ent entity.Entity, input Input) any

// Descriptor declares one named resource a consumer wants.
type Descriptor struct {
	// Type identifies the resource type; it prefixes every derived cache
	// key and scopes bulk invalidation.
	Type string

	// Kind tags the entity shape the factory produces.
	Kind entity.Kind

	// New constructs a fresh, unfetched entity for this resource.
	New entity.Factory

	// CacheFields lists the input fields that identify a resource
	// instance. CacheFieldsFn may supplement them with a computed
	// sub-object derived from the query source.
	CacheFields   []string
	CacheFieldsFn cachekey.FieldsFn

	// DependsOn lists input fields that must be present before a fetch may
	// start. While any is missing the resource stays pending.
	DependsOn []string

	// Provides projects fields out of the settled entity into the
	// consumer's derived input.
	Provides map[string]Projection

	// Noncritical resources do not count toward the consumer's aggregate
	// loading flags.
	Noncritical bool

	// Lazy resources are cached without an initial fetch and promoted on
	// the first non-lazy request.
	Lazy bool

	// Prefetch marks the whole resource speculative: it is fetched through
	// the debounce gate to warm the cache and surfaces no state, entity or
	// error to the consumer.
	Prefetch bool

	// Force bypasses the cache on every evaluation.
	Force bool

	// PrefetchVariants derive speculative inputs to fetch alongside the
	// real one. Variant fetches never surface state or errors.
	PrefetchVariants []func(Input) Input

	// GracePeriod overrides the store's default eviction grace for this
	// resource type. Zero means the default.
	GracePeriod time.Duration
}

// Input is the consumer's current request input, split by source. Field
// resolution (for both dependsOn and cache fields) follows a fixed
// precedence: provided (derived) fields, then path parameters, then body,
// then query parameters.
type Input struct {
	Path  map[string]any
	Body  map[string]any
	Query map[string]any
}

func (in Input) sources(derived map[string]any) []cachekey.Source {
	return []cachekey.Source{
		derived,
		in.Path,
		in.Body,
		in.Query,
	}
}

// Result is the consumer-visible outcome of one evaluation cycle.
type Result struct {
	// Entities holds the entity handle per declared resource name, for
	// every resource that is loaded or was served from cache.
	Entities map[string]entity.Entity

	// States holds the loading state per declared resource name.
	States map[string]LoadingState

	// Statuses holds the last settled HTTP status per resource name.
	Statuses map[string]int

	// Aggregates over critical resources.
	HasLoaded  bool
	IsLoading  bool
	HasErrored bool

	// HasInitiallyLoaded latches true on the first full critical load and
	// never reverts, so hosts can keep stale content visible during
	// refetches.
	HasInitiallyLoaded bool
}
