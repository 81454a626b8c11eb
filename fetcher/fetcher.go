// Package fetcher turns a consumer's declarative resource descriptors into
// cache keys, loading states and coordinated fetches.
//
// A Fetcher is a per-consumer value: it owns the consumer token used for
// interest registration, the per-resource loading states, and the derived
// fields exposed by provides projections. Evaluation is synchronous; the
// fetches it triggers settle asynchronously and are reconciled back under
// a currency check so a consumer never observes a superseded response.
package fetcher

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/noahgrant/resourcerer/cachekey"
	"github.com/noahgrant/resourcerer/coordinator"
	"github.com/noahgrant/resourcerer/entity"
	"github.com/noahgrant/resourcerer/internal/logging"
	"github.com/noahgrant/resourcerer/store"
)

// Config wires a Fetcher to its engine-wide collaborators.
type Config struct {
	Store       *store.Store
	Coordinator *coordinator.Coordinator
	Gate        *PrefetchGate

	// Stringify overrides cache-key rendering of complex values.
	Stringify cachekey.Stringify

	// CascadeRefetch re-evaluates provides-dependent resources when a
	// refetched resource settles with changed provided fields.
	CascadeRefetch bool

	// OnError is invoked for terminal (non-prefetch) fetch failures, after
	// the error state has been applied.
	OnError func(ctx context.Context, resourceName string, err error)
}

// Fetcher orchestrates the resources of one consumer.
type Fetcher struct {
	cfg   Config
	token uuid.UUID

	mu              sync.Mutex
	descriptors     map[string]Descriptor
	input           Input
	derived         map[string]any
	states          map[string]LoadingState
	statuses        map[string]int
	entities        map[string]entity.Entity
	keys            map[string]string
	resolved        map[string]bool
	refetch         map[string]struct{}
	initiallyLoaded bool
	onUpdate        func()
	closed          bool

	wg sync.WaitGroup
}

func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		token:    uuid.New(),
		derived:  make(map[string]any),
		states:   make(map[string]LoadingState),
		statuses: make(map[string]int),
		entities: make(map[string]entity.Entity),
		keys:     make(map[string]string),
		resolved: make(map[string]bool),
		refetch:  make(map[string]struct{}),
	}
}

// Token is the consumer identity this fetcher registers interest under.
func (f *Fetcher) Token() uuid.UUID {
	return f.token
}

// Subscribe sets the callback invoked after every state change. The host
// binding typically re-renders and calls Evaluate again from it.
func (f *Fetcher) Subscribe(callback func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onUpdate = callback
}

type issueSpec struct {
	name     string
	key      string
	desc     Descriptor
	force    bool
	refetch  bool
	prefetch bool
}

// Evaluate runs one cycle against the declared descriptors and the current
// input: it derives keys, settles cache hits immediately, marks unmet
// dependencies pending, and issues coordinated fetches for the rest,
// critical ones first. It returns the state snapshot as of this cycle;
// settlements arrive later through the subscribed callback.
func (f *Fetcher) Evaluate(ctx context.Context, descriptors map[string]Descriptor, input Input) Result {
	f.mu.Lock()

	if f.closed {
		defer f.mu.Unlock()
		return f.snapshotLocked()
	}

	f.descriptors = descriptors
	f.input = input

	names := make([]string, 0, len(descriptors))
	for name := range descriptors {
		names = append(names, name)
	}
	sort.Strings(names)

	var critical, noncritical, prefetches []issueSpec

	for _, name := range names {
		desc := descriptors[name]

		if desc.GracePeriod > 0 {
			f.cfg.Store.SetGrace(desc.Type, desc.GracePeriod)
		}

		if desc.Prefetch {
			if f.dependenciesMetLocked(desc, input) {
				key := f.deriveKeyLocked(desc, input)
				if record, ok := f.cfg.Store.Get(key); !(ok && !record.Lazy) {
					if f.cfg.Gate == nil || f.cfg.Gate.Allow(key) {
						prefetches = append(prefetches, issueSpec{
							name:     name,
							key:      key,
							desc:     desc,
							prefetch: true,
						})
					}
				}
			}
		} else {
			spec, issue := f.evaluateEntryLocked(ctx, name, desc)
			if issue {
				if desc.Noncritical {
					noncritical = append(noncritical, spec)
				} else {
					critical = append(critical, spec)
				}
			}
		}

		for _, variant := range desc.PrefetchVariants {
			variantInput := variant(input)
			// A variant is a full entry: its transformed input must satisfy
			// the declared dependencies or the speculative key would be
			// missing identity fields.
			if !f.dependenciesMetLocked(desc, variantInput) {
				continue
			}
			key := f.deriveKeyLocked(desc, variantInput)
			if record, ok := f.cfg.Store.Get(key); ok && !record.Lazy {
				continue
			}
			if f.cfg.Gate != nil && !f.cfg.Gate.Allow(key) {
				continue
			}
			prefetches = append(prefetches, issueSpec{
				name:     name,
				key:      key,
				desc:     desc,
				prefetch: true,
			})
		}
	}

	f.pruneUndeclaredLocked(descriptors)
	f.updateInitiallyLoadedLocked()
	result := f.snapshotLocked()
	f.mu.Unlock()

	// User-visible data first, then opportunistic fetches.
	for _, spec := range critical {
		f.start(ctx, spec)
	}
	for _, spec := range noncritical {
		f.start(ctx, spec)
	}
	for _, spec := range prefetches {
		f.start(ctx, spec)
	}

	return result
}

// evaluateEntryLocked decides the cycle outcome for one declared resource
// and reports whether a fetch must be issued.
func (f *Fetcher) evaluateEntryLocked(ctx context.Context, name string, desc Descriptor) (issueSpec, bool) {
	sources := f.input.sources(f.derived)

	for _, field := range desc.DependsOn {
		if _, ok := cachekey.Resolve(field, sources); !ok {
			// Dependency loss is the one event that may take a loaded
			// resource straight back to pending.
			f.states[name] = StatePending
			f.dropEntityLocked(name)
			delete(f.statuses, name)
			if prevKey := f.keys[name]; prevKey != "" {
				f.cfg.Store.Unregister(f.token, prevKey)
				f.cfg.Store.ClearLazy(prevKey)
			}
			f.keys[name] = ""
			return issueSpec{}, false
		}
	}

	key := f.deriveKeyLocked(desc, f.input)

	prevKey := f.keys[name]
	prevResolved := f.resolved[name]
	nowResolved := f.cacheFieldsResolvedLocked(desc)

	// Re-parenting: the resource just acquired an identity its previous
	// key lacked (e.g. a created record got its id). Carry the cached
	// value to the new key instead of fetching it again.
	if prevKey != "" && prevKey != key && !prevResolved && nowResolved {
		if _, ok := f.cfg.Store.Get(key); !ok {
			f.cfg.Store.Move(prevKey, key)
		}
	}

	if prevKey != "" && prevKey != key {
		// Interest follows the declaration to its new key.
		f.cfg.Store.Unregister(f.token, prevKey)
		f.cfg.Store.ClearLazy(prevKey)
	}
	f.keys[name] = key
	f.resolved[name] = nowResolved

	_, wantRefetch := f.refetch[name]
	delete(f.refetch, name)

	if desc.Lazy {
		value, status, err := f.cfg.Coordinator.Request(ctx, key, desc.New, coordinator.Options{
			Token: f.token,
			Lazy:  true,
		})
		if err == nil {
			f.setEntityLocked(name, value)
			f.states[name] = StateLoaded
			if status != 0 {
				f.statuses[name] = status
			}
		}
		return issueSpec{}, false
	}

	if !desc.Force && !wantRefetch {
		if record, ok := f.cfg.Store.Get(key); ok && !record.Lazy {
			f.cfg.Store.Register(key, f.token)
			f.setEntityLocked(name, record.Value)
			f.states[name] = StateLoaded
			f.statuses[name] = record.Status
			return issueSpec{}, false
		}
	}

	f.states[name] = StateLoading
	return issueSpec{
		name:    name,
		key:     key,
		desc:    desc,
		force:   desc.Force || wantRefetch,
		refetch: wantRefetch,
	}, true
}

func (f *Fetcher) deriveKeyLocked(desc Descriptor, input Input) string {
	return cachekey.Derive(desc.Type, desc.CacheFields, desc.CacheFieldsFn, input.sources(f.derived), f.cfg.Stringify)
}

func (f *Fetcher) dependenciesMetLocked(desc Descriptor, input Input) bool {
	sources := input.sources(f.derived)
	for _, field := range desc.DependsOn {
		if _, ok := cachekey.Resolve(field, sources); !ok {
			return false
		}
	}
	return true
}

func (f *Fetcher) cacheFieldsResolvedLocked(desc Descriptor) bool {
	sources := f.input.sources(f.derived)
	for _, field := range desc.CacheFields {
		if _, ok := cachekey.Resolve(field, sources); !ok {
			return false
		}
	}
	return true
}

// pruneUndeclaredLocked drops state for resources the consumer no longer
// declares and releases their interest.
func (f *Fetcher) pruneUndeclaredLocked(descriptors map[string]Descriptor) {
	for name := range f.states {
		if _, ok := descriptors[name]; ok {
			continue
		}
		if key := f.keys[name]; key != "" {
			f.cfg.Store.Unregister(f.token, key)
			f.cfg.Store.ClearLazy(key)
		}
		f.dropEntityLocked(name)
		delete(f.states, name)
		delete(f.statuses, name)
		delete(f.keys, name)
		delete(f.resolved, name)
		delete(f.refetch, name)
	}
}

func (f *Fetcher) start(ctx context.Context, spec issueSpec) {
	class := "critical"
	switch {
	case spec.prefetch:
		class = "prefetch"
	case spec.desc.Noncritical:
		class = "noncritical"
	}
	recordIssued(class)

	f.wg.Add(1)
	go f.issue(ctx, spec)
}

func (f *Fetcher) issue(ctx context.Context, spec issueSpec) {
	defer f.wg.Done()

	ctx = logging.WithResource(ctx, f.token.String(), spec.name)
	logger := logging.FromContext(ctx)

	token := f.token
	if spec.prefetch {
		// Prefetched records carry no interest; the store schedules their
		// eviction immediately so unused speculation ages out.
		token = uuid.Nil
	}

	value, status, err := f.cfg.Coordinator.Request(ctx, spec.key, spec.desc.New, coordinator.Options{
		Token: token,
		Force: spec.force,
	})

	if spec.prefetch {
		if err != nil {
			// Best effort only; a later real request surfaces genuine
			// failures.
			logger.InfoContext(ctx, "Prefetch failed", "key", spec.key, "error", err)
		}
		return
	}

	f.mu.Lock()

	if f.closed {
		f.mu.Unlock()
		return
	}

	if f.keys[spec.name] != spec.key {
		// The consumer's input moved on while the fetch was in flight.
		recordStale()
		logger.InfoContext(ctx, "Discarding stale settlement", "key", spec.key)
		f.mu.Unlock()
		return
	}

	cascade := false
	if err != nil {
		f.states[spec.name] = StateError
		f.statuses[spec.name] = status
		f.dropEntityLocked(spec.name)
	} else {
		f.setEntityLocked(spec.name, value)
		f.states[spec.name] = StateLoaded
		f.statuses[spec.name] = status

		changed := false
		for field, project := range spec.desc.Provides {
			derived := project(value, f.input)
			if !reflect.DeepEqual(f.derived[field], derived) {
				f.derived[field] = derived
				changed = true
			}
		}
		cascade = changed && (!spec.refetch || f.cfg.CascadeRefetch)
	}

	f.updateInitiallyLoadedLocked()
	descriptors := f.descriptors
	input := f.input
	f.mu.Unlock()

	if err != nil && f.cfg.OnError != nil {
		f.cfg.OnError(ctx, spec.name, err)
	}

	if cascade {
		// Provided fields may satisfy dependencies of sibling resources;
		// run the next cycle so chained fetches start without waiting for
		// the host.
		f.Evaluate(ctx, descriptors, input)
	}

	f.notify()
}

// notify invokes the subscribed callback, if any. It doubles as the
// listener attached to entity update registries.
func (f *Fetcher) notify() {
	f.mu.Lock()
	callback := f.onUpdate
	f.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// setEntityLocked installs an entity for a resource name and attaches the
// consumer's update listener when the entity broadcasts attribute changes.
func (f *Fetcher) setEntityLocked(name string, value entity.Entity) {
	f.entities[name] = value
	if notifier, ok := value.(entity.Notifier); ok {
		notifier.Updates().Subscribe(f.token, f.notify)
	}
}

func (f *Fetcher) dropEntityLocked(name string) {
	if ent, ok := f.entities[name]; ok {
		if notifier, ok := ent.(entity.Notifier); ok {
			notifier.Updates().Unsubscribe(f.token)
		}
	}
	delete(f.entities, name)
}

// Refetch forces the named resources (all declared resources when none
// are given) through the cache on an immediate evaluation cycle.
func (f *Fetcher) Refetch(ctx context.Context, names ...string) Result {
	f.mu.Lock()
	if len(names) == 0 {
		for name, desc := range f.descriptors {
			if desc.Prefetch {
				continue
			}
			names = append(names, name)
		}
	}
	for _, name := range names {
		f.refetch[name] = struct{}{}
	}
	descriptors := f.descriptors
	input := f.input
	f.mu.Unlock()

	return f.Evaluate(ctx, descriptors, input)
}

// Invalidate evicts the current records of the named resources, bypassing
// the grace period. The next evaluation fetches them from scratch.
func (f *Fetcher) Invalidate(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, name := range names {
		if key := f.keys[name]; key != "" {
			f.cfg.Store.Remove(key)
		}
	}
}

// InvalidateType evicts every cached record of the given resource types,
// across all consumers. Used for cache-busting after mutations.
func (f *Fetcher) InvalidateType(resourceTypes ...string) {
	for _, resourceType := range resourceTypes {
		f.cfg.Store.RemoveAllMatching(cachekey.TypePrefix(resourceType))
	}
}

// Wait blocks until every fetch issued so far, including cascaded cycles,
// has been reconciled.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// Close unregisters the consumer everywhere, starting grace timers for
// records nobody else backs. In-flight fetches are not cancelled; they
// settle into the cache for whoever else wants them.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for name := range f.entities {
		f.dropEntityLocked(name)
	}
	f.cfg.Store.Unregister(f.token)
	for _, key := range f.keys {
		if key != "" {
			f.cfg.Store.ClearLazy(key)
		}
	}
}

func (f *Fetcher) updateInitiallyLoadedLocked() {
	if f.initiallyLoaded {
		return
	}

	loaded, _, _ := f.aggregateLocked()
	if loaded && len(f.descriptors) > 0 {
		f.initiallyLoaded = true
	}
}

func (f *Fetcher) aggregateLocked() (hasLoaded, isLoading, hasErrored bool) {
	hasLoaded = true
	for name, desc := range f.descriptors {
		if desc.Noncritical || desc.Prefetch {
			continue
		}
		switch f.states[name] {
		case StateLoaded:
		case StateError:
			hasErrored = true
			hasLoaded = false
		case StateLoading:
			isLoading = true
			hasLoaded = false
		default:
			hasLoaded = false
		}
	}
	return hasLoaded, isLoading, hasErrored
}

func (f *Fetcher) snapshotLocked() Result {
	hasLoaded, isLoading, hasErrored := f.aggregateLocked()

	result := Result{
		Entities:           make(map[string]entity.Entity, len(f.entities)),
		States:             make(map[string]LoadingState, len(f.states)),
		Statuses:           make(map[string]int, len(f.statuses)),
		HasLoaded:          hasLoaded,
		IsLoading:          isLoading,
		HasErrored:         hasErrored,
		HasInitiallyLoaded: f.initiallyLoaded,
	}
	for name, ent := range f.entities {
		result.Entities[name] = ent
	}
	for name, state := range f.states {
		result.States[name] = state
	}
	for name, status := range f.statuses {
		result.Statuses[name] = status
	}
	return result
}

// Snapshot returns the current consumer-visible state without evaluating.
func (f *Fetcher) Snapshot() Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.snapshotLocked()
}
