// Package store holds fetched entities keyed by cache key, reference
// counted by consumer interest. A record with interested consumers never
// expires; once the last consumer unregisters, the record survives for a
// grace period so that remounts and navigation round-trips are served from
// cache, and is evicted after it.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/noahgrant/resourcerer/entity"
)

// DefaultGracePeriod is how long an unreferenced record stays cached
// unless the host or the resource type overrides it.
const DefaultGracePeriod = 2 * time.Minute

// Record is a cached entity. Lazy records have been constructed but never
// fetched; the coordinator promotes them on the first non-lazy request.
type Record struct {
	Key    string
	Value  entity.Entity
	Lazy   bool
	Status int
}

// Store owns record lifecycle. All mutation is synchronous map
// manipulation under one mutex; the only deferred action is the eviction
// of unreferenced records, expressed as the per-item TTL of the backing
// cache. Construct isolated instances per test; there is no package-level
// singleton.
type Store struct {
	mu           sync.Mutex
	records      *ttlcache.Cache[string, Record]
	interest     map[string]map[uuid.UUID]struct{}
	grace        map[string]time.Duration
	defaultGrace time.Duration
	stopOnce     sync.Once
}

func New(defaultGrace time.Duration) *Store {
	if defaultGrace <= 0 {
		defaultGrace = DefaultGracePeriod
	}

	records := ttlcache.New[string, Record](
		ttlcache.WithDisableTouchOnHit[string, Record](),
	)

	store := &Store{
		records:      records,
		interest:     make(map[string]map[uuid.UUID]struct{}),
		grace:        make(map[string]time.Duration),
		defaultGrace: defaultGrace,
	}

	records.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, _ *ttlcache.Item[string, Record]) {
		recordEviction(reason)
	})

	go records.Start()

	return store
}

// Stop terminates the expiry loop. Records are dropped with the store.
func (s *Store) Stop() {
	s.stopOnce.Do(s.records.Stop)
}

// SetGrace overrides the grace period for every key of one resource type.
func (s *Store) SetGrace(resourceType string, grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if grace <= 0 {
		delete(s.grace, resourceType)
		return
	}
	s.grace[resourceType] = grace
}

// Get returns the record for key, if any. It has no side effects: hits do
// not extend a pending eviction.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.records.Get(key)
	if item == nil {
		recordLookup(false)
		return Record{}, false
	}
	recordLookup(true)
	return item.Value(), true
}

// Put inserts or overwrites the settled record for key. A token of
// uuid.Nil means no consumer backs the record (prefetch without a mounted
// consumer) and eviction is scheduled immediately.
func (s *Store) Put(key string, value entity.Entity, status int, token uuid.UUID) {
	s.put(Record{Key: key, Value: value, Status: status}, token)
}

// PutLazy inserts a constructed-but-unfetched record for key.
func (s *Store) PutLazy(key string, value entity.Entity, token uuid.UUID) {
	s.put(Record{Key: key, Value: value, Lazy: true}, token)
}

func (s *Store) put(record Record, token uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != uuid.Nil {
		s.addInterest(record.Key, token)
	}
	s.records.Set(record.Key, record, s.ttlFor(record.Key))
}

// Register adds token to the interest set of key, eagerly cancelling any
// pending eviction. It is idempotent, and because cancellation happens
// synchronously here, a registration always wins against a scheduled but
// not-yet-fired eviction.
func (s *Store) Register(key string, token uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addInterest(key, token)

	if item := s.records.Get(key); item != nil {
		s.records.Set(key, item.Value(), ttlcache.NoTTL)
	}
}

// Unregister removes token from the interest sets of the given keys, or of
// every key when none are given. Keys whose interest set becomes empty get
// their eviction scheduled after the applicable grace period.
func (s *Store) Unregister(token uuid.UUID, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(keys) == 0 {
		keys = make([]string, 0, len(s.interest))
		for key := range s.interest {
			keys = append(keys, key)
		}
	}

	for _, key := range keys {
		tokens, ok := s.interest[key]
		if !ok {
			continue
		}
		delete(tokens, token)
		if len(tokens) > 0 {
			continue
		}
		delete(s.interest, key)

		if item := s.records.Get(key); item != nil {
			s.records.Set(key, item.Value(), s.ttlFor(key))
		}
	}
}

// ClearLazy discards the record at key when it is lazy and nobody is
// interested in it. A constructed-but-never-fetched entity has no data
// worth a grace period; fetchers call this after releasing a key so the
// leftover does not linger until the timer fires. Settled records and
// records with remaining interest are untouched.
func (s *Store) ClearLazy(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.interest[key]) > 0 {
		return
	}
	if item := s.records.Get(key); item != nil && item.Value().Lazy {
		s.records.Delete(key)
	}
}

// Remove evicts key immediately, bypassing the grace period.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records.Delete(key)
}

// RemoveAllMatching evicts every record whose key starts with prefix.
// Used for cache-busting a resource type after a mutation. Interest sets
// are kept: still-mounted consumers will refetch into the same keys.
func (s *Store) RemoveAllMatching(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.records.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.records.Delete(key)
		}
	}
}

// RemoveAllExcept evicts every record whose key matches none of the given
// prefixes.
func (s *Store) RemoveAllExcept(prefixes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.records.Keys() {
		keep := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				keep = true
				break
			}
		}
		if !keep {
			s.records.Delete(key)
		}
	}
}

// Move re-keys the record at oldKey to newKey, carrying its interest set
// along, and drops oldKey. Used when a resource acquires an identity its
// previous key lacked, so the already-cached value follows it instead of
// triggering a fresh fetch. No-op when oldKey has no record.
func (s *Store) Move(oldKey, newKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.records.Get(oldKey)
	if item == nil {
		return
	}
	record := item.Value()
	record.Key = newKey

	if tokens, ok := s.interest[oldKey]; ok {
		target, exists := s.interest[newKey]
		if !exists {
			target = make(map[uuid.UUID]struct{}, len(tokens))
			s.interest[newKey] = target
		}
		for token := range tokens {
			target[token] = struct{}{}
		}
		delete(s.interest, oldKey)
	}

	s.records.Delete(oldKey)
	s.records.Set(newKey, record, s.ttlFor(newKey))
}

// Len reports the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.records.Len()
}

// InterestCount reports how many consumers currently back key.
func (s *Store) InterestCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.interest[key])
}

func (s *Store) addInterest(key string, token uuid.UUID) {
	tokens, ok := s.interest[key]
	if !ok {
		tokens = make(map[uuid.UUID]struct{})
		s.interest[key] = tokens
	}
	tokens[token] = struct{}{}
}

// ttlFor must be called with the mutex held. A key with interest never
// expires; an unreferenced key expires after its type's grace period.
func (s *Store) ttlFor(key string) time.Duration {
	if len(s.interest[key]) > 0 {
		return ttlcache.NoTTL
	}

	resourceType := key
	if i := strings.IndexByte(key, '~'); i != -1 {
		resourceType = key[:i]
	}
	if grace, ok := s.grace[resourceType]; ok {
		return grace
	}
	return s.defaultGrace
}
