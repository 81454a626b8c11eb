// Package coordinator funnels every fetch through a per-key single flight
// so that concurrent requests for one cache key trigger exactly one
// network fetch, with all callers multiplexed onto the same settlement.
package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/noahgrant/resourcerer/entity"
	"github.com/noahgrant/resourcerer/internal/logging"
	"github.com/noahgrant/resourcerer/store"
	"golang.org/x/sync/singleflight"
)

// Options control a single Request call.
type Options struct {
	// Token identifies the requesting consumer. uuid.Nil requests without
	// registering interest (prefetch without a mounted consumer).
	Token uuid.UUID
	// Lazy stores a constructed entity without fetching it.
	Lazy bool
	// Force fetches even when a fresh record is cached.
	Force bool
}

// Coordinator pairs a store with an in-flight request group. Like the
// store it is an explicit value, not a package singleton; hosts normally
// hold one per process, tests hold one per case.
type Coordinator struct {
	store *store.Store
	group singleflight.Group
}

func New(s *store.Store) *Coordinator {
	return &Coordinator{store: s}
}

type settlement struct {
	value  entity.Entity
	status int
}

// Request returns the entity for key, fetching it at most once no matter
// how many callers ask concurrently.
//
// A caller joining an in-flight fetch has its interest registered and
// shares the settlement. A fresh cached record resolves immediately. On a
// miss (or a forced refetch, or the promotion of a lazy record) the entity
// is placed in the store before the fetch starts, so late joiners share
// the flight instead of double-fetching; a failed fetch purges the record
// so the next attempt starts from scratch.
func (c *Coordinator) Request(ctx context.Context, key string, factory entity.Factory, opts Options) (entity.Entity, int, error) {
	logger := logging.FromContext(ctx)

	if opts.Token != uuid.Nil {
		// Renew interest up front: this cancels any pending eviction even
		// when we go on to join an already in-flight fetch.
		c.store.Register(key, opts.Token)
	}

	if opts.Lazy {
		if record, ok := c.store.Get(key); ok {
			return record.Value, record.Status, nil
		}
		value := factory()
		c.store.PutLazy(key, value, opts.Token)
		logger.InfoContext(ctx, "Created lazy record", "key", key)
		return value, 0, nil
	}

	if !opts.Force {
		if record, ok := c.store.Get(key); ok && !record.Lazy {
			logger.InfoContext(ctx, "Serving record", "key", key, "cache", "hit")
			return record.Value, record.Status, nil
		}
	}

	result, err, shared := c.group.Do(key, func() (any, error) {
		record, cached := c.store.Get(key)

		// A flight settled between our miss and this claim.
		if cached && !record.Lazy && !opts.Force {
			return settlement{value: record.Value, status: record.Status}, nil
		}

		var value entity.Entity
		if cached {
			// Promote the lazy record, or refetch the forced one, in place.
			value = record.Value
		} else {
			value = factory()
		}

		// Claim the key before fetching. The record stays lazy until the
		// fetch settles so concurrent callers join the flight instead of
		// treating it as fresh. Interest was registered on entry; neither
		// the claim nor the settle write may re-add it, or a consumer
		// unregistering mid-flight would be resurrected and pin the record.
		c.store.PutLazy(key, value, uuid.Nil)

		logger.InfoContext(ctx, "Fetching record", "key", key, "cache", "miss", "force", opts.Force)

		// Unmounting consumers must not abort a fetch others may join.
		status, err := value.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			c.store.Remove(key)
			return settlement{status: status}, fmt.Errorf("failed to fetch %s: %w", key, err)
		}

		c.store.Put(key, value, status, uuid.Nil)
		return settlement{value: value, status: status}, nil
	})

	settled := result.(settlement)
	if err != nil {
		return nil, settled.status, err
	}

	if shared {
		logger.InfoContext(ctx, "Serving record", "key", key, "cache", "joined")
	}
	return settled.value, settled.status, nil
}
