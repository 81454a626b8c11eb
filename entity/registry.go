package entity

import (
	"sync"

	"github.com/google/uuid"
)

// Notifier is implemented by entities that broadcast attribute updates.
// The orchestrator attaches its re-render hook to the registry of every
// entity it hands out and detaches it when the consumer lets go.
type Notifier interface {
	Updates() *UpdateRegistry
}

// UpdateRegistry is an explicit listener registry keyed by consumer token.
// Entities that notify consumers of attribute changes embed one and call
// Broadcast after mutating; the orchestrator subscribes its re-render hook
// per consumer and unsubscribes on unmount.
type UpdateRegistry struct {
	mu   sync.Mutex
	subs map[uuid.UUID]func()
}

func NewUpdateRegistry() *UpdateRegistry {
	return &UpdateRegistry{
		subs: make(map[uuid.UUID]func()),
	}
}

// Subscribe registers callback under token, replacing any previous
// callback for the same token.
func (r *UpdateRegistry) Subscribe(token uuid.UUID, callback func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[token] = callback
}

// Unsubscribe is a no-op for unknown tokens.
func (r *UpdateRegistry) Unsubscribe(token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, token)
}

// Broadcast invokes every subscribed callback. Callbacks run outside the
// registry lock, so they may subscribe or unsubscribe.
func (r *UpdateRegistry) Broadcast() {
	r.mu.Lock()
	callbacks := make([]func(), 0, len(r.subs))
	for _, callback := range r.subs {
		callbacks = append(callbacks, callback)
	}
	r.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
}
