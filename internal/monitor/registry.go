package monitor

import (
	"sync"

	"go.uber.org/zap"
)

// UpdateFunc receives a health record snapshot after each check.
type UpdateFunc func(rec HealthRecord)

// Registry is the per-user subscription list for health updates.
// Delivery is synchronous and in registration order; a panicking callback
// is logged and never blocks later callbacks or the monitoring loop.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string][]subEntry // user_id -> callbacks
	nextID uint64
	logger *zap.Logger
}

type subEntry struct {
	id uint64
	fn UpdateFunc
}

// NewRegistry creates an empty subscription registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		subs:   make(map[string][]subEntry),
		logger: logger,
	}
}

// Subscribe registers a callback for one user's health updates.
// The returned function removes exactly that callback; calling it twice
// is a safe no-op.
func (r *Registry) Subscribe(userID string, fn UpdateFunc) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[userID] = append(r.subs[userID], subEntry{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.subs[userID]
		for i, e := range entries {
			if e.id == id {
				entries = append(entries[:i], entries[i+1:]...)
				if len(entries) == 0 {
					delete(r.subs, userID)
				} else {
					r.subs[userID] = entries
				}
				return
			}
		}
	}
}

// Notify delivers a record snapshot to every subscriber for the user.
func (r *Registry) Notify(userID string, rec HealthRecord) {
	r.mu.RLock()
	entries := make([]subEntry, len(r.subs[userID]))
	copy(entries, r.subs[userID])
	r.mu.RUnlock()

	for _, e := range entries {
		r.safeCall(e.fn, rec)
	}
}

// SubscriberCount returns the number of callbacks registered for a user.
func (r *Registry) SubscriberCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[userID])
}

func (r *Registry) safeCall(fn UpdateFunc, rec HealthRecord) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("health update subscriber panicked",
				zap.String("credential_id", rec.CredentialID),
				zap.String("user_id", rec.UserID),
				zap.Any("panic", p),
			)
		}
	}()
	fn(rec)
}
