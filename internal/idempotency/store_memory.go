package idempotency

import (
	"context"
	"sync"
)

// InMemoryGuard keeps reservations in a map; unit tests and single-process
// deployments.
type InMemoryGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewInMemoryGuard() *InMemoryGuard {
	return &InMemoryGuard{keys: make(map[string]struct{})}
}

func (g *InMemoryGuard) TryReserve(_ context.Context, key string) (Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.keys[key]; exists {
		return AlreadyExists, nil
	}
	g.keys[key] = struct{}{}
	return Reserved, nil
}

func (g *InMemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}
