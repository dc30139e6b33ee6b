package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confabhq/confab/logging"
)

// Lister enumerates the model ids currently available from a provider.
// The aggregation provider implements it from its catalog endpoint.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Registry caches the set of known model ids. It exists for one purpose in
// the failure path: when a turn fails with model_not_found, the registry is
// refreshed once before the retry fires, so renamed or newly published
// models resolve without operator intervention.
type Registry struct {
	mu          sync.RWMutex
	known       map[string]struct{}
	refreshedAt time.Time

	lister Lister
	logger logging.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry creates a registry backed by the given lister. A nil lister
// yields a registry that treats every id as known and refreshes as a no-op.
func NewRegistry(lister Lister, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		known:  map[string]struct{}{},
		lister: lister,
		logger: opts.Logger,
	}
}

// Known reports whether the model id was present in the last refresh. An
// unrefreshed (or listerless) registry reports every id as known: absence of
// catalog data must never block turns.
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.known) == 0 {
		return true
	}
	_, ok := r.known[id]
	return ok
}

// Refresh reloads the model catalog from the lister.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.lister == nil {
		return nil
	}

	ids, err := r.lister.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("refresh model registry: %w", err)
	}

	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	r.mu.Lock()
	r.known = known
	r.refreshedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("model registry refreshed", "models", len(ids))
	return nil
}

// RefreshedAt returns the time of the last successful refresh.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// Size returns the number of known model ids.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.known)
}
