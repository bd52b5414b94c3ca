package source

import (
	"context"
	"log/slog"
	"sync"

	"castellan-hq/portcullis/pkg/policy"
)

// ActiveSet is a read-through cache of the active policy set.
//
// The first call to Policies after creation or invalidation loads the
// active policies from the store and sorts them into evaluation order;
// subsequent calls serve the cached slice. Callers that mutate policies
// must call Invalidate so the next read observes the change.
type ActiveSet struct {
	store  policy.Store
	logger *slog.Logger

	mu     sync.RWMutex
	cached []*policy.Policy
	loaded bool
}

// NewActiveSet creates an active-set cache over the given store.
func NewActiveSet(store policy.Store, logger *slog.Logger) *ActiveSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActiveSet{
		store:  store,
		logger: logger.With("component", "policy.source.activeset"),
	}
}

// Policies returns the active policies in evaluation order.
func (a *ActiveSet) Policies(ctx context.Context) ([]*policy.Policy, error) {
	a.mu.RLock()
	if a.loaded {
		cached := a.cached
		a.mu.RUnlock()
		return cached, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Another goroutine may have loaded while we waited for the lock.
	if a.loaded {
		return a.cached, nil
	}

	policies, err := a.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	policy.SortForEvaluation(policies)

	a.cached = policies
	a.loaded = true

	a.logger.Debug("active policy set loaded", "policy_count", len(policies))
	return policies, nil
}

// Invalidate discards the cached set. The next Policies call reloads
// from the store.
func (a *ActiveSet) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cached = nil
	a.loaded = false

	a.logger.Debug("active policy set invalidated")
}
