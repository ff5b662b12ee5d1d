// Package registry holds the in-memory table of targets, one per image
// reference. The registry lock covers only map access; all slow work
// happens under the per-target lock instead.
package registry

import (
	"sort"
	"sync"

	"github.com/lazygate/lazygate/internal/core/domain"
)

// Registry maps image references to their targets.
type Registry struct {
	mu      sync.Mutex
	targets map[domain.ImageReference]*domain.Target
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{targets: make(map[domain.ImageReference]*domain.Target)}
}

// GetOrCreate returns the target for ref, creating it if this is the first
// request for the reference. Concurrent first-requests observe exactly one
// target: the check and insert happen under one short-lived lock.
func (r *Registry) GetOrCreate(ref domain.ImageReference) *domain.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.targets[ref]; ok {
		return t
	}
	t := domain.NewTarget(ref)
	r.targets[ref] = t
	return t
}

// Get returns the target for ref if one exists.
func (r *Registry) Get(ref domain.ImageReference) (*domain.Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[ref]
	return t, ok
}

// Reinsert puts a previously obtained handle back into the table if its
// reference is no longer tracked, and returns the canonical target for the
// reference: the handle itself when it was re-inserted (or still present),
// or the current entry when the reference was re-created by someone else in
// the meantime. Lets a caller that held a handle across a reaper sweep
// re-assert membership before launching on it.
func (r *Registry) Reinsert(t *domain.Target) *domain.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.targets[t.Ref()]; ok {
		return cur
	}
	r.targets[t.Ref()] = t
	return t
}

// Remove drops the target for ref. Called after full teardown, when neither
// a container nor a tracked image remains.
func (r *Registry) Remove(ref domain.ImageReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, ref)
}

// Snapshot returns the current targets, ordered by image reference so that
// iteration order is stable for logs and the admin API. The slice is a
// copy; the reaper iterates it while new targets are inserted.
func (r *Registry) Snapshot() []*domain.Target {
	r.mu.Lock()
	out := make([]*domain.Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref().String() < out[j].Ref().String()
	})
	return out
}

// Len returns the number of tracked targets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}
