package router

import (
	"context"
	"sync"
	"time"
)

// Index is the eventually-consistent snapshot cache that serves the routing
// hot path. It never shares ownership of a Connector: it only holds
// descriptions and health copies produced by RefreshFromRegistry.
type Index struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{snapshots: make(map[string]Snapshot)}
}

// SetSnapshot writes id's snapshot in place.
func (idx *Index) SetSnapshot(id string, s Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.snapshots[id] = s
}

// Remove deletes id's snapshot, if present.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.snapshots, id)
}

// Get returns id's snapshot, if present.
func (idx *Index) Get(id string) (Snapshot, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.snapshots[id]
	return s, ok
}

// List returns a snapshot copy of the full id -> Snapshot map.
func (idx *Index) List() map[string]Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]Snapshot, len(idx.snapshots))
	for id, s := range idx.snapshots {
		out[id] = s
	}
	return out
}

// RefreshFromRegistry probes every registered connector and rewrites its
// snapshot. It returns the number of snapshots written. Between refreshes
// the index may disagree with the registry in either direction; callers
// must tolerate that (see Router.findEligibleCandidates).
func (idx *Index) RefreshFromRegistry(ctx context.Context, reg *Registry) int {
	return idx.RefreshSubsetFromRegistry(ctx, reg, reg.ListIDs())
}

// RefreshSubsetFromRegistry refreshes only the given ids, skipping any that
// are no longer registered.
func (idx *Index) RefreshSubsetFromRegistry(ctx context.Context, reg *Registry, ids []string) int {
	now := time.Now().UTC()
	n := 0
	for _, id := range ids {
		c, ok := reg.Get(id)
		if !ok {
			continue
		}
		snap := Snapshot{
			Description: c.Describe(ctx),
			Health:      c.Probe(ctx),
			UpdatedAt:   now,
		}
		idx.SetSnapshot(id, snap)
		n++
	}
	return n
}
