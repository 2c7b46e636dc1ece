package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// IdentityEntry is one enrolled identity as seen by the matcher: its
// reference embeddings plus the last-matched timestamp used for tie-breaking.
// Entries inside a snapshot are immutable.
type IdentityEntry struct {
	ID            uint
	Name          string
	Embeddings    [][]float32
	LastMatchedAt int64 // unix seconds, 0 = never matched
}

// Snapshot is an immutable point-in-time view of the identity registry.
// Concurrent readers share the same snapshot pointer; a refresh builds a
// complete replacement off the hot path and swaps it in one atomic store, so
// a reader always observes either the old or the new view, never a mix.
type Snapshot struct {
	Entries []IdentityEntry
	Dim     int // embedding dimensionality, uniform across the snapshot
	Version uint64
	BuiltAt time.Time
}

// RegistryCache holds the current identity snapshot for lock-free reads by
// camera workers. Refresh replaces the whole snapshot; there is no partial
// in-place mutation. If the persistence layer is unreachable the cache keeps
// serving the last good snapshot and raises a degraded-mode signal instead of
// blocking matching.
type RegistryCache struct {
	source SnapshotSource

	snap    atomic.Pointer[Snapshot]
	version atomic.Uint64
	stale   atomic.Bool

	refreshFailures atomic.Uint64
	degraded        atomic.Bool
}

// NewRegistryCache creates a cache starting from an empty snapshot. Call
// Refresh before starting workers to load the enrolled identities.
func NewRegistryCache(source SnapshotSource) *RegistryCache {
	c := &RegistryCache{source: source}
	c.snap.Store(&Snapshot{BuiltAt: time.Now()})
	return c
}

// Snapshot returns the current registry snapshot. Never nil, never blocks.
func (c *RegistryCache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Replace builds a snapshot from the given entries and swaps it in. Entries
// whose embeddings disagree on dimensionality with the rest of the set are
// dropped with a warning so the uniform-dimension invariant holds for every
// snapshot ever published.
func (c *RegistryCache) Replace(entries []IdentityEntry) {
	dim := 0
	kept := make([]IdentityEntry, 0, len(entries))
	for _, entry := range entries {
		embeddings := make([][]float32, 0, len(entry.Embeddings))
		for _, emb := range entry.Embeddings {
			if len(emb) == 0 {
				continue
			}
			if dim == 0 {
				dim = len(emb)
			}
			if len(emb) != dim {
				log.Printf("cache: WARNING - dropping embedding with dim %d for identity %d (%s), snapshot dim is %d",
					len(emb), entry.ID, entry.Name, dim)
				continue
			}
			embeddings = append(embeddings, emb)
		}
		if len(embeddings) == 0 {
			continue
		}
		entry.Embeddings = embeddings
		kept = append(kept, entry)
	}

	snap := &Snapshot{
		Entries: kept,
		Dim:     dim,
		Version: c.version.Add(1),
		BuiltAt: time.Now(),
	}
	c.snap.Store(snap)
	c.stale.Store(false)
	log.Printf("cache: published snapshot v%d with %d identities (dim %d)", snap.Version, len(kept), dim)
}

// Refresh pulls the current identity set from the snapshot source and
// publishes a new snapshot. On failure the previous snapshot keeps serving
// and the cache enters degraded mode until the next successful refresh.
func (c *RegistryCache) Refresh(ctx context.Context) error {
	entries, err := c.source.CurrentSnapshot(ctx)
	if err != nil {
		c.refreshFailures.Add(1)
		c.degraded.Store(true)
		log.Printf("cache: WARNING - refresh failed, serving stale snapshot v%d: %v",
			c.Snapshot().Version, err)
		return fmt.Errorf("registry cache refresh: %w", err)
	}
	c.Replace(entries)
	if c.degraded.Swap(false) {
		log.Printf("cache: recovered from degraded mode")
	}
	return nil
}

// Invalidate marks the current snapshot stale without discarding it. Matching
// continues against the stale view until the next Refresh; stale-but-available
// beats unavailable.
func (c *RegistryCache) Invalidate() {
	c.stale.Store(true)
}

// Stale reports whether an identity change has been signalled since the last
// successful refresh.
func (c *RegistryCache) Stale() bool { return c.stale.Load() }

// Degraded reports whether the last refresh attempt failed.
func (c *RegistryCache) Degraded() bool { return c.degraded.Load() }

// RefreshFailures returns the number of failed refresh attempts.
func (c *RegistryCache) RefreshFailures() uint64 { return c.refreshFailures.Load() }
