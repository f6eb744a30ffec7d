package dedup

import (
	"sort"
	"sync"
	"time"

	"github.com/hem-bad/dedupscan/internal/fingerprint"
)

// Group is one duplicate group: every identifier that hashed to the same
// fingerprint key, in discovery order. A group of size 1 means no duplicate
// found yet; size > 1 triggers resolution.
type Group struct {
	// Key is the shared fingerprint.
	Key fingerprint.Key

	// IDs are the member identifiers in discovery order.
	IDs []string

	// Timestamps holds each member's document timestamp, parallel to IDs.
	// Used for eviction and for the earliest-member tie-break.
	Timestamps []time.Time
}

// member looks up the timestamp for an ID. Linear scan; groups are small.
func (g *Group) member(id string) (time.Time, bool) {
	for i, gid := range g.IDs {
		if gid == id {
			return g.Timestamps[i], true
		}
	}
	return time.Time{}, false
}

// Index is the in-memory duplicate index. Safe for concurrent Insert from
// fingerprint workers; the remaining methods are called by the scan driver
// between batches, which the mutex also serializes.
type Index struct {
	mu     sync.RWMutex
	groups map[fingerprint.Key]*Group
	ids    int
}

// NewIndex creates an empty duplicate index.
func NewIndex() *Index {
	return &Index{groups: make(map[fingerprint.Key]*Group)}
}

// Insert appends an identifier to the group for the given key, creating
// the group if absent. Re-inserting an identifier already present in the
// group is a no-op, which makes a replayed scroll page harmless.
func (x *Index) Insert(key fingerprint.Key, id string, ts time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	g, ok := x.groups[key]
	if !ok {
		x.groups[key] = &Group{Key: key, IDs: []string{id}, Timestamps: []time.Time{ts}}
		x.ids++
		return
	}
	if _, exists := g.member(id); exists {
		return
	}
	g.IDs = append(g.IDs, id)
	g.Timestamps = append(g.Timestamps, ts)
	x.ids++
}

// DuplicateGroups returns a snapshot of every group with more than one
// member, sorted by key for deterministic processing order. Windowing
// bounds the number of live groups, so materializing the duplicate subset
// stays proportional to the duplicates in one window.
func (x *Index) DuplicateGroups() []*Group {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var dups []*Group
	for _, g := range x.groups {
		if len(g.IDs) > 1 {
			dups = append(dups, &Group{
				Key:        g.Key,
				IDs:        append([]string(nil), g.IDs...),
				Timestamps: append([]time.Time(nil), g.Timestamps...),
			})
		}
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i].Key < dups[j].Key })
	return dups
}

// Remove drops the given identifiers from a group, deleting the group when
// it empties. Called after elimination so survivors remain visible to the
// next window while removed members stop occupying memory.
func (x *Index) Remove(key fingerprint.Key, ids ...string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	g, ok := x.groups[key]
	if !ok {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	keptIDs := g.IDs[:0]
	keptTS := g.Timestamps[:0]
	for i, id := range g.IDs {
		if drop[id] {
			x.ids--
			continue
		}
		keptIDs = append(keptIDs, id)
		keptTS = append(keptTS, g.Timestamps[i])
	}
	g.IDs = keptIDs
	g.Timestamps = keptTS
	if len(g.IDs) == 0 {
		delete(x.groups, key)
	}
}

// Evict removes every member whose document timestamp is strictly before
// the horizon, dropping groups that empty. Returns the number of
// identifiers evicted. This is the memory bound: after eviction the index
// holds only the overlap-eligible tail of the window just finished.
func (x *Index) Evict(olderThan time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	evicted := 0
	for key, g := range x.groups {
		keptIDs := g.IDs[:0]
		keptTS := g.Timestamps[:0]
		for i, ts := range g.Timestamps {
			if ts.Before(olderThan) {
				evicted++
				x.ids--
				continue
			}
			keptIDs = append(keptIDs, g.IDs[i])
			keptTS = append(keptTS, ts)
		}
		g.IDs = keptIDs
		g.Timestamps = keptTS
		if len(g.IDs) == 0 {
			delete(x.groups, key)
		}
	}
	return evicted
}

// Len returns the number of live groups.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.groups)
}

// IDCount returns the number of identifiers currently held across all
// groups. The scan reports this as its memory high-water metric.
func (x *Index) IDCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ids
}
