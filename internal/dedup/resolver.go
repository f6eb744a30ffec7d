package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hem-bad/dedupscan/internal/docstore"
	"github.com/hem-bad/dedupscan/internal/fingerprint"
)

// TieBreak selects which member of a duplicate group survives. The rule
// must be deterministic and stable across runs so repeated scans over an
// unchanged corpus make identical decisions.
type TieBreak string

const (
	// TieBreakSmallestID keeps the lexicographically smallest identifier.
	// Stable without relying on timestamps; the default.
	TieBreakSmallestID TieBreak = "smallest-id"

	// TieBreakEarliest keeps the member with the earliest document
	// timestamp, breaking timestamp ties by smallest identifier.
	TieBreakEarliest TieBreak = "earliest"
)

// ParseTieBreak validates a tie-break name from configuration.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case TieBreakSmallestID, "":
		return TieBreakSmallestID, nil
	case TieBreakEarliest:
		return TieBreakEarliest, nil
	default:
		return "", fmt.Errorf("unknown tie-break %q (supported: %s, %s)",
			s, TieBreakSmallestID, TieBreakEarliest)
	}
}

// Resolution is one finalized decision: keep one identifier, remove the
// rest. This is the unit handed to the eliminator and recorded in the
// audit stream.
type Resolution struct {
	// Key is the fingerprint the group collided on.
	Key fingerprint.Key

	// Keep is the surviving identifier.
	Keep string

	// Removed are the identifiers marked for elimination, in discovery order.
	Removed []string
}

// Validate checks internal consistency of a resolution.
func (r *Resolution) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("resolution has empty fingerprint key")
	}
	if r.Keep == "" {
		return fmt.Errorf("resolution has empty keep identifier")
	}
	if len(r.Removed) == 0 {
		return fmt.Errorf("resolution has no removed identifiers")
	}
	for _, id := range r.Removed {
		if id == r.Keep {
			return fmt.Errorf("identifier %s is both kept and removed", id)
		}
	}
	return nil
}

// Outcome is the result of resolving one duplicate group.
type Outcome struct {
	// Resolutions are the finalized decisions. Without verification there
	// is exactly one; with verification a collision-split group can yield
	// zero or more.
	Resolutions []Resolution

	// CollisionSplit is true when verification found members of the group
	// that are not full-content identical (a suspected hash collision).
	CollisionSplit bool

	// Verified is the number of documents re-fetched for verification.
	Verified int
}

// Resolver applies the resolution policy to duplicate groups.
type Resolver struct {
	tieBreak   TieBreak
	verify     bool
	store      docstore.Store
	collection string
}

// NewResolver creates a resolver. The store and collection are only needed
// when verify is enabled; pass nil/"" otherwise.
func NewResolver(tieBreak TieBreak, verify bool, store docstore.Store, collection string) *Resolver {
	return &Resolver{tieBreak: tieBreak, verify: verify, store: store, collection: collection}
}

// Resolve decides the fate of one group with at least two members.
//
// Without verification the whole group is treated as identical (the
// fingerprint is keyed only on the configured fields) and one resolution is
// produced. With verification the members are re-fetched and partitioned
// into full-content equality classes: each class of size >= 2 resolves
// independently, singleton classes survive untouched, and the split is
// reported as a suspected collision rather than silently merged.
func (r *Resolver) Resolve(ctx context.Context, g *Group) (*Outcome, error) {
	if len(g.IDs) < 2 {
		return nil, fmt.Errorf("group %s has %d member(s), need at least 2", g.Key, len(g.IDs))
	}

	if !r.verify {
		res := r.resolveClass(g, g.IDs)
		return &Outcome{Resolutions: []Resolution{res}}, nil
	}

	classes, err := r.partition(ctx, g)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Verified: len(g.IDs), CollisionSplit: len(classes) > 1}
	for _, class := range classes {
		if len(class) < 2 {
			continue
		}
		out.Resolutions = append(out.Resolutions, r.resolveClass(g, class))
	}
	return out, nil
}

// resolveClass applies the tie-break to one set of identical members.
func (r *Resolver) resolveClass(g *Group, ids []string) Resolution {
	keep := ids[0]
	for _, id := range ids[1:] {
		if r.prefers(g, id, keep) {
			keep = id
		}
	}

	removed := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != keep {
			removed = append(removed, id)
		}
	}
	return Resolution{Key: g.Key, Keep: keep, Removed: removed}
}

// prefers reports whether candidate should survive over current.
func (r *Resolver) prefers(g *Group, candidate, current string) bool {
	if r.tieBreak == TieBreakEarliest {
		ct, _ := g.member(candidate)
		kt, _ := g.member(current)
		if !ct.Equal(kt) {
			return ct.Before(kt)
		}
	}
	return candidate < current
}

// partition groups members into full-content equality classes, preserving
// discovery order of both classes and members.
func (r *Resolver) partition(ctx context.Context, g *Group) ([][]string, error) {
	if r.store == nil {
		return nil, fmt.Errorf("verification enabled but no store configured")
	}

	type class struct {
		repr []byte
		ids  []string
	}
	var classes []*class

	for _, id := range g.IDs {
		doc, err := r.store.GetByID(ctx, r.collection, id)
		if err != nil {
			return nil, fmt.Errorf("verification fetch for %s failed: %w", id, err)
		}
		repr, err := canonicalFields(doc)
		if err != nil {
			return nil, fmt.Errorf("verification encode for %s failed: %w", id, err)
		}

		placed := false
		for _, c := range classes {
			if bytes.Equal(c.repr, repr) {
				c.ids = append(c.ids, id)
				placed = true
				break
			}
		}
		if !placed {
			classes = append(classes, &class{repr: repr, ids: []string{id}})
		}
	}

	out := make([][]string, len(classes))
	for i, c := range classes {
		out[i] = c.ids
	}
	return out, nil
}

// canonicalFields encodes the full field set for equality comparison.
// encoding/json sorts map keys, so equal field maps encode identically.
func canonicalFields(doc *docstore.Document) ([]byte, error) {
	return json.Marshal(doc.Fields)
}
