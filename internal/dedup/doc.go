// Package dedup holds the duplicate index and the resolution policy.
//
// # Overview
//
// The Index is the central data structure of a scan: a synchronized mapping
// from fingerprint key to the ordered set of document identifiers sharing
// that key. Its size is what bounds the scanner's memory, so it exposes
// entry counts and supports eviction by timestamp horizon at window
// boundaries.
//
// # Lifecycle
//
// One Index lives for the whole scan but is pruned between windows:
//
//  1. During a window, scroll workers Insert fingerprinted documents.
//  2. At window end, DuplicateGroups returns groups of size > 1 for
//     resolution; resolved removals are taken out with Remove so survivors
//     stay visible to the next window.
//  3. Evict drops every member older than (window end - overlap), which is
//     what keeps peak memory proportional to one overlap period rather
//     than the whole corpus.
//
// # Resolution
//
// The Resolver designates exactly one member of each group as the keeper
// using a deterministic tie-break, so re-running a scan over an unchanged
// corpus reproduces the same decisions. In verification mode it re-fetches
// full bodies and splits groups whose members are not actually identical,
// recovering from hash collisions instead of silently merging distinct
// documents.
package dedup
