// Package fingerprint maps documents to fixed-width content fingerprints.
//
// A fingerprint is the hash of a canonical encoding of an ordered,
// configured list of field values. Two documents with identical values on
// the configured fields always produce the same key; documents that differ
// on any configured field produce different keys except for hash collisions.
//
// # Canonical encoding
//
// Field values are coerced to a stable string form before hashing:
//
//   - Numbers serialize via shortest round-trip formatting, so 1854.60 and
//     1854.6 (the same float64) produce the same bytes.
//   - Booleans are "true"/"false", strings are used verbatim.
//   - Missing fields encode as a distinct absent marker, not an empty
//     string, so documents with different field-presence patterns never
//     collide with each other.
//
// Encoded values are length-prefixed rather than separator-joined. This
// removes concatenation ambiguity entirely: ("ab","c") and ("a","bc") have
// different encodings no matter what bytes the values contain.
//
// # Choosing a hash
//
// Hashing is pluggable through the Hasher interface. Built-in choices:
//
//   - sha256 (default): 256-bit cryptographic hash. Collision probability
//     is negligible at any realistic corpus size (about 2^-129 for a
//     billion documents). Slowest of the three, still millions of
//     fingerprints per second on current hardware.
//   - sha1: 160-bit. Faster, birthday bound around 2^80; broken for
//     adversarial inputs but fine for accidental-collision detection.
//   - fnv128a: 128-bit non-cryptographic. Fastest. For n documents the
//     expected accidental collision count is about n^2 / 2^129; at 10^9
//     documents that is still ~10^-21, acceptable when verification mode
//     backstops collisions anyway.
package fingerprint
