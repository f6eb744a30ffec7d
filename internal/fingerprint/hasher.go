package fingerprint

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// Hasher turns a canonical byte encoding into a fixed-width Key.
// Implementations must be pure functions of their input and safe for
// concurrent use.
type Hasher interface {
	// Name identifies the algorithm (as accepted by NewHasher).
	Name() string

	// Sum hashes the input to a fixed-width hex key.
	Sum(data []byte) Key
}

// Supported hash algorithm names.
const (
	AlgSHA256  = "sha256"
	AlgSHA1    = "sha1"
	AlgFNV128a = "fnv128a"
)

// NewHasher returns the hasher for the named algorithm. See the package
// documentation for the collision trade-offs between the algorithms.
func NewHasher(name string) (Hasher, error) {
	switch name {
	case AlgSHA256, "":
		return sha256Hasher{}, nil
	case AlgSHA1:
		return sha1Hasher{}, nil
	case AlgFNV128a:
		return fnv128aHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q (supported: %s, %s, %s)",
			name, AlgSHA256, AlgSHA1, AlgFNV128a)
	}
}

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return AlgSHA256 }

func (sha256Hasher) Sum(data []byte) Key {
	sum := sha256.Sum256(data)
	return Key(hex.EncodeToString(sum[:]))
}

type sha1Hasher struct{}

func (sha1Hasher) Name() string { return AlgSHA1 }

func (sha1Hasher) Sum(data []byte) Key {
	sum := sha1.Sum(data)
	return Key(hex.EncodeToString(sum[:]))
}

type fnv128aHasher struct{}

func (fnv128aHasher) Name() string { return AlgFNV128a }

func (fnv128aHasher) Sum(data []byte) Key {
	h := fnv.New128a()
	h.Write(data)
	return Key(hex.EncodeToString(h.Sum(nil)))
}
