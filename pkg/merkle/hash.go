// Package merkle is an append-only BLAKE3 Merkle tree over fingerprint leaves.
//
// Leaves are hashed from a length-prefixed encoding of their fields. Parents
// are BLAKE3(left || right); when a layer has an odd number of nodes the last
// node is paired with itself, so appending a copy of the last leaf of an
// odd-sized tree leaves the root unchanged. Every append moves the root only
// while leaves are unique. A Tree accepts appends from a single writer and
// Build returns an immutable Snapshot from which roots and inclusion proofs are
// read. Proofs verify without a tree via VerifyProof and VerifyProofStandalone.
package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the size of every node hash in bytes.
const HashSize = 32

// Hash is a BLAKE3-256 digest.
type Hash [HashSize]byte

var (
	// ErrEmptyTree is returned by Build on a tree with no leaves.
	ErrEmptyTree = errors.New("merkle tree has no leaves")
	// ErrIndexOutOfRange is returned for a leaf index outside the snapshot.
	ErrIndexOutOfRange = errors.New("leaf index out of range")
	// ErrRootMismatch is returned when an imported manifest does not reproduce its root.
	ErrRootMismatch = errors.New("merkle root mismatch")
	// ErrRawLeaf is returned when leaf fields are requested for a leaf added by hash.
	ErrRawLeaf = errors.New("leaf was added by hash and has no fields")
	// ErrMalformedHash is returned when a hex hash is not 64 hex characters.
	ErrMalformedHash = errors.New("malformed hash")
)

// ParseHash decodes a 64-character hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("%w: want %d hex characters, got %d", ErrMalformedHash, HashSize*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return h, nil
}

// String returns the lowercase hex form.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is all zero bytes.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// hashPair returns BLAKE3(left || right).
func hashPair(left, right Hash) Hash {
	var buf [2 * HashSize]byte
	copy(buf[:HashSize], left[:])
	copy(buf[HashSize:], right[:])
	return blake3.Sum256(buf[:])
}
