package merkle

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/protrace/protrace/pkg/dna"
)

// leafDomain prefixes every encoded leaf.
const leafDomain = "protrace-leaf-v1"

// Leaf is the logical record committed to the tree.
type Leaf struct {
	DNAHex     string `json:"dna_hex"`
	Pointer    string `json:"pointer"`
	PlatformID string `json:"platform_id"`
	Timestamp  uint64 `json:"timestamp"`
}

// Canonical returns a copy of l with the fingerprint validated and lowercased.
func (l Leaf) Canonical() (Leaf, error) {
	hex, err := dna.Canonicalize(l.DNAHex)
	if err != nil {
		return Leaf{}, err
	}
	l.DNAHex = hex
	return l, nil
}

// Encode returns the canonical byte string of l:
//
//	"protrace-leaf-v1" || u32be(len) dna_hex || u32be(len) pointer ||
//	u32be(len) platform_id || u64be(timestamp)
//
// Each variable field is length-prefixed, so no two distinct leaves share an
// encoding. Encode does not validate; use Canonical first.
func (l Leaf) Encode() []byte {
	n := len(leafDomain) + 3*4 + len(l.DNAHex) + len(l.Pointer) + len(l.PlatformID) + 8
	buf := make([]byte, 0, n)
	buf = append(buf, leafDomain...)
	for _, f := range [...]string{l.DNAHex, l.Pointer, l.PlatformID} {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return binary.BigEndian.AppendUint64(buf, l.Timestamp)
}

// Hash returns BLAKE3(Encode()). The caller is responsible for canonical form.
func (l Leaf) Hash() Hash {
	return blake3.Sum256(l.Encode())
}

// LeafHash validates and canonicalizes l, then hashes it.
func LeafHash(l Leaf) (Hash, error) {
	c, err := l.Canonical()
	if err != nil {
		return Hash{}, err
	}
	return c.Hash(), nil
}

// ComputeLeafHash hashes a leaf from its individual fields.
func ComputeLeafHash(dnaHex, pointer, platformID string, timestamp uint64) (Hash, error) {
	return LeafHash(Leaf{DNAHex: dnaHex, Pointer: pointer, PlatformID: platformID, Timestamp: timestamp})
}
