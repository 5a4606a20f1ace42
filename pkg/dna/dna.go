// Package dna computes and compares 256-bit perceptual image fingerprints.
//
// A fingerprint (DNA) is the concatenation of a 64-bit gradient hash (dHash)
// and a 192-bit multi-scale grid hash. Bits are packed MSB-first and byte 0 is
// the most significant byte, so the canonical hex form reads left to right in
// bit order: the first 16 hex characters are the dHash, the remaining 48 are
// the grid hash.
//
// Similar images produce fingerprints with a small Hamming distance. The
// package provides the distance, similarity and duplicate predicates together
// with the extraction pipeline itself (see Extractor).
package dna

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// Size is the fingerprint length in bytes.
	Size = 32
	// Bits is the fingerprint length in bits.
	Bits = Size * 8
	// HexLen is the length of the canonical hex representation.
	HexLen = Size * 2

	dhashBytes = 8
	gridBytes  = Size - dhashBytes
)

// ErrMalformedFingerprint is returned when a fingerprint string is not exactly
// 64 hexadecimal characters.
var ErrMalformedFingerprint = errors.New("malformed fingerprint")

// DNA is a 256-bit perceptual fingerprint.
type DNA [Size]byte

// Components is the split view of a fingerprint.
type Components struct {
	DHash uint64
	Grid  [gridBytes]byte
}

// Parse decodes a 64-character hex fingerprint. Input is case-insensitive.
func Parse(s string) (DNA, error) {
	var d DNA
	if len(s) != HexLen {
		return d, fmt.Errorf("%w: want %d hex characters, got %d", ErrMalformedFingerprint, HexLen, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return DNA{}, fmt.Errorf("%w: %v", ErrMalformedFingerprint, err)
	}
	return d, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) DNA {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Canonicalize validates s and returns its lowercase form.
func Canonicalize(s string) (string, error) {
	d, err := Parse(s)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// FromComponents assembles a fingerprint from its two hashes.
func FromComponents(dhash uint64, grid [gridBytes]byte) DNA {
	var d DNA
	binary.BigEndian.PutUint64(d[:dhashBytes], dhash)
	copy(d[dhashBytes:], grid[:])
	return d
}

// String returns the canonical lowercase hex form.
func (d DNA) String() string { return hex.EncodeToString(d[:]) }

// Hex is an alias for String.
func (d DNA) Hex() string { return d.String() }

// Bytes returns a copy of the raw 32 bytes.
func (d DNA) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, d[:])
	return b
}

// Binary returns the 256-character '0'/'1' rendering, most significant bit first.
func (d DNA) Binary() string {
	var sb strings.Builder
	sb.Grow(Bits)
	for _, b := range d {
		fmt.Fprintf(&sb, "%08b", b)
	}
	return sb.String()
}

// Bit reports bit i, where bit 0 is the most significant bit of byte 0.
func (d DNA) Bit(i int) bool {
	return d[i/8]&(0x80>>(uint(i)%8)) != 0
}

// Components splits the fingerprint into its dHash and grid hash.
func (d DNA) Components() Components {
	var c Components
	c.DHash = binary.BigEndian.Uint64(d[:dhashBytes])
	copy(c.Grid[:], d[dhashBytes:])
	return c
}

// IsZero reports whether every bit is zero.
func (d DNA) IsZero() bool { return d == DNA{} }

// MarshalText implements encoding.TextMarshaler.
func (d DNA) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DNA) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Compare orders fingerprints bitwise, returning -1, 0 or +1.
func Compare(a, b DNA) int {
	return bytes.Compare(a[:], b[:])
}

// Complement returns the bitwise NOT of d.
func Complement(d DNA) DNA {
	var out DNA
	for i := range d {
		out[i] = ^d[i]
	}
	return out
}
