package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the hash of the genesis entry at index 0. Every other entry
// chains from it.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one anchored root in the ledger.
type Entry struct {
	Index       int       `json:"index"`
	AnchoredAt  time.Time `json:"anchored_at"`
	Root        string    `json:"root"`
	ManifestRef string    `json:"manifest_ref"`
	LeafCount   uint64    `json:"leaf_count"`
	Timestamp   int64     `json:"timestamp"` // payload timestamp, unix seconds
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
}

func genesisEntry(at time.Time) *Entry {
	return &Entry{
		Index:      0,
		AnchoredAt: at,
		Root:       GenesisHash,
		PrevHash:   GenesisHash,
		Hash:       GenesisHash,
	}
}

func newEntry(index int, prevHash string, p Payload, at time.Time) *Entry {
	e := &Entry{
		Index:       index,
		AnchoredAt:  at,
		Root:        p.Root.String(),
		ManifestRef: p.ManifestRef,
		LeafCount:   p.LeafCount,
		Timestamp:   p.Timestamp,
		PrevHash:    prevHash,
	}
	e.Hash = hashEntry(e)
	return e
}

// hashEntry computes the SHA-256 over an entry's fields. It is never applied
// to the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%d|%s",
		e.Index, e.AnchoredAt.UTC().Format(time.RFC3339Nano),
		e.Root, e.ManifestRef, e.LeafCount, e.Timestamp, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// verifyChain checks a sequence of entries ordered by index.
func verifyChain(entries []*Entry) error {
	for i, curr := range entries {
		if curr.Index != i {
			return fmt.Errorf("entry at position %d has index %d", i, curr.Index)
		}
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		if curr.PrevHash != entries[i-1].Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
	}
	return nil
}
