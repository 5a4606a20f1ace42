package model

import (
	"time"

	"github.com/protrace/protrace/pkg/dna"
	"github.com/protrace/protrace/pkg/merkle"
)

// DefaultPlatformID is recorded when a registration names no platform.
const DefaultPlatformID = "manual"

// Entry is one registered fingerprint. Entries are never mutated once stored.
type Entry struct {
	Identifier   string    `json:"identifier"    db:"identifier"`
	Fingerprint  dna.DNA   `json:"fingerprint"   db:"dna"`
	PlatformID   string    `json:"platform_id"   db:"platform_id"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// Leaf returns the Merkle leaf committed for e. The pointer is the identifier
// and the timestamp is registered_at in unix seconds.
func (e *Entry) Leaf() merkle.Leaf {
	return merkle.Leaf{
		DNAHex:     e.Fingerprint.String(),
		Pointer:    e.Identifier,
		PlatformID: e.PlatformID,
		Timestamp:  uint64(e.RegisteredAt.Unix()),
	}
}

// RegistrationStatus is the outcome of a registration attempt.
type RegistrationStatus string

const (
	StatusAccepted RegistrationStatus = "accepted"
	StatusRejected RegistrationStatus = "rejected"
)

// RegisterRequest is the input to a registration.
type RegisterRequest struct {
	Image      []byte `json:"-"`
	Identifier string `json:"identifier"`
	PlatformID string `json:"platform_id"`
	// ThresholdBits overrides the service threshold when non-nil.
	ThresholdBits *int `json:"threshold_bits,omitempty"`
}

// Match describes the closest registered fingerprint to a candidate.
type Match struct {
	Identifier  string  `json:"identifier"`
	PlatformID  string  `json:"platform_id"`
	Fingerprint dna.DNA `json:"fingerprint"`
	Distance    int     `json:"hamming_distance"`
	Similarity  float64 `json:"similarity"`
}

// RegisterResult is returned for both accepted and rejected registrations.
// Accepted results carry the new leaf; rejected results carry the match.
type RegisterResult struct {
	Status        RegistrationStatus `json:"status"`
	Fingerprint   dna.DNA            `json:"fingerprint"`
	Identifier    string             `json:"identifier,omitempty"`
	LeafIndex     *int               `json:"leaf_index,omitempty"`
	LeafHash      *merkle.Hash       `json:"leaf_hash,omitempty"`
	ThresholdBits int                `json:"threshold_bits"`
	// BestMatch is the closest existing entry, if the registry was non-empty.
	BestMatch *Match `json:"best_match,omitempty"`
}

// CheckResult is the outcome of a dry-run duplicate check.
type CheckResult struct {
	Fingerprint   dna.DNA `json:"fingerprint"`
	Duplicate     bool    `json:"duplicate"`
	ThresholdBits int     `json:"threshold_bits"`
	Scanned       int     `json:"scanned"`
	BestMatch     *Match  `json:"best_match,omitempty"`
}

// BatchItem is one element of a batch registration response.
type BatchItem struct {
	Index  int             `json:"index"`
	Result *RegisterResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Err    error           `json:"-"`
}

// ProofBundle carries everything an independent verifier needs for one leaf.
type ProofBundle struct {
	LeafIndex int          `json:"leaf_index"`
	Leaf      merkle.Leaf  `json:"leaf"`
	LeafHash  merkle.Hash  `json:"leaf_hash"`
	Proof     merkle.Proof `json:"proof"`
	Root      merkle.Hash  `json:"root"`
	LeafCount int          `json:"leaf_count"`
}

// TreeInfo summarizes the current Merkle tree.
type TreeInfo struct {
	Root      *merkle.Hash `json:"root"`
	LeafCount int          `json:"leaf_count"`
	Depth     int          `json:"depth"`
}
