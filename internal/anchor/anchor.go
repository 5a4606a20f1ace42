// Package anchor publishes Merkle roots to an anchor sink.
//
// A Payload carries a root, the content reference of its manifest, the leaf
// count and a timestamp. Sinks accept payloads and return a confirmation. The
// built-in sink is a hash-chained anchor ledger: every entry records the
// SHA-256 of its predecessor, so rewriting history is detectable via Verify.
// Two Ledger implementations are provided:
//   - MemoryLedger: in-process, for tests and single-node deployments.
//   - PostgresLedger: durable, for production use.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/protrace/protrace/pkg/merkle"
)

var (
	// ErrInvalidPayload is returned for a payload that cannot be anchored.
	ErrInvalidPayload = errors.New("invalid anchor payload")
	// ErrNothingToAnchor is returned when the root was already anchored last.
	ErrNothingToAnchor = errors.New("root already anchored")
)

// Payload is what a sink receives.
type Payload struct {
	Root        merkle.Hash `json:"root"`
	ManifestRef string      `json:"manifest_ref"`
	LeafCount   uint64      `json:"leaf_count"`
	Timestamp   int64       `json:"timestamp"`
}

// NewPayload formats the payload for snap.
func NewPayload(snap *merkle.Snapshot, manifestRef string, at time.Time) Payload {
	return Payload{
		Root:        snap.Root(),
		ManifestRef: manifestRef,
		LeafCount:   uint64(snap.Len()),
		Timestamp:   at.Unix(),
	}
}

// Validate checks that p is complete.
func (p Payload) Validate() error {
	switch {
	case p.Root.IsZero():
		return fmt.Errorf("%w: root is zero", ErrInvalidPayload)
	case p.LeafCount == 0:
		return fmt.Errorf("%w: leaf count is zero", ErrInvalidPayload)
	case p.ManifestRef == "":
		return fmt.Errorf("%w: manifest ref is empty", ErrInvalidPayload)
	}
	return nil
}

// Confirmation is the opaque handle a sink returns.
type Confirmation struct {
	ID   string    `json:"id"`
	Sink string    `json:"sink"`
	At   time.Time `json:"at"`
}

// Sink accepts anchor payloads.
type Sink interface {
	Anchor(ctx context.Context, p Payload) (*Confirmation, error)
}
