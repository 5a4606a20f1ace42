package anchor

import (
	"context"
	"errors"
)

// ErrEntryNotFound is returned for an index outside the ledger.
var ErrEntryNotFound = errors.New("anchor entry not found")

// Ledger is the append-only hash chain of anchored roots.
// MemoryLedger, PostgresLedger and SQLiteLedger implement it.
type Ledger interface {
	// Append records p chained to the previous entry.
	Append(ctx context.Context, p Payload) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Latest returns the most recent entry (the genesis entry when nothing
	// has been anchored yet).
	Latest(ctx context.Context) (*Entry, error)

	// Len returns the number of entries including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and returns nil if it is intact.
	Verify(ctx context.Context) error
}

// LedgerSink anchors payloads into a Ledger. The confirmation ID is the
// entry hash.
type LedgerSink struct {
	Ledger Ledger
}

// Anchor implements Sink.
func (s LedgerSink) Anchor(ctx context.Context, p Payload) (*Confirmation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e, err := s.Ledger.Append(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Confirmation{ID: e.Hash, Sink: "ledger", At: e.AnchoredAt}, nil
}
