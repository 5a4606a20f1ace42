package anchor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewMemoryLedger creates a MemoryLedger holding only the genesis entry.
func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{now: func() time.Time { return time.Now().UTC() }}
	l.entries = append(l.entries, genesisEntry(l.now()))
	return l
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, p Payload) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	e := newEntry(len(l.entries), prev.Hash, p, l.now())
	l.entries = append(l.entries, e)
	cp := *e
	return &cp, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	cp := *l.entries[index]
	return &cp, nil
}

// Latest implements Ledger.
func (l *MemoryLedger) Latest(_ context.Context) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := *l.entries[len(l.entries)-1]
	return &cp, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}
