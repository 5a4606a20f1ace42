package anchor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sqliteLedgerSchema = `
CREATE TABLE IF NOT EXISTS anchor_ledger (
	idx          INTEGER PRIMARY KEY,
	anchored_at  INTEGER NOT NULL,
	root         TEXT    NOT NULL,
	manifest_ref TEXT    NOT NULL,
	leaf_count   INTEGER NOT NULL,
	payload_ts   INTEGER NOT NULL,
	prev_hash    TEXT    NOT NULL,
	hash         TEXT    NOT NULL UNIQUE
)`

// SQLiteLedger keeps the anchor ledger in the local SQLite registry
// database. anchored_at is stored as unix nanoseconds.
type SQLiteLedger struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex // serialises appends within the process
	now    func() time.Time
}

// NewSQLiteLedger applies the ledger schema to db and inserts the genesis
// entry if the ledger is empty.
func NewSQLiteLedger(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteLedger, error) {
	if _, err := db.ExecContext(ctx, sqliteLedgerSchema); err != nil {
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	l := &SQLiteLedger{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	g := genesisEntry(l.now())
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO anchor_ledger (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Index, g.AnchoredAt.UnixNano(), g.Root, g.ManifestRef, 0, 0, g.PrevHash, g.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert genesis entry: %w", err)
	}
	return l, nil
}

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, p Payload) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var prevIdx int
	var prevHash string
	if err := tx.QueryRowContext(ctx,
		"SELECT idx, hash FROM anchor_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	e := newEntry(prevIdx+1, prevHash, p, l.now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO anchor_ledger (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Index, e.AnchoredAt.UnixNano(), e.Root, e.ManifestRef,
		int64(e.LeafCount), e.Timestamp, e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("anchor entry appended",
		zap.Int("idx", e.Index),
		zap.String("root", e.Root),
	)
	return e, nil
}

// Get implements Ledger.
func (l *SQLiteLedger) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanSQLiteLedgerEntry(l.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger WHERE idx = ?`, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return e, nil
}

// Latest implements Ledger.
func (l *SQLiteLedger) Latest(ctx context.Context) (*Entry, error) {
	e, err := scanSQLiteLedgerEntry(l.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger ORDER BY idx DESC LIMIT 1`))
	if err != nil {
		return nil, fmt.Errorf("get ledger tail: %w", err)
	}
	return e, nil
}

// Len implements Ledger.
func (l *SQLiteLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM anchor_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger.
func (l *SQLiteLedger) Verify(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM anchor_ledger ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanSQLiteLedgerEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return verifyChain(entries)
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteLedgerEntry(row sqlRow) (*Entry, error) {
	var (
		e         Entry
		nanos     int64
		leafCount int64
	)
	if err := row.Scan(
		&e.Index, &nanos, &e.Root, &e.ManifestRef,
		&leafCount, &e.Timestamp, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	e.AnchoredAt = time.Unix(0, nanos).UTC()
	e.LeafCount = uint64(leafCount)
	return &e, nil
}
