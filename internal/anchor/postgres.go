package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent Append calls across processes. The
// value is arbitrary but must be the same for every server instance.
const advisoryLockKey = int64(2_046_531_770)

const entryColumns = `idx, anchored_at, root, manifest_ref, leaf_count, payload_ts, prev_hash, hash`

// PostgresLedger persists the anchor ledger in PostgreSQL.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by pool. The genesis row
// is inserted by the schema migration.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger. The tail read and the insert run in one
// transaction under an advisory lock.
func (l *PostgresLedger) Append(ctx context.Context, p Payload) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM anchor_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	// timestamptz keeps microseconds; truncate so the stored row rehashes identically.
	e := newEntry(prevIdx+1, prevHash, p, time.Now().UTC().Truncate(time.Microsecond))
	if _, err := tx.Exec(ctx,
		`INSERT INTO anchor_ledger (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Index, e.AnchoredAt, e.Root, e.ManifestRef,
		int64(e.LeafCount), e.Timestamp, e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("anchor entry appended",
		zap.Int("idx", e.Index),
		zap.String("root", e.Root),
		zap.Uint64("leaf_count", e.LeafCount),
	)
	return e, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanLedgerEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger WHERE idx = $1`, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return e, nil
}

// Latest implements Ledger.
func (l *PostgresLedger) Latest(ctx context.Context) (*Entry, error) {
	e, err := scanLedgerEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger ORDER BY idx DESC LIMIT 1`))
	if err != nil {
		return nil, fmt.Errorf("get ledger tail: %w", err)
	}
	return e, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM anchor_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It loads the chain ordered by idx; cost is linear
// in ledger length.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM anchor_ledger ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
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

func scanLedgerEntry(row pgx.Row) (*Entry, error) {
	var (
		e         Entry
		leafCount int64
	)
	if err := row.Scan(
		&e.Index, &e.AnchoredAt, &e.Root, &e.ManifestRef,
		&leafCount, &e.Timestamp, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	e.LeafCount = uint64(leafCount)
	e.AnchoredAt = e.AnchoredAt.UTC()
	return &e, nil
}
