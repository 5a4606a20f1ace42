package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/pkg/dna"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps the fingerprint registry in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// List returns every entry ordered by insertion sequence.
func (r *PostgresStore) List(ctx context.Context) ([]model.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT identifier, dna, platform_id, registered_at
		FROM fingerprints
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Append inserts e. A reused identifier yields ErrDuplicateIdentifier.
func (r *PostgresStore) Append(ctx context.Context, e model.Entry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO fingerprints (identifier, dna, platform_id, registered_at)
		VALUES ($1, $2, $3, $4)`,
		e.Identifier, e.Fingerprint.Bytes(), e.PlatformID, e.RegisteredAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateIdentifier
	}
	if err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

// Get returns the entry for identifier.
func (r *PostgresStore) Get(ctx context.Context, identifier string) (*model.Entry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT identifier, dna, platform_id, registered_at
		FROM fingerprints WHERE identifier = $1`, identifier)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Count returns the number of registered fingerprints.
func (r *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM fingerprints").Scan(&n); err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*model.Entry, error) {
	var (
		e   model.Entry
		raw []byte
	)
	if err := row.Scan(&e.Identifier, &raw, &e.PlatformID, &e.RegisteredAt); err != nil {
		return nil, err
	}
	if len(raw) != dna.Size {
		return nil, fmt.Errorf("fingerprint %q: stored dna has %d bytes", e.Identifier, len(raw))
	}
	copy(e.Fingerprint[:], raw)
	return &e, nil
}
