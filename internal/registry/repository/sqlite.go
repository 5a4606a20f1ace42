package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/pkg/dna"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier    TEXT    NOT NULL UNIQUE,
	dna           BLOB    NOT NULL,
	platform_id   TEXT    NOT NULL,
	registered_at INTEGER NOT NULL
)`

// OpenSQLite opens (creating if needed) a SQLite registry database at path
// with WAL journaling and applies the schema.
func OpenSQLite(path string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	logger.Debug("sqlite registry opened", zap.String("path", path))
	return db, nil
}

// SQLiteStore keeps the fingerprint registry in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database. The schema must already exist.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// List returns every entry ordered by insertion sequence.
func (s *SQLiteStore) List(ctx context.Context) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, dna, platform_id, registered_at FROM fingerprints ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Append inserts e. A reused identifier yields ErrDuplicateIdentifier.
func (s *SQLiteStore) Append(ctx context.Context, e model.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (identifier, dna, platform_id, registered_at) VALUES (?, ?, ?, ?)`,
		e.Identifier, e.Fingerprint.Bytes(), e.PlatformID, e.RegisteredAt.UnixNano(),
	)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicateIdentifier
	}
	if err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

// Get returns the entry for identifier.
func (s *SQLiteStore) Get(ctx context.Context, identifier string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identifier, dna, platform_id, registered_at FROM fingerprints WHERE identifier = ?`, identifier)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Count returns the number of registered fingerprints.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*model.Entry, error) {
	var (
		e     model.Entry
		raw   []byte
		nanos int64
	)
	if err := row.Scan(&e.Identifier, &raw, &e.PlatformID, &nanos); err != nil {
		return nil, err
	}
	if len(raw) != dna.Size {
		return nil, fmt.Errorf("fingerprint %q: stored dna has %d bytes", e.Identifier, len(raw))
	}
	copy(e.Fingerprint[:], raw)
	e.RegisteredAt = time.Unix(0, nanos).UTC()
	return &e, nil
}
