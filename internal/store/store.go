package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is recorded in PRAGMA user_version.
//
//	1: kv table with revision counter
const schemaVersion = 1

// ErrConflict is returned by Update when the stored revision moved between
// the read and the write.
var ErrConflict = errors.New("store: concurrent write")

// UpdateFunc computes the new value of a key from its current value. An
// error aborts the update and is returned unchanged by KV.Update.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// KV is the durable local storage collaborator.
//
// Several processes may share one database. Read-modify-write cycles must
// go through Update; Save is a blind overwrite.
type KV interface {
	// Save durably writes value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Load returns the value stored under key. found is false when the key
	// has never been saved; that is not an error.
	Load(ctx context.Context, key string) (value []byte, found bool, err error)

	// Update reads the latest value under key, passes it to fn and stores
	// the result, atomically with respect to every other writer.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// SQLite is a KV backed by a single SQLite table.
type SQLite struct {
	db *sql.DB
}

var _ KV = (*SQLite)(nil)

// dsn builds the go-sqlite3 connection string. The driver applies the
// pragmas on every new connection: WAL journal, FULL sync so a returned Save
// survives power loss, and a 5s busy timeout for a second process sharing
// the file. Transactions begin IMMEDIATE so an Update holds the write lock
// from its first read.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "FULL")
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens or creates the database at path and brings its schema up to
// date. Opening an existing database is safe; a database written by a newer
// schema is refused.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer at a time; one connection keeps Save calls ordered.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate applies schema.sql inside one transaction and stamps
// user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return tx.Commit()
}
