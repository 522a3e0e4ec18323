package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Save upserts value under key and bumps the row revision.
// The write is a single statement, so a crash leaves either the old or the
// new value, never a mix.
func (s *SQLite) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("save: empty key")
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			revision = kv.revision + 1,
			updated_at = excluded.updated_at
	`,
		key,
		value,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}

	return nil
}

// Update runs fn inside an IMMEDIATE transaction. The row is written back
// only if its revision still matches the one fn saw; otherwise the update
// fails with ErrConflict and nothing changes.
func (s *SQLite) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if key == "" {
		return fmt.Errorf("update: empty key")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %q: begin: %w", key, err)
	}
	defer tx.Rollback()

	var (
		current  []byte
		revision int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT value, revision
		FROM kv
		WHERE key = ?
	`, key).Scan(&current, &revision)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %q: read: %w", key, err)
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}
	if next == nil {
		next = []byte{}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	if found {
		res, err = tx.ExecContext(ctx, `
			UPDATE kv
			SET value = ?, revision = revision + 1, updated_at = ?
			WHERE key = ? AND revision = ?
		`, next, now, key, revision)
	} else {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, revision, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, next, now)
	}
	if err != nil {
		return fmt.Errorf("update %q: write: %w", key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update %q: write: %w", key, err)
	} else if n != 1 {
		return fmt.Errorf("update %q: %w", key, ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %q: commit: %w", key, err)
	}
	return nil
}
