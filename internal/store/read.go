package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Load returns the value stored under key.
// Returns found=false (and no error) if the key has never been saved.
func (s *SQLite) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM kv
		WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %q: %w", key, err)
	}

	return value, true, nil
}
