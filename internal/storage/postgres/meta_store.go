package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MetaStore implements watch.MetaStore over the metas table.
type MetaStore struct {
	pool Pool
}

// NewMetaStore constructs a MetaStore from an existing pool.
func NewMetaStore(pool Pool) (*MetaStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MetaStore{pool: pool}, nil
}

// Get returns the value stored under key.
func (m *MetaStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := m.pool.QueryRow(ctx, `SELECT value FROM metas WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select meta %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (m *MetaStore) Set(ctx context.Context, key, value string) error {
	_, err := m.pool.Exec(ctx, `
INSERT INTO metas (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("upsert meta %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (m *MetaStore) Delete(ctx context.Context, key string) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM metas WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete meta %q: %w", key, err)
	}
	return nil
}
