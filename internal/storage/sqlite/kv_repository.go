package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/content_companion/internal/storage"
)

// KVRepository implements storage.KV on the kv table.
type KVRepository struct {
	db *sql.DB
}

var _ storage.KV = (*KVRepository)(nil)

func NewKVRepository(dbConn *sql.DB) *KVRepository {
	return &KVRepository{db: dbConn}
}

func (r *KVRepository) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var value []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`, collection, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return value, nil
}

func (r *KVRepository) Put(ctx context.Context, collection, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv (collection, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, collection, key, value, time.Now().UTC().Format(time.RFC3339))

	return err
}

func (r *KVRepository) Delete(ctx context.Context, collection, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE collection = ? AND key = ?`, collection, key)

	return err
}

func (r *KVRepository) List(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string][]byte)

	for rows.Next() {
		var (
			key   string
			value []byte
		)

		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		entries[key] = value
	}

	return entries, rows.Err()
}

func (r *KVRepository) Replace(ctx context.Context, collection string, entries map[string][]byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	for key, value := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (collection, key, value, updated_at) VALUES (?, ?, ?, ?)`,
			collection, key, value, now,
		); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", collection, key, err)
		}
	}

	return tx.Commit()
}
