package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/content_companion/internal/storage"
	"github.com/italolelis/content_companion/internal/telemetry"
)

// InstrumentedKVRepository wraps KVRepository with telemetry.
type InstrumentedKVRepository struct {
	repo      *KVRepository
	telemetry *telemetry.Telemetry
}

var _ storage.KV = (*InstrumentedKVRepository)(nil)

func NewInstrumentedKVRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedKVRepository {
	return &InstrumentedKVRepository{
		repo:      NewKVRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedKVRepository) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var result []byte

	err := r.telemetry.InstrumentStoreOperation(ctx, "get", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Get(ctx, collection, key)

		return err
	})

	return result, err
}

func (r *InstrumentedKVRepository) Put(ctx context.Context, collection, key string, value []byte) error {
	return r.telemetry.InstrumentStoreOperation(ctx, "put", func(ctx context.Context) error {
		return r.repo.Put(ctx, collection, key, value)
	})
}

func (r *InstrumentedKVRepository) Delete(ctx context.Context, collection, key string) error {
	return r.telemetry.InstrumentStoreOperation(ctx, "delete", func(ctx context.Context) error {
		return r.repo.Delete(ctx, collection, key)
	})
}

func (r *InstrumentedKVRepository) List(ctx context.Context, collection string) (map[string][]byte, error) {
	var result map[string][]byte

	err := r.telemetry.InstrumentStoreOperation(ctx, "list", func(ctx context.Context) error {
		var err error

		result, err = r.repo.List(ctx, collection)

		return err
	})

	return result, err
}

func (r *InstrumentedKVRepository) Replace(ctx context.Context, collection string, entries map[string][]byte) error {
	return r.telemetry.InstrumentStoreOperation(ctx, "replace", func(ctx context.Context) error {
		return r.repo.Replace(ctx, collection, entries)
	})
}
