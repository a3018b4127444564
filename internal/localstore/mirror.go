// Package localstore holds the client's persisted collections. Each one keeps
// an in-memory mirror for synchronous reads and writes through to storage.KV
// on every mutation.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/storage"
)

// Mirror is a KV collection of T indexed by key. Writes are serialized per
// collection and hit the store before the mirror is updated.
type Mirror[T any] struct {
	kv         storage.KV
	collection string
	key        func(T) string

	// writeMu serializes read-modify-write sequences; mu guards items.
	writeMu sync.Mutex
	mu      sync.RWMutex
	loaded  bool
	items   map[string]T
}

func NewMirror[T any](kv storage.KV, collection string, key func(T) string) *Mirror[T] {
	return &Mirror[T]{
		kv:         kv,
		collection: collection,
		key:        key,
		items:      make(map[string]T),
	}
}

// Load reads the collection once. Later calls are no-ops; a failed load can be retried.
func (m *Mirror[T]) Load(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	return m.load(ctx)
}

func (m *Mirror[T]) load(ctx context.Context) error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()

	if loaded {
		return nil
	}

	entries, err := m.kv.List(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", m.collection, err)
	}

	items := make(map[string]T, len(entries))

	for key, raw := range entries {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			logctx.LoggerFromContext(ctx).Warn("skipping unreadable entry", "collection", m.collection, "key", key, "err", err)

			continue
		}

		items[key] = v
	}

	m.mu.Lock()
	m.items = items
	m.loaded = true
	m.mu.Unlock()

	return nil
}

func (m *Mirror[T]) Get(key string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]

	return v, ok
}

// All returns a snapshot of every item, in no particular order.
func (m *Mirror[T]) All() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]T, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}

	return out
}

func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

func (m *Mirror[T]) Put(ctx context.Context, v T) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.load(ctx); err != nil {
		return err
	}

	return m.put(ctx, v)
}

func (m *Mirror[T]) put(ctx context.Context, v T) error {
	key := m.key(v)

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", m.collection, key, err)
	}

	if err := m.kv.Put(ctx, m.collection, key, raw); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", m.collection, key, err)
	}

	m.mu.Lock()
	m.items[key] = v
	m.mu.Unlock()

	return nil
}

// Update runs fn on the current value under the collection's write lock and
// persists the result. fn receives ok=false when the key is absent; returning
// keep=false leaves the collection untouched.
func (m *Mirror[T]) Update(ctx context.Context, key string, fn func(cur T, ok bool) (next T, keep bool, err error)) (T, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var zero T

	if err := m.load(ctx); err != nil {
		return zero, err
	}

	cur, ok := m.Get(key)

	next, keep, err := fn(cur, ok)
	if err != nil {
		return zero, err
	}

	if !keep {
		return cur, nil
	}

	if err := m.put(ctx, next); err != nil {
		return zero, err
	}

	return next, nil
}

// Delete removes key; deleting a missing key is not an error.
func (m *Mirror[T]) Delete(ctx context.Context, key string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.load(ctx); err != nil {
		return err
	}

	if err := m.kv.Delete(ctx, m.collection, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", m.collection, key, err)
	}

	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()

	return nil
}

// ReplaceAll swaps the whole collection for items. Local entries missing from
// items are dropped, not merged.
func (m *Mirror[T]) ReplaceAll(ctx context.Context, items []T) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	entries := make(map[string][]byte, len(items))
	next := make(map[string]T, len(items))

	for _, v := range items {
		key := m.key(v)

		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", m.collection, key, err)
		}

		entries[key] = raw
		next[key] = v
	}

	if err := m.kv.Replace(ctx, m.collection, entries); err != nil {
		return fmt.Errorf("failed to replace %s: %w", m.collection, err)
	}

	m.mu.Lock()
	m.items = next
	m.loaded = true
	m.mu.Unlock()

	return nil
}
