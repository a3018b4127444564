package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/content_companion/internal/storage"
)

// CachedPage is a paginated list as last fetched.
type CachedPage[T any] struct {
	Items     []T       `json:"items"`
	Page      int       `json:"page"`
	Limit     int       `json:"limit"`
	Total     int       `json:"total,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// IsFresh reports whether now falls strictly before FetchedAt+ttl.
func (p CachedPage[T]) IsFresh(now time.Time, ttl time.Duration) bool {
	if p.FetchedAt.IsZero() {
		return false
	}

	return now.Before(p.FetchedAt.Add(ttl))
}

// MergePage folds next into prev with infinite-scroll semantics: page 1
// replaces prev, later pages append the items prev does not already hold.
func MergePage[T any](prev, next CachedPage[T], key func(T) string) CachedPage[T] {
	if next.Page <= 1 {
		next.Items = append([]T(nil), next.Items...)

		return next
	}

	seen := make(map[string]struct{}, len(prev.Items)+len(next.Items))
	items := make([]T, 0, len(prev.Items)+len(next.Items))

	for _, it := range prev.Items {
		seen[key(it)] = struct{}{}
		items = append(items, it)
	}

	for _, it := range next.Items {
		k := key(it)
		if _, dup := seen[k]; dup {
			continue
		}

		seen[k] = struct{}{}
		items = append(items, it)
	}

	merged := next
	merged.Items = items

	if merged.Total == 0 {
		merged.Total = prev.Total
	}

	return merged
}

// PageCache stores CachedPage entries for one content kind, keyed by the
// caller (a content id, a filter...).
type PageCache[T any] struct {
	kv         storage.KV
	collection string
	ttl        time.Duration
	key        func(T) string
	now        func() time.Time

	mu sync.Mutex
}

func NewPageCache[T any](kv storage.KV, kind string, ttl time.Duration, key func(T) string) *PageCache[T] {
	return &PageCache[T]{
		kv:         kv,
		collection: "page_cache:" + kind,
		ttl:        ttl,
		key:        key,
		now:        time.Now,
	}
}

func (c *PageCache[T]) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached entry for key and whether it is still fresh.
func (c *PageCache[T]) Get(ctx context.Context, key string) (CachedPage[T], bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, found, err := c.get(ctx, key)
	if err != nil || !found {
		return CachedPage[T]{}, false, err
	}

	return page, page.IsFresh(c.now(), c.ttl), nil
}

func (c *PageCache[T]) get(ctx context.Context, key string) (CachedPage[T], bool, error) {
	raw, err := c.kv.Get(ctx, c.collection, key)
	if errors.Is(err, storage.ErrNotFound) {
		return CachedPage[T]{}, false, nil
	}

	if err != nil {
		return CachedPage[T]{}, false, fmt.Errorf("failed to read %s/%s: %w", c.collection, key, err)
	}

	var page CachedPage[T]
	if err := json.Unmarshal(raw, &page); err != nil {
		// An unreadable entry is a cache miss.
		return CachedPage[T]{}, false, nil
	}

	return page, true, nil
}

// Merge folds a freshly fetched page into the entry for key and stores the result.
func (c *PageCache[T]) Merge(ctx context.Context, key string, items []T, page, limit, total int) (CachedPage[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, _, err := c.get(ctx, key)
	if err != nil {
		return CachedPage[T]{}, err
	}

	merged := MergePage(prev, CachedPage[T]{
		Items:     items,
		Page:      page,
		Limit:     limit,
		Total:     total,
		FetchedAt: c.now(),
	}, c.key)

	raw, err := json.Marshal(merged)
	if err != nil {
		return CachedPage[T]{}, fmt.Errorf("failed to encode %s/%s: %w", c.collection, key, err)
	}

	if err := c.kv.Put(ctx, c.collection, key, raw); err != nil {
		return CachedPage[T]{}, fmt.Errorf("failed to write %s/%s: %w", c.collection, key, err)
	}

	return merged, nil
}

func (c *PageCache[T]) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.kv.Delete(ctx, c.collection, key)
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (c *PageCache[T]) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.kv.List(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", c.collection, err)
	}

	for key := range entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		if err := c.kv.Delete(ctx, c.collection, key); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", c.collection, key, err)
		}
	}

	return nil
}
