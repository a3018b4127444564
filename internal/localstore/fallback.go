package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/italolelis/content_companion/internal/storage"
)

const fallbackCollection = "fallback"

// Interaction kinds tracked by Fallback.
const (
	FallbackLikes = "likes"
	FallbackSaves = "saves"
)

// Fallback keeps per-user contentId→bool maps per interaction kind, used when
// the backend cannot be reached. Its counts are approximations: the number of
// true entries across the whole map, not the server's count for an item.
type Fallback struct {
	kv     storage.KV
	userID string

	mu sync.Mutex
}

func NewFallback(kv storage.KV, userID string) *Fallback {
	return &Fallback{kv: kv, userID: userID}
}

func (f *Fallback) storageKey(kind string) string {
	return kind + ":" + f.userID
}

// Get returns the state for contentID and the count of true entries.
func (f *Fallback) Get(ctx context.Context, kind, contentID string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read(ctx, kind)
	if err != nil {
		return false, 0, err
	}

	return m[contentID], countTrue(m), nil
}

// Toggle flips the state for contentID and returns the new state and count.
func (f *Fallback) Toggle(ctx context.Context, kind, contentID string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read(ctx, kind)
	if err != nil {
		return false, 0, err
	}

	m[contentID] = !m[contentID]

	if err := f.write(ctx, kind, m); err != nil {
		return false, 0, err
	}

	return m[contentID], countTrue(m), nil
}

// Set stores value for contentID, used to mirror server-confirmed state.
func (f *Fallback) Set(ctx context.Context, kind, contentID string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read(ctx, kind)
	if err != nil {
		return err
	}

	if m[contentID] == value {
		return nil
	}

	m[contentID] = value

	return f.write(ctx, kind, m)
}

func (f *Fallback) read(ctx context.Context, kind string) (map[string]bool, error) {
	raw, err := f.kv.Get(ctx, fallbackCollection, f.storageKey(kind))
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]bool{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read %s fallback: %w", kind, err)
	}

	m := map[string]bool{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]bool{}, nil
	}

	return m, nil
}

func (f *Fallback) write(ctx context.Context, kind string, m map[string]bool) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s fallback: %w", kind, err)
	}

	if err := f.kv.Put(ctx, fallbackCollection, f.storageKey(kind), raw); err != nil {
		return fmt.Errorf("failed to write %s fallback: %w", kind, err)
	}

	return nil
}

func countTrue(m map[string]bool) int {
	n := 0

	for _, v := range m {
		if v {
			n++
		}
	}

	return n
}
