package localstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/storage"
)

const (
	libraryCollection = "library"
	syncPageSize      = 50
	maxSyncPages      = 100
)

// LibraryItem is a saved content item.
type LibraryItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	ContentType string    `json:"contentType"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	URL         string    `json:"url,omitempty"`
	Duration    int64     `json:"duration,omitempty"`
	SavedAt     time.Time `json:"savedAt"`
}

// SavedContentSource is the backend listing of the user's saved content.
type SavedContentSource interface {
	SavedContent(ctx context.Context, page, limit int) (backend.Page[backend.SavedItem], error)
}

// Library is the user's saved collection.
type Library struct {
	m   *Mirror[LibraryItem]
	now func() time.Time
}

func NewLibrary(kv storage.KV) *Library {
	return &Library{
		m:   NewMirror(kv, libraryCollection, func(it LibraryItem) string { return it.ID }),
		now: time.Now,
	}
}

func (l *Library) Load(ctx context.Context) error {
	return l.m.Load(ctx)
}

func (l *Library) Contains(id string) bool {
	_, ok := l.m.Get(id)

	return ok
}

func (l *Library) Get(id string) (LibraryItem, bool) {
	return l.m.Get(id)
}

// List returns the saved items, most recently saved first.
func (l *Library) List() []LibraryItem {
	items := l.m.All()

	sort.Slice(items, func(i, j int) bool {
		if items[i].SavedAt.Equal(items[j].SavedAt) {
			return items[i].ID < items[j].ID
		}

		return items[i].SavedAt.After(items[j].SavedAt)
	})

	return items
}

// Add saves item; re-adding keeps the original SavedAt.
func (l *Library) Add(ctx context.Context, item LibraryItem) error {
	_, err := l.m.Update(ctx, item.ID, func(cur LibraryItem, ok bool) (LibraryItem, bool, error) {
		switch {
		case ok && !cur.SavedAt.IsZero():
			item.SavedAt = cur.SavedAt
		case item.SavedAt.IsZero():
			item.SavedAt = l.now()
		}

		return item, true, nil
	})

	return err
}

func (l *Library) Remove(ctx context.Context, id string) error {
	return l.m.Delete(ctx, id)
}

// SyncFromBackend replaces the library wholesale with the backend's saved
// content. Local edits made since the last sync are overwritten.
func (l *Library) SyncFromBackend(ctx context.Context, src SavedContentSource) (int, error) {
	logger := logctx.LoggerFromContext(ctx).With("collection", libraryCollection)

	var remote []backend.SavedItem

	for page := 1; page <= maxSyncPages; page++ {
		p, err := src.SavedContent(ctx, page, syncPageSize)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch saved content page %d: %w", page, err)
		}

		remote = append(remote, p.Items...)

		if len(p.Items) < syncPageSize || (p.Total > 0 && len(remote) >= p.Total) {
			break
		}
	}

	now := l.now()
	items := make([]LibraryItem, 0, len(remote))

	for i, it := range remote {
		// Keep the backend order: earlier entries are more recent.
		items = append(items, LibraryItem{
			ID:          it.ID,
			Title:       it.Title,
			Description: it.Description,
			Author:      it.Author,
			ContentType: it.ContentType,
			Thumbnail:   it.Thumbnail,
			URL:         it.URL,
			Duration:    it.Duration,
			SavedAt:     now.Add(-time.Duration(i) * time.Millisecond),
		})
	}

	if err := l.m.ReplaceAll(ctx, items); err != nil {
		return 0, err
	}

	logger.Info("library synced", "items", len(items))

	return len(items), nil
}
