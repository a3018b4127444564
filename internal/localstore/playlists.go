package localstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/storage"
)

const playlistsCollection = "playlists"

var (
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrInvalidName      = errors.New("playlist name must not be empty")
)

type Playlist struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"isPublic"`
	ItemIDs     []string  `json:"itemIds"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PlaylistSource is the backend listing of the user's playlists.
type PlaylistSource interface {
	Playlists(ctx context.Context) ([]backend.RemotePlaylist, error)
}

type Playlists struct {
	m   *Mirror[Playlist]
	now func() time.Time
}

func NewPlaylists(kv storage.KV) *Playlists {
	return &Playlists{
		m:   NewMirror(kv, playlistsCollection, func(p Playlist) string { return p.ID }),
		now: time.Now,
	}
}

func (p *Playlists) Load(ctx context.Context) error {
	return p.m.Load(ctx)
}

func (p *Playlists) Get(id string) (Playlist, bool) {
	pl, ok := p.m.Get(id)
	if ok {
		pl.ItemIDs = slices.Clone(pl.ItemIDs)
	}

	return pl, ok
}

// List returns the playlists ordered by creation time.
func (p *Playlists) List() []Playlist {
	pls := p.m.All()

	sort.Slice(pls, func(i, j int) bool {
		if pls[i].CreatedAt.Equal(pls[j].CreatedAt) {
			return pls[i].ID < pls[j].ID
		}

		return pls[i].CreatedAt.Before(pls[j].CreatedAt)
	})

	return pls
}

func (p *Playlists) Create(ctx context.Context, name, description string) (Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Playlist{}, ErrInvalidName
	}

	now := p.now()
	pl := Playlist{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ItemIDs:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := p.m.Put(ctx, pl); err != nil {
		return Playlist{}, err
	}

	return pl, nil
}

func (p *Playlists) Rename(ctx context.Context, id, name string) (Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Playlist{}, ErrInvalidName
	}

	return p.modify(ctx, id, func(pl *Playlist) bool {
		if pl.Name == name {
			return false
		}

		pl.Name = name

		return true
	})
}

func (p *Playlists) Delete(ctx context.Context, id string) error {
	if _, ok := p.m.Get(id); !ok {
		if err := p.m.Load(ctx); err != nil {
			return err
		}

		if _, ok := p.m.Get(id); !ok {
			return ErrPlaylistNotFound
		}
	}

	return p.m.Delete(ctx, id)
}

// AddItem appends contentID unless the playlist already holds it.
func (p *Playlists) AddItem(ctx context.Context, id, contentID string) (Playlist, error) {
	return p.modify(ctx, id, func(pl *Playlist) bool {
		if slices.Contains(pl.ItemIDs, contentID) {
			return false
		}

		pl.ItemIDs = append(slices.Clone(pl.ItemIDs), contentID)

		return true
	})
}

func (p *Playlists) RemoveItem(ctx context.Context, id, contentID string) (Playlist, error) {
	return p.modify(ctx, id, func(pl *Playlist) bool {
		idx := slices.Index(pl.ItemIDs, contentID)
		if idx < 0 {
			return false
		}

		pl.ItemIDs = slices.Delete(slices.Clone(pl.ItemIDs), idx, idx+1)

		return true
	})
}

func (p *Playlists) modify(ctx context.Context, id string, fn func(pl *Playlist) bool) (Playlist, error) {
	pl, err := p.m.Update(ctx, id, func(cur Playlist, ok bool) (Playlist, bool, error) {
		if !ok {
			return cur, false, ErrPlaylistNotFound
		}

		if !fn(&cur) {
			return cur, false, nil
		}

		cur.UpdatedAt = p.now()

		return cur, true, nil
	})
	if err != nil {
		return Playlist{}, err
	}

	pl.ItemIDs = slices.Clone(pl.ItemIDs)

	return pl, nil
}

// SyncFromBackend replaces every local playlist with the backend's. Playlists
// created or edited locally since the last sync are overwritten.
func (p *Playlists) SyncFromBackend(ctx context.Context, src PlaylistSource) (int, error) {
	remote, err := src.Playlists(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch playlists: %w", err)
	}

	now := p.now()
	pls := make([]Playlist, 0, len(remote))

	for i, r := range remote {
		items := r.ItemIDs
		if items == nil {
			items = []string{}
		}

		pls = append(pls, Playlist{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			IsPublic:    r.IsPublic,
			ItemIDs:     items,
			CreatedAt:   now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:   now,
		})
	}

	if err := p.m.ReplaceAll(ctx, pls); err != nil {
		return 0, err
	}

	logctx.LoggerFromContext(ctx).Info("playlists synced", "playlists", len(pls))

	return len(pls), nil
}
