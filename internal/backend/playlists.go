package backend

import (
	"context"
	"encoding/json"

	"github.com/italolelis/content_companion/internal/api"
)

// RemotePlaylist is a playlist as the backend stores it, mapped to local field names.
type RemotePlaylist struct {
	ID          string
	Name        string
	Description string
	IsPublic    bool
	ItemIDs     []string
}

// Playlists calls GET /api/playlists and returns every playlist of the user.
func (c *Client) Playlists(ctx context.Context) ([]RemotePlaylist, error) {
	const op = "playlists"

	env, err := c.call(ctx, op, get("/api/playlists", "/api/playlists", nil, api.AuthRequired))
	if err != nil {
		return nil, err
	}

	raws, err := normalize(op, env.Data, listExtractors("playlists")...)
	if err != nil {
		return nil, err
	}

	out := make([]RemotePlaylist, 0, len(raws))

	for _, raw := range raws {
		var w struct {
			ID          string `json:"_id"`
			AltID       string `json:"id"`
			Name        string `json:"name"`
			Title       string `json:"title"`
			Description string `json:"description"`
			IsPublic    bool   `json:"isPublic"`
			Items       []struct {
				Content json.RawMessage `json:"content"`
				Media   json.RawMessage `json:"mediaId"`
			} `json:"items"`
			Media []json.RawMessage `json:"media"`
		}

		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}

		pl := RemotePlaylist{
			ID:          firstString(w.ID, w.AltID),
			Name:        firstString(w.Name, w.Title),
			Description: w.Description,
			IsPublic:    w.IsPublic,
		}

		if pl.ID == "" {
			continue
		}

		for _, it := range w.Items {
			if id := firstString(idOf(it.Content), idOf(it.Media)); id != "" {
				pl.ItemIDs = append(pl.ItemIDs, id)
			}
		}

		for _, m := range w.Media {
			if id := idOf(m); id != "" {
				pl.ItemIDs = append(pl.ItemIDs, id)
			}
		}

		out = append(out, pl)
	}

	return out, nil
}
