package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/italolelis/content_companion/internal/api"
)

// DownloadGrant is the backend's answer to a download request: a time-limited
// URL and the file metadata to expect.
type DownloadGrant struct {
	DownloadURL string `json:"downloadUrl"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

// InitiateDownload calls POST /api/media/:id/download.
func (c *Client) InitiateDownload(ctx context.Context, contentID string, fileSize int64) (*DownloadGrant, error) {
	const op = "initiate_download"

	body := map[string]any{}
	if fileSize > 0 {
		body["fileSize"] = fileSize
	}

	env, err := c.call(ctx, op, post("/api/media/:id/download", "/api/media/"+esc(contentID)+"/download", body))
	if err != nil {
		return nil, err
	}

	grant, err := normalize(op, env.Data,
		grantAt("data", "download"),
		grantAt("data"),
		grantAt(),
	)
	if err != nil {
		return nil, err
	}

	if grant.DownloadURL == "" {
		return nil, &api.ShapeMismatchError{Op: op, Payload: env.Data}
	}

	return &grant, nil
}

func grantAt(keys ...string) extractor[DownloadGrant] {
	return func(raw json.RawMessage) (DownloadGrant, bool) {
		obj, ok := path(raw, keys...)
		if !ok || !isObject(obj) {
			return DownloadGrant{}, false
		}

		var g struct {
			DownloadURL string  `json:"downloadUrl"`
			URL         string  `json:"url"`
			FileName    string  `json:"fileName"`
			FileSize    flexInt `json:"fileSize"`
			ContentType string  `json:"contentType"`
		}
		if err := json.Unmarshal(obj, &g); err != nil {
			return DownloadGrant{}, false
		}

		u := g.DownloadURL
		if u == "" {
			u = g.URL
		}

		if u == "" {
			return DownloadGrant{}, false
		}

		return DownloadGrant{DownloadURL: u, FileName: g.FileName, FileSize: int64(g.FileSize), ContentType: g.ContentType}, true
	}
}

// OfflineDownloadUpdate is the PATCH body for an offline download. Nil fields
// are left untouched by the backend.
type OfflineDownloadUpdate struct {
	LocalPath        *string  `json:"localPath,omitempty"`
	IsDownloaded     *bool    `json:"isDownloaded,omitempty"`
	DownloadStatus   string   `json:"downloadStatus,omitempty"`
	DownloadProgress *float64 `json:"downloadProgress,omitempty"`
}

// UpdateOfflineDownload calls PATCH /api/media/offline-downloads/:id.
func (c *Client) UpdateOfflineDownload(ctx context.Context, contentID string, update OfflineDownloadUpdate) error {
	_, err := c.call(ctx, "update_offline_download", api.Request{
		Method: http.MethodPatch,
		Route:  "PATCH /api/media/offline-downloads/:id",
		Path:   "/api/media/offline-downloads/" + esc(contentID),
		Body:   update,
	})

	return err
}

// DeleteOfflineDownload calls DELETE /api/media/offline-downloads/:id.
func (c *Client) DeleteOfflineDownload(ctx context.Context, contentID string) error {
	_, err := c.call(ctx, "delete_offline_download", api.Request{
		Method: http.MethodDelete,
		Route:  "DELETE /api/media/offline-downloads/:id",
		Path:   "/api/media/offline-downloads/" + esc(contentID),
	})

	return err
}

// OfflineDownload is the backend's view of one offline download.
type OfflineDownload struct {
	MediaID          string    `json:"mediaId"`
	Title            string    `json:"title"`
	ContentType      string    `json:"contentType"`
	FileName         string    `json:"fileName"`
	FileSize         int64     `json:"fileSize"`
	LocalPath        string    `json:"localPath"`
	IsDownloaded     bool      `json:"isDownloaded"`
	DownloadStatus   string    `json:"downloadStatus"`
	DownloadProgress float64   `json:"downloadProgress"`
	DownloadedAt     time.Time `json:"downloadedAt"`
}

// ListFilter filters GET /api/media/offline-downloads.
type ListFilter struct {
	Page        int
	Limit       int
	Status      string
	ContentType string
}

func (f ListFilter) query() url.Values {
	q := url.Values{}

	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}

	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	if f.Status != "" {
		q.Set("status", f.Status)
	}

	if f.ContentType != "" {
		q.Set("contentType", f.ContentType)
	}

	return q
}

// ListOfflineDownloads calls GET /api/media/offline-downloads.
func (c *Client) ListOfflineDownloads(ctx context.Context, filter ListFilter) (Page[OfflineDownload], error) {
	const op = "list_offline_downloads"

	env, err := c.call(ctx, op, get("/api/media/offline-downloads", "/api/media/offline-downloads", filter.query(), api.AuthRequired))
	if err != nil {
		return Page[OfflineDownload]{}, err
	}

	raws, err := normalize(op, env.Data, listExtractors("downloads", "offlineDownloads", "items")...)
	if err != nil {
		return Page[OfflineDownload]{}, err
	}

	items := make([]OfflineDownload, 0, len(raws))

	for _, raw := range raws {
		if d, ok := decodeOfflineDownload(raw); ok {
			items = append(items, d)
		}
	}

	p := readPagination(env.Data)

	return Page[OfflineDownload]{Items: items, Page: max(p.Page, filter.Page), Limit: p.Limit, Total: p.Total}, nil
}

func decodeOfflineDownload(raw json.RawMessage) (OfflineDownload, bool) {
	var d struct {
		OfflineDownload
		ID       string          `json:"_id"`
		Media    json.RawMessage `json:"mediaId"`
		FileSize flexInt         `json:"fileSize"`
	}

	if err := json.Unmarshal(raw, &d); err != nil {
		return OfflineDownload{}, false
	}

	out := d.OfflineDownload
	out.FileSize = int64(d.FileSize)

	// mediaId is either the id string or the populated media document.
	var id string
	if err := json.Unmarshal(d.Media, &id); err != nil {
		var media struct {
			ID          string `json:"_id"`
			Title       string `json:"title"`
			ContentType string `json:"contentType"`
		}

		if json.Unmarshal(d.Media, &media) == nil {
			id = media.ID

			if out.Title == "" {
				out.Title = media.Title
			}

			if out.ContentType == "" {
				out.ContentType = media.ContentType
			}
		}
	}

	if id == "" {
		id = d.ID
	}

	out.MediaID = id

	return out, id != ""
}
