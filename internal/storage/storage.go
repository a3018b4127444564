package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// KV is the persisted key-value store every local collection is built on.
// Values are opaque JSON documents.
type KV interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Put(ctx context.Context, collection, key string, value []byte) error
	Delete(ctx context.Context, collection, key string) error
	List(ctx context.Context, collection string) (map[string][]byte, error)
	// Replace swaps the whole collection for entries in one transaction.
	Replace(ctx context.Context, collection string, entries map[string][]byte) error
}

// ContentType is the client-side content label.
type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
	ContentEbook ContentType = "ebook"
	ContentLive  ContentType = "live"
)

// ParseContentType accepts the labels used across the backend ("music" and
// "sermon" are audio, "book" and "e-book" are ebooks).
func ParseContentType(s string) (ContentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "videos":
		return ContentVideo, true
	case "audio", "music", "sermon", "podcast":
		return ContentAudio, true
	case "ebook", "e-book", "book", "books":
		return ContentEbook, true
	case "live":
		return ContentLive, true
	}

	return "", false
}

type DownloadStatus string

const (
	StatusDownloading DownloadStatus = "DOWNLOADING"
	StatusDownloaded  DownloadStatus = "DOWNLOADED"
	StatusFailed      DownloadStatus = "FAILED"
)

// DownloadRecord represents one content item a user downloaded or tried to download.
type DownloadRecord struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Author           string         `json:"author,omitempty"`
	ContentType      ContentType    `json:"contentType"`
	RemoteURL        string         `json:"remoteUrl,omitempty"`
	FileName         string         `json:"fileName,omitempty"`
	FileSize         int64          `json:"fileSize,omitempty"`
	LocalPath        string         `json:"localPath,omitempty"`
	Status           DownloadStatus `json:"status"`
	DownloadProgress float64        `json:"downloadProgress"`
	DownloadedAt     time.Time      `json:"downloadedAt"`
}

// IsDownloaded is true only when the file was written: a record sitting in the
// index is not enough.
func (r *DownloadRecord) IsDownloaded() bool {
	return r != nil && r.Status == StatusDownloaded && r.LocalPath != ""
}
