package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/downloader"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/storage"
)

type downloadView struct {
	storage.DownloadRecord
	Size   string `json:"size,omitempty"`
	Active bool   `json:"active"`
}

func (h *Handler) viewOf(rec storage.DownloadRecord) downloadView {
	v := downloadView{DownloadRecord: rec, Active: h.downloads.Active(rec.ID)}
	if rec.FileSize > 0 {
		v.Size = humanize.Bytes(uint64(rec.FileSize))
	}

	return v
}

func (h *Handler) handleListDownloads(w http.ResponseWriter, _ *http.Request) {
	records := h.downloads.Downloads()

	out := make([]downloadView, 0, len(records))
	for _, rec := range records {
		out = append(out, h.viewOf(rec))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.downloads.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "", "download not found")

		return
	}

	writeJSON(w, http.StatusOK, h.viewOf(*rec))
}

func (h *Handler) handleRemoteDownloads(w http.ResponseWriter, r *http.Request) {
	page, err := h.downloads.RemoteDownloads(r.Context(), backend.ListFilter{
		Page:        queryInt(r, "page", 1),
		Limit:       queryInt(r, "limit", 20),
		Status:      r.URL.Query().Get("status"),
		ContentType: r.URL.Query().Get("contentType"),
	})
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, page)
}

type startDownloadRequest struct {
	ID          string `json:"id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Author      string `json:"author"`
	ContentType string `json:"contentType" validate:"required,oneof=video audio ebook live music sermon podcast book e-book"`
	FileSize    int64  `json:"fileSize" validate:"gte=0"`
}

// handleStartDownload runs the whole transfer before responding. The request
// context is detached so a client disconnect does not abort the file; use
// /downloads/{id}/cancel for that.
func (h *Handler) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := h.decode(r, &req, false); err != nil {
		respondError(w, r, err)

		return
	}

	ct, _ := storage.ParseContentType(req.ContentType)
	logger := logctx.LoggerFromContext(r.Context()).With("content_id", req.ID)

	rec, err := h.downloads.Start(context.WithoutCancel(r.Context()), downloader.Item{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Author:      req.Author,
		ContentType: ct,
		FileSize:    req.FileSize,
	}, nil)

	var derr *downloader.Error

	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, h.viewOf(*rec))
	case errors.As(err, &derr) && derr.Code == downloader.CodeAlreadyDownloaded && rec != nil:
		writeJSON(w, http.StatusOK, h.viewOf(*rec))
	default:
		logger.Warn("download did not complete", "err", err)
		respondError(w, r, err)
	}
}

func (h *Handler) handleRemoveDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	if !h.downloads.Cancel(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "not_found", "", "no active download for this content")

		return
	}

	w.WriteHeader(http.StatusAccepted)
}
