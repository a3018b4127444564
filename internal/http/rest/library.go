package rest

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/content_companion/internal/logctx"
)

func (h *Handler) handleLibrary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.library.List())
}

func (h *Handler) handleListPlaylists(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.playlists.List())
}

func (h *Handler) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, ok := h.playlists.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "", "playlist not found")

		return
	}

	writeJSON(w, http.StatusOK, pl)
}

type playlistRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

func (h *Handler) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := h.decode(r, &req, false); err != nil {
		respondError(w, r, err)

		return
	}

	pl, err := h.playlists.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, pl)
}

type renamePlaylistRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (h *Handler) handleRenamePlaylist(w http.ResponseWriter, r *http.Request) {
	var req renamePlaylistRequest
	if err := h.decode(r, &req, false); err != nil {
		respondError(w, r, err)

		return
	}

	pl, err := h.playlists.Rename(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, pl)
}

func (h *Handler) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	if err := h.playlists.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type playlistItemRequest struct {
	ContentID string `json:"contentId" validate:"required"`
}

func (h *Handler) handleAddPlaylistItem(w http.ResponseWriter, r *http.Request) {
	var req playlistItemRequest
	if err := h.decode(r, &req, false); err != nil {
		respondError(w, r, err)

		return
	}

	pl, err := h.playlists.AddItem(r.Context(), chi.URLParam(r, "id"), req.ContentID)
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, pl)
}

func (h *Handler) handleRemovePlaylistItem(w http.ResponseWriter, r *http.Request) {
	pl, err := h.playlists.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "contentID"))
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, pl)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.Sync(r.Context())
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	report, err := h.downloads.Purge(r.Context(), h.purgeMinAge)
	if err != nil {
		respondError(w, r, err)

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("purge finished",
		"partial_files", report.PartialFiles,
		"orphan_files", report.OrphanFiles,
		"freed", humanize.Bytes(uint64(report.FreedBytes)),
	)

	writeJSON(w, http.StatusOK, report)
}
