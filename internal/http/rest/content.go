package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/interaction"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/logctx"
)

func contentParams(r *http.Request) (contentType, contentID string) {
	return chi.URLParam(r, "type"), chi.URLParam(r, "id")
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	_, id := contentParams(r)

	writeJSON(w, http.StatusOK, h.interactions.State(id))
}

// respondToggle writes the outcome of a like or save. A throttled request keeps
// its optimistic value and is reported as accepted.
func respondToggle(w http.ResponseWriter, r *http.Request, source interaction.Source, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case source == interaction.SourceOptimistic:
		writeJSON(w, http.StatusAccepted, v)
	default:
		respondError(w, r, err)
	}
}

func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	ct, id := contentParams(r)

	res, err := h.interactions.ToggleLike(r.Context(), id, ct)
	respondToggle(w, r, res.Source, res, err)
}

type saveRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Thumbnail   string `json:"thumbnail" validate:"omitempty,url"`
	URL         string `json:"url" validate:"omitempty,url"`
	Duration    int64  `json:"duration" validate:"gte=0"`
}

// handleSave toggles the bookmark. When the item ends up saved and the body
// describes it, it is added to the local library.
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	ct, id := contentParams(r)

	var req saveRequest
	if err := h.decode(r, &req, true); err != nil {
		respondError(w, r, err)

		return
	}

	res, err := h.interactions.ToggleSave(r.Context(), id, ct)
	if err == nil && res.Saved && req.Title != "" {
		item := localstore.LibraryItem{
			ID:          id,
			Title:       req.Title,
			Description: req.Description,
			Author:      req.Author,
			ContentType: ct,
			Thumbnail:   req.Thumbnail,
			URL:         req.URL,
			Duration:    req.Duration,
			SavedAt:     time.Now(),
		}
		if aerr := h.library.Add(r.Context(), item); aerr != nil {
			logctx.LoggerFromContext(r.Context()).Warn("failed to add item to library", "content_id", id, "err", aerr)
		}
	}

	respondToggle(w, r, res.Source, res, err)
}

func (h *Handler) handleSaveStatus(w http.ResponseWriter, r *http.Request) {
	_, id := contentParams(r)

	res, err := h.interactions.SaveStatus(r.Context(), id)
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, res)
}

type viewRequest struct {
	DurationMs  int64   `json:"durationMs" validate:"gte=0"`
	ProgressPct float64 `json:"progressPct" validate:"gte=0,lte=100"`
	IsComplete  bool    `json:"isComplete"`
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	ct, id := contentParams(r)

	var req viewRequest
	if err := h.decode(r, &req, true); err != nil {
		respondError(w, r, err)

		return
	}

	h.interactions.RecordView(r.Context(), id, ct, interaction.ViewOptions{
		DurationMs:  req.DurationMs,
		ProgressPct: req.ProgressPct,
		IsComplete:  req.IsComplete,
	})

	w.WriteHeader(http.StatusAccepted)
}

type shareRequest struct {
	Platform string `json:"platform" validate:"required"`
	Message  string `json:"message" validate:"max=500"`
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	ct, id := contentParams(r)

	var req shareRequest
	if err := h.decode(r, &req, false); err != nil {
		respondError(w, r, err)

		return
	}

	count, err := h.interactions.Share(r.Context(), id, ct, req.Platform, req.Message)
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"shareCount": count})
}

func (h *Handler) handleComments(w http.ResponseWriter, r *http.Request) {
	ct, id := contentParams(r)

	page, err := h.interactions.Comments(r.Context(), id, ct, backend.CommentQuery{
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 20),
		SortBy: r.URL.Query().Get("sortBy"),
	})
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, page)
}

type postCommentRequest struct {
	Text     string `json:"text" validate:"required,max=2000"`
	ParentID string `json:"parentId"`
}

func (h *Handler) handlePostComment(w http.ResponseWriter, r *http.Request) {
	ct, id := contentParams(r)

	var req postCommentRequest
	if err := h.decode(r, &req, false); err != nil {
		respondError(w, r, err)

		return
	}

	comment, err := h.interactions.PostComment(r.Context(), id, ct, req.Text, req.ParentID)
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, comment)
}

type commentLikeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

func (h *Handler) handleLikeComment(w http.ResponseWriter, r *http.Request) {
	res, err := h.interactions.LikeComment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, commentLikeResponse{Liked: res.Liked, LikeCount: res.LikeCount})
}
