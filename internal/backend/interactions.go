package backend

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/italolelis/content_companion/internal/api"
)

// LikeState is the server's answer to a like toggle.
type LikeState struct {
	Liked     bool
	LikeCount int
}

// ToggleLike calls POST /api/content/{media|artist|merch}/:id/like.
func (c *Client) ToggleLike(ctx context.Context, contentID, contentType string) (LikeState, error) {
	const op = "toggle_like"

	seg := RouteSegment(contentType)

	env, err := c.call(ctx, op, post(
		"/api/content/"+seg+"/:id/like",
		"/api/content/"+seg+"/"+esc(contentID)+"/like",
		nil,
	))
	if err != nil {
		return LikeState{}, err
	}

	type wire struct {
		Liked      *bool   `json:"liked"`
		IsLiked    *bool   `json:"isLiked"`
		LikeCount  flexInt `json:"likeCount"`
		TotalLikes flexInt `json:"totalLikes"`
		Likes      flexInt `json:"likes"`
	}

	required := []string{"liked", "isLiked"}

	w, err := normalize(op, env.Data,
		objectAt[wire](required, "data", "data"),
		objectAt[wire](required, "data"),
		objectAt[wire](required),
	)
	if err != nil {
		return LikeState{}, err
	}

	state := LikeState{Liked: deref(w.Liked, w.IsLiked)}
	state.LikeCount = int(firstNonZero(w.LikeCount, w.TotalLikes, w.Likes))

	return state, nil
}

// BookmarkState is the server's answer to a bookmark toggle or status read.
type BookmarkState struct {
	Bookmarked    bool
	BookmarkCount int
}

type bookmarkWire struct {
	Bookmarked    *bool   `json:"bookmarked"`
	IsBookmarked  *bool   `json:"isBookmarked"`
	Saved         *bool   `json:"saved"`
	BookmarkCount flexInt `json:"bookmarkCount"`
	SaveCount     flexInt `json:"saveCount"`
}

func decodeBookmark(op string, raw json.RawMessage) (BookmarkState, error) {
	required := []string{"bookmarked", "isBookmarked", "saved"}

	w, err := normalize(op, raw,
		objectAt[bookmarkWire](required, "data", "data"),
		objectAt[bookmarkWire](required, "data"),
		objectAt[bookmarkWire](required),
	)
	if err != nil {
		return BookmarkState{}, err
	}

	return BookmarkState{
		Bookmarked:    deref(w.Bookmarked, w.IsBookmarked, w.Saved),
		BookmarkCount: int(firstNonZero(w.BookmarkCount, w.SaveCount)),
	}, nil
}

// ToggleBookmark calls POST /api/bookmark/:id/toggle.
func (c *Client) ToggleBookmark(ctx context.Context, contentID string) (BookmarkState, error) {
	const op = "toggle_bookmark"

	env, err := c.call(ctx, op, post("/api/bookmark/:id/toggle", "/api/bookmark/"+esc(contentID)+"/toggle", nil))
	if err != nil {
		return BookmarkState{}, err
	}

	return decodeBookmark(op, env.Data)
}

// BookmarkStatus calls GET /api/bookmark/:id/status.
func (c *Client) BookmarkStatus(ctx context.Context, contentID string) (BookmarkState, error) {
	const op = "bookmark_status"

	env, err := c.call(ctx, op, get("/api/bookmark/:id/status", "/api/bookmark/"+esc(contentID)+"/status", nil, api.AuthRequired))
	if err != nil {
		return BookmarkState{}, err
	}

	return decodeBookmark(op, env.Data)
}

// SavedItem is one entry of the user's saved content, mapped to local field names.
type SavedItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	ContentType string `json:"contentType"`
	Thumbnail   string `json:"thumbnail"`
	URL         string `json:"url"`
	Duration    int64  `json:"duration"`
}

// SavedContent calls GET /api/bookmark/user.
func (c *Client) SavedContent(ctx context.Context, page, limit int) (Page[SavedItem], error) {
	const op = "saved_content"

	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}

	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	env, err := c.call(ctx, op, get("/api/bookmark/user", "/api/bookmark/user", q, api.AuthRequired))
	if err != nil {
		return Page[SavedItem]{}, err
	}

	raws, err := normalize(op, env.Data, listExtractors("media", "bookmarks", "items")...)
	if err != nil {
		return Page[SavedItem]{}, err
	}

	items := make([]SavedItem, 0, len(raws))

	for _, raw := range raws {
		if it, ok := decodeSavedItem(raw); ok {
			items = append(items, it)
		}
	}

	p := readPagination(env.Data)

	return Page[SavedItem]{Items: items, Page: max(p.Page, page), Limit: p.Limit, Total: p.Total}, nil
}

// decodeSavedItem maps a backend media document (or a bookmark wrapping one
// under "media") onto SavedItem.
func decodeSavedItem(raw json.RawMessage) (SavedItem, bool) {
	if inner, ok := field(raw, "media"); ok && isObject(inner) {
		raw = inner
	}

	var w struct {
		ID          string          `json:"_id"`
		AltID       string          `json:"id"`
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Speaker     string          `json:"speaker"`
		Author      string          `json:"author"`
		ContentType string          `json:"contentType"`
		Thumbnail   string          `json:"thumbnailUrl"`
		Thumb       string          `json:"thumbnail"`
		FileURL     string          `json:"fileUrl"`
		PlaybackURL string          `json:"playbackUrl"`
		Duration    flexInt         `json:"duration"`
		UploadedBy  json.RawMessage `json:"uploadedBy"`
	}

	if err := json.Unmarshal(raw, &w); err != nil {
		return SavedItem{}, false
	}

	it := SavedItem{
		ID:          firstString(w.ID, w.AltID),
		Title:       w.Title,
		Description: w.Description,
		Author:      firstString(w.Speaker, w.Author, displayName(w.UploadedBy)),
		ContentType: w.ContentType,
		Thumbnail:   firstString(w.Thumbnail, w.Thumb),
		URL:         firstString(w.FileURL, w.PlaybackURL),
		Duration:    int64(w.Duration),
	}

	return it, it.ID != ""
}

// RecordView calls POST /api/content/{type}/:id/view.
func (c *Client) RecordView(ctx context.Context, contentID, contentType string, durationMs int64, progressPct float64, complete bool) error {
	seg := RouteSegment(contentType)

	body := map[string]any{"isComplete": complete}
	if durationMs > 0 {
		body["duration"] = durationMs
	}

	if progressPct > 0 {
		body["progressPercentage"] = progressPct
	}

	_, err := c.call(ctx, "record_view", post(
		"/api/content/"+seg+"/:id/view",
		"/api/content/"+seg+"/"+esc(contentID)+"/view",
		body,
	))

	return err
}

// Share calls POST /api/interactions/share and returns the new share count.
func (c *Client) Share(ctx context.Context, contentID, contentType, platform, message string) (int, error) {
	const op = "share"

	body := map[string]any{
		"contentId":   contentID,
		"contentType": RouteSegment(contentType),
	}

	if platform != "" {
		body["platform"] = platform
	}

	if message != "" {
		body["message"] = message
	}

	env, err := c.call(ctx, op, post("/api/interactions/share", "/api/interactions/share", body))
	if err != nil {
		return 0, err
	}

	type wire struct {
		ShareCount flexInt `json:"shareCount"`
		Shares     flexInt `json:"shares"`
	}

	required := []string{"shareCount", "shares"}

	w, err := normalize(op, env.Data,
		objectAt[wire](required, "data", "data"),
		objectAt[wire](required, "data"),
		objectAt[wire](required),
	)
	if err != nil {
		// The share was accepted; some deployments answer without a count.
		return 0, nil
	}

	return int(firstNonZero(w.ShareCount, w.Shares)), nil
}

func deref(ptrs ...*bool) bool {
	for _, p := range ptrs {
		if p != nil {
			return *p
		}
	}

	return false
}

func firstNonZero(vals ...flexInt) flexInt {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}

	return 0
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}
