package backend

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/italolelis/content_companion/internal/api"
)

// Comment is a normalized comment with its reply tree.
type Comment struct {
	ID                   string    `json:"id"`
	ContentID            string    `json:"contentId"`
	UserID               string    `json:"userId"`
	Username             string    `json:"username"`
	Text                 string    `json:"text"`
	Timestamp            time.Time `json:"timestamp"`
	LikeCount            int       `json:"likeCount"`
	IsLikedByCurrentUser bool      `json:"isLikedByCurrentUser"`
	Replies              []Comment `json:"replies,omitempty"`
}

// Key identifies a comment in a cached page.
func (c Comment) Key() string {
	return c.ID
}

const anonymousName = "User"

// CommentQuery selects a page of comments.
type CommentQuery struct {
	Page   int
	Limit  int
	SortBy string
}

// Comments calls GET /api/content/{type}/:id/comments. Authentication is
// optional: a token is attached only when one is already available.
func (c *Client) Comments(ctx context.Context, contentID, contentType string, query CommentQuery) (Page[Comment], error) {
	const op = "comments"

	seg := RouteSegment(contentType)

	q := url.Values{}
	if query.Page > 0 {
		q.Set("page", strconv.Itoa(query.Page))
	}

	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}

	if query.SortBy != "" {
		q.Set("sortBy", query.SortBy)
	}

	env, err := c.call(ctx, op, get(
		"/api/content/"+seg+"/:id/comments",
		"/api/content/"+seg+"/"+esc(contentID)+"/comments",
		q, api.AuthOptional,
	))
	if err != nil {
		return Page[Comment]{}, err
	}

	raws, err := normalize(op, env.Data, listExtractors("comments")...)
	if err != nil {
		return Page[Comment]{}, err
	}

	comments := make([]Comment, 0, len(raws))

	for _, raw := range raws {
		if cm, ok := decodeComment(raw, contentID); ok {
			comments = append(comments, cm)
		}
	}

	p := readPagination(env.Data)

	return Page[Comment]{Items: comments, Page: max(p.Page, query.Page), Limit: p.Limit, Total: p.Total}, nil
}

// PostComment calls POST /api/comments. parentID is empty for top-level comments.
func (c *Client) PostComment(ctx context.Context, contentID, contentType, text, parentID string) (Comment, error) {
	const op = "post_comment"

	body := map[string]any{
		"contentId":   contentID,
		"contentType": RouteSegment(contentType),
		"content":     text,
	}

	if parentID != "" {
		body["parentCommentId"] = parentID
	}

	env, err := c.call(ctx, op, post("/api/comments", "/api/comments", body))
	if err != nil {
		return Comment{}, err
	}

	raw, err := normalize(op, env.Data,
		rawObjectAt("data", "comment"),
		rawObjectAt("data"),
		rawObjectAt("comment"),
		rawObjectAt(),
	)
	if err != nil {
		return Comment{}, err
	}

	cm, ok := decodeComment(raw, contentID)
	if !ok {
		return Comment{}, &api.ShapeMismatchError{Op: op, Payload: env.Data}
	}

	return cm, nil
}

// CommentLike is the server's answer to a comment like toggle.
type CommentLike struct {
	Liked     bool
	LikeCount int
}

// LikeComment calls POST /api/comments/:id/like.
func (c *Client) LikeComment(ctx context.Context, commentID string) (CommentLike, error) {
	const op = "like_comment"

	env, err := c.call(ctx, op, post("/api/comments/:id/like", "/api/comments/"+esc(commentID)+"/like", nil))
	if err != nil {
		return CommentLike{}, err
	}

	type wire struct {
		Liked     *bool   `json:"liked"`
		IsLiked   *bool   `json:"isLiked"`
		LikeCount flexInt `json:"likeCount"`
		Likes     flexInt `json:"likes"`
	}

	required := []string{"liked", "isLiked", "likeCount"}

	w, err := normalize(op, env.Data,
		objectAt[wire](required, "data", "data"),
		objectAt[wire](required, "data"),
		objectAt[wire](required),
	)
	if err != nil {
		return CommentLike{}, err
	}

	return CommentLike{Liked: deref(w.Liked, w.IsLiked), LikeCount: int(firstNonZero(w.LikeCount, w.Likes))}, nil
}

func rawObjectAt(keys ...string) extractor[json.RawMessage] {
	return func(raw json.RawMessage) (json.RawMessage, bool) {
		obj, ok := path(raw, keys...)
		if !ok || !isObject(obj) {
			return nil, false
		}

		return obj, hasAny(obj, []string{"_id", "id"})
	}
}

type commentWire struct {
	ID        string            `json:"_id"`
	AltID     string            `json:"id"`
	ContentID string            `json:"contentId"`
	UserID    json.RawMessage   `json:"userId"`
	User      json.RawMessage   `json:"user"`
	Author    json.RawMessage   `json:"author"`
	FirstName string            `json:"userFirstName"`
	LastName  string            `json:"userLastName"`
	Username  string            `json:"username"`
	UserName  string            `json:"userName"`
	Content   string            `json:"content"`
	Text      string            `json:"text"`
	Comment   string            `json:"comment"`
	CreatedAt string            `json:"createdAt"`
	Timestamp string            `json:"timestamp"`
	LikeCount flexInt           `json:"likeCount"`
	Likes     json.RawMessage   `json:"likes"`
	IsLiked   bool              `json:"isLiked"`
	LikedByMe bool              `json:"isLikedByCurrentUser"`
	Replies   []json.RawMessage `json:"replies"`
}

func decodeComment(raw json.RawMessage, contentID string) (Comment, bool) {
	var w commentWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Comment{}, false
	}

	cm := Comment{
		ID:                   firstString(w.ID, w.AltID),
		ContentID:            firstString(w.ContentID, contentID),
		UserID:               firstString(idOf(w.UserID), idOf(w.User), idOf(w.Author)),
		Username:             commentUsername(w),
		Text:                 firstString(w.Content, w.Text, w.Comment),
		Timestamp:            parseTime(firstString(w.CreatedAt, w.Timestamp)),
		LikeCount:            int(w.LikeCount),
		IsLikedByCurrentUser: w.IsLiked || w.LikedByMe,
	}

	// likes is either a count or the list of user ids that liked.
	if cm.LikeCount == 0 && len(w.Likes) > 0 {
		var n flexInt
		if json.Unmarshal(w.Likes, &n) == nil {
			cm.LikeCount = int(n)
		} else {
			var ids []json.RawMessage
			if json.Unmarshal(w.Likes, &ids) == nil {
				cm.LikeCount = len(ids)
			}
		}
	}

	for _, r := range w.Replies {
		if reply, ok := decodeComment(r, cm.ContentID); ok {
			cm.Replies = append(cm.Replies, reply)
		}
	}

	return cm, cm.ID != ""
}

// commentUsername resolves a display name: full name from user, author or the
// flat userFirstName/userLastName fields, then a username field, then the
// platform username, then "User".
func commentUsername(w commentWire) string {
	for _, person := range []json.RawMessage{w.User, w.Author} {
		if name := fullName(person); name != "" {
			return name
		}
	}

	if name := strings.TrimSpace(strings.TrimSpace(w.FirstName) + " " + strings.TrimSpace(w.LastName)); name != "" {
		return name
	}

	if name := firstString(strings.TrimSpace(w.Username), strings.TrimSpace(w.UserName)); name != "" {
		return name
	}

	for _, person := range []json.RawMessage{w.User, w.Author} {
		if name := platformUsername(person); name != "" {
			return name
		}
	}

	return anonymousName
}

type person struct {
	ID               string `json:"_id"`
	AltID            string `json:"id"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Username         string `json:"username"`
	PlatformUsername string `json:"platformUsername"`
}

func decodePerson(raw json.RawMessage) (person, bool) {
	var p person
	if !isObject(raw) || json.Unmarshal(raw, &p) != nil {
		return person{}, false
	}

	return p, true
}

func fullName(raw json.RawMessage) string {
	p, ok := decodePerson(raw)
	if !ok {
		return ""
	}

	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

func platformUsername(raw json.RawMessage) string {
	p, ok := decodePerson(raw)
	if !ok {
		return ""
	}

	return firstString(strings.TrimSpace(p.Username), strings.TrimSpace(p.PlatformUsername))
}

// displayName is used for media authors: full name, then username.
func displayName(raw json.RawMessage) string {
	if name := fullName(raw); name != "" {
		return name
	}

	return platformUsername(raw)
}

// idOf reads an id sent either as a string or as a populated document.
func idOf(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	p, ok := decodePerson(raw)
	if !ok {
		return ""
	}

	return firstString(p.ID, p.AltID)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
